package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// migrations[i] brings the schema from version i to i+1.
var migrations = [][]string{
	migrateV1,
	migrateV2,
}

// SchemaVersion is the version Migrate brings the database to.
var SchemaVersion = len(migrations)

var migrateV1 = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		api_key_hash   TEXT NOT NULL,
		api_key_prefix TEXT NOT NULL,
		created_at     BIGINT NOT NULL,
		updated_at     BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tenants_key_prefix ON tenants(api_key_prefix)`,
	`CREATE TABLE IF NOT EXISTS events (
		id                TEXT PRIMARY KEY,
		tenant_id         TEXT NOT NULL,
		tool_name         TEXT NOT NULL,
		tool_version      TEXT NOT NULL DEFAULT '',
		actor_hash        TEXT NOT NULL,
		machine_hash      TEXT NOT NULL DEFAULT '',
		session_hint_hash TEXT NOT NULL DEFAULT '',
		command_path      TEXT NOT NULL,
		flags             TEXT NOT NULL,
		exit_code         INTEGER,
		duration_ms       BIGINT,
		error_type        TEXT NOT NULL DEFAULT '',
		client_ts         BIGINT NOT NULL,
		ingested_at       BIGINT NOT NULL,
		ci                BOOLEAN NOT NULL DEFAULT FALSE,
		processed         BOOLEAN NOT NULL DEFAULT FALSE,
		session_id        TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_pending ON events(tenant_id, actor_hash, processed, client_ts)`,
	`CREATE INDEX IF NOT EXISTS idx_events_tenant_ts ON events(tenant_id, client_ts)`,
	`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id                TEXT PRIMARY KEY,
		tenant_id         TEXT NOT NULL,
		actor_hash        TEXT NOT NULL,
		session_hint_hash TEXT NOT NULL DEFAULT '',
		ci                BOOLEAN NOT NULL DEFAULT FALSE,
		started_at        BIGINT NOT NULL,
		ended_at          BIGINT NOT NULL,
		event_count       INTEGER NOT NULL,
		closed            BOOLEAN NOT NULL DEFAULT FALSE,
		outcome           TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_actor ON sessions(tenant_id, actor_hash, closed)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_tenant_started ON sessions(tenant_id, started_at)`,
	`CREATE TABLE IF NOT EXISTS workflow_instances (
		id             TEXT PRIMARY KEY,
		tenant_id      TEXT NOT NULL,
		session_id     TEXT NOT NULL,
		actor_hash     TEXT NOT NULL,
		template_name  TEXT NOT NULL,
		complete       BOOLEAN NOT NULL DEFAULT FALSE,
		outcome        TEXT NOT NULL,
		steps          TEXT NOT NULL,
		sequence_key   TEXT NOT NULL,
		step_count     INTEGER NOT NULL,
		started_at     BIGINT NOT NULL,
		ended_at       BIGINT NOT NULL,
		session_closed BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workflows_tenant_started ON workflow_instances(tenant_id, started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_workflows_tenant_template ON workflow_instances(tenant_id, template_name)`,
	`CREATE INDEX IF NOT EXISTS idx_workflows_session ON workflow_instances(session_id)`,
	`CREATE TABLE IF NOT EXISTS workflow_templates (
		tenant_id   TEXT NOT NULL,
		name        TEXT NOT NULL,
		position    INTEGER NOT NULL,
		steps       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (tenant_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS experiments (
		id          TEXT PRIMARY KEY,
		tenant_id   TEXT NOT NULL,
		name        TEXT NOT NULL,
		variants    TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		active      BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  BIGINT NOT NULL,
		UNIQUE (tenant_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS recommendation_rules (
		id              TEXT PRIMARY KEY,
		tenant_id       TEXT NOT NULL,
		tool_pattern    TEXT NOT NULL,
		command_pattern TEXT NOT NULL,
		on_failure      BOOLEAN NOT NULL DEFAULT FALSE,
		hint            TEXT NOT NULL,
		priority        INTEGER NOT NULL DEFAULT 100
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_tenant ON recommendation_rules(tenant_id)`,
}

// v2 adds the stale-open-session lookup used by every inference pass.
var migrateV2 = []string{
	`CREATE INDEX IF NOT EXISTS idx_sessions_open_ended ON sessions(closed, ended_at)`,
}

// Migrate runs schema migrations up to SchemaVersion. Each version applies in
// its own transaction together with the version bump.
func (s *Store) Migrate(ctx context.Context) error {
	c := s.conn()
	if _, err := c.exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("Migrate: create version table: %w", err)
	}

	ver, err := s.Version(ctx)
	if err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}

	for v := ver; v < len(migrations); v++ {
		stmts := migrations[v]
		next := v + 1
		err := s.withTx(ctx, func(c conn) error {
			for _, stmt := range stmts {
				if _, err := c.exec(ctx, stmt); err != nil {
					return err
				}
			}
			if next == 1 {
				_, err := c.exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, next)
				return err
			}
			_, err := c.exec(ctx, `UPDATE schema_version SET version = $1`, next)
			return err
		})
		if err != nil {
			return fmt.Errorf("Migrate: v%d: %w", next, err)
		}
	}
	return nil
}

// Version returns the applied schema version, 0 for a fresh database.
func (s *Store) Version(ctx context.Context) (int, error) {
	var ver int
	err := s.conn().queryRow(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&ver)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("Version: %w", err)
	}
	return ver, nil
}
