package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spaolacci/murmur3"
	"github.com/triage-ai/cli-analytics/internal/inference"
	"github.com/triage-ai/cli-analytics/internal/model"
)

var _ inference.Store = (*Store)(nil)

// PendingActors lists actors with unprocessed events or a stale open session.
func (s *Store) PendingActors(ctx context.Context, tenantID string, staleBefore time.Time) ([]model.ActorRef, error) {
	q := `
		SELECT tenant_id, actor_hash FROM events WHERE processed = FALSE%s
		UNION
		SELECT tenant_id, actor_hash FROM sessions WHERE closed = FALSE AND ended_at < $1%s
		ORDER BY 1, 2`
	args := []any{toMillis(staleBefore)}
	scope := ""
	if tenantID != "" {
		scope = " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	rows, err := s.conn().query(ctx, fmt.Sprintf(q, scope, scope), args...)
	if err != nil {
		return nil, fmt.Errorf("PendingActors: %w", err)
	}
	defer rows.Close()

	var refs []model.ActorRef
	for rows.Next() {
		var ref model.ActorRef
		if err := rows.Scan(&ref.TenantID, &ref.ActorHash); err != nil {
			return nil, fmt.Errorf("PendingActors: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// InActorTx runs fn inside one transaction. On Postgres the transaction first
// takes an advisory lock keyed by the actor, so two processes never run the
// same actor's pass concurrently. SQLite has a single writer already.
func (s *Store) InActorTx(ctx context.Context, ref model.ActorRef, fn func(tx inference.ActorTx) error) error {
	err := s.withTx(ctx, func(c conn) error {
		if s.dialect == DialectPostgres {
			if _, err := c.exec(ctx, `SELECT pg_advisory_xact_lock($1)`, actorLockKey(ref)); err != nil {
				return fmt.Errorf("advisory lock: %w", err)
			}
		}
		return fn(&actorTx{c: c, ref: ref})
	})
	if err != nil {
		return fmt.Errorf("InActorTx: %w", err)
	}
	return nil
}

func actorLockKey(ref model.ActorRef) int64 {
	return int64(murmur3.Sum64([]byte(ref.TenantID + "\x00" + ref.ActorHash)))
}

// actorTx implements inference.ActorTx over one transaction.
type actorTx struct {
	c   conn
	ref model.ActorRef
}

func (tx *actorTx) UnprocessedEvents(ctx context.Context, limit int) ([]model.SanitizedEvent, error) {
	rows, err := tx.c.query(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE tenant_id = $1 AND actor_hash = $2 AND processed = FALSE
		ORDER BY client_ts, id
		LIMIT $3`,
		tx.ref.TenantID, tx.ref.ActorHash, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("UnprocessedEvents: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("UnprocessedEvents: %w", err)
	}
	return events, nil
}

const sessionColumns = `id, tenant_id, actor_hash, session_hint_hash, ci, started_at, ended_at, closed, outcome`

func scanSession(row interface{ Scan(...any) error }) (*model.Session, error) {
	var (
		sess           model.Session
		started, ended int64
		outcome        string
	)
	if err := row.Scan(&sess.ID, &sess.TenantID, &sess.ActorHash, &sess.SessionHintHash, &sess.CI,
		&started, &ended, &sess.Closed, &outcome); err != nil {
		return nil, err
	}
	sess.StartedAt = fromMillis(started)
	sess.EndedAt = fromMillis(ended)
	sess.Outcome = model.Outcome(outcome)
	return &sess, nil
}

func (tx *actorTx) OpenSession(ctx context.Context) (*inference.OpenSession, error) {
	sess, err := scanSession(tx.c.queryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE tenant_id = $1 AND actor_hash = $2 AND closed = FALSE
		ORDER BY ended_at DESC
		LIMIT 1`,
		tx.ref.TenantID, tx.ref.ActorHash,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("OpenSession: %w", err)
	}

	rows, err := tx.c.query(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE tenant_id = $1 AND session_id = $2
		ORDER BY client_ts, id`,
		tx.ref.TenantID, sess.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("OpenSession: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("OpenSession: %w", err)
	}
	sess.EventIDs = make([]string, len(events))
	for i := range events {
		sess.EventIDs[i] = events[i].ID
	}
	return &inference.OpenSession{Session: sess, Events: events}, nil
}

func (tx *actorTx) SaveSession(ctx context.Context, sess *model.Session, added []string, instances []model.WorkflowInstance) error {
	if _, err := tx.c.exec(ctx, `
		INSERT INTO sessions (id, tenant_id, actor_hash, session_hint_hash, ci, started_at, ended_at,
			event_count, closed, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			session_hint_hash = excluded.session_hint_hash,
			started_at        = excluded.started_at,
			ended_at          = excluded.ended_at,
			event_count       = excluded.event_count,
			closed            = excluded.closed,
			outcome           = excluded.outcome`,
		sess.ID, sess.TenantID, sess.ActorHash, sess.SessionHintHash, sess.CI,
		toMillis(sess.StartedAt), toMillis(sess.EndedAt), len(sess.EventIDs), sess.Closed, string(sess.Outcome),
	); err != nil {
		return fmt.Errorf("SaveSession: %w", err)
	}

	for _, id := range added {
		res, err := tx.c.exec(ctx, `
			UPDATE events SET processed = TRUE, session_id = $1
			WHERE id = $2 AND tenant_id = $3 AND processed = FALSE`,
			sess.ID, id, sess.TenantID,
		)
		if err != nil {
			return fmt.Errorf("SaveSession: %w", err)
		}
		// Zero rows means another pass already claimed the event.
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("SaveSession: event %s was already processed", id)
		}
	}

	if _, err := tx.c.exec(ctx, `DELETE FROM workflow_instances WHERE session_id = $1`, sess.ID); err != nil {
		return fmt.Errorf("SaveSession: %w", err)
	}
	for i := range instances {
		if err := insertInstance(ctx, tx.c, &instances[i]); err != nil {
			return fmt.Errorf("SaveSession: %w", err)
		}
	}
	return nil
}

func insertInstance(ctx context.Context, c conn, inst *model.WorkflowInstance) error {
	steps, err := json.Marshal(inst.Steps)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, `
		INSERT INTO workflow_instances (id, tenant_id, session_id, actor_hash, template_name, complete,
			outcome, steps, sequence_key, step_count, started_at, ended_at, session_closed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		inst.ID, inst.TenantID, inst.SessionID, inst.ActorHash, inst.TemplateName, inst.Complete,
		string(inst.Outcome), string(steps), inst.SequenceKey(), len(inst.Steps),
		toMillis(inst.StartedAt), toMillis(inst.EndedAt), inst.SessionClosed,
	)
	return err
}
