package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/triage-ai/cli-analytics/internal/model"
	"github.com/triage-ai/cli-analytics/internal/report"
)

const eventColumns = `id, tenant_id, tool_name, tool_version, actor_hash, machine_hash,
	session_hint_hash, command_path, flags, exit_code, duration_ms, error_type,
	client_ts, ingested_at, ci, processed, session_id`

// AppendEvents inserts sanitized events in one transaction. Event ids are
// content digests, so a resubmitted event hits the primary key and is skipped;
// duplicate[i] reports that for events[i].
func (s *Store) AppendEvents(ctx context.Context, events []*model.SanitizedEvent) (duplicate []bool, err error) {
	duplicate = make([]bool, len(events))
	err = s.withTx(ctx, func(c conn) error {
		for i, ev := range events {
			path, err := json.Marshal(ev.CommandPath)
			if err != nil {
				return err
			}
			flags, err := json.Marshal(nonNilStrings(ev.Flags))
			if err != nil {
				return err
			}
			res, err := c.exec(ctx, `
				INSERT INTO events (id, tenant_id, tool_name, tool_version, actor_hash, machine_hash,
					session_hint_hash, command_path, flags, exit_code, duration_ms, error_type,
					client_ts, ingested_at, ci, processed)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, FALSE)
				ON CONFLICT (id) DO NOTHING`,
				ev.ID, ev.TenantID, ev.ToolName, ev.ToolVersion, ev.ActorHash, ev.MachineHash,
				ev.SessionHintHash, string(path), string(flags), ev.ExitCode, ev.DurationMs, ev.ErrorType,
				toMillis(ev.ClientTime), toMillis(ev.IngestedAt), ev.CI,
			)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			duplicate[i] = n == 0
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("AppendEvents: %w", err)
	}
	return duplicate, nil
}

// CountEvents counts a tenant's events by client time.
func (s *Store) CountEvents(ctx context.Context, tenantID string, w report.Window) (int, error) {
	f := windowFilter(tenantID, "client_ts", w)
	var n int
	if err := s.conn().queryRow(ctx, `SELECT COUNT(*) FROM events`+f.where(), f.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountEvents: %w", err)
	}
	return n, nil
}

// windowFilter scopes to a tenant and bounds column by the window.
func windowFilter(tenantID, column string, w report.Window) *filter {
	f := &filter{}
	f.add("tenant_id = ?", tenantID)
	if !w.From.IsZero() {
		f.add(column+" >= ?", toMillis(w.From))
	}
	if !w.To.IsZero() {
		f.add(column+" < ?", toMillis(w.To))
	}
	return f
}

func scanEvents(rows *sql.Rows) ([]model.SanitizedEvent, error) {
	defer rows.Close()
	var out []model.SanitizedEvent
	for rows.Next() {
		var (
			ev              model.SanitizedEvent
			path, flags     string
			exit, duration  sql.NullInt64
			clientTS, ingTS int64
			sessionID       sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.ToolName, &ev.ToolVersion, &ev.ActorHash, &ev.MachineHash,
			&ev.SessionHintHash, &path, &flags, &exit, &duration, &ev.ErrorType,
			&clientTS, &ingTS, &ev.CI, &ev.Processed, &sessionID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(path), &ev.CommandPath); err != nil {
			return nil, fmt.Errorf("event %s command_path: %w", ev.ID, err)
		}
		if err := json.Unmarshal([]byte(flags), &ev.Flags); err != nil {
			return nil, fmt.Errorf("event %s flags: %w", ev.ID, err)
		}
		if exit.Valid {
			v := int(exit.Int64)
			ev.ExitCode = &v
		}
		if duration.Valid {
			v := duration.Int64
			ev.DurationMs = &v
		}
		ev.ClientTime = fromMillis(clientTS)
		ev.IngestedAt = fromMillis(ingTS)
		ev.SessionID = sessionID.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
