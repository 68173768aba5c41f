package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/triage-ai/cli-analytics/internal/experiment"
	"github.com/triage-ai/cli-analytics/internal/model"
	"github.com/triage-ai/cli-analytics/internal/report"
)

var _ report.Store = (*Store)(nil)

// WorkflowInstances reads a tenant's instances ordered by start time.
func (s *Store) WorkflowInstances(ctx context.Context, tenantID string, q report.InstanceQuery) ([]model.WorkflowInstance, error) {
	f := windowFilter(tenantID, "started_at", q.Window)
	if q.Template != "" {
		f.add("template_name = ?", q.Template)
	}
	if q.Outcome != "" {
		f.add("outcome = ?", string(q.Outcome))
	}

	rows, err := s.conn().query(ctx, `
		SELECT id, tenant_id, session_id, actor_hash, template_name, complete, outcome, steps,
			started_at, ended_at, session_closed
		FROM workflow_instances`+f.where()+`
		ORDER BY started_at, id`, f.args...)
	if err != nil {
		return nil, fmt.Errorf("WorkflowInstances: %w", err)
	}
	defer rows.Close()

	var out []model.WorkflowInstance
	for rows.Next() {
		var (
			inst           model.WorkflowInstance
			outcome, steps string
			started, ended int64
		)
		if err := rows.Scan(&inst.ID, &inst.TenantID, &inst.SessionID, &inst.ActorHash, &inst.TemplateName,
			&inst.Complete, &outcome, &steps, &started, &ended, &inst.SessionClosed); err != nil {
			return nil, fmt.Errorf("WorkflowInstances: %w", err)
		}
		if err := json.Unmarshal([]byte(steps), &inst.Steps); err != nil {
			return nil, fmt.Errorf("WorkflowInstances: instance %s steps: %w", inst.ID, err)
		}
		inst.Outcome = model.Outcome(outcome)
		inst.StartedAt = fromMillis(started)
		inst.EndedAt = fromMillis(ended)
		out = append(out, inst)
	}
	return out, rows.Err()
}

// CountSessions counts a tenant's sessions by start time.
func (s *Store) CountSessions(ctx context.Context, tenantID string, w report.Window) (int, error) {
	f := windowFilter(tenantID, "started_at", w)
	var n int
	if err := s.conn().queryRow(ctx, `SELECT COUNT(*) FROM sessions`+f.where(), f.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountSessions: %w", err)
	}
	return n, nil
}

// ActorSessions lists an actor's sessions, newest first.
func (s *Store) ActorSessions(ctx context.Context, tenantID, actorHash string, limit int) ([]report.ActorSession, error) {
	rows, err := s.conn().query(ctx, `
		SELECT id, started_at, ended_at, event_count, ci, closed, outcome FROM sessions
		WHERE tenant_id = $1 AND actor_hash = $2
		ORDER BY started_at DESC, id
		LIMIT $3`, tenantID, actorHash, limit)
	if err != nil {
		return nil, fmt.Errorf("ActorSessions: %w", err)
	}
	defer rows.Close()

	var out []report.ActorSession
	for rows.Next() {
		var (
			as             report.ActorSession
			started, ended int64
			outcome        string
		)
		if err := rows.Scan(&as.ID, &started, &ended, &as.EventCount, &as.CI, &as.Closed, &outcome); err != nil {
			return nil, fmt.Errorf("ActorSessions: %w", err)
		}
		as.StartedAt = fromMillis(started)
		as.EndedAt = fromMillis(ended)
		as.Outcome = model.Outcome(outcome)
		out = append(out, as)
	}
	return out, rows.Err()
}

// ClosedSessionOutcomes lists closed sessions started at or after since.
func (s *Store) ClosedSessionOutcomes(ctx context.Context, tenantID string, since time.Time) ([]experiment.ActorOutcome, error) {
	rows, err := s.conn().query(ctx, `
		SELECT actor_hash, outcome FROM sessions
		WHERE tenant_id = $1 AND closed = TRUE AND started_at >= $2`,
		tenantID, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("ClosedSessionOutcomes: %w", err)
	}
	defer rows.Close()

	var out []experiment.ActorOutcome
	for rows.Next() {
		var ao experiment.ActorOutcome
		var outcome string
		if err := rows.Scan(&ao.ActorHash, &outcome); err != nil {
			return nil, fmt.Errorf("ClosedSessionOutcomes: %w", err)
		}
		ao.Outcome = model.Outcome(outcome)
		out = append(out, ao)
	}
	return out, rows.Err()
}
