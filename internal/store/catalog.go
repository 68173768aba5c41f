package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/triage-ai/cli-analytics/internal/model"
	"github.com/triage-ai/cli-analytics/internal/recommend"
)

var _ recommend.Store = (*Store)(nil)

// Templates returns the tenant's workflow templates in priority order.
func (s *Store) Templates(ctx context.Context, tenantID string) ([]model.WorkflowTemplate, error) {
	rows, err := s.conn().query(ctx, `
		SELECT name, steps, description FROM workflow_templates
		WHERE tenant_id = $1
		ORDER BY position`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("Templates: %w", err)
	}
	defer rows.Close()

	var out []model.WorkflowTemplate
	for rows.Next() {
		var t model.WorkflowTemplate
		var steps string
		if err := rows.Scan(&t.Name, &steps, &t.Description); err != nil {
			return nil, fmt.Errorf("Templates: %w", err)
		}
		if err := json.Unmarshal([]byte(steps), &t.Steps); err != nil {
			return nil, fmt.Errorf("Templates: template %s: %w", t.Name, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ReplaceTemplates swaps the tenant's whole template list. Slice order is the
// matching priority.
func (s *Store) ReplaceTemplates(ctx context.Context, tenantID string, templates []model.WorkflowTemplate) error {
	if err := s.withTx(ctx, func(c conn) error {
		return replaceTemplates(ctx, c, tenantID, templates)
	}); err != nil {
		return fmt.Errorf("ReplaceTemplates: %w", err)
	}
	return nil
}

func replaceTemplates(ctx context.Context, c conn, tenantID string, templates []model.WorkflowTemplate) error {
	if _, err := c.exec(ctx, `DELETE FROM workflow_templates WHERE tenant_id = $1`, tenantID); err != nil {
		return err
	}
	for i := range templates {
		t := &templates[i]
		steps, err := json.Marshal(t.Steps)
		if err != nil {
			return err
		}
		if _, err := c.exec(ctx, `
			INSERT INTO workflow_templates (tenant_id, name, position, steps, description)
			VALUES ($1, $2, $3, $4, $5)`,
			tenantID, t.Name, i, string(steps), t.Description,
		); err != nil {
			return fmt.Errorf("template %s: %w", t.Name, err)
		}
	}
	return nil
}

// Rules returns the tenant's recommendation rules by priority.
func (s *Store) Rules(ctx context.Context, tenantID string) ([]model.RecommendationRule, error) {
	rows, err := s.conn().query(ctx, `
		SELECT id, tenant_id, tool_pattern, command_pattern, on_failure, hint, priority
		FROM recommendation_rules
		WHERE tenant_id = $1
		ORDER BY priority, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("Rules: %w", err)
	}
	defer rows.Close()

	var out []model.RecommendationRule
	for rows.Next() {
		var r model.RecommendationRule
		if err := rows.Scan(&r.ID, &r.TenantID, &r.ToolPattern, &r.CommandPattern, &r.OnFailure, &r.Hint, &r.Priority); err != nil {
			return nil, fmt.Errorf("Rules: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceRules swaps the tenant's whole rule set. Rules without an id get one.
func (s *Store) ReplaceRules(ctx context.Context, tenantID string, rules []model.RecommendationRule) error {
	if err := s.withTx(ctx, func(c conn) error {
		return replaceRules(ctx, c, tenantID, rules)
	}); err != nil {
		return fmt.Errorf("ReplaceRules: %w", err)
	}
	return nil
}

func replaceRules(ctx context.Context, c conn, tenantID string, rules []model.RecommendationRule) error {
	if _, err := c.exec(ctx, `DELETE FROM recommendation_rules WHERE tenant_id = $1`, tenantID); err != nil {
		return err
	}
	for _, r := range rules {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if _, err := c.exec(ctx, `
			INSERT INTO recommendation_rules (id, tenant_id, tool_pattern, command_pattern, on_failure, hint, priority)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, tenantID, r.ToolPattern, r.CommandPattern, r.OnFailure, r.Hint, r.Priority,
		); err != nil {
			return err
		}
	}
	return nil
}
