package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/triage-ai/cli-analytics/internal/experiment"
	"github.com/triage-ai/cli-analytics/internal/model"
)

var _ experiment.Store = (*Store)(nil)

const experimentColumns = `id, tenant_id, name, variants, description, active, created_at`

func scanExperiment(row interface{ Scan(...any) error }) (*model.ExperimentDefinition, error) {
	var (
		def      model.ExperimentDefinition
		variants string
		created  int64
	)
	if err := row.Scan(&def.ID, &def.TenantID, &def.Name, &variants, &def.Description, &def.Active, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(variants), &def.Variants); err != nil {
		return nil, fmt.Errorf("experiment %s variants: %w", def.Name, err)
	}
	def.CreatedAt = fromMillis(created)
	return &def, nil
}

// CreateExperiment inserts a definition. A (tenant, name) conflict returns an
// experiment.ErrDuplicate-wrapped error.
func (s *Store) CreateExperiment(ctx context.Context, def *model.ExperimentDefinition) error {
	variants, err := json.Marshal(def.Variants)
	if err != nil {
		return fmt.Errorf("CreateExperiment: %w", err)
	}
	res, err := s.conn().exec(ctx, `
		INSERT INTO experiments (id, tenant_id, name, variants, description, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, name) DO NOTHING`,
		def.ID, def.TenantID, def.Name, string(variants), def.Description, def.Active, toMillis(def.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("CreateExperiment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("CreateExperiment: %w", experiment.ErrDuplicate)
	}
	return nil
}

// ListExperiments returns a tenant's experiments, newest first.
func (s *Store) ListExperiments(ctx context.Context, tenantID string) ([]model.ExperimentDefinition, error) {
	rows, err := s.conn().query(ctx, `
		SELECT `+experimentColumns+` FROM experiments
		WHERE tenant_id = $1
		ORDER BY created_at DESC, name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("ListExperiments: %w", err)
	}
	defer rows.Close()

	var out []model.ExperimentDefinition
	for rows.Next() {
		def, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("ListExperiments: %w", err)
		}
		out = append(out, *def)
	}
	return out, rows.Err()
}

// GetExperiment returns an experiment by name, or nil if not found.
func (s *Store) GetExperiment(ctx context.Context, tenantID, name string) (*model.ExperimentDefinition, error) {
	def, err := scanExperiment(s.conn().queryRow(ctx, `
		SELECT `+experimentColumns+` FROM experiments
		WHERE tenant_id = $1 AND name = $2`, tenantID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetExperiment: %w", err)
	}
	return def, nil
}

// StopExperiment deactivates an experiment and reports whether it exists.
func (s *Store) StopExperiment(ctx context.Context, tenantID, name string) (bool, error) {
	res, err := s.conn().exec(ctx, `
		UPDATE experiments SET active = FALSE
		WHERE tenant_id = $1 AND name = $2`, tenantID, name)
	if err != nil {
		return false, fmt.Errorf("StopExperiment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("StopExperiment: %w", err)
	}
	return n > 0, nil
}
