package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/cli-analytics/internal/model"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyPrefixLen is how much of a key is stored in clear for lookup.
const APIKeyPrefixLen = 8

// Tenant represents a row in the tenants table.
type Tenant struct {
	ID           string
	Name         string
	APIKeyHash   string
	APIKeyPrefix string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GenerateAPIKey creates a new cla_ API key with its bcrypt hash and prefix.
// Returns (fullKey, hash, prefix, error). The fullKey is shown to the user once.
func GenerateAPIKey() (string, string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	fullKey := "cla_" + hex.EncodeToString(raw) // 68 chars total

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}

	prefix := fullKey[:APIKeyPrefixLen] // "cla_abcd"
	return fullKey, string(hashBytes), prefix, nil
}

const tenantColumns = `id, name, api_key_hash, api_key_prefix, created_at, updated_at`

func scanTenant(row interface{ Scan(...any) error }) (*Tenant, error) {
	var t Tenant
	var created, updated int64
	if err := row.Scan(&t.ID, &t.Name, &t.APIKeyHash, &t.APIKeyPrefix, &created, &updated); err != nil {
		return nil, err
	}
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	return &t, nil
}

// CreateTenant inserts a tenant and seeds its workflow templates and
// recommendation rules in a single transaction. Returns the tenant and the
// plaintext API key (shown once).
func (s *Store) CreateTenant(ctx context.Context, name string, templates []model.WorkflowTemplate, rules []model.RecommendationRule) (*Tenant, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("CreateTenant: %w", err)
	}

	now := time.Now().UTC()
	t := &Tenant{
		ID:           uuid.NewString(),
		Name:         name,
		APIKeyHash:   keyHash,
		APIKeyPrefix: keyPrefix,
		CreatedAt:    fromMillis(toMillis(now)),
		UpdatedAt:    fromMillis(toMillis(now)),
	}

	err = s.withTx(ctx, func(c conn) error {
		if _, err := c.exec(ctx, `
			INSERT INTO tenants (id, name, api_key_hash, api_key_prefix, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)`,
			t.ID, t.Name, t.APIKeyHash, t.APIKeyPrefix, toMillis(now),
		); err != nil {
			return err
		}
		if err := replaceTemplates(ctx, c, t.ID, templates); err != nil {
			return err
		}
		return replaceRules(ctx, c, t.ID, rules)
	})
	if err != nil {
		return nil, "", fmt.Errorf("CreateTenant: %w", err)
	}
	return t, fullKey, nil
}

// ListTenants returns all tenants ordered by created_at DESC.
func (s *Store) ListTenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.conn().query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("ListTenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("ListTenants: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// GetTenant returns a tenant by ID, or nil if not found.
func (s *Store) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	t, err := scanTenant(s.conn().queryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetTenant: %w", err)
	}
	return t, nil
}

// tenantTables lists every table with a tenant_id column.
var tenantTables = []string{
	"events", "sessions", "workflow_instances", "workflow_templates", "experiments", "recommendation_rules",
}

// DeleteTenant deletes a tenant and every row scoped to it.
// Returns sql.ErrNoRows if the tenant does not exist.
func (s *Store) DeleteTenant(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(c conn) error {
		res, err := c.exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		for _, table := range tenantTables {
			if _, err := c.exec(ctx, `DELETE FROM `+table+` WHERE tenant_id = $1`, id); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return sql.ErrNoRows
	}
	if err != nil {
		return fmt.Errorf("DeleteTenant: %w", err)
	}
	return nil
}

// RotateAPIKey generates a new API key for a tenant.
// Returns the updated tenant and the plaintext key (shown once), or nil if the
// tenant does not exist.
func (s *Store) RotateAPIKey(ctx context.Context, id string) (*Tenant, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	res, err := s.conn().exec(ctx, `
		UPDATE tenants SET
			api_key_hash   = $2,
			api_key_prefix = $3,
			updated_at     = $4
		WHERE id = $1`,
		id, keyHash, keyPrefix, toMillis(time.Now()),
	)
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, "", nil
	}

	t, err := s.GetTenant(ctx, id)
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}
	return t, fullKey, nil
}

// TenantsByKeyPrefix finds tenants by API key prefix (first 8 chars). Used by
// auth to narrow candidates before the bcrypt verify; prefixes are short enough
// that more than one tenant can share one.
func (s *Store) TenantsByKeyPrefix(ctx context.Context, prefix string) ([]*Tenant, error) {
	rows, err := s.conn().query(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE api_key_prefix = $1`, prefix)
	if err != nil {
		return nil, fmt.Errorf("TenantsByKeyPrefix: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("TenantsByKeyPrefix: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}
