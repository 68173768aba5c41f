package api

import (
	"time"

	"github.com/triage-ai/cli-analytics/internal/model"
)

// --- POST /v1/events ---

// Record statuses in an ingestion response.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// IngestResult reports what happened to one submitted record.
type IngestResult struct {
	Index     int    `json:"index"`
	Status    string `json:"status"`
	EventID   string `json:"event_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Field     string `json:"field,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// IngestResp is the body of POST /v1/events. Every submitted record has
// exactly one entry in Results.
type IngestResp struct {
	Accepted int            `json:"accepted"`
	Rejected int            `json:"rejected"`
	Results  []IngestResult `json:"results"`
}

// --- Experiments ---

// CreateExperimentReq is the JSON body for POST /v1/experiments.
type CreateExperimentReq struct {
	Name        string   `json:"name"`
	Variants    []string `json:"variants,omitempty"`
	Description string   `json:"description,omitempty"`
}

// ExperimentResp is one experiment definition.
type ExperimentResp struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Variants    []string  `json:"variants"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// VariantResp answers a variant query. Variant is null for unknown or stopped
// experiments.
type VariantResp struct {
	Experiment string  `json:"experiment"`
	Variant    *string `json:"variant"`
}

// --- Recommendations ---

// HintResp answers a recommendation query. Hint is null when no rule matches.
type HintResp struct {
	Hint *string `json:"hint"`
}

// --- Tenant admin ---

// CreateTenantReq is the JSON body for POST /api/admin/tenants.
type CreateTenantReq struct {
	Name string `json:"name"`
}

// CreateTenantResp includes the plaintext API key (shown once).
type CreateTenantResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKey       string    `json:"api_key"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	CreatedAt    time.Time `json:"created_at"`
}

// TenantResp describes a tenant without its key.
type TenantResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RotateKeyResp includes the new plaintext API key (shown once).
type RotateKeyResp struct {
	APIKey       string `json:"api_key"`
	APIKeyPrefix string `json:"api_key_prefix"`
}

// ReplaceTemplatesReq is the JSON body for PUT .../templates. Order is priority.
type ReplaceTemplatesReq struct {
	Templates []model.WorkflowTemplate `json:"templates"`
}

// ReplaceRulesReq is the JSON body for PUT .../rules.
type ReplaceRulesReq struct {
	Rules []model.RecommendationRule `json:"rules"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
