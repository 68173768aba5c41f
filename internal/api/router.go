package api

import (
	"context"
	"net/http"

	"github.com/triage-ai/cli-analytics/internal/auth"
	"github.com/triage-ai/cli-analytics/internal/chread"
	"github.com/triage-ai/cli-analytics/internal/config"
	"github.com/triage-ai/cli-analytics/internal/experiment"
	"github.com/triage-ai/cli-analytics/internal/inference"
	"github.com/triage-ai/cli-analytics/internal/privacy"
	"github.com/triage-ai/cli-analytics/internal/recommend"
	"github.com/triage-ai/cli-analytics/internal/report"
	"github.com/triage-ai/cli-analytics/internal/storage"
	"github.com/triage-ai/cli-analytics/internal/store"
	"go.uber.org/zap"
)

// ActivityReader is the ClickHouse activity query.
type ActivityReader interface {
	GetActivity(ctx context.Context, tenantID string, days int) (*chread.Activity, error)
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Store       *store.Store
	Auth        *auth.StoreAuthenticator
	Sanitizer   *privacy.Sanitizer
	Validator   *RecordValidator
	Runner      *inference.Runner
	Reports     *report.Service
	Experiments *experiment.Service
	Recommender *recommend.Service
	Writer      storage.EventWriter
	Reader      ActivityReader // nil if ClickHouse unavailable
	Catalog     *config.Catalog
	AdminToken  string // admin routes are disabled when empty
	Logger      *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()
	tenant := deps.tenantAuth
	admin := deps.adminAuth

	// Ingestion and inference
	mux.HandleFunc("POST /v1/events", tenant(gunzipBody(deps.handleIngest)))
	mux.HandleFunc("POST /v1/infer", tenant(deps.handleInfer))

	// Reports
	mux.HandleFunc("GET /v1/reports/summary", tenant(deps.handleSummary))
	mux.HandleFunc("GET /v1/reports/hot-paths", tenant(deps.handleHotPaths))
	mux.HandleFunc("GET /v1/reports/workflows/{name}", tenant(deps.handleWorkflowDetail))
	mux.HandleFunc("GET /v1/reports/transitions", tenant(deps.handleTransitions))
	mux.HandleFunc("GET /v1/reports/activity", tenant(deps.handleActivity))
	mux.HandleFunc("GET /v1/reports/sessions", tenant(deps.handleActorSessions))

	// Experiments
	mux.HandleFunc("POST /v1/experiments", tenant(deps.handleCreateExperiment))
	mux.HandleFunc("GET /v1/experiments", tenant(deps.handleListExperiments))
	mux.HandleFunc("GET /v1/experiments/{name}/variant", tenant(deps.handleVariant))
	mux.HandleFunc("GET /v1/experiments/{name}/results", tenant(deps.handleExperimentResults))
	mux.HandleFunc("POST /v1/experiments/{name}/stop", tenant(deps.handleStopExperiment))

	// Recommendations
	mux.HandleFunc("GET /v1/recommendations", tenant(deps.handleRecommendation))

	// Tenant admin
	mux.HandleFunc("POST /api/admin/tenants", admin(deps.handleCreateTenant))
	mux.HandleFunc("GET /api/admin/tenants", admin(deps.handleListTenants))
	mux.HandleFunc("GET /api/admin/tenants/{id}", admin(deps.handleGetTenant))
	mux.HandleFunc("DELETE /api/admin/tenants/{id}", admin(deps.handleDeleteTenant))
	mux.HandleFunc("POST /api/admin/tenants/{id}/rotate-key", admin(deps.handleRotateKey))
	mux.HandleFunc("PUT /api/admin/tenants/{id}/templates", admin(deps.handleReplaceTemplates))
	mux.HandleFunc("PUT /api/admin/tenants/{id}/rules", admin(deps.handleReplaceRules))

	// Health check
	mux.HandleFunc("GET /healthz", deps.handleHealth)

	return corsMiddleware(requestLogging(mux, deps.Logger))
}

func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := d.Store.Ping(r.Context()); err != nil {
		d.Logger.Warn("health check: store unreachable", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
