package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/triage-ai/cli-analytics/internal/config"
	"github.com/triage-ai/cli-analytics/internal/model"
	"github.com/triage-ai/cli-analytics/internal/recommend"
	"github.com/triage-ai/cli-analytics/internal/store"
	"go.uber.org/zap"
)

// handleCreateTenant registers a tool and seeds it from the catalog.
func (d *Dependencies) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 255 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name must be 1-255 characters"})
		return
	}

	var (
		templates []model.WorkflowTemplate
		rules     []model.RecommendationRule
	)
	if d.Catalog != nil {
		templates, rules = d.Catalog.Templates, d.Catalog.Rules
	}
	tenant, plainKey, err := d.Store.CreateTenant(r.Context(), req.Name, templates, rules)
	if err != nil {
		d.Logger.Error("failed to create tenant", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create tenant"})
		return
	}
	d.Logger.Info("tenant created", zap.String("tenant_id", tenant.ID))

	writeJSON(w, http.StatusCreated, CreateTenantResp{
		ID:           tenant.ID,
		Name:         tenant.Name,
		APIKey:       plainKey,
		APIKeyPrefix: tenant.APIKeyPrefix,
		CreatedAt:    tenant.CreatedAt,
	})
}

func (d *Dependencies) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := d.Store.ListTenants(r.Context())
	if err != nil {
		d.Logger.Error("failed to list tenants", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list tenants"})
		return
	}
	resp := make([]TenantResp, 0, len(tenants))
	for _, t := range tenants {
		resp = append(resp, tenantToResp(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, ok := d.loadTenant(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, tenantToResp(tenant))
}

func (d *Dependencies) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := d.Store.DeleteTenant(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Tenant not found."})
		return
	}
	if err != nil {
		d.Logger.Error("failed to delete tenant", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to delete tenant"})
		return
	}
	d.Auth.Cache().Purge(id)
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tenant, plainKey, err := d.Store.RotateAPIKey(r.Context(), id)
	if err != nil {
		d.Logger.Error("failed to rotate key", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to rotate API key"})
		return
	}
	if tenant == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Tenant not found."})
		return
	}
	d.Auth.Cache().Purge(id)
	writeJSON(w, http.StatusOK, RotateKeyResp{
		APIKey:       plainKey,
		APIKeyPrefix: tenant.APIKeyPrefix,
	})
}

func (d *Dependencies) handleReplaceTemplates(w http.ResponseWriter, r *http.Request) {
	var req ReplaceTemplatesReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if err := config.ValidateTemplates(req.Templates); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}
	tenant, ok := d.loadTenant(w, r)
	if !ok {
		return
	}
	if err := d.Store.ReplaceTemplates(r.Context(), tenant.ID, req.Templates); err != nil {
		d.Logger.Error("failed to replace templates", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to replace templates"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"templates": len(req.Templates)})
}

func (d *Dependencies) handleReplaceRules(w http.ResponseWriter, r *http.Request) {
	var req ReplaceRulesReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	tenant, ok := d.loadTenant(w, r)
	if !ok {
		return
	}
	err := d.Recommender.Replace(r.Context(), tenant.ID, req.Rules)
	switch {
	case errors.Is(err, recommend.ErrInvalidRule):
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	case err != nil:
		d.Logger.Error("failed to replace rules", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to replace rules"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rules": len(req.Rules)})
}

// loadTenant resolves the {id} path value, writing 404/500 itself.
func (d *Dependencies) loadTenant(w http.ResponseWriter, r *http.Request) (*store.Tenant, bool) {
	tenant, err := d.Store.GetTenant(r.Context(), r.PathValue("id"))
	if err != nil {
		d.Logger.Error("failed to get tenant", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get tenant"})
		return nil, false
	}
	if tenant == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Tenant not found."})
		return nil, false
	}
	return tenant, true
}

func tenantToResp(t *store.Tenant) TenantResp {
	return TenantResp{
		ID:           t.ID,
		Name:         t.Name,
		APIKeyPrefix: t.APIKeyPrefix,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}
