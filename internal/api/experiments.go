package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/triage-ai/cli-analytics/internal/experiment"
	"github.com/triage-ai/cli-analytics/internal/model"
	"go.uber.org/zap"
)

func (d *Dependencies) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req CreateExperimentReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	def, err := d.Experiments.Create(r.Context(), tenantID(r), req.Name, req.Variants, req.Description)
	switch {
	case errors.Is(err, experiment.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	case errors.Is(err, experiment.ErrDuplicate):
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: "Experiment already exists."})
		return
	case err != nil:
		d.Logger.Error("failed to create experiment", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create experiment"})
		return
	}
	writeJSON(w, http.StatusCreated, experimentToResp(def))
}

func (d *Dependencies) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	defs, err := d.Experiments.List(r.Context(), tenantID(r))
	if err != nil {
		d.Logger.Error("failed to list experiments", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list experiments"})
		return
	}
	resp := make([]ExperimentResp, 0, len(defs))
	for i := range defs {
		resp = append(resp, experimentToResp(&defs[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleVariant answers with a null variant for unknown or stopped experiments
// so client call sites never break when configuration lags.
func (d *Dependencies) handleVariant(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	actorID := r.URL.Query().Get("actor_id")
	if strings.TrimSpace(actorID) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "actor_id query parameter is required"})
		return
	}
	variant, ok, err := d.Experiments.Variant(r.Context(), tenantID(r), name, d.Sanitizer.HashActor(actorID))
	if err != nil {
		d.Logger.Error("failed to resolve variant", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to resolve variant"})
		return
	}
	resp := VariantResp{Experiment: name}
	if ok {
		resp.Variant = &variant
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleExperimentResults(w http.ResponseWriter, r *http.Request) {
	res, err := d.Experiments.Results(r.Context(), tenantID(r), r.PathValue("name"))
	if err != nil {
		d.Logger.Error("failed to tally experiment", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to tally experiment"})
		return
	}
	if res == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Experiment not found."})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (d *Dependencies) handleStopExperiment(w http.ResponseWriter, r *http.Request) {
	found, err := d.Experiments.Stop(r.Context(), tenantID(r), r.PathValue("name"))
	if err != nil {
		d.Logger.Error("failed to stop experiment", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to stop experiment"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Experiment not found."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"experiment": r.PathValue("name"), "active": false})
}

// handleRecommendation implements GET /v1/recommendations. No matching rule
// is a null hint, not an error.
func (d *Dependencies) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tool, command := q.Get("tool"), q.Get("command")
	if strings.TrimSpace(tool) == "" || strings.TrimSpace(command) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "tool and command query parameters are required"})
		return
	}
	hint, ok, err := d.Recommender.Hint(r.Context(), tenantID(r), tool, command, queryBool(q, "failed"))
	if err != nil {
		d.Logger.Error("failed to match recommendation", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to match recommendation"})
		return
	}
	var resp HintResp
	if ok {
		resp.Hint = &hint
	}
	writeJSON(w, http.StatusOK, resp)
}

func experimentToResp(def *model.ExperimentDefinition) ExperimentResp {
	return ExperimentResp{
		ID:          def.ID,
		Name:        def.Name,
		Variants:    def.Variants,
		Description: def.Description,
		Active:      def.Active,
		CreatedAt:   def.CreatedAt,
	}
}
