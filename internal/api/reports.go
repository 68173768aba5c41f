package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/triage-ai/cli-analytics/internal/report"
	"go.uber.org/zap"
)

const (
	maxReportLimit      = 100
	defaultSessionLimit = 20
)

// handleInfer implements POST /v1/infer for the caller's tenant. Actor
// failures still return 200 with actors_failed set; those actors retry on the
// next pass.
func (d *Dependencies) handleInfer(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	res, err := d.Runner.Run(r.Context(), tenant)
	if err != nil && res.ActorsFailed == 0 {
		d.Logger.Error("inference pass failed", zap.String("tenant_id", tenant), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Inference pass failed"})
		return
	}
	if err != nil {
		d.Logger.Warn("inference pass incomplete",
			zap.String("tenant_id", tenant),
			zap.Int("actors_failed", res.ActorsFailed),
			zap.Error(err),
		)
	}
	writeJSON(w, http.StatusOK, res)
}

func (d *Dependencies) handleSummary(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}
	sum, err := d.Reports.Summary(r.Context(), tenantID(r), win)
	if err != nil {
		d.Logger.Error("failed to build summary", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to build summary"})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (d *Dependencies) handleHotPaths(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	win, err := parseWindow(q)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}
	opts := report.HotPathOptions{
		Limit:            clamp(queryInt(q, "limit", report.DefaultHotPathLimit), 1, maxReportLimit),
		IncludeUnmatched: queryBool(q, "include_unmatched"),
	}
	paths, err := d.Reports.HotPaths(r.Context(), tenantID(r), win, opts)
	if err != nil {
		d.Logger.Error("failed to aggregate hot paths", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to aggregate hot paths"})
		return
	}
	if paths == nil {
		paths = []report.HotPath{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"hot_paths": paths})
}

func (d *Dependencies) handleWorkflowDetail(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}
	name := r.PathValue("name")
	detail, err := d.Reports.WorkflowDetail(r.Context(), tenantID(r), name, win)
	if err != nil {
		d.Logger.Error("failed to build workflow detail", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to build workflow detail"})
		return
	}
	if detail == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Workflow not found."})
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (d *Dependencies) handleTransitions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	win, err := parseWindow(q)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}
	limit := clamp(queryInt(q, "limit", report.DefaultTransitionLimit), 1, maxReportLimit)
	ts, err := d.Reports.Transitions(r.Context(), tenantID(r), win, limit)
	if err != nil {
		d.Logger.Error("failed to compute transitions", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to compute transitions"})
		return
	}
	if ts == nil {
		ts = []report.Transition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": ts})
}

func (d *Dependencies) handleActivity(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}
	days := queryInt(r.URL.Query(), "days", 0)
	act, err := d.Reader.GetActivity(r.Context(), tenantID(r), days)
	if err != nil {
		d.Logger.Error("failed to get activity", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get activity"})
		return
	}
	writeJSON(w, http.StatusOK, act)
}

// parseWindow reads optional RFC 3339 from/to bounds.
// handleActorSessions lists one actor's sessions. The actor id is hashed the
// same way ingestion hashes it and never logged.
func (d *Dependencies) handleActorSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	actorID := q.Get("actor_id")
	if strings.TrimSpace(actorID) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "actor_id query parameter is required"})
		return
	}
	limit := clamp(queryInt(q, "limit", defaultSessionLimit), 1, maxReportLimit)
	sessions, err := d.Store.ActorSessions(r.Context(), tenantID(r), d.Sanitizer.HashActor(actorID), limit)
	if err != nil {
		d.Logger.Error("failed to list sessions", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list sessions"})
		return
	}
	if sessions == nil {
		sessions = []report.ActorSession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func parseWindow(q url.Values) (report.Window, error) {
	var w report.Window
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &w.From}, {"to", &w.To}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return w, fmt.Errorf("%s must be an RFC 3339 timestamp", p.key)
		}
		*p.dst = t.UTC()
	}
	if !w.From.IsZero() && !w.To.IsZero() && !w.From.Before(w.To) {
		return w, fmt.Errorf("from must be before to")
	}
	return w, nil
}

func queryInt(q url.Values, key string, defaultVal int) int {
	if v := q.Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func queryBool(q url.Values, key string) bool {
	b, _ := strconv.ParseBool(q.Get(key))
	return b
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
