package api

import (
	"errors"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/triage-ai/cli-analytics/internal/model"
	"github.com/triage-ai/cli-analytics/internal/privacy"
	"github.com/triage-ai/cli-analytics/internal/storage"
	"go.uber.org/zap"
)

// MaxBatchSize bounds the records accepted in one POST /v1/events.
const MaxBatchSize = 1000

// handleIngest implements POST /v1/events. The body is a single record or
// {"events": [...]}. Each record is schema-checked, sanitized and, if
// accepted, appended; all accepted records of a request share one transaction.
func (d *Dependencies) handleIngest(w http.ResponseWriter, r *http.Request) {
	doc, err := jsonschema.UnmarshalJSON(r.Body)
	_ = r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResp{Detail: "Request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	records, ok := batchRecords(doc)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Body must be an event object or {\"events\": [...]}"})
		return
	}
	if len(records) == 0 || len(records) > MaxBatchSize {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Batch must contain between 1 and 1000 events"})
		return
	}

	tenant := tenantID(r)
	resp := IngestResp{Results: make([]IngestResult, len(records))}
	var (
		accepted []*model.SanitizedEvent
		slots    []int // result index of each accepted event
	)
	for i, rec := range records {
		resp.Results[i].Index = i
		ev, err := d.sanitizeRecord(tenant, rec)
		if err != nil {
			rej, _ := privacy.AsRejection(err)
			if rej == nil {
				rej = privacy.ShapeRejection("event")
			}
			resp.Results[i].Status = StatusRejected
			resp.Results[i].Reason = rej.Code
			resp.Results[i].Field = rej.Field
			resp.Rejected++
			d.Logger.Debug("event rejected",
				zap.String("tenant_id", tenant),
				zap.Int("index", i),
				zap.String("reason", rej.Code),
				zap.Stringer("kind", rej.Kind),
			)
			continue
		}
		accepted = append(accepted, ev)
		slots = append(slots, i)
	}

	if len(accepted) > 0 {
		dups, err := d.Store.AppendEvents(r.Context(), accepted)
		if err != nil {
			d.Logger.Error("failed to append events", zap.String("tenant_id", tenant), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to store events; nothing was accepted"})
			return
		}
		fresh := make([]*model.SanitizedEvent, 0, len(accepted))
		for j, ev := range accepted {
			res := &resp.Results[slots[j]]
			res.Status = StatusAccepted
			res.EventID = ev.ID
			res.Duplicate = dups[j]
			resp.Accepted++
			if !dups[j] {
				fresh = append(fresh, ev)
			}
		}
		storage.WriteAll(d.Writer, fresh)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) sanitizeRecord(tenant string, rec any) (*model.SanitizedEvent, error) {
	raw, err := d.Validator.Decode(rec)
	if err != nil {
		return nil, err
	}
	return d.Sanitizer.Sanitize(tenant, raw)
}

// batchRecords unwraps {"events": [...]} or treats the body as one record.
func batchRecords(doc any) ([]any, bool) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, false
	}
	if wrapped, ok := obj["events"]; ok && len(obj) == 1 {
		list, ok := wrapped.([]any)
		return list, ok
	}
	return []any{obj}, true
}
