// Package report holds the read-side computations over persisted workflow
// instances: hot paths, workflow summaries and command transitions. Nothing here
// writes, so every report can run concurrently with inference.
package report

import (
	"sort"
	"time"

	"github.com/triage-ai/cli-analytics/internal/model"
)

// DefaultHotPathLimit caps hot-path results when the caller gives no limit.
const DefaultHotPathLimit = 10

// HotPathOptions controls AggregateHotPaths.
type HotPathOptions struct {
	Limit            int
	IncludeUnmatched bool // the unmatched bucket is noise for most tenants
}

// HotPath is one recurring failing command sequence.
type HotPath struct {
	Sequence     string    `json:"sequence"`
	WorkflowName string    `json:"workflow_name"`
	FailureCount int       `json:"failure_count"`
	LastSeen     time.Time `json:"last_seen"`
}

// AggregateHotPaths groups FAILED instances by their exact command sequence and
// ranks them by count, ties going to the most recent occurrence.
func AggregateHotPaths(instances []model.WorkflowInstance, opts HotPathOptions) []HotPath {
	if opts.Limit <= 0 {
		opts.Limit = DefaultHotPathLimit
	}

	byKey := make(map[string]*HotPath)
	for i := range instances {
		inst := &instances[i]
		if inst.Outcome != model.OutcomeFailed || len(inst.Steps) == 0 {
			continue
		}
		if inst.Unmatched() && !opts.IncludeUnmatched {
			continue
		}
		key := inst.SequenceKey()
		hp, ok := byKey[key]
		if !ok {
			hp = &HotPath{Sequence: key}
			byKey[key] = hp
		}
		hp.FailureCount++
		if !inst.EndedAt.Before(hp.LastSeen) {
			hp.LastSeen = inst.EndedAt
			hp.WorkflowName = inst.TemplateName
		}
	}

	out := make([]HotPath, 0, len(byKey))
	for _, hp := range byKey {
		out = append(out, *hp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FailureCount != out[j].FailureCount {
			return out[i].FailureCount > out[j].FailureCount
		}
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].Sequence < out[j].Sequence
	})
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}
