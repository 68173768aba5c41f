package report

import (
	"math"
	"sort"
	"time"

	"github.com/triage-ai/cli-analytics/internal/model"
)

const (
	topWorkflowLimit = 10
	commonPathLimit  = 5
	recentRunLimit   = 10
)

// WorkflowStats are per-template outcome counts.
type WorkflowStats struct {
	Name             string  `json:"workflow_name"`
	TotalRuns        int     `json:"total_runs"`
	SuccessCount     int     `json:"success_count"`
	FailedCount      int     `json:"failed_count"`
	AbandonedCount   int     `json:"abandoned_count"`
	SuccessRate      float64 `json:"success_rate"`
	MedianDurationMs *int64  `json:"median_duration_ms"`
}

// Summary is the tenant overview over a window.
type Summary struct {
	From           *time.Time      `json:"from,omitempty"`
	To             *time.Time      `json:"to,omitempty"`
	TotalEvents    int             `json:"total_events"`
	TotalSessions  int             `json:"total_sessions"`
	TotalWorkflows int             `json:"total_workflows"`
	TopWorkflows   []WorkflowStats `json:"top_workflows"`
	HotPaths       []HotPath       `json:"failure_hot_paths"`
}

// PathCount is a step sequence and how often it occurred.
type PathCount struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// RunSummary is one recent workflow instance.
type RunSummary struct {
	ID         string        `json:"id"`
	Outcome    model.Outcome `json:"outcome"`
	Complete   bool          `json:"complete"`
	StartedAt  time.Time     `json:"started_at"`
	DurationMs int64         `json:"duration_ms"`
	StepCount  int           `json:"step_count"`
}

// ActorSession is one row of an actor's session history.
type ActorSession struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    time.Time     `json:"ended_at"`
	EventCount int           `json:"event_count"`
	CI         bool          `json:"ci"`
	Closed     bool          `json:"closed"`
	Outcome    model.Outcome `json:"outcome"`
}

// WorkflowDetail is the drill-down for one template.
type WorkflowDetail struct {
	WorkflowStats
	Outcomes    map[model.Outcome]int `json:"outcomes"`
	CommonPaths []PathCount           `json:"common_paths"`
	RecentRuns  []RunSummary          `json:"recent_runs"`
}

// TopWorkflows computes stats for named templates, most-run first.
func TopWorkflows(instances []model.WorkflowInstance, limit int) []WorkflowStats {
	grouped := make(map[string][]*model.WorkflowInstance)
	for i := range instances {
		inst := &instances[i]
		if inst.Unmatched() {
			continue
		}
		grouped[inst.TemplateName] = append(grouped[inst.TemplateName], inst)
	}

	out := make([]WorkflowStats, 0, len(grouped))
	for name, insts := range grouped {
		out = append(out, stats(name, insts))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalRuns != out[j].TotalRuns {
			return out[i].TotalRuns > out[j].TotalRuns
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// BuildWorkflowDetail returns nil when no instance of name is present.
func BuildWorkflowDetail(name string, instances []model.WorkflowInstance) *WorkflowDetail {
	var insts []*model.WorkflowInstance
	for i := range instances {
		if instances[i].TemplateName == name {
			insts = append(insts, &instances[i])
		}
	}
	if len(insts) == 0 {
		return nil
	}

	d := &WorkflowDetail{
		WorkflowStats: stats(name, insts),
		Outcomes: map[model.Outcome]int{
			model.OutcomeSuccess:   0,
			model.OutcomeFailed:    0,
			model.OutcomeAbandoned: 0,
		},
	}
	paths := make(map[string]int)
	for _, inst := range insts {
		d.Outcomes[inst.Outcome]++
		paths[inst.SequenceKey()]++
	}
	for p, n := range paths {
		d.CommonPaths = append(d.CommonPaths, PathCount{Path: p, Count: n})
	}
	sort.Slice(d.CommonPaths, func(i, j int) bool {
		if d.CommonPaths[i].Count != d.CommonPaths[j].Count {
			return d.CommonPaths[i].Count > d.CommonPaths[j].Count
		}
		return d.CommonPaths[i].Path < d.CommonPaths[j].Path
	})
	if len(d.CommonPaths) > commonPathLimit {
		d.CommonPaths = d.CommonPaths[:commonPathLimit]
	}

	sort.Slice(insts, func(i, j int) bool { return insts[i].StartedAt.After(insts[j].StartedAt) })
	for _, inst := range insts {
		if len(d.RecentRuns) == recentRunLimit {
			break
		}
		d.RecentRuns = append(d.RecentRuns, RunSummary{
			ID:         inst.ID,
			Outcome:    inst.Outcome,
			Complete:   inst.Complete,
			StartedAt:  inst.StartedAt,
			DurationMs: inst.Duration().Milliseconds(),
			StepCount:  len(inst.Steps),
		})
	}
	return d
}

func stats(name string, insts []*model.WorkflowInstance) WorkflowStats {
	s := WorkflowStats{Name: name, TotalRuns: len(insts)}
	var durations []int64
	for _, inst := range insts {
		switch inst.Outcome {
		case model.OutcomeSuccess:
			s.SuccessCount++
			durations = append(durations, inst.Duration().Milliseconds())
		case model.OutcomeFailed:
			s.FailedCount++
		case model.OutcomeAbandoned:
			s.AbandonedCount++
		}
	}
	s.SuccessRate = rate(s.SuccessCount, s.TotalRuns)
	s.MedianDurationMs = median(durations)
	return s
}

// rate is a percentage rounded to two decimals.
func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*10000) / 100
}

// median of an even-length list is the floor of the middle pair's mean.
func median(values []int64) *int64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	m := sorted[mid]
	if len(sorted)%2 == 0 {
		m = (sorted[mid-1] + sorted[mid]) / 2
	}
	return &m
}
