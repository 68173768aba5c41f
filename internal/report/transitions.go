package report

import (
	"sort"

	"github.com/triage-ai/cli-analytics/internal/model"
)

// DefaultTransitionLimit caps transition results when the caller gives no limit.
const DefaultTransitionLimit = 20

// Transition records that after FailedCommand failed, the actor's next command
// was NextCommand and it succeeded.
type Transition struct {
	FailedCommand string `json:"failed_command"`
	NextCommand   string `json:"next_command"`
	Count         int    `json:"count"`
}

// Transitions rebuilds each session's step order from its instances and counts
// failure-to-recovery pairs.
func Transitions(instances []model.WorkflowInstance, limit int) []Transition {
	if limit <= 0 {
		limit = DefaultTransitionLimit
	}

	bySession := make(map[string][]model.WorkflowStep)
	for i := range instances {
		inst := &instances[i]
		bySession[inst.SessionID] = append(bySession[inst.SessionID], inst.Steps...)
	}

	type pair struct{ failed, next string }
	counts := make(map[pair]int)
	for _, steps := range bySession {
		sort.SliceStable(steps, func(i, j int) bool { return steps[i].At.Before(steps[j].At) })
		for i := 0; i+1 < len(steps); i++ {
			if steps[i].Failed() && steps[i+1].Succeeded() {
				counts[pair{steps[i].Command(), steps[i+1].Command()}]++
			}
		}
	}

	out := make([]Transition, 0, len(counts))
	for p, n := range counts {
		out = append(out, Transition{FailedCommand: p.failed, NextCommand: p.next, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].FailedCommand != out[j].FailedCommand {
			return out[i].FailedCommand < out[j].FailedCommand
		}
		return out[i].NextCommand < out[j].NextCommand
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
