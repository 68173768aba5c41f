package experiment

import (
	"math"
	"sort"

	"github.com/triage-ai/cli-analytics/internal/model"
)

const (
	// MinSessionsForWinner is the per-variant sample floor before a winner is named.
	MinSessionsForWinner = 30
	// MinRateDiff is the success-rate lead, in percentage points, a winner needs.
	MinRateDiff   = 5.0
	maxConfidence = 0.95
)

// ActorOutcome is one closed session's actor and outcome.
type ActorOutcome struct {
	ActorHash string
	Outcome   model.Outcome
}

// VariantResult is the outcome distribution for one variant.
type VariantResult struct {
	Variant     string                `json:"variant"`
	Sessions    int                   `json:"sessions"`
	Outcomes    map[model.Outcome]int `json:"outcomes"`
	SuccessRate float64               `json:"success_rate"`
}

// Results is the experiment report.
type Results struct {
	Experiment string          `json:"experiment"`
	Active     bool            `json:"active"`
	Variants   []VariantResult `json:"variants"`
	Winner     *string         `json:"winner"`
	Confidence *float64        `json:"confidence"`
}

// Tally re-derives each session's variant from its actor hash and counts
// outcomes per variant. Variants are reported in definition order.
func Tally(def *model.ExperimentDefinition, a *Assigner, sessions []ActorOutcome) *Results {
	res := &Results{Experiment: def.Name, Active: def.Active}

	// Stopped experiments still report; assign as if active.
	live := *def
	live.Active = true

	index := make(map[string]int, len(def.Variants))
	for i, v := range def.Variants {
		index[v] = i
		res.Variants = append(res.Variants, VariantResult{
			Variant: v,
			Outcomes: map[model.Outcome]int{
				model.OutcomeSuccess:   0,
				model.OutcomeFailed:    0,
				model.OutcomeAbandoned: 0,
			},
		})
	}
	for _, s := range sessions {
		v, ok := a.Variant(&live, s.ActorHash)
		if !ok {
			continue
		}
		vr := &res.Variants[index[v]]
		vr.Sessions++
		vr.Outcomes[s.Outcome]++
	}
	for i := range res.Variants {
		vr := &res.Variants[i]
		if vr.Sessions > 0 {
			vr.SuccessRate = math.Round(float64(vr.Outcomes[model.OutcomeSuccess])/float64(vr.Sessions)*10000) / 100
		}
	}

	res.Winner, res.Confidence = pickWinner(res.Variants)
	return res
}

// pickWinner compares the two best success rates. Both need enough sessions and
// the leader needs more than MinRateDiff points.
func pickWinner(variants []VariantResult) (*string, *float64) {
	if len(variants) < 2 {
		return nil, nil
	}
	ranked := append([]VariantResult(nil), variants...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].SuccessRate > ranked[j].SuccessRate })
	first, second := ranked[0], ranked[1]
	if first.Sessions < MinSessionsForWinner || second.Sessions < MinSessionsForWinner {
		return nil, nil
	}
	diff := first.SuccessRate - second.SuccessRate
	if diff <= MinRateDiff {
		return nil, nil
	}
	winner := first.Variant
	confidence := math.Min(maxConfidence, 0.5+diff/100)
	return &winner, &confidence
}
