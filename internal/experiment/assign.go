// Package experiment assigns actors to experiment variants and tallies results.
package experiment

import (
	"github.com/triage-ai/cli-analytics/internal/idhash"
	"github.com/triage-ai/cli-analytics/internal/model"
)

// Assigner maps (tenant, experiment, actor hash) to a variant. It holds no state
// beyond the hash key, so it is safe for concurrent use.
type Assigner struct {
	hasher *idhash.Hasher
}

// NewAssigner creates an Assigner. Use the same hasher as ingestion so variant
// lookups by raw actor id and by stored actor hash agree.
func NewAssigner(hasher *idhash.Hasher) *Assigner {
	return &Assigner{hasher: hasher}
}

// Variant returns the actor's variant. ok is false when there is nothing to
// assign: unknown (nil) or stopped experiments, or an empty variant list.
//
// The index is digest mod len(Variants), so editing the variant list of a live
// experiment reshuffles every actor.
func (a *Assigner) Variant(def *model.ExperimentDefinition, actorHash string) (variant string, ok bool) {
	if def == nil || !def.Active || len(def.Variants) == 0 {
		return "", false
	}
	d := a.hasher.Digest(def.TenantID, def.Name, actorHash)
	return def.Variants[d%uint64(len(def.Variants))], true
}
