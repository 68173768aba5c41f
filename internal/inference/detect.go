package inference

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/triage-ai/cli-analytics/internal/model"
)

// instanceNamespace scopes deterministic workflow instance ids.
var instanceNamespace = uuid.MustParse("6f1c2f4e-3b1a-5d8e-9c47-0a2b7e5d1f93")

// Detector matches session event sequences against workflow templates.
type Detector struct {
	templates []model.WorkflowTemplate
}

// NewDetector creates a Detector. Template order is the configured priority order.
func NewDetector(templates []model.WorkflowTemplate) *Detector {
	valid := make([]model.WorkflowTemplate, 0, len(templates))
	for _, t := range templates {
		if t.Validate() == nil {
			valid = append(valid, t)
		}
	}
	return &Detector{templates: valid}
}

// Detect scans events once, emitting sequential non-overlapping instances. At each
// position the template with the most consecutively matched steps wins, ties going
// to the earlier template. Events no template claims are collected into a single
// unmatched instance. Instance ids are derived from the session id and ordinal, so
// re-detecting an open session replaces rows instead of duplicating them.
func (d *Detector) Detect(session *model.Session, events []model.SanitizedEvent) []model.WorkflowInstance {
	var out []model.WorkflowInstance
	var unmatched []model.SanitizedEvent

	for i := 0; i < len(events); {
		bestIdx, bestLen := -1, 0
		for ti := range d.templates {
			if n := matchLen(d.templates[ti].Steps, events[i:]); n > bestLen {
				bestIdx, bestLen = ti, n
			}
		}
		if bestIdx < 0 {
			unmatched = append(unmatched, events[i])
			i++
			continue
		}
		tmpl := d.templates[bestIdx]
		inst := newInstance(session, tmpl.Name, strconv.Itoa(len(out)), events[i:i+bestLen])
		inst.Complete = bestLen == len(tmpl.Steps)
		out = append(out, inst)
		i += bestLen
	}

	if len(unmatched) > 0 {
		out = append(out, newInstance(session, model.UnmatchedTemplate, model.UnmatchedTemplate, unmatched))
	}
	return out
}

// matchLen counts how many leading events satisfy the template steps in order.
func matchLen(steps []model.StepPattern, events []model.SanitizedEvent) int {
	n := 0
	for n < len(steps) && n < len(events) && steps[n].Matches(events[n].LastCommand()) {
		n++
	}
	return n
}

func newInstance(session *model.Session, name, ordinal string, events []model.SanitizedEvent) model.WorkflowInstance {
	inst := model.WorkflowInstance{
		ID:            uuid.NewSHA1(instanceNamespace, []byte(session.ID+"/"+ordinal)).String(),
		TenantID:      session.TenantID,
		SessionID:     session.ID,
		ActorHash:     session.ActorHash,
		TemplateName:  name,
		Steps:         make([]model.WorkflowStep, len(events)),
		SessionClosed: session.Closed,
	}
	for i := range events {
		ev := &events[i]
		inst.Steps[i] = model.WorkflowStep{
			EventID:     ev.ID,
			CommandPath: ev.CommandPath,
			ExitCode:    ev.ExitCode,
			DurationMs:  ev.DurationMs,
			At:          ev.ClientTime,
		}
	}
	if len(events) > 0 {
		inst.StartedAt = events[0].ClientTime
		inst.EndedAt = events[len(events)-1].ClientTime
	}
	return inst
}
