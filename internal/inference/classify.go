package inference

import "github.com/triage-ai/cli-analytics/internal/model"

// ClassifyInstance assigns an outcome to a workflow instance.
//
//   - FAILED: any step exited non-zero.
//   - SUCCESS: every step exited zero and the template's final step was reached.
//     The unmatched bucket has no final step, so it only needs every exit code
//     known and zero.
//   - ABANDONED: otherwise. The run ended (gap elapsed or the pass boundary was
//     reached) before the final step, or a step never reported an exit code.
func ClassifyInstance(inst *model.WorkflowInstance) model.Outcome {
	allZero := true
	for _, s := range inst.Steps {
		if s.Failed() {
			return model.OutcomeFailed
		}
		if !s.Succeeded() {
			allZero = false
		}
	}
	if !allZero || len(inst.Steps) == 0 {
		return model.OutcomeAbandoned
	}
	if inst.Unmatched() || inst.Complete {
		return model.OutcomeSuccess
	}
	return model.OutcomeAbandoned
}

// ClassifySession assigns an outcome to a whole session from its events and the
// instances detected in it. Instances are expected in detection order.
func ClassifySession(events []model.SanitizedEvent, instances []model.WorkflowInstance) model.Outcome {
	if len(events) == 0 {
		return model.OutcomeAbandoned
	}
	for i := range events {
		if events[i].Failed() {
			return model.OutcomeFailed
		}
	}
	if !events[len(events)-1].Succeeded() {
		return model.OutcomeAbandoned
	}
	// The user stopped partway through the last named workflow they started.
	for i := len(instances) - 1; i >= 0; i-- {
		if instances[i].Unmatched() {
			continue
		}
		if !instances[i].Complete {
			return model.OutcomeAbandoned
		}
		break
	}
	return model.OutcomeSuccess
}
