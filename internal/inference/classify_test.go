package inference

import (
	"testing"
	"time"

	"github.com/triage-ai/cli-analytics/internal/model"
)

func withExits(cmds []string, exits []*int) []model.SanitizedEvent {
	out := make([]model.SanitizedEvent, len(cmds))
	for i := range cmds {
		out[i] = ev("e"+cmds[i], time.Duration(i)*time.Minute, cmds[i], exits[i])
	}
	return out
}

func TestClassify_Examples(t *testing.T) {
	release := []model.WorkflowTemplate{{Name: "release", Steps: steps("init", "build", "deploy")}}
	zero, one := intPtr(0), intPtr(1)

	tests := []struct {
		name  string
		cmds  []string
		exits []*int
		want  model.Outcome
		// session outcome only looks at the final event's exit code
		wantSession model.Outcome
	}{
		{"final step failed", []string{"init", "build", "deploy"}, []*int{zero, zero, one}, model.OutcomeFailed, model.OutcomeFailed},
		{"all steps succeeded", []string{"init", "build", "deploy"}, []*int{zero, zero, zero}, model.OutcomeSuccess, model.OutcomeSuccess},
		{"stopped before final step", []string{"init", "build"}, []*int{zero, zero}, model.OutcomeAbandoned, model.OutcomeAbandoned},
		{"missing exit code mid-run", []string{"init", "build", "deploy"}, []*int{zero, nil, zero}, model.OutcomeAbandoned, model.OutcomeSuccess},
		{"missing final exit code", []string{"init", "build", "deploy"}, []*int{zero, zero, nil}, model.OutcomeAbandoned, model.OutcomeAbandoned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := withExits(tt.cmds, tt.exits)
			instances := NewDetector(release).Detect(session("s1"), events)
			if len(instances) != 1 {
				t.Fatalf("expected one instance, got %v", names(instances))
			}
			if got := ClassifyInstance(&instances[0]); got != tt.want {
				t.Errorf("instance outcome = %s, want %s", got, tt.want)
			}
			if got := ClassifySession(events, instances); got != tt.wantSession {
				t.Errorf("session outcome = %s, want %s", got, tt.wantSession)
			}
		})
	}
}

func TestClassifyInstance_Unmatched(t *testing.T) {
	zero, two := intPtr(0), intPtr(2)
	ok := model.WorkflowInstance{TemplateName: model.UnmatchedTemplate, Steps: []model.WorkflowStep{{ExitCode: zero}}}
	if got := ClassifyInstance(&ok); got != model.OutcomeSuccess {
		t.Errorf("unmatched all-zero = %s, want SUCCESS", got)
	}
	bad := model.WorkflowInstance{TemplateName: model.UnmatchedTemplate, Steps: []model.WorkflowStep{{ExitCode: zero}, {ExitCode: two}}}
	if got := ClassifyInstance(&bad); got != model.OutcomeFailed {
		t.Errorf("unmatched with failure = %s, want FAILED", got)
	}
	empty := model.WorkflowInstance{TemplateName: "w"}
	if got := ClassifyInstance(&empty); got != model.OutcomeAbandoned {
		t.Errorf("empty instance = %s, want ABANDONED", got)
	}
}

func TestClassifySession_TrailingUnmatchedDoesNotMaskIncompleteWorkflow(t *testing.T) {
	tmpl := []model.WorkflowTemplate{{Name: "release", Steps: steps("init", "build", "deploy")}}
	events := sequence("init", "build", "status")
	instances := NewDetector(tmpl).Detect(session("s1"), events)
	if got := ClassifySession(events, instances); got != model.OutcomeAbandoned {
		t.Errorf("session outcome = %s, want ABANDONED", got)
	}
	if got := ClassifySession(nil, nil); got != model.OutcomeAbandoned {
		t.Errorf("empty session = %s, want ABANDONED", got)
	}
}
