package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStepPattern_Matches(t *testing.T) {
	tests := []struct {
		name    string
		pattern StepPattern
		token   string
		want    bool
	}{
		{"exact hit", ExactStep("deploy"), "deploy", true},
		{"exact miss", ExactStep("deploy"), "build", false},
		{"exact is normalized", ExactStep(" Deploy "), "deploy", true},
		{"wildcard", WildcardStep(), "anything", true},
		{"zero value matches nothing", StepPattern{}, "deploy", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pattern.Matches(tt.token); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}

func TestStepPattern_TextForm(t *testing.T) {
	var tmpl WorkflowTemplate
	if err := json.Unmarshal([]byte(`{"name":"release","steps":["build","*","publish"]}`), &tmpl); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(tmpl.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(tmpl.Steps))
	}
	if tmpl.Steps[1].Kind != StepWildcard {
		t.Errorf("expected wildcard in position 1, got %v", tmpl.Steps[1])
	}
	out, err := json.Marshal(tmpl.Steps)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `["build","*","publish"]` {
		t.Errorf("unexpected encoding %s", out)
	}
}

func TestWorkflowTemplate_Validate(t *testing.T) {
	good := WorkflowTemplate{Name: "deploy", Steps: []StepPattern{ExactStep("init")}}
	if err := good.Validate(); err != nil {
		t.Errorf("expected valid template, got %v", err)
	}
	reserved := WorkflowTemplate{Name: UnmatchedTemplate, Steps: []StepPattern{ExactStep("init")}}
	if err := reserved.Validate(); err == nil {
		t.Error("expected reserved name to be rejected")
	}
	empty := WorkflowTemplate{Name: "x"}
	if err := empty.Validate(); err == nil {
		t.Error("expected empty step list to be rejected")
	}
}

func TestWorkflowInstance_SequenceKey(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	w := WorkflowInstance{
		Steps: []WorkflowStep{
			{CommandPath: []string{"mycli", "init"}, At: base},
			{CommandPath: []string{"mycli", "deploy"}, At: base.Add(time.Minute)},
		},
	}
	if got := w.SequenceKey(); got != "mycli init > mycli deploy" {
		t.Errorf("SequenceKey() = %q", got)
	}
}
