package inference

import (
	"testing"
	"time"

	"github.com/triage-ai/cli-analytics/internal/model"
)

func steps(tokens ...string) []model.StepPattern {
	out := make([]model.StepPattern, len(tokens))
	for i, tok := range tokens {
		p, err := model.ParseStep(tok)
		if err != nil {
			panic(err)
		}
		out[i] = p
	}
	return out
}

func session(id string) *model.Session {
	return &model.Session{ID: id, TenantID: "tenant_1", ActorHash: "actor_a"}
}

func sequence(cmds ...string) []model.SanitizedEvent {
	out := make([]model.SanitizedEvent, len(cmds))
	for i, c := range cmds {
		out[i] = ev("e"+c, time.Duration(i)*time.Minute, c, intPtr(0))
	}
	return out
}

func names(instances []model.WorkflowInstance) []string {
	out := make([]string, len(instances))
	for i := range instances {
		out[i] = instances[i].TemplateName
	}
	return out
}

func TestDetect_LongestMatchWins(t *testing.T) {
	d := NewDetector([]model.WorkflowTemplate{
		{Name: "short", Steps: steps("init", "build")},
		{Name: "long", Steps: steps("init", "build", "deploy")},
	})
	got := d.Detect(session("s1"), sequence("init", "build", "deploy"))
	if len(got) != 1 || got[0].TemplateName != "long" {
		t.Fatalf("expected single long instance, got %v", names(got))
	}
	if !got[0].Complete {
		t.Error("expected complete instance")
	}
}

func TestDetect_TieGoesToEarlierTemplate(t *testing.T) {
	d := NewDetector([]model.WorkflowTemplate{
		{Name: "first", Steps: steps("init", "*")},
		{Name: "second", Steps: steps("init", "build")},
	})
	got := d.Detect(session("s1"), sequence("init", "build"))
	if len(got) != 1 || got[0].TemplateName != "first" {
		t.Fatalf("expected tie to go to first template, got %v", names(got))
	}
}

func TestDetect_UnmatchedBucket(t *testing.T) {
	d := NewDetector([]model.WorkflowTemplate{
		{Name: "deploy", Steps: steps("build", "deploy")},
	})
	got := d.Detect(session("s1"), sequence("status", "build", "deploy", "logs"))
	if len(got) != 2 {
		t.Fatalf("expected deploy + unmatched, got %v", names(got))
	}
	if got[0].TemplateName != "deploy" {
		t.Errorf("expected deploy first, got %s", got[0].TemplateName)
	}
	un := got[1]
	if !un.Unmatched() {
		t.Fatalf("expected unmatched bucket last, got %s", un.TemplateName)
	}
	if un.SequenceKey() != "mycli status > mycli logs" {
		t.Errorf("unexpected unmatched sequence %q", un.SequenceKey())
	}
}

func TestDetect_NoOverlapAndPartialMatch(t *testing.T) {
	d := NewDetector([]model.WorkflowTemplate{
		{Name: "release", Steps: steps("build", "test", "deploy")},
	})
	got := d.Detect(session("s1"), sequence("build", "test", "build", "test", "deploy"))
	if len(got) != 2 {
		t.Fatalf("expected 2 instances, got %v", names(got))
	}
	if got[0].Complete || len(got[0].Steps) != 2 {
		t.Errorf("first instance should be partial with 2 steps, got complete=%v steps=%d", got[0].Complete, len(got[0].Steps))
	}
	if !got[1].Complete || len(got[1].Steps) != 3 {
		t.Errorf("second instance should be complete with 3 steps")
	}
	if got[0].ID == got[1].ID {
		t.Error("instances must have distinct ids")
	}
}

func TestDetect_DeterministicIDs(t *testing.T) {
	d := NewDetector([]model.WorkflowTemplate{{Name: "w", Steps: steps("init")}})
	a := d.Detect(session("s1"), sequence("init", "other"))
	b := d.Detect(session("s1"), sequence("init", "other"))
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Errorf("instance %d id changed between runs", i)
		}
	}
	c := d.Detect(session("s2"), sequence("init"))
	if c[0].ID == a[0].ID {
		t.Error("ids must be scoped to the session")
	}
}

func TestDetect_InvalidTemplatesIgnored(t *testing.T) {
	d := NewDetector([]model.WorkflowTemplate{
		{Name: "", Steps: steps("init")},
		{Name: model.UnmatchedTemplate, Steps: steps("init")},
		{Name: "empty"},
	})
	got := d.Detect(session("s1"), sequence("init"))
	if len(got) != 1 || !got[0].Unmatched() {
		t.Fatalf("expected only the unmatched bucket, got %v", names(got))
	}
}
