package inference

import (
	"fmt"
	"testing"
	"time"

	"github.com/triage-ai/cli-analytics/internal/model"
)

var t0 = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

// ev builds a sanitized event for actor "actor_a" at t0+offset.
func ev(id string, offset time.Duration, cmd string, exit *int) model.SanitizedEvent {
	return model.SanitizedEvent{
		ID:          id,
		TenantID:    "tenant_1",
		ToolName:    "mycli",
		ActorHash:   "actor_a",
		CommandPath: []string{"mycli", cmd},
		ExitCode:    exit,
		ClientTime:  t0.Add(offset),
	}
}

func seqSessionizer() *Sessionizer {
	s := NewSessionizer(30 * time.Minute)
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("sess_%d", n)
	}
	return s
}

func TestSessionize_GapBoundary(t *testing.T) {
	tests := []struct {
		name     string
		second   time.Duration
		sessions int
	}{
		{"exactly at gap stays together", 30 * time.Minute, 1},
		{"one minute over splits", 31 * time.Minute, 2},
		{"well inside gap", 5 * time.Minute, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := seqSessionizer()
			events := []model.SanitizedEvent{
				ev("e1", 0, "init", intPtr(0)),
				ev("e2", tt.second, "build", intPtr(0)),
			}
			out := s.Sessionize("tenant_1", "actor_a", nil, events, t0.Add(tt.second+time.Minute))
			if len(out) != tt.sessions {
				t.Fatalf("expected %d sessions, got %d", tt.sessions, len(out))
			}
		})
	}
}

func TestSessionize_ClosesEarlierSessionsAndKeepsLastOpen(t *testing.T) {
	s := seqSessionizer()
	events := []model.SanitizedEvent{
		ev("e1", 0, "init", intPtr(0)),
		ev("e2", 2*time.Hour, "build", intPtr(0)),
	}
	out := s.Sessionize("tenant_1", "actor_a", nil, events, t0.Add(2*time.Hour+time.Minute))
	if len(out) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(out))
	}
	if !out[0].Session.Closed || !out[0].Closing {
		t.Error("first session should be closed by the gap")
	}
	if out[1].Session.Closed {
		t.Error("last session should remain open inside the gap window")
	}
}

func TestSessionize_StaleLastSessionClosesAtRunTime(t *testing.T) {
	s := seqSessionizer()
	events := []model.SanitizedEvent{ev("e1", 0, "init", intPtr(0))}
	out := s.Sessionize("tenant_1", "actor_a", nil, events, t0.Add(time.Hour))
	if len(out) != 1 || !out[0].Session.Closed {
		t.Fatal("a session idle longer than the gap at run time should close")
	}
}

func TestSessionize_ExtendsOpenSession(t *testing.T) {
	s := seqSessionizer()
	open := &OpenSession{
		Session: &model.Session{
			ID: "sess_open", TenantID: "tenant_1", ActorHash: "actor_a",
			EventIDs: []string{"e1"}, StartedAt: t0, EndedAt: t0,
		},
		Events: []model.SanitizedEvent{ev("e1", 0, "init", intPtr(0))},
	}
	out := s.Sessionize("tenant_1", "actor_a", open, []model.SanitizedEvent{ev("e2", 10*time.Minute, "build", intPtr(0))}, t0.Add(11*time.Minute))
	if len(out) != 1 {
		t.Fatalf("expected 1 session, got %d", len(out))
	}
	b := out[0]
	if b.Session.ID != "sess_open" || !b.Extended || b.Created {
		t.Errorf("expected open session to be extended, got %+v", b)
	}
	if len(b.Events) != 2 || len(b.Added) != 1 || b.Added[0] != "e2" {
		t.Errorf("unexpected membership: events=%d added=%v", len(b.Events), b.Added)
	}
	if open.Session.EndedAt != t0 {
		t.Error("input open session must not be mutated")
	}
}

func TestSessionize_OutOfOrderInsideWindow(t *testing.T) {
	s := seqSessionizer()
	open := &OpenSession{
		Session: &model.Session{
			ID: "sess_open", TenantID: "tenant_1", ActorHash: "actor_a",
			EventIDs: []string{"e1", "e3"}, StartedAt: t0, EndedAt: t0.Add(20 * time.Minute),
		},
		Events: []model.SanitizedEvent{
			ev("e1", 0, "init", intPtr(0)),
			ev("e3", 20*time.Minute, "deploy", intPtr(0)),
		},
	}
	late := ev("e2", 10*time.Minute, "build", intPtr(0))
	out := s.Sessionize("tenant_1", "actor_a", open, []model.SanitizedEvent{late}, t0.Add(25*time.Minute))
	if len(out) != 1 {
		t.Fatalf("expected 1 session, got %d", len(out))
	}
	got := out[0].Session.EventIDs
	if len(got) != 3 || got[0] != "e1" || got[1] != "e2" || got[2] != "e3" {
		t.Errorf("late event should be inserted in order, got %v", got)
	}
	if !out[0].Session.EndedAt.Equal(t0.Add(20 * time.Minute)) {
		t.Errorf("end should stay at the max timestamp, got %v", out[0].Session.EndedAt)
	}
}

func TestSessionize_LateEventDoesNotReopenHistory(t *testing.T) {
	s := seqSessionizer()
	open := &OpenSession{
		Session: &model.Session{
			ID: "sess_open", TenantID: "tenant_1", ActorHash: "actor_a",
			EventIDs: []string{"e5"}, StartedAt: t0.Add(3 * time.Hour), EndedAt: t0.Add(3 * time.Hour),
		},
		Events: []model.SanitizedEvent{ev("e5", 3*time.Hour, "init", intPtr(0))},
	}
	late := ev("e0", 0, "status", intPtr(0))
	out := s.Sessionize("tenant_1", "actor_a", open, []model.SanitizedEvent{late}, t0.Add(3*time.Hour+time.Minute))
	if len(out) != 1 {
		t.Fatalf("expected only the new standalone session, got %d", len(out))
	}
	if out[0].Session.ID == "sess_open" || !out[0].Created {
		t.Error("late event must start its own session")
	}
	if !out[0].Session.Closed {
		t.Error("a session older than the open one is closed immediately")
	}
}

func TestSessionize_HintAndCIBoundaries(t *testing.T) {
	s := seqSessionizer()
	a := ev("e1", 0, "init", intPtr(0))
	a.SessionHintHash = "hint_1"
	b := ev("e2", time.Minute, "build", intPtr(0))
	b.SessionHintHash = "hint_2"
	c := ev("e3", 2*time.Minute, "build", intPtr(0))
	c.SessionHintHash = "hint_2"
	c.CI = true

	out := s.Sessionize("tenant_1", "actor_a", nil, []model.SanitizedEvent{a, b, c}, t0.Add(3*time.Minute))
	if len(out) != 3 {
		t.Fatalf("expected hint change and CI change to split, got %d sessions", len(out))
	}
}
