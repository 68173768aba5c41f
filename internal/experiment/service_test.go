package experiment

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/triage-ai/cli-analytics/internal/model"
)

type mockStore struct {
	defs     map[string]*model.ExperimentDefinition
	outcomes []ActorOutcome
	since    time.Time

	createCalls atomic.Int32
}

func newMockStore() *mockStore {
	return &mockStore{defs: make(map[string]*model.ExperimentDefinition)}
}

func (m *mockStore) CreateExperiment(_ context.Context, def *model.ExperimentDefinition) error {
	m.createCalls.Add(1)
	key := def.TenantID + "/" + def.Name
	if _, ok := m.defs[key]; ok {
		return fmt.Errorf("CreateExperiment: %w", ErrDuplicate)
	}
	m.defs[key] = def
	return nil
}

func (m *mockStore) ListExperiments(_ context.Context, tenantID string) ([]model.ExperimentDefinition, error) {
	var out []model.ExperimentDefinition
	for _, d := range m.defs {
		if d.TenantID == tenantID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *mockStore) GetExperiment(_ context.Context, tenantID, name string) (*model.ExperimentDefinition, error) {
	d, ok := m.defs[tenantID+"/"+name]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *mockStore) StopExperiment(_ context.Context, tenantID, name string) (bool, error) {
	d, ok := m.defs[tenantID+"/"+name]
	if !ok {
		return false, nil
	}
	d.Active = false
	return true, nil
}

func (m *mockStore) ClosedSessionOutcomes(_ context.Context, _ string, since time.Time) ([]ActorOutcome, error) {
	m.since = since
	return m.outcomes, nil
}

func TestService_CreateDefaultsAndDuplicate(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, newTestAssigner())
	ctx := context.Background()

	def, err := svc.Create(ctx, "tenant_1", "  onboarding ", nil, "new wizard")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if def.Name != "onboarding" || len(def.Variants) != 2 || def.Variants[0] != "control" || !def.Active {
		t.Errorf("unexpected definition: %+v", def)
	}

	_, err = svc.Create(ctx, "tenant_1", "onboarding", []string{"a", "b"}, "")
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
	if _, err := svc.Create(ctx, "tenant_2", "onboarding", nil, ""); err != nil {
		t.Errorf("names are unique per tenant only: %v", err)
	}
}

func TestService_CreateValidation(t *testing.T) {
	svc := NewService(newMockStore(), newTestAssigner())
	tests := []struct {
		name     string
		expName  string
		variants []string
	}{
		{"empty name", " ", nil},
		{"blank variant", "exp", []string{"a", " "}},
		{"duplicate variant", "exp", []string{"a", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), "tenant_1", tt.expName, tt.variants, ""); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestService_VariantUnknownAndStopped(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, newTestAssigner())
	ctx := context.Background()

	if _, ok, err := svc.Variant(ctx, "tenant_1", "missing", "actor"); ok || err != nil {
		t.Errorf("unknown experiment should be ok=false, err=nil; got %v, %v", ok, err)
	}

	if _, err := svc.Create(ctx, "tenant_1", "exp", nil, ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	first, ok, err := svc.Variant(ctx, "tenant_1", "exp", "actor")
	if err != nil || !ok {
		t.Fatalf("expected assignment, got ok=%v err=%v", ok, err)
	}
	again, _, _ := svc.Variant(ctx, "tenant_1", "exp", "actor")
	if again != first {
		t.Error("assignment must be stable")
	}

	found, err := svc.Stop(ctx, "tenant_1", "exp")
	if err != nil || !found {
		t.Fatalf("stop: found=%v err=%v", found, err)
	}
	if _, ok, _ := svc.Variant(ctx, "tenant_1", "exp", "actor"); ok {
		t.Error("stopped experiment should not assign")
	}
	if found, _ := svc.Stop(ctx, "tenant_1", "missing"); found {
		t.Error("stopping an unknown experiment reports not found")
	}
}

// actorsFor returns n distinct actor hashes assigned to variant.
func actorsFor(t *testing.T, a *Assigner, def *model.ExperimentDefinition, variant string, n int) []string {
	t.Helper()
	var out []string
	for i := 0; len(out) < n; i++ {
		if i > 100_000 {
			t.Fatalf("could not find %d actors for %s", n, variant)
		}
		actor := fmt.Sprintf("actor_%d", i)
		if v, _ := a.Variant(def, actor); v == variant {
			out = append(out, actor)
		}
	}
	return out
}

func sessionsFor(actors []string, success, total int) []ActorOutcome {
	out := make([]ActorOutcome, 0, total)
	for i := 0; i < total; i++ {
		o := model.OutcomeFailed
		if i < success {
			o = model.OutcomeSuccess
		}
		out = append(out, ActorOutcome{ActorHash: actors[i%len(actors)], Outcome: o})
	}
	return out
}

func TestTally_Winner(t *testing.T) {
	a := newTestAssigner()
	def := testDef("control", "variant_a")
	control := actorsFor(t, a, def, "control", 10)
	variant := actorsFor(t, a, def, "variant_a", 10)

	tests := []struct {
		name           string
		sessions       []ActorOutcome
		wantWinner     string
		wantConfidence float64
	}{
		{
			name:           "clear lead with enough data",
			sessions:       append(sessionsFor(control, 20, 40), sessionsFor(variant, 32, 40)...),
			wantWinner:     "variant_a",
			wantConfidence: 0.8, // 80% vs 50%
		},
		{
			name:     "too few sessions",
			sessions: append(sessionsFor(control, 5, 10), sessionsFor(variant, 10, 10)...),
		},
		{
			name:     "lead within noise",
			sessions: append(sessionsFor(control, 20, 40), sessionsFor(variant, 22, 40)...),
		},
		{
			name:           "confidence capped",
			sessions:       append(sessionsFor(control, 0, 40), sessionsFor(variant, 40, 40)...),
			wantWinner:     "variant_a",
			wantConfidence: 0.95,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Tally(def, a, tt.sessions)
			if tt.wantWinner == "" {
				if res.Winner != nil {
					t.Errorf("expected no winner, got %s", *res.Winner)
				}
				return
			}
			if res.Winner == nil || *res.Winner != tt.wantWinner {
				t.Fatalf("expected winner %s, got %v", tt.wantWinner, res.Winner)
			}
			if diff := *res.Confidence - tt.wantConfidence; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("confidence = %v, want %v", *res.Confidence, tt.wantConfidence)
			}
		})
	}
}

func TestTally_CountsPerVariant(t *testing.T) {
	a := newTestAssigner()
	def := testDef("control", "variant_a")
	control := actorsFor(t, a, def, "control", 2)
	def.Active = false

	res := Tally(def, a, []ActorOutcome{
		{ActorHash: control[0], Outcome: model.OutcomeSuccess},
		{ActorHash: control[1], Outcome: model.OutcomeAbandoned},
	})
	if res.Active {
		t.Error("stopped experiment should report inactive")
	}
	if res.Variants[0].Variant != "control" || res.Variants[0].Sessions != 2 {
		t.Errorf("unexpected control tally: %+v", res.Variants[0])
	}
	if res.Variants[0].SuccessRate != 50 || res.Variants[0].Outcomes[model.OutcomeAbandoned] != 1 {
		t.Errorf("unexpected outcome distribution: %+v", res.Variants[0])
	}
	if res.Variants[1].Sessions != 0 || res.Variants[1].SuccessRate != 0 {
		t.Errorf("variant_a should be empty: %+v", res.Variants[1])
	}
}

func TestService_ResultsSinceCreation(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, newTestAssigner())
	created := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return created }
	ctx := context.Background()

	if res, err := svc.Results(ctx, "tenant_1", "missing"); res != nil || err != nil {
		t.Fatalf("unknown experiment should be nil, nil; got %v, %v", res, err)
	}
	if _, err := svc.Create(ctx, "tenant_1", "exp", nil, ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := svc.Results(ctx, "tenant_1", "exp")
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if !store.since.Equal(created) {
		t.Errorf("sessions should be read from creation time, got %v", store.since)
	}
	if res.Experiment != "exp" || len(res.Variants) != 2 {
		t.Errorf("unexpected results: %+v", res)
	}
}
