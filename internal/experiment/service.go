package experiment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/cli-analytics/internal/model"
)

var (
	// ErrDuplicate is returned when the tenant already has an experiment by that name.
	ErrDuplicate = errors.New("experiment already exists")
	// ErrInvalid marks a definition that cannot be created.
	ErrInvalid = errors.New("invalid experiment")
)

// DefaultVariants is used when a create request names none.
var DefaultVariants = []string{"control", "variant_a"}

const maxNameLen = 128

// Store persists experiment definitions.
type Store interface {
	// CreateExperiment returns an ErrDuplicate-wrapped error on a name conflict.
	CreateExperiment(ctx context.Context, def *model.ExperimentDefinition) error
	ListExperiments(ctx context.Context, tenantID string) ([]model.ExperimentDefinition, error)
	// GetExperiment returns nil, nil when the experiment does not exist.
	GetExperiment(ctx context.Context, tenantID, name string) (*model.ExperimentDefinition, error)
	// StopExperiment reports whether an experiment was found.
	StopExperiment(ctx context.Context, tenantID, name string) (bool, error)
	// ClosedSessionOutcomes lists closed sessions that started at or after since.
	ClosedSessionOutcomes(ctx context.Context, tenantID string, since time.Time) ([]ActorOutcome, error)
}

// Service is the experiment boundary.
type Service struct {
	store    Store
	assigner *Assigner
	now      func() time.Time
}

// NewService creates a Service.
func NewService(store Store, assigner *Assigner) *Service {
	return &Service{store: store, assigner: assigner, now: time.Now}
}

// Create validates and stores a new experiment. The variant order is fixed here.
func (s *Service) Create(ctx context.Context, tenantID, name string, variants []string, description string) (*model.ExperimentDefinition, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLen {
		return nil, fmt.Errorf("%w: name must be 1-%d characters", ErrInvalid, maxNameLen)
	}
	if len(variants) == 0 {
		variants = DefaultVariants
	}
	seen := make(map[string]bool, len(variants))
	clean := make([]string, 0, len(variants))
	for _, v := range variants {
		v = strings.TrimSpace(v)
		if v == "" || len(v) > maxNameLen {
			return nil, fmt.Errorf("%w: variant names must be 1-%d characters", ErrInvalid, maxNameLen)
		}
		if seen[v] {
			return nil, fmt.Errorf("%w: duplicate variant %q", ErrInvalid, v)
		}
		seen[v] = true
		clean = append(clean, v)
	}

	def := &model.ExperimentDefinition{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Name:        name,
		Variants:    clean,
		Description: description,
		Active:      true,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateExperiment(ctx, def); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	return def, nil
}

// List returns the tenant's experiments.
func (s *Service) List(ctx context.Context, tenantID string) ([]model.ExperimentDefinition, error) {
	defs, err := s.store.ListExperiments(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return defs, nil
}

// Variant looks up the experiment and assigns actorHash. Unknown or stopped
// experiments yield ok=false with a nil error.
func (s *Service) Variant(ctx context.Context, tenantID, name, actorHash string) (variant string, ok bool, err error) {
	def, err := s.store.GetExperiment(ctx, tenantID, name)
	if err != nil {
		return "", false, fmt.Errorf("Variant: %w", err)
	}
	variant, ok = s.assigner.Variant(def, actorHash)
	return variant, ok, nil
}

// Results tallies closed sessions since the experiment was created. Returns
// nil, nil for an unknown experiment.
func (s *Service) Results(ctx context.Context, tenantID, name string) (*Results, error) {
	def, err := s.store.GetExperiment(ctx, tenantID, name)
	if err != nil {
		return nil, fmt.Errorf("Results: %w", err)
	}
	if def == nil {
		return nil, nil
	}
	sessions, err := s.store.ClosedSessionOutcomes(ctx, tenantID, def.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("Results: %w", err)
	}
	return Tally(def, s.assigner, sessions), nil
}

// Stop deactivates an experiment. Reports whether it existed.
func (s *Service) Stop(ctx context.Context, tenantID, name string) (bool, error) {
	found, err := s.store.StopExperiment(ctx, tenantID, name)
	if err != nil {
		return false, fmt.Errorf("Stop: %w", err)
	}
	return found, nil
}
