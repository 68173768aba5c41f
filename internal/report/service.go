package report

import (
	"context"
	"fmt"
	"time"

	"github.com/triage-ai/cli-analytics/internal/model"
)

// Window bounds a report by instance start time. Zero values are unbounded.
type Window struct {
	From time.Time
	To   time.Time
}

// InstanceQuery filters workflow instance reads.
type InstanceQuery struct {
	Window
	Template string        // empty for all
	Outcome  model.Outcome // empty for all
}

// Store is the read side reports run against.
type Store interface {
	WorkflowInstances(ctx context.Context, tenantID string, q InstanceQuery) ([]model.WorkflowInstance, error)
	CountEvents(ctx context.Context, tenantID string, w Window) (int, error)
	CountSessions(ctx context.Context, tenantID string, w Window) (int, error)
}

// Service builds tenant-scoped reports.
type Service struct {
	store Store
}

// NewService creates a report Service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Summary returns totals, the busiest named workflows and the top hot paths.
func (s *Service) Summary(ctx context.Context, tenantID string, w Window) (*Summary, error) {
	events, err := s.store.CountEvents(ctx, tenantID, w)
	if err != nil {
		return nil, fmt.Errorf("Summary: %w", err)
	}
	sessions, err := s.store.CountSessions(ctx, tenantID, w)
	if err != nil {
		return nil, fmt.Errorf("Summary: %w", err)
	}
	instances, err := s.store.WorkflowInstances(ctx, tenantID, InstanceQuery{Window: w})
	if err != nil {
		return nil, fmt.Errorf("Summary: %w", err)
	}

	named := 0
	for i := range instances {
		if !instances[i].Unmatched() {
			named++
		}
	}

	sum := &Summary{
		TotalEvents:    events,
		TotalSessions:  sessions,
		TotalWorkflows: named,
		TopWorkflows:   TopWorkflows(instances, topWorkflowLimit),
		HotPaths:       AggregateHotPaths(instances, HotPathOptions{}),
	}
	if !w.From.IsZero() {
		sum.From = &w.From
	}
	if !w.To.IsZero() {
		sum.To = &w.To
	}
	return sum, nil
}

// HotPaths runs the hot-path aggregation over FAILED instances in the window.
func (s *Service) HotPaths(ctx context.Context, tenantID string, w Window, opts HotPathOptions) ([]HotPath, error) {
	instances, err := s.store.WorkflowInstances(ctx, tenantID, InstanceQuery{Window: w, Outcome: model.OutcomeFailed})
	if err != nil {
		return nil, fmt.Errorf("HotPaths: %w", err)
	}
	return AggregateHotPaths(instances, opts), nil
}

// WorkflowDetail returns nil, nil when the tenant has no instance of name.
func (s *Service) WorkflowDetail(ctx context.Context, tenantID, name string, w Window) (*WorkflowDetail, error) {
	instances, err := s.store.WorkflowInstances(ctx, tenantID, InstanceQuery{Window: w, Template: name})
	if err != nil {
		return nil, fmt.Errorf("WorkflowDetail: %w", err)
	}
	return BuildWorkflowDetail(name, instances), nil
}

// Transitions returns the most common recoveries after a failed command.
func (s *Service) Transitions(ctx context.Context, tenantID string, w Window, limit int) ([]Transition, error) {
	instances, err := s.store.WorkflowInstances(ctx, tenantID, InstanceQuery{Window: w})
	if err != nil {
		return nil, fmt.Errorf("Transitions: %w", err)
	}
	return Transitions(instances, limit), nil
}
