// Package inference groups sanitized events into sessions and workflow instances
// and classifies their outcomes.
//
// A pass is serialized per (tenant, actor): each actor's read of unprocessed
// events, the computation, the processed marking and the derived-row writes
// happen inside one store transaction. Different actors run in parallel.
package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
	"github.com/triage-ai/cli-analytics/internal/model"
	"go.uber.org/zap"
)

// ErrActorPass wraps a failed per-actor transaction. Nothing from the failed pass
// is kept, so the actor is picked up again on the next run.
var ErrActorPass = errors.New("inference pass failed for actor")

// Store is the persistence boundary of an inference run.
type Store interface {
	// PendingActors lists actors with unprocessed events, or with an open session
	// whose last event is older than staleBefore. An empty tenantID means all tenants.
	PendingActors(ctx context.Context, tenantID string, staleBefore time.Time) ([]model.ActorRef, error)
	// Templates returns the tenant's workflow templates in priority order.
	Templates(ctx context.Context, tenantID string) ([]model.WorkflowTemplate, error)
	// InActorTx runs fn inside one transaction scoped to the actor. A non-nil
	// error from fn rolls everything back.
	InActorTx(ctx context.Context, ref model.ActorRef, fn func(tx ActorTx) error) error
}

// ActorTx is the transactional view of one actor's rows.
type ActorTx interface {
	UnprocessedEvents(ctx context.Context, limit int) ([]model.SanitizedEvent, error)
	OpenSession(ctx context.Context) (*OpenSession, error)
	// SaveSession upserts the session, marks added events processed and assigned
	// to it, and replaces the session's workflow instances.
	SaveSession(ctx context.Context, s *model.Session, added []string, instances []model.WorkflowInstance) error
}

// Config tunes a Runner.
type Config struct {
	Gap        time.Duration
	Workers    int
	BatchLimit int
}

// Result counts what a pass did.
type Result struct {
	Actors            int `json:"actors"`
	ActorsFailed      int `json:"actors_failed"`
	EventsProcessed   int `json:"events_processed"`
	SessionsCreated   int `json:"sessions_created"`
	SessionsExtended  int `json:"sessions_extended"`
	SessionsClosed    int `json:"sessions_closed"`
	WorkflowsProduced int `json:"workflows_produced"`
}

func (r *Result) add(o Result) {
	r.Actors += o.Actors
	r.ActorsFailed += o.ActorsFailed
	r.EventsProcessed += o.EventsProcessed
	r.SessionsCreated += o.SessionsCreated
	r.SessionsExtended += o.SessionsExtended
	r.SessionsClosed += o.SessionsClosed
	r.WorkflowsProduced += o.WorkflowsProduced
}

// Runner executes inference passes.
type Runner struct {
	store       Store
	sessionizer *Sessionizer
	workers     int
	batchLimit  int
	logger      *zap.Logger
	now         func() time.Time
}

// NewRunner creates a Runner with defaults for zero config values.
func NewRunner(store Store, cfg Config, logger *zap.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 10_000
	}
	return &Runner{
		store:       store,
		sessionizer: NewSessionizer(cfg.Gap),
		workers:     cfg.Workers,
		batchLimit:  cfg.BatchLimit,
		logger:      logger,
		now:         time.Now,
	}
}

// Run performs one pass over every pending actor of tenantID (all tenants when
// empty). Actors are partitioned across workers by a hash of their key, so each
// actor is handled by exactly one goroutine. Per-actor failures are logged,
// counted, and reported as an ErrActorPass-wrapped error alongside the result.
func (r *Runner) Run(ctx context.Context, tenantID string) (Result, error) {
	now := r.now().UTC()
	refs, err := r.store.PendingActors(ctx, tenantID, now.Add(-r.sessionizer.Gap()))
	if err != nil {
		return Result{}, fmt.Errorf("Run: %w", err)
	}
	if len(refs) == 0 {
		return Result{}, nil
	}

	detectors := make(map[string]*Detector)
	for _, ref := range refs {
		if _, ok := detectors[ref.TenantID]; ok {
			continue
		}
		templates, err := r.store.Templates(ctx, ref.TenantID)
		if err != nil {
			return Result{}, fmt.Errorf("Run: %w", err)
		}
		detectors[ref.TenantID] = NewDetector(templates)
	}

	workers := r.workers
	if workers > len(refs) {
		workers = len(refs)
	}
	partitions := make([][]model.ActorRef, workers)
	for _, ref := range refs {
		p := partition(ref, workers)
		partitions[p] = append(partitions[p], ref)
	}

	results := make(chan Result, workers)
	var wg sync.WaitGroup
	for _, part := range partitions {
		wg.Add(1)
		go func(part []model.ActorRef) {
			defer wg.Done()
			var local Result
			for _, ref := range part {
				if ctx.Err() != nil {
					break
				}
				res, err := r.processActor(ctx, ref, detectors[ref.TenantID], now)
				local.Actors++
				if err != nil {
					local.ActorsFailed++
					r.logger.Error("inference pass failed",
						zap.String("tenant_id", ref.TenantID),
						zap.String("actor_hash", ref.ActorHash),
						zap.Error(err),
					)
					continue
				}
				local.add(res)
			}
			results <- local
		}(part)
	}
	wg.Wait()
	close(results)

	var total Result
	for res := range results {
		total.add(res)
	}

	r.logger.Info("inference pass complete",
		zap.String("tenant_id", tenantID),
		zap.Int("actors", total.Actors),
		zap.Int("actors_failed", total.ActorsFailed),
		zap.Int("events_processed", total.EventsProcessed),
		zap.Int("sessions_created", total.SessionsCreated),
		zap.Int("sessions_extended", total.SessionsExtended),
		zap.Int("sessions_closed", total.SessionsClosed),
		zap.Int("workflows_produced", total.WorkflowsProduced),
	)

	if err := ctx.Err(); err != nil {
		return total, fmt.Errorf("Run: %w", err)
	}
	if total.ActorsFailed > 0 {
		return total, fmt.Errorf("Run: %w (%d actors)", ErrActorPass, total.ActorsFailed)
	}
	return total, nil
}

// processActor is the atomic unit: read, compute, mark, persist.
func (r *Runner) processActor(ctx context.Context, ref model.ActorRef, det *Detector, now time.Time) (Result, error) {
	var res Result
	err := r.store.InActorTx(ctx, ref, func(tx ActorTx) error {
		events, err := tx.UnprocessedEvents(ctx, r.batchLimit)
		if err != nil {
			return err
		}
		open, err := tx.OpenSession(ctx)
		if err != nil {
			return err
		}

		boundary := now
		if len(events) >= r.batchLimit {
			// More events are queued behind this batch and may continue the
			// trailing session, so nothing goes stale before the last one read.
			boundary = latestClientTime(events)
		}
		batches := r.sessionizer.Sessionize(ref.TenantID, ref.ActorHash, open, events, boundary)
		for _, b := range batches {
			instances := det.Detect(b.Session, b.Events)
			for i := range instances {
				instances[i].Outcome = ClassifyInstance(&instances[i])
			}
			b.Session.Outcome = ClassifySession(b.Events, instances)

			if err := tx.SaveSession(ctx, b.Session, b.Added, instances); err != nil {
				return err
			}

			res.EventsProcessed += len(b.Added)
			if len(b.Added) > 0 {
				res.WorkflowsProduced += len(instances)
			}
			if b.Created {
				res.SessionsCreated++
			}
			if b.Extended {
				res.SessionsExtended++
			}
			if b.Closing {
				res.SessionsClosed++
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrActorPass, err)
	}
	return res, nil
}

func latestClientTime(events []model.SanitizedEvent) time.Time {
	var latest time.Time
	for i := range events {
		if events[i].ClientTime.After(latest) {
			latest = events[i].ClientTime
		}
	}
	return latest
}

// partition maps an actor to a worker. Stable for a given worker count.
func partition(ref model.ActorRef, workers int) int {
	h := murmur3.Sum32([]byte(ref.TenantID + "\x00" + ref.ActorHash))
	return int(h % uint32(workers))
}
