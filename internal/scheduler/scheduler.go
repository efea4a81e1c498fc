// Package scheduler drives the deferred flow: a ticker wakes up, selects
// active jobs that are due, and fans evaluations out to a bounded worker
// pool. The scheduler holds no job state of its own; every tick re-reads the
// store, which is what lets monitoring survive a process restart.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ghostcart/internal/coordinator"
	"ghostcart/internal/store"
	"ghostcart/pkg/aperr"
	"ghostcart/pkg/mandate"
)

// PricePlanner is the demo hook that schedules and restores future price
// drops so a watched product eventually meets its constraints. Nil disables
// planning entirely.
type PricePlanner interface {
	PlanPriceDrop(productQuery string, targetPriceCents int64)
	RestorePriceDrop(productQuery string, targetPriceCents int64)
}

type Scheduler struct {
	store   store.Store
	coord   *coordinator.Coordinator
	planner PricePlanner

	tick          time.Duration
	checkInterval time.Duration
	pricing       coordinator.Pricing
	workers       int

	log  *slog.Logger
	now  func() time.Time
	wg   sync.WaitGroup
	stop context.CancelFunc
}

func New(
	st store.Store,
	coord *coordinator.Coordinator,
	planner PricePlanner,
	tick time.Duration,
	checkInterval time.Duration,
	pricing coordinator.Pricing,
	workers int,
	log *slog.Logger,
) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		store:         st,
		coord:         coord,
		planner:       planner,
		tick:          tick,
		checkInterval: checkInterval,
		pricing:       pricing,
		workers:       workers,
		log:           log.With("component", "scheduler"),
		now:           time.Now,
	}
}

// Start resumes persisted jobs and launches the tick loop. It returns once
// the loop goroutine is running; Stop waits for in-flight evaluations.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs, err := s.store.ListActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("resume jobs: %w", err)
	}
	for _, j := range jobs {
		// Planner state is in-memory and was lost with the old process, so
		// resumed drops are registered as already elapsed.
		if target := s.dropTarget(&j); s.planner != nil && target > 0 {
			s.planner.RestorePriceDrop(j.ProductQuery, target)
		}
	}
	s.log.Info("scheduler started", "resumed_jobs", len(jobs), "tick", s.tick, "workers", s.workers)

	ctx, s.stop = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Stop cancels the loop and blocks until outstanding evaluations finish.
func (s *Scheduler) Stop() {
	if s.stop != nil {
		s.stop()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// runTick evaluates every due active job, at most workers at a time. A slow
// or failing job never blocks the others past pool capacity.
func (s *Scheduler) runTick(ctx context.Context) {
	jobs, err := s.store.ListActiveJobs(ctx)
	if err != nil {
		s.log.Error("list active jobs", "error", err)
		return
	}
	now := s.now().UTC()
	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		job := jobs[i]
		if now.Before(job.NextDue()) {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.evaluateJob(ctx, &job, now)
		}()
	}
	wg.Wait()
}

// evaluateJob stamps the check, retires expired jobs, and otherwise hands
// off to the coordinator. The stamp happens before the outcome is known so
// last_check_at reflects attempts, not successes.
func (s *Scheduler) evaluateJob(ctx context.Context, job *mandate.MonitoringJob, now time.Time) {
	if err := s.store.RecordCheck(ctx, job.JobID, now); err != nil {
		s.log.Error("record check", "job_id", job.JobID, "error", err)
	}

	if now.After(job.ExpiresAt) {
		flipped, err := s.store.DeactivateJob(ctx, job.JobID, mandate.ReasonExpired)
		if err != nil {
			s.log.Error("expire job", "job_id", job.JobID, "error", err)
			return
		}
		if flipped {
			s.log.Info("job expired", "job_id", job.JobID, "expired_at", job.ExpiresAt)
		}
		return
	}

	outcome, err := s.coord.Evaluate(ctx, job)
	if err != nil {
		s.log.Error("evaluate job", "job_id", job.JobID, "error", err)
		return
	}
	if !outcome.Matched {
		s.log.Debug("job still waiting", "job_id", job.JobID, "reason", outcome.Reason)
	}
}

// Activate creates the monitoring job for a validated deferred intent. Job
// id equals the intent id, and the constraints are snapshotted so later
// evaluation never re-reads the intent for scheduling data.
func (s *Scheduler) Activate(ctx context.Context, intent *mandate.Intent) (*mandate.MonitoringJob, error) {
	now := s.now().UTC()
	job := &mandate.MonitoringJob{
		JobID:         intent.MandateID,
		IntentID:      intent.MandateID,
		UserID:        intent.UserID,
		ProductQuery:  intent.ProductQuery,
		Constraints:   *intent.Constraints,
		CheckInterval: s.checkInterval,
		Active:        true,
		CreatedAt:     now,
		ExpiresAt:     intent.Expiration.UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if target := s.dropTarget(job); s.planner != nil && target > 0 {
		s.planner.PlanPriceDrop(job.ProductQuery, target)
	}
	s.log.Info("monitoring job activated",
		"job_id", job.JobID,
		"product_query", job.ProductQuery,
		"max_price_cents", job.Constraints.MaxPriceCents,
		"expires_at", job.ExpiresAt)
	return job, nil
}

// Cancel flips a job to cancelled on behalf of its owner. Cancelling an
// already-terminal job is a no-op, not an error.
func (s *Scheduler) Cancel(ctx context.Context, jobID, userID string) (*mandate.MonitoringJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, aperr.Newf(aperr.CodeChainInvalid, "job %s does not belong to user %s", jobID, userID)
	}
	if _, err := s.store.DeactivateJob(ctx, jobID, mandate.ReasonCancelled); err != nil {
		return nil, err
	}
	return s.store.GetJob(ctx, jobID)
}

// dropTarget is the highest sticker price whose landed cost still fits the
// job's budget. The planned drop aims exactly there so the very next check
// after the drop lands a match.
func (s *Scheduler) dropTarget(job *mandate.MonitoringJob) int64 {
	return s.pricing.MaxStickerPriceCents(job.Constraints.MaxPriceCents)
}
