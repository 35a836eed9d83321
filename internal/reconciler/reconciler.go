// Package reconciler periodically refreshes RUNNING jobs so their records
// reach STOPPED without anyone polling them.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/nfgate/internal/jobstore"
)

// StagingMaxAge is how old an upload staging directory must be before a sweep
// removes it.
const StagingMaxAge = time.Hour

// Reconciler sweeps RUNNING jobs on an interval.
type Reconciler struct {
	interval time.Duration
	jobs     JobLister
	status   StatusChecker
	pruner   StagingPruner
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Reconciler. pruner may be nil.
func New(interval time.Duration, jobs JobLister, status StatusChecker, pruner StagingPruner, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		interval: interval,
		jobs:     jobs,
		status:   status,
		pruner:   pruner,
		logger:   logger.With("component", "reconciler"),
		stopCh:   make(chan struct{}),
	}
}

// Start runs one sweep and then keeps sweeping in the background until Stop
// is called or ctx ends. A non-positive interval disables the loop.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.interval <= 0 {
		r.logger.Info("reconciler disabled")
		return nil
	}
	r.logger.Info("starting reconciler", "interval", r.interval)

	if _, err := r.Sweep(ctx); err != nil {
		return fmt.Errorf("initial reconcile sweep: %w", err)
	}

	r.wg.Add(1)
	go r.loop(ctx)
	return nil
}

// Stop ends the background loop and waits for it.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
	r.logger.Info("reconciler stopped")
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("reconcile sweep failed", "error", err)
			}
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep checks every RUNNING job once and returns how many reached STOPPED.
// Failures on individual jobs are logged and skipped.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	running, err := r.jobs.ListByState(ctx, jobstore.StateRunning)
	if err != nil {
		return 0, fmt.Errorf("list running jobs: %w", err)
	}
	r.logger.Debug("reconcile sweep", "running", len(running))

	stopped := 0
	for _, job := range running {
		if err := ctx.Err(); err != nil {
			return stopped, err
		}
		rec, err := r.status.GetJobStatus(ctx, job.WorkflowID, job.ID)
		if err != nil {
			r.logger.Warn("refresh job failed", "workflow_id", job.WorkflowID, "job_id", job.ID, "error", err)
			continue
		}
		if rec.State == jobstore.StateStopped {
			stopped++
			r.logger.Info("job reconciled", "workflow_id", job.WorkflowID, "job_id", job.ID, "state", rec.State)
		}
	}

	if r.pruner != nil {
		n, err := r.pruner.PruneStaging(ctx, StagingMaxAge)
		if err != nil {
			r.logger.Error("prune staging directories failed", "error", err)
		} else if n > 0 {
			r.logger.Info("pruned staging directories", "count", n)
		}
	}
	return stopped, nil
}
