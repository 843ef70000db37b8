package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prepstack/render-queue/internal/core/domain"
	"github.com/prepstack/render-queue/internal/core/ports"
	"github.com/prepstack/render-queue/internal/metrics"
)

// Reaper reclaims jobs stuck in processing past the configured deadline.
// It is the backstop for dispatches that never returned control, e.g. a
// process crash mid render call.
type Reaper struct {
	logger *slog.Logger
	store  ports.JobStore
}

func NewReaper(logger *slog.Logger, store ports.JobStore) *Reaper {
	return &Reaper{logger: logger, store: store}
}

// ReapOutcome records what happened to one stuck job.
type ReapOutcome struct {
	JobID    domain.JobID
	Requeued bool // false means terminally failed
	Attempt  int  // retry_count after the transition
}

// Reap sweeps all processing jobs whose started_at is older than the job
// timeout. Jobs with retries left go back to queued with retry_count
// incremented; exhausted jobs fail terminally. Every transition is
// conditional on the job still being in processing, so a concurrent sweep
// (or a dispatcher recording a late outcome) transitions each job exactly
// once.
func (r *Reaper) Reap(ctx context.Context, cfg domain.QueueConfig, now time.Time) ([]ReapOutcome, error) {
	deadline := now.Add(-time.Duration(cfg.JobTimeoutMinutes) * time.Minute)

	stuck, err := r.store.ListStuck(ctx, deadline)
	if err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}

	var outcomes []ReapOutcome
	for _, job := range stuck {
		if job.RetriesLeft() {
			jobErr := domain.JobError{
				Message:   fmt.Sprintf("job timed out after %d minutes, retrying (%d/%d)", cfg.JobTimeoutMinutes, job.RetryCount+1, job.MaxRetries),
				Category:  domain.ErrorCategoryTimeout,
				Retryable: true,
				Timestamp: now,
			}
			ok, err := r.store.RequeueForRetry(ctx, job.ID, jobErr)
			if err != nil {
				r.logger.Error("failed to requeue stuck job", "job_id", job.ID, "error", err)
				continue
			}
			if !ok {
				// Lost the race against another sweep or a late outcome write.
				continue
			}
			metrics.JobsReapedTotal.Inc()
			metrics.JobsRequeuedTotal.Inc()
			outcomes = append(outcomes, ReapOutcome{JobID: job.ID, Requeued: true, Attempt: job.RetryCount + 1})
			r.logger.Warn("stuck job requeued",
				"job_id", job.ID, "job_type", job.Type, "attempt", job.RetryCount+1, "max_retries", job.MaxRetries)
		} else {
			jobErr := domain.JobError{
				Message:   fmt.Sprintf("job exceeded maximum timeout (%d minutes) and max retries (%d)", cfg.JobTimeoutMinutes, job.MaxRetries),
				Category:  domain.ErrorCategoryTimeout,
				Retryable: false,
				Timestamp: now,
			}
			ok, err := r.store.FailJob(ctx, job.ID, now, jobErr)
			if err != nil {
				r.logger.Error("failed to fail stuck job", "job_id", job.ID, "error", err)
				continue
			}
			if !ok {
				continue
			}
			metrics.JobsReapedTotal.Inc()
			metrics.JobsFailedTotal.WithLabelValues(string(job.Type), string(domain.ErrorCategoryTimeout)).Inc()
			outcomes = append(outcomes, ReapOutcome{JobID: job.ID, Requeued: false, Attempt: job.RetryCount})
			r.logger.Error("stuck job failed after max retries",
				"job_id", job.ID, "job_type", job.Type, "retry_count", job.RetryCount)
		}
	}
	return outcomes, nil
}
