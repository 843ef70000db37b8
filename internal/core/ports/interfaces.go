package ports

import (
	"context"
	"time"

	"github.com/prepstack/render-queue/internal/core/domain"
)

// JobStore abstracts the relational job table. It is the single source of
// truth for job state; the dispatcher and reaper are its only writers.
//
// Every transition method is conditional on the job's current status and
// reports whether the row was actually transitioned. When two schedulers (or
// a scheduler and a reaper sweep) race on the same job, the store's atomic
// row update makes exactly one of them win; the loser observes false and
// skips the job.
type JobStore interface {
	// Enqueue inserts a new queued job, assigning its queue position.
	Enqueue(ctx context.Context, job *domain.Job) error

	// GetJob retrieves a job by ID. Returns domain.ErrJobNotFound if absent.
	GetJob(ctx context.Context, id domain.JobID) (domain.Job, error)

	// ListQueued returns up to limit queued jobs ordered by priority rank,
	// then queue position (strict priority, FIFO tie-break).
	ListQueued(ctx context.Context, limit int) ([]domain.Job, error)

	// ListStuck returns processing jobs whose started_at is before deadline.
	ListStuck(ctx context.Context, deadline time.Time) ([]domain.Job, error)

	CountProcessing(ctx context.Context) (int, error)
	CountProcessingByType(ctx context.Context, t domain.JobType) (int, error)

	// CountQueuedAhead returns how many queued jobs precede the given queue
	// position.
	CountQueuedAhead(ctx context.Context, position int64) (int, error)

	// MarkProcessing transitions queued -> processing and stamps started_at.
	MarkProcessing(ctx context.Context, id domain.JobID, startedAt time.Time) (bool, error)

	// RequeueForRetry transitions processing -> queued, increments
	// retry_count, clears started_at and records the failure.
	RequeueForRetry(ctx context.Context, id domain.JobID, jobErr domain.JobError) (bool, error)

	// CompleteJob transitions processing -> completed and merges the result.
	CompleteJob(ctx context.Context, id domain.JobID, completedAt time.Time, result domain.RenderResult) (bool, error)

	// FailJob transitions processing -> failed terminally.
	FailJob(ctx context.Context, id domain.JobID, completedAt time.Time, jobErr domain.JobError) (bool, error)

	// CancelJob transitions queued -> cancelled. Jobs in any other status
	// are left untouched and false is returned.
	CancelJob(ctx context.Context, id domain.JobID) (bool, error)

	Stats(ctx context.Context) (domain.QueueStats, error)

	// QueueConfig returns the singleton tuning record, seeded with defaults
	// on first access.
	QueueConfig(ctx context.Context) (domain.QueueConfig, error)
}

// RenderBackend invokes the downstream rendering service for a job and
// normalizes its response. Failures are returned as *domain.RenderError so
// the dispatcher can apply the retry policy.
type RenderBackend interface {
	Render(ctx context.Context, job domain.Job) (domain.RenderResult, error)
}
