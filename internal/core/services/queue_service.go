package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/prepstack/render-queue/internal/core/domain"
	"github.com/prepstack/render-queue/internal/core/ports"
	"github.com/prepstack/render-queue/internal/metrics"
)

// Average render time used for the wait estimate returned on enqueue.
const estimatedMinutesPerJob = 3

// QueueService is the external surface of the queue: enqueue, cancel,
// status and stats. It validates payloads before any row is created and
// assigns priority server-side.
type QueueService struct {
	logger *slog.Logger
	store  ports.JobStore
	bus    *EventBus
	now    func() time.Time
}

func NewQueueService(logger *slog.Logger, store ports.JobStore, bus *EventBus) *QueueService {
	return &QueueService{
		logger: logger,
		store:  store,
		bus:    bus,
		now:    time.Now,
	}
}

type EnqueueRequest struct {
	Type    domain.JobType  `json:"job_type"`
	Payload json.RawMessage `json:"payload"`
	UserID  string          `json:"user_id,omitempty"`
}

type EnqueueReceipt struct {
	JobID                domain.JobID `json:"job_id"`
	Priority             string       `json:"priority"`
	QueuePosition        int64        `json:"queue_position"`
	EstimatedWaitMinutes int          `json:"estimated_wait_minutes"`
}

// Enqueue validates the payload and creates a queued job. Malformed input
// is rejected synchronously; no job row exists for a validation failure.
func (s *QueueService) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueReceipt, error) {
	if err := domain.ValidatePayload(req.Type, req.Payload); err != nil {
		return EnqueueReceipt{}, err
	}

	cfg, err := s.store.QueueConfig(ctx)
	if err != nil {
		return EnqueueReceipt{}, fmt.Errorf("load queue config: %w", err)
	}

	now := s.now()
	job := domain.Job{
		ID:         domain.JobID(uuid.New().String()),
		Type:       req.Type,
		Priority:   AssignPriority(req.Type),
		Status:     domain.JobStatusQueued,
		Payload:    req.Payload,
		MaxRetries: cfg.MaxRetries,
		UserID:     req.UserID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.Enqueue(ctx, &job); err != nil {
		return EnqueueReceipt{}, fmt.Errorf("enqueue job: %w", err)
	}

	metrics.JobsEnqueuedTotal.WithLabelValues(string(job.Type)).Inc()
	s.logger.Info("job enqueued",
		"job_id", job.ID, "job_type", job.Type,
		"priority", job.Priority.String(), "queue_position", job.QueuePosition)

	ahead, err := s.store.CountQueuedAhead(ctx, job.QueuePosition)
	if err != nil {
		ahead = 0
	}

	return EnqueueReceipt{
		JobID:                job.ID,
		Priority:             job.Priority.String(),
		QueuePosition:        job.QueuePosition,
		EstimatedWaitMinutes: (ahead + 1) * estimatedMinutesPerJob,
	}, nil
}

// Cancel transitions a queued job to cancelled. Jobs already processing are
// not interruptible: they complete, time out or fail through the reaper.
func (s *QueueService) Cancel(ctx context.Context, id domain.JobID) error {
	ok, err := s.store.CancelJob(ctx, id)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if ok {
		metrics.JobsCancelledTotal.Inc()
		s.logger.Info("job cancelled", "job_id", id)
		if s.bus != nil {
			s.bus.Publish(Event{
				JobID:     string(id),
				Type:      EventTypeStatus,
				Data:      `{"status":"cancelled"}`,
				Timestamp: s.now().UnixMilli(),
			})
		}
		return nil
	}

	// Distinguish "missing" from "not cancellable" for the caller.
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job is %s", domain.ErrNotCancellable, job.Status)
}

// StatusView is what a status query exposes to end users: status plus a
// summary, not the full stored error detail.
type StatusView struct {
	JobID         domain.JobID         `json:"job_id"`
	Status        domain.JobStatus     `json:"status"`
	RetryCount    int                  `json:"retry_count"`
	ErrorMessage  string               `json:"error_message,omitempty"`
	QueuePosition *int64               `json:"queue_position,omitempty"`
	Ahead         *int                 `json:"jobs_ahead,omitempty"`
	Result        *domain.RenderResult `json:"result,omitempty"`
}

func (s *QueueService) Status(ctx context.Context, id domain.JobID) (StatusView, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return StatusView{}, err
	}

	view := StatusView{
		JobID:      job.ID,
		Status:     job.Status,
		RetryCount: job.RetryCount,
		Result:     job.Result,
	}
	if job.LastError != nil {
		view.ErrorMessage = job.LastError.Message
	}
	if job.Status == domain.JobStatusQueued {
		pos := job.QueuePosition
		view.QueuePosition = &pos
		if ahead, err := s.store.CountQueuedAhead(ctx, pos); err == nil {
			view.Ahead = &ahead
		}
	}
	return view, nil
}

func (s *QueueService) Stats(ctx context.Context) (domain.QueueStats, error) {
	return s.store.Stats(ctx)
}
