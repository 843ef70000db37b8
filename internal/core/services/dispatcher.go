package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prepstack/render-queue/internal/core/domain"
	"github.com/prepstack/render-queue/internal/core/ports"
	"github.com/prepstack/render-queue/internal/metrics"
)

// Dispatcher is the scheduler control loop. Each cycle it reaps stuck jobs,
// computes available capacity, claims the next eligible jobs by priority and
// FIFO order, and hands them to the render backend.
//
// The dispatcher holds no state between cycles; all state lives in the
// store, and the claim/requeue transitions are conditional writes, so
// concurrent invocations (ticker plus HTTP trigger) are safe.
type Dispatcher struct {
	logger  *slog.Logger
	store   ports.JobStore
	backend ports.RenderBackend
	reaper  *Reaper
	bus     *EventBus
	tick    time.Duration
	now     func() time.Time
}

func NewDispatcher(logger *slog.Logger, store ports.JobStore, backend ports.RenderBackend, reaper *Reaper, bus *EventBus, tick time.Duration) *Dispatcher {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &Dispatcher{
		logger:  logger,
		store:   store,
		backend: backend,
		reaper:  reaper,
		bus:     bus,
		tick:    tick,
		now:     time.Now,
	}
}

// CycleReport summarizes one dispatcher cycle.
type CycleReport struct {
	Reaped    int           `json:"reaped"`
	Claimed   int           `json:"claimed"`
	Completed int           `json:"completed"`
	Requeued  int           `json:"requeued"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"-"`
}

// Run executes cycles on a fixed interval until ctx is cancelled. A cycle's
// errors are logged and the loop keeps going; the next tick gets a clean
// start.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started", "tick", d.tick)
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return nil
		case <-ticker.C:
			if _, err := d.RunCycle(ctx); err != nil {
				d.logger.Error("dispatch cycle failed", "error", err)
			}
		}
	}
}

// RunCycle performs one full scheduling pass: reap, admit, claim, dispatch.
// It blocks until every job claimed in this cycle has a recorded outcome.
func (d *Dispatcher) RunCycle(ctx context.Context) (CycleReport, error) {
	start := d.now()
	var report CycleReport

	cfg, err := d.store.QueueConfig(ctx)
	if err != nil {
		return report, fmt.Errorf("load queue config: %w", err)
	}

	reaped, err := d.reaper.Reap(ctx, cfg, start)
	if err != nil {
		return report, fmt.Errorf("reap stuck jobs: %w", err)
	}
	report.Reaped = len(reaped)
	for _, o := range reaped {
		if o.Requeued {
			d.publish(string(o.JobID), EventTypeRequeued, map[string]any{"attempt": o.Attempt})
		} else {
			d.publish(string(o.JobID), EventTypeFailed, map[string]any{"reason": "timeout"})
		}
	}

	processing, err := d.store.CountProcessing(ctx)
	if err != nil {
		return report, fmt.Errorf("count processing: %w", err)
	}
	manimProcessing, err := d.store.CountProcessingByType(ctx, domain.JobTypeTopicShort)
	if err != nil {
		return report, fmt.Errorf("count processing manim: %w", err)
	}

	d.updateGauges(ctx)

	slots := AvailableSlots(cfg, start, processing)
	d.logger.Info("dispatch cycle",
		"processing", processing, "effective_cap", EffectiveCap(cfg, start),
		"manim_processing", manimProcessing, "available_slots", slots,
		"peak_hour", IsPeakHour(cfg, start))
	if slots <= 0 {
		report.Duration = d.now().Sub(start)
		return report, nil
	}

	queued, err := d.store.ListQueued(ctx, slots)
	if err != nil {
		return report, fmt.Errorf("list queued: %w", err)
	}
	if len(queued) == 0 {
		report.Duration = d.now().Sub(start)
		return report, nil
	}

	budget := NewManimBudget(cfg, manimProcessing)
	var claimed []domain.Job
	for _, job := range queued {
		if !budget.Admit(job.Type) {
			report.Skipped++
			d.logger.Info("manim cap reached, job stays queued", "job_id", job.ID)
			continue
		}
		ok, err := d.store.MarkProcessing(ctx, job.ID, d.now())
		if err != nil {
			d.logger.Error("failed to claim job", "job_id", job.ID, "error", err)
			continue
		}
		if !ok {
			// Another scheduler instance won this job.
			continue
		}
		metrics.JobsDispatchedTotal.WithLabelValues(string(job.Type)).Inc()
		d.publish(string(job.ID), EventTypeStatus, map[string]any{"status": domain.JobStatusProcessing})
		d.logger.Info("job claimed",
			"job_id", job.ID, "job_type", job.Type,
			"priority", job.Priority.String(), "queue_position", job.QueuePosition)
		claimed = append(claimed, job)
	}
	report.Claimed = len(claimed)

	g, gctx := errgroup.WithContext(ctx)
	results := make([]dispatchResult, len(claimed))
	for i, job := range claimed {
		i, job := i, job
		g.Go(func() error {
			results[i] = d.dispatch(gctx, job)
			return nil
		})
	}
	g.Wait()

	for _, res := range results {
		switch res {
		case dispatchCompleted:
			report.Completed++
		case dispatchRequeued:
			report.Requeued++
		case dispatchFailed:
			report.Failed++
		}
	}

	report.Duration = d.now().Sub(start)
	d.logger.Info("dispatch cycle complete",
		"reaped", report.Reaped, "claimed", report.Claimed,
		"completed", report.Completed, "requeued", report.Requeued,
		"failed", report.Failed, "skipped", report.Skipped,
		"duration", report.Duration)
	return report, nil
}

type dispatchResult int

const (
	dispatchCompleted dispatchResult = iota
	dispatchRequeued
	dispatchFailed
	dispatchLost // outcome write lost a race, e.g. the job was reaped mid-render
)

// dispatch runs one render call and records its outcome. Errors never
// propagate; each job's failure is isolated to that job.
func (d *Dispatcher) dispatch(ctx context.Context, job domain.Job) dispatchResult {
	renderStart := d.now()
	result, err := d.backend.Render(ctx, job)
	metrics.RenderDurationSeconds.WithLabelValues(string(job.Type)).Observe(d.now().Sub(renderStart).Seconds())

	if err == nil {
		ok, storeErr := d.store.CompleteJob(ctx, job.ID, d.now(), result)
		if storeErr != nil {
			d.logger.Error("failed to record completion", "job_id", job.ID, "error", storeErr)
			return dispatchLost
		}
		if !ok {
			// Reaped while we were rendering; the requeued copy will run again.
			d.logger.Warn("completion lost race, job no longer processing", "job_id", job.ID)
			return dispatchLost
		}
		metrics.JobsCompletedTotal.WithLabelValues(string(job.Type)).Inc()
		d.publish(string(job.ID), EventTypeStatus, map[string]any{
			"status":    domain.JobStatusCompleted,
			"video_url": result.VideoURL,
		})
		d.logger.Info("job completed", "job_id", job.ID, "job_type", job.Type, "video_url", result.VideoURL)
		return dispatchCompleted
	}

	jobErr := categorize(err, d.now())
	if jobErr.Retryable && job.RetriesLeft() {
		ok, storeErr := d.store.RequeueForRetry(ctx, job.ID, jobErr)
		if storeErr != nil {
			d.logger.Error("failed to requeue job", "job_id", job.ID, "error", storeErr)
			return dispatchLost
		}
		if !ok {
			return dispatchLost
		}
		metrics.JobsRequeuedTotal.Inc()
		d.publish(string(job.ID), EventTypeRequeued, map[string]any{"attempt": job.RetryCount + 1})
		d.logger.Warn("job requeued after failure",
			"job_id", job.ID, "job_type", job.Type, "category", jobErr.Category,
			"attempt", job.RetryCount+1, "max_retries", job.MaxRetries, "error", jobErr.Message)
		return dispatchRequeued
	}

	ok, storeErr := d.store.FailJob(ctx, job.ID, d.now(), jobErr)
	if storeErr != nil {
		d.logger.Error("failed to record failure", "job_id", job.ID, "error", storeErr)
		return dispatchLost
	}
	if !ok {
		return dispatchLost
	}
	metrics.JobsFailedTotal.WithLabelValues(string(job.Type), string(jobErr.Category)).Inc()
	d.publish(string(job.ID), EventTypeFailed, map[string]any{"category": jobErr.Category, "message": jobErr.Message})
	d.logger.Error("job failed terminally",
		"job_id", job.ID, "job_type", job.Type, "category", jobErr.Category,
		"retry_count", job.RetryCount, "error", jobErr.Message)
	return dispatchFailed
}

// categorize turns an adapter error into a stored JobError. Unrecognized
// errors count as retryable: losing a job silently is worse than one extra
// attempt.
func categorize(err error, now time.Time) domain.JobError {
	var rerr *domain.RenderError
	if errors.As(err, &rerr) {
		return domain.JobError{
			Message:   rerr.Message,
			Category:  rerr.Category,
			Retryable: rerr.Retryable,
			Timestamp: now,
		}
	}
	return domain.JobError{
		Message:   err.Error(),
		Category:  domain.ErrorCategoryUnknown,
		Retryable: true,
		Timestamp: now,
	}
}

func (d *Dispatcher) updateGauges(ctx context.Context) {
	stats, err := d.store.Stats(ctx)
	if err != nil {
		return
	}
	metrics.JobsQueued.Set(float64(stats.Queued))
	metrics.JobsProcessing.Set(float64(stats.Processing))
}

func (d *Dispatcher) publish(jobID string, t EventType, payload map[string]any) {
	if d.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	d.bus.Publish(Event{
		JobID:     jobID,
		Type:      t,
		Data:      string(data),
		Timestamp: d.now().UnixMilli(),
	})
}
