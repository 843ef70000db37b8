package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepstack/render-queue/internal/core/domain"
)

func TestQueueService_Enqueue(t *testing.T) {
	store := newFakeStore(testConfig())
	svc := NewQueueService(testLogger(), store, NewEventBus(testLogger()))
	ctx := context.Background()

	receipt, err := svc.Enqueue(ctx, EnqueueRequest{
		Type:    domain.JobTypeDoubt,
		Payload: json.RawMessage(`{"question":"why does the moon have phases"}`),
		UserID:  "user-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.JobID)
	assert.Equal(t, "high", receipt.Priority)
	assert.Equal(t, int64(1), receipt.QueuePosition)
	assert.Equal(t, 3, receipt.EstimatedWaitMinutes) // one job ahead of nothing

	job, err := store.GetJob(ctx, receipt.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, domain.PriorityHigh, job.Priority)
	assert.Equal(t, 3, job.MaxRetries) // from queue config
	assert.Equal(t, "user-1", job.UserID)
}

func TestQueueService_EnqueueRejectsInvalidPayload(t *testing.T) {
	store := newFakeStore(testConfig())
	svc := NewQueueService(testLogger(), store, nil)
	ctx := context.Background()

	cases := []EnqueueRequest{
		{Type: domain.JobTypeDoubt, Payload: json.RawMessage(`{"question":"hi"}`)},   // too short
		{Type: domain.JobTypeDoubt, Payload: json.RawMessage(`{"question":"   "}`)},  // whitespace
		{Type: domain.JobTypeDoubt, Payload: nil},                                    // empty
		{Type: domain.JobTypeTopicShort, Payload: json.RawMessage(`{}`)},             // no topic
		{Type: domain.JobTypeDailyCA, Payload: json.RawMessage(`{"date":"someday"}`)},
		{Type: domain.JobType("mystery"), Payload: json.RawMessage(`{"x":1}`)},
	}

	for _, req := range cases {
		_, err := svc.Enqueue(ctx, req)
		assert.ErrorIs(t, err, domain.ErrInvalidPayload, "payload %s", req.Payload)
	}

	// Validation failures never create a row.
	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Queued)
}

func TestQueueService_CancelOnlyQueued(t *testing.T) {
	store := newFakeStore(testConfig())
	svc := NewQueueService(testLogger(), store, NewEventBus(testLogger()))
	ctx := context.Background()

	store.put(makeJob("waiting", domain.JobTypeDoubt, 1, domain.JobStatusQueued))
	store.put(processingSince(makeJob("running", domain.JobTypeDoubt, 2, domain.JobStatusProcessing), time.Now()))

	require.NoError(t, svc.Cancel(ctx, "waiting"))
	assert.Equal(t, domain.JobStatusCancelled, store.get("waiting").Status)

	err := svc.Cancel(ctx, "running")
	assert.ErrorIs(t, err, domain.ErrNotCancellable)
	assert.Equal(t, domain.JobStatusProcessing, store.get("running").Status)

	assert.ErrorIs(t, svc.Cancel(ctx, "missing"), domain.ErrJobNotFound)
}

func TestQueueService_CancelledJobNeverDispatched(t *testing.T) {
	store := newFakeStore(testConfig())
	svc := NewQueueService(testLogger(), store, nil)
	ctx := context.Background()

	store.put(makeJob("doomed", domain.JobTypeDoubt, 1, domain.JobStatusQueued))
	require.NoError(t, svc.Cancel(ctx, "doomed"))

	backend := newFakeBackend()
	d := newTestDispatcher(store, backend)
	report, err := d.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Claimed)
	assert.Empty(t, backend.calls)
}

func TestQueueService_Status(t *testing.T) {
	store := newFakeStore(testConfig())
	svc := NewQueueService(testLogger(), store, nil)
	ctx := context.Background()

	store.put(makeJob("first", domain.JobTypeDoubt, 1, domain.JobStatusQueued))
	store.put(makeJob("second", domain.JobTypeDoubt, 2, domain.JobStatusQueued))

	view, err := svc.Status(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, view.Status)
	require.NotNil(t, view.QueuePosition)
	assert.Equal(t, int64(2), *view.QueuePosition)
	require.NotNil(t, view.Ahead)
	assert.Equal(t, 1, *view.Ahead)

	// Terminal jobs expose the error summary, not a queue position.
	failed := makeJob("broken", domain.JobTypeNotes, 3, domain.JobStatusFailed)
	failed.LastError = &domain.JobError{Message: "render backend returned 500", Category: domain.ErrorCategoryAPIError}
	store.put(failed)

	view, err = svc.Status(ctx, "broken")
	require.NoError(t, err)
	assert.Nil(t, view.QueuePosition)
	assert.Equal(t, "render backend returned 500", view.ErrorMessage)

	_, err = svc.Status(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}
