package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepstack/render-queue/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func makeJob(id string, jobType domain.JobType, pos int64, status domain.JobStatus) domain.Job {
	now := time.Now()
	return domain.Job{
		ID:            domain.JobID(id),
		Type:          jobType,
		Priority:      AssignPriority(jobType),
		Status:        status,
		Payload:       json.RawMessage(`{"question":"what is a quasar"}`),
		QueuePosition: pos,
		MaxRetries:    3,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func processingSince(j domain.Job, startedAt time.Time) domain.Job {
	j.Status = domain.JobStatusProcessing
	j.StartedAt = &startedAt
	return j
}

func TestReaper_RequeuesStuckJob(t *testing.T) {
	cfg := testConfig()
	store := newFakeStore(cfg)
	now := time.Now()

	stuck := processingSince(makeJob("stuck", domain.JobTypeDoubt, 1, domain.JobStatusProcessing), now.Add(-40*time.Minute))
	fresh := processingSince(makeJob("fresh", domain.JobTypeDoubt, 2, domain.JobStatusProcessing), now.Add(-5*time.Minute))
	store.put(stuck)
	store.put(fresh)

	reaper := NewReaper(testLogger(), store)
	outcomes, err := reaper.Reap(context.Background(), cfg, now)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.JobID("stuck"), outcomes[0].JobID)
	assert.True(t, outcomes[0].Requeued)
	assert.Equal(t, 1, outcomes[0].Attempt)

	got := store.get("stuck")
	assert.Equal(t, domain.JobStatusQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Nil(t, got.StartedAt)
	require.NotNil(t, got.LastError)
	assert.Equal(t, domain.ErrorCategoryTimeout, got.LastError.Category)

	// The job inside the deadline is untouched.
	assert.Equal(t, domain.JobStatusProcessing, store.get("fresh").Status)
}

func TestReaper_FailsJobWithExhaustedRetries(t *testing.T) {
	cfg := testConfig()
	store := newFakeStore(cfg)
	now := time.Now()

	stuck := processingSince(makeJob("exhausted", domain.JobTypeTopicShort, 1, domain.JobStatusProcessing), now.Add(-2*time.Hour))
	stuck.RetryCount = 3
	store.put(stuck)

	reaper := NewReaper(testLogger(), store)
	outcomes, err := reaper.Reap(context.Background(), cfg, now)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Requeued)

	got := store.get("exhausted")
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount) // never exceeds max
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.LastError)
	assert.False(t, got.LastError.Retryable)
}

func TestReaper_ExactlyOncePerJob(t *testing.T) {
	cfg := testConfig()
	store := newFakeStore(cfg)
	now := time.Now()

	store.put(processingSince(makeJob("stuck", domain.JobTypeDoubt, 1, domain.JobStatusProcessing), now.Add(-40*time.Minute)))

	reaper := NewReaper(testLogger(), store)
	first, err := reaper.Reap(context.Background(), cfg, now)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A second sweep at the same instant finds nothing left to reap: the
	// job is queued again and no longer matches the stuck predicate, so
	// retry_count is not double-incremented.
	second, err := reaper.Reap(context.Background(), cfg, now)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Equal(t, 1, store.get("stuck").RetryCount)
}

func TestReaper_NoStuckJobs(t *testing.T) {
	cfg := testConfig()
	store := newFakeStore(cfg)

	store.put(makeJob("queued", domain.JobTypeDoubt, 1, domain.JobStatusQueued))

	reaper := NewReaper(testLogger(), store)
	outcomes, err := reaper.Reap(context.Background(), cfg, time.Now())
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}
