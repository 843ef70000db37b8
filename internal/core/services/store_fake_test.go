package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prepstack/render-queue/internal/core/domain"
	"github.com/prepstack/render-queue/internal/core/ports"
)

// fakeStore is an in-memory JobStore with the same conditional-transition
// semantics as the real adapter: every transition checks the current status
// under the lock, mirroring the store's atomic row update.
type fakeStore struct {
	mu         sync.Mutex
	jobs       map[domain.JobID]*domain.Job
	cfg        domain.QueueConfig
	nextPos    int64
	claimOrder []domain.JobID
}

var _ ports.JobStore = (*fakeStore)(nil)

func newFakeStore(cfg domain.QueueConfig) *fakeStore {
	return &fakeStore{
		jobs: make(map[domain.JobID]*domain.Job),
		cfg:  cfg,
	}
}

func (f *fakeStore) Enqueue(_ context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPos++
	job.QueuePosition = f.nextPos
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

// put seeds a job directly, preserving its queue position.
func (f *fakeStore) put(job domain.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.QueuePosition > f.nextPos {
		f.nextPos = job.QueuePosition
	}
	cp := job
	f.jobs[job.ID] = &cp
}

func (f *fakeStore) get(id domain.JobID) domain.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.jobs[id]
}

func (f *fakeStore) GetJob(_ context.Context, id domain.JobID) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return *j, nil
}

func (f *fakeStore) ListQueued(_ context.Context, limit int) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Job
	for _, j := range f.jobs {
		if j.Status == domain.JobStatusQueued {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Priority != out[b].Priority {
			return out[a].Priority < out[b].Priority
		}
		return out[a].QueuePosition < out[b].QueuePosition
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) ListStuck(_ context.Context, deadline time.Time) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Job
	for _, j := range f.jobs {
		if j.Status == domain.JobStatusProcessing && j.StartedAt != nil && j.StartedAt.Before(deadline) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].QueuePosition < out[b].QueuePosition })
	return out, nil
}

func (f *fakeStore) CountProcessing(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, j := range f.jobs {
		if j.Status == domain.JobStatusProcessing {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountProcessingByType(_ context.Context, t domain.JobType) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, j := range f.jobs {
		if j.Status == domain.JobStatusProcessing && j.Type == t {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountQueuedAhead(_ context.Context, position int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, j := range f.jobs {
		if j.Status == domain.JobStatusQueued && j.QueuePosition < position {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) MarkProcessing(_ context.Context, id domain.JobID, startedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Status != domain.JobStatusQueued {
		return false, nil
	}
	j.Status = domain.JobStatusProcessing
	t := startedAt
	j.StartedAt = &t
	j.UpdatedAt = startedAt
	f.claimOrder = append(f.claimOrder, id)
	return true, nil
}

func (f *fakeStore) RequeueForRetry(_ context.Context, id domain.JobID, jobErr domain.JobError) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Status != domain.JobStatusProcessing {
		return false, nil
	}
	j.Status = domain.JobStatusQueued
	j.RetryCount++
	j.StartedAt = nil
	e := jobErr
	j.LastError = &e
	j.UpdatedAt = jobErr.Timestamp
	return true, nil
}

func (f *fakeStore) CompleteJob(_ context.Context, id domain.JobID, completedAt time.Time, result domain.RenderResult) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Status != domain.JobStatusProcessing {
		return false, nil
	}
	j.Status = domain.JobStatusCompleted
	t := completedAt
	j.CompletedAt = &t
	r := result
	j.Result = &r
	j.UpdatedAt = completedAt
	return true, nil
}

func (f *fakeStore) FailJob(_ context.Context, id domain.JobID, completedAt time.Time, jobErr domain.JobError) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Status != domain.JobStatusProcessing {
		return false, nil
	}
	j.Status = domain.JobStatusFailed
	t := completedAt
	j.CompletedAt = &t
	e := jobErr
	j.LastError = &e
	j.UpdatedAt = completedAt
	return true, nil
}

func (f *fakeStore) CancelJob(_ context.Context, id domain.JobID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Status != domain.JobStatusQueued {
		return false, nil
	}
	j.Status = domain.JobStatusCancelled
	return true, nil
}

func (f *fakeStore) Stats(_ context.Context) (domain.QueueStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stats domain.QueueStats
	for _, j := range f.jobs {
		switch j.Status {
		case domain.JobStatusQueued:
			stats.Queued++
		case domain.JobStatusProcessing:
			stats.Processing++
		case domain.JobStatusCompleted:
			stats.CompletedToday++
		case domain.JobStatusFailed:
			stats.FailedToday++
		}
	}
	return stats, nil
}

func (f *fakeStore) QueueConfig(_ context.Context) (domain.QueueConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg, nil
}

func (f *fakeStore) statusCount(status domain.JobStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, j := range f.jobs {
		if j.Status == status {
			n++
		}
	}
	return n
}
