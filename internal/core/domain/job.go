package domain

import (
	"encoding/json"
	"errors"
	"time"
)

type JobID string

type JobType string

const (
	JobTypeDoubt      JobType = "doubt"
	JobTypeTopicShort JobType = "topic_short"
	JobTypeDailyCA    JobType = "daily_ca"
	JobTypeNotes      JobType = "notes"
)

// Priority is the ordering key: lower rank dispatches first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether a job in this status can never transition again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

type ErrorCategory string

const (
	ErrorCategoryTimeout      ErrorCategory = "TIMEOUT"
	ErrorCategoryAPIError     ErrorCategory = "API_ERROR"
	ErrorCategoryInvalidInput ErrorCategory = "INVALID_INPUT"
	ErrorCategoryNotFound     ErrorCategory = "NOT_FOUND"
	ErrorCategoryUnknown      ErrorCategory = "UNKNOWN"
)

// JobError is the last failure recorded against a job, overwritten on each
// failure.
type JobError struct {
	Message   string        `json:"message"`
	Category  ErrorCategory `json:"category"`
	Retryable bool          `json:"retryable"`
	Timestamp time.Time     `json:"timestamp"`
}

// RenderError is the categorized outcome of a failed render backend call.
// The dispatcher consumes the category to decide between requeue and fail.
type RenderError struct {
	Category  ErrorCategory
	Message   string
	Retryable bool
}

func (e *RenderError) Error() string {
	return string(e.Category) + ": " + e.Message
}

// RenderResult is the normalized success payload from a render backend.
type RenderResult struct {
	VideoURL         string  `json:"video_url"`
	ThumbnailURL     string  `json:"thumbnail_url,omitempty"`
	DurationSeconds  float64 `json:"duration_seconds"`
	ProcessingTimeMS int64   `json:"processing_time_ms"`
}

// Job is one unit of asynchronous rendering work.
//
// The scheduler never interprets Payload; it is validated once at enqueue
// time and passed through to the render backend as-is. QueuePosition and
// CreatedAt are the fairness tie-break within a priority class and are never
// mutated after creation.
type Job struct {
	ID            JobID           `json:"id"`
	Type          JobType         `json:"job_type"`
	Priority      Priority        `json:"priority"`
	Status        JobStatus       `json:"status"`
	Payload       json.RawMessage `json:"payload"`
	QueuePosition int64           `json:"queue_position"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	LastError     *JobError       `json:"error_message,omitempty"`
	Result        *RenderResult   `json:"result,omitempty"`
	UserID        string          `json:"user_id,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RetriesLeft reports whether the job may be requeued after a retryable
// failure or timeout.
func (j *Job) RetriesLeft() bool {
	return j.RetryCount < j.MaxRetries
}

// QueueStats is the derived, non-authoritative dashboard view.
type QueueStats struct {
	Queued         int `json:"queued"`
	Processing     int `json:"processing"`
	CompletedToday int `json:"completed_today"`
	FailedToday    int `json:"failed_today"`
}

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrNotCancellable = errors.New("job is not cancellable")
	ErrInvalidPayload = errors.New("invalid job payload")
)
