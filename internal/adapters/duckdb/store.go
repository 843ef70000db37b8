package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/prepstack/render-queue/internal/core/domain"
	"github.com/prepstack/render-queue/internal/core/ports"
)

// Store implements ports.JobStore on DuckDB. The conditional UPDATE ...
// WHERE id = ? AND status = ? writes are the serialization point between
// concurrent schedulers; no global lock is held.
type Store struct {
	db *sql.DB
}

var _ ports.JobStore = (*Store)(nil)

func Open(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE SEQUENCE IF NOT EXISTS jobs_queue_position_seq`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id VARCHAR PRIMARY KEY,
			job_type VARCHAR NOT NULL,
			priority INTEGER NOT NULL,
			status VARCHAR NOT NULL,
			payload VARCHAR NOT NULL,
			queue_position BIGINT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 3,
			error_message VARCHAR,
			result VARCHAR,
			user_id VARCHAR,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS job_queue_config (
			id INTEGER PRIMARY KEY,
			max_concurrent_renders INTEGER NOT NULL,
			max_manim_renders INTEGER NOT NULL,
			job_timeout_minutes INTEGER NOT NULL,
			max_retries INTEGER NOT NULL,
			peak_hour_start VARCHAR NOT NULL,
			peak_hour_end VARCHAR NOT NULL,
			peak_worker_multiplier DOUBLE NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}

	def := domain.DefaultQueueConfig()
	_, err := s.db.Exec(`
		INSERT INTO job_queue_config (id, max_concurrent_renders, max_manim_renders, job_timeout_minutes, max_retries, peak_hour_start, peak_hour_end, peak_worker_multiplier)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		def.MaxConcurrentRenders, def.MaxManimRenders, def.JobTimeoutMinutes,
		def.MaxRetries, def.PeakHourStart, def.PeakHourEnd, def.PeakWorkerMultiplier,
	)
	return err
}

const jobColumns = `id, job_type, priority, status, payload, queue_position, retry_count, max_retries, error_message, result, user_id, started_at, completed_at, created_at, updated_at`

func (s *Store) Enqueue(ctx context.Context, job *domain.Job) error {
	row := s.db.QueryRowContext(ctx, `SELECT nextval('jobs_queue_position_seq')`)
	if err := row.Scan(&job.QueuePosition); err != nil {
		return fmt.Errorf("next queue position: %w", err)
	}

	var userID *string
	if job.UserID != "" {
		userID = &job.UserID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, NULL, NULL, ?, ?)`,
		string(job.ID), string(job.Type), int(job.Priority), string(job.Status),
		string(job.Payload), job.QueuePosition, job.RetryCount, job.MaxRetries,
		userID, job.CreatedAt, job.UpdatedAt,
	)
	return err
}

func (s *Store) GetJob(ctx context.Context, id domain.JobID) (domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, string(id))
	job, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Job{}, domain.ErrJobNotFound
		}
		return domain.Job{}, err
	}
	return job, nil
}

func (s *Store) ListQueued(ctx context.Context, limit int) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ?
		ORDER BY priority ASC, queue_position ASC
		LIMIT ?`,
		string(domain.JobStatusQueued), limit,
	)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (s *Store) ListStuck(ctx context.Context, deadline time.Time) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND started_at IS NOT NULL AND started_at < ?
		ORDER BY started_at ASC`,
		string(domain.JobStatusProcessing), deadline,
	)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (s *Store) CountProcessing(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM jobs WHERE status = ?`,
		string(domain.JobStatusProcessing),
	).Scan(&n)
	return n, err
}

func (s *Store) CountProcessingByType(ctx context.Context, t domain.JobType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM jobs WHERE status = ? AND job_type = ?`,
		string(domain.JobStatusProcessing), string(t),
	).Scan(&n)
	return n, err
}

func (s *Store) CountQueuedAhead(ctx context.Context, position int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM jobs WHERE status = ? AND queue_position < ?`,
		string(domain.JobStatusQueued), position,
	).Scan(&n)
	return n, err
}

func (s *Store) MarkProcessing(ctx context.Context, id domain.JobID, startedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.JobStatusProcessing), startedAt, startedAt,
		string(id), string(domain.JobStatusQueued),
	)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (s *Store) RequeueForRetry(ctx context.Context, id domain.JobID, jobErr domain.JobError) (bool, error) {
	errJSON, err := json.Marshal(jobErr)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, retry_count = retry_count + 1, started_at = NULL, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.JobStatusQueued), string(errJSON), jobErr.Timestamp,
		string(id), string(domain.JobStatusProcessing),
	)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (s *Store) CompleteJob(ctx context.Context, id domain.JobID, completedAt time.Time, result domain.RenderResult) (bool, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?, result = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.JobStatusCompleted), completedAt, string(resultJSON), completedAt,
		string(id), string(domain.JobStatusProcessing),
	)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (s *Store) FailJob(ctx context.Context, id domain.JobID, completedAt time.Time, jobErr domain.JobError) (bool, error) {
	errJSON, err := json.Marshal(jobErr)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.JobStatusFailed), completedAt, string(errJSON), completedAt,
		string(id), string(domain.JobStatusProcessing),
	)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (s *Store) CancelJob(ctx context.Context, id domain.JobID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.JobStatusCancelled), time.Now().UTC(),
		string(id), string(domain.JobStatusQueued),
	)
	if err != nil {
		return false, err
	}
	return oneRow(res)
}

func (s *Store) Stats(ctx context.Context) (domain.QueueStats, error) {
	var stats domain.QueueStats

	err := s.db.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'queued'),
			count(*) FILTER (WHERE status = 'processing')
		FROM jobs`,
	).Scan(&stats.Queued, &stats.Processing)
	if err != nil {
		return stats, err
	}

	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	err = s.db.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'completed' AND completed_at >= ?),
			count(*) FILTER (WHERE status = 'failed' AND completed_at >= ?)
		FROM jobs`,
		startOfDay, startOfDay,
	).Scan(&stats.CompletedToday, &stats.FailedToday)
	return stats, err
}

func (s *Store) QueueConfig(ctx context.Context) (domain.QueueConfig, error) {
	var cfg domain.QueueConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT max_concurrent_renders, max_manim_renders, job_timeout_minutes, max_retries, peak_hour_start, peak_hour_end, peak_worker_multiplier
		FROM job_queue_config WHERE id = 1`,
	).Scan(
		&cfg.MaxConcurrentRenders, &cfg.MaxManimRenders, &cfg.JobTimeoutMinutes,
		&cfg.MaxRetries, &cfg.PeakHourStart, &cfg.PeakHourEnd, &cfg.PeakWorkerMultiplier,
	)
	if err != nil {
		return domain.QueueConfig{}, fmt.Errorf("queue config not found: %w", err)
	}
	return cfg, nil
}

// SetQueueConfig overwrites the singleton tuning record. Used by operators
// and tests; the scheduler itself only reads it.
func (s *Store) SetQueueConfig(ctx context.Context, cfg domain.QueueConfig) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE job_queue_config SET
			max_concurrent_renders = ?, max_manim_renders = ?, job_timeout_minutes = ?,
			max_retries = ?, peak_hour_start = ?, peak_hour_end = ?, peak_worker_multiplier = ?
		WHERE id = 1`,
		cfg.MaxConcurrentRenders, cfg.MaxManimRenders, cfg.JobTimeoutMinutes,
		cfg.MaxRetries, cfg.PeakHourStart, cfg.PeakHourEnd, cfg.PeakWorkerMultiplier,
	)
	return err
}

func oneRow(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var j domain.Job
	var idStr, typeStr, statusStr, payloadStr string
	var priority int
	var errStr, resultStr, userID *string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&idStr, &typeStr, &priority, &statusStr, &payloadStr,
		&j.QueuePosition, &j.RetryCount, &j.MaxRetries,
		&errStr, &resultStr, &userID,
		&startedAt, &completedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return domain.Job{}, err
	}

	j.ID = domain.JobID(idStr)
	j.Type = domain.JobType(typeStr)
	j.Priority = domain.Priority(priority)
	j.Status = domain.JobStatus(statusStr)
	j.Payload = json.RawMessage(payloadStr)
	if errStr != nil {
		var jobErr domain.JobError
		if err := json.Unmarshal([]byte(*errStr), &jobErr); err == nil {
			j.LastError = &jobErr
		}
	}
	if resultStr != nil {
		var result domain.RenderResult
		if err := json.Unmarshal([]byte(*resultStr), &result); err == nil {
			j.Result = &result
		}
	}
	if userID != nil {
		j.UserID = *userID
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return j, nil
}

func collectJobs(rows *sql.Rows) ([]domain.Job, error) {
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
