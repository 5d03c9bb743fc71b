package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const jobColumns = `id, type, payload, status, attempts, last_error, created_at, updated_at`

// Queue is the SQLite implementation of JobStore over the jobs table created
// by the db package migrations. The caller owns the *sql.DB.
type Queue struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ JobStore = (*Queue)(nil)

type QueueOption func(*Queue)

func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithQueueClock overrides the time source used for created_at/updated_at.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) {
		q.now = now
	}
}

func NewQueue(db *sql.DB, opts ...QueueOption) *Queue {
	q := &Queue{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Enqueue(ctx context.Context, jobType JobType, payload []byte) (string, error) {
	id := uuid.NewString()
	now := q.now().UTC().UnixNano()

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, payload, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, 'PENDING', 0, ?, ?)
	`, id, string(jobType), string(payload), now, now)
	if err != nil {
		return "", NewStorageError("enqueue", err)
	}

	return id, nil
}

// ClaimNext flips the oldest PENDING job to PROCESSING with one UPDATE ...
// RETURNING statement, so selection and status change cannot interleave with
// another claim.
func (q *Queue) ClaimNext(ctx context.Context) (*Job, error) {
	now := q.now().UTC().UnixNano()

	row := q.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = 'PROCESSING', updated_at = ?
		WHERE seq = (
			SELECT seq FROM jobs
			WHERE status = 'PENDING'
			ORDER BY created_at ASC, seq ASC
			LIMIT 1
		) AND status = 'PENDING'
		RETURNING `+jobColumns, now)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, NewStorageError("claim", err)
	}

	return job, nil
}

func (q *Queue) Resolve(ctx context.Context, id string, outcome Outcome) error {
	if err := outcome.Validate(); err != nil {
		return err
	}
	now := q.now().UTC().UnixNano()

	var (
		result sql.Result
		err    error
	)
	if outcome.IsSuccess() {
		result, err = q.db.ExecContext(ctx, `
			UPDATE jobs SET status = 'SUCCESS', last_error = NULL, updated_at = ?
			WHERE id = ? AND status = 'PROCESSING'
		`, now, id)
	} else {
		increment := 0
		if outcome.CountsAttempt() {
			increment = 1
		}
		result, err = q.db.ExecContext(ctx, `
			UPDATE jobs SET status = 'FAILED', last_error = ?, attempts = attempts + ?, updated_at = ?
			WHERE id = ? AND status = 'PROCESSING'
		`, outcome.Message(), increment, now, id)
	}
	if err != nil {
		return NewStorageError("resolve", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return NewStorageError("resolve", err)
	}
	if affected == 0 {
		return q.transitionError(ctx, id, outcome.Status())
	}

	return nil
}

func (q *Queue) Requeue(ctx context.Context, id string) error {
	now := q.now().UTC().UnixNano()

	result, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'PENDING', updated_at = ?
		WHERE id = ? AND status = 'FAILED'
	`, now, id)
	if err != nil {
		return NewStorageError("requeue", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return NewStorageError("requeue", err)
	}
	if affected == 0 {
		return q.transitionError(ctx, id, JobStatusPending)
	}

	return nil
}

func (q *Queue) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := q.now().UTC()
	cutoff := now.Add(-olderThan).UnixNano()

	result, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'PENDING', updated_at = ?
		WHERE status = 'PROCESSING' AND updated_at < ?
	`, now.UnixNano(), cutoff)
	if err != nil {
		return 0, NewStorageError("reclaim", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, NewStorageError("reclaim", err)
	}
	if affected > 0 {
		q.logger.Warn("reclaimed stale processing jobs",
			slog.Int64("count", affected),
			slog.Duration("older_than", olderThan),
		)
	}

	return int(affected), nil
}

func (q *Queue) transitionError(ctx context.Context, id string, to JobStatus) error {
	var status string
	err := q.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return &InvalidTransitionError{JobID: id, To: to}
	}
	if err != nil {
		return NewStorageError("load status", err)
	}
	return &InvalidTransitionError{JobID: id, From: JobStatus(status), To: to}
}

func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get job %s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return nil, NewStorageError("get", err)
	}

	return job, nil
}

func (q *Queue) List(ctx context.Context, filter JobFilter) ([]*Job, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filter.Type))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, seq DESC LIMIT ? OFFSET ?"
	args = append(args, NormalizeLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewStorageError("list", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, NewStorageError("list", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("list", err)
	}

	return jobs, nil
}

func (q *Queue) Stats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats

	rows, err := q.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return stats, NewStorageError("stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, NewStorageError("stats", err)
		}
		stats.Add(JobStatus(status), count)
	}
	if err := rows.Err(); err != nil {
		return stats, NewStorageError("stats", err)
	}

	return stats, nil
}

// Close is a no-op; the caller owns the database handle.
func (q *Queue) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job              Job
		jobType, status  string
		payload          string
		lastError        sql.NullString
		created, updated int64
	)
	if err := row.Scan(&job.ID, &jobType, &payload, &status, &job.Attempts, &lastError, &created, &updated); err != nil {
		return nil, err
	}

	job.Type = JobType(jobType)
	job.Payload = []byte(payload)
	job.Status = JobStatus(status)
	if lastError.Valid {
		job.LastError = lastError.String
	}
	job.CreatedAt = time.Unix(0, created).UTC()
	job.UpdatedAt = time.Unix(0, updated).UTC()

	return &job, nil
}
