package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type storePG struct {
	pool *pgxpool.Pool
}

// NewStore creates the Postgres-backed job store.
func NewStore(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

const jobCols = `id, queue, payload, attempt, max_attempts, scheduled_at, state, last_error, created_at, updated_at, completed_at`

func (s *storePG) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.State = StateWaiting
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = now
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, queue, payload, attempt, max_attempts, scheduled_at, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.Queue, job.Payload, job.Attempt, job.MaxAttempts,
		job.ScheduledAt, job.State, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// ClaimNext uses FOR UPDATE SKIP LOCKED so concurrent workers on the same
// queue never claim the same row.
func (s *storePG) ClaimNext(ctx context.Context, queue string, now time.Time) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET state = 'active', updated_at = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $1 AND state = 'waiting' AND scheduled_at <= $2
			ORDER BY scheduled_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobCols, queue, now)

	var j Job
	err := row.Scan(&j.ID, &j.Queue, &j.Payload, &j.Attempt, &j.MaxAttempts,
		&j.ScheduledAt, &j.State, &j.LastError, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job on %s: %w", queue, err)
	}
	return &j, nil
}

func (s *storePG) Complete(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET state = 'completed', completed_at = $2, updated_at = $2
		WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

func (s *storePG) Retry(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET state = 'waiting', attempt = attempt + 1,
			last_error = $2, scheduled_at = $3, updated_at = $4
		WHERE id = $1`, id, errMsg, retryAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("retry job %s: %w", id, err)
	}
	return nil
}

func (s *storePG) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET state = 'failed', last_error = $2, completed_at = $3, updated_at = $3
		WHERE id = $1`, id, errMsg, now)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	return nil
}

func (s *storePG) Obliterate(ctx context.Context, queues []string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE queue = ANY($1) AND state IN ('waiting', 'active')`, queues)
	if err != nil {
		return 0, fmt.Errorf("obliterate queues: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *storePG) Stats(ctx context.Context, queue string) (*Stats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT state, COUNT(*) FROM jobs WHERE queue = $1 GROUP BY state`, queue)
	if err != nil {
		return nil, fmt.Errorf("queue stats for %s: %w", queue, err)
	}
	defer rows.Close()

	stats := &Stats{Queue: queue}
	for rows.Next() {
		var state State
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		switch state {
		case StateWaiting:
			stats.Waiting = count
		case StateActive:
			stats.Active = count
		case StateCompleted:
			stats.Completed = count
		case StateFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue stats: %w", err)
	}
	return stats, nil
}
