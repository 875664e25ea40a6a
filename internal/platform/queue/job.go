// Package queue is a Postgres-durable work-queue runtime: named queues with
// independent concurrency caps, at-least-once delivery, exponential backoff
// with an attempt ceiling, and recurring triggers. Jobs are fire-and-forget
// units owned exclusively by this package; business code only enqueues.
package queue

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is one unit of work. Payload is an opaque JSON document; the jobs
// layer defines one tagged payload type per queue and validates it at
// enqueue time.
type Job struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Queue       string     `db:"queue" json:"queue"`
	Payload     []byte     `db:"payload" json:"payload"`
	Attempt     int        `db:"attempt" json:"attempt"`
	MaxAttempts int        `db:"max_attempts" json:"max_attempts"`
	ScheduledAt time.Time  `db:"scheduled_at" json:"scheduled_at"`
	State       State      `db:"state" json:"state"`
	LastError   *string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Stats is the per-queue counter set operators observe.
type Stats struct {
	Queue     string `json:"queue"`
	Waiting   int64  `json:"waiting"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
}

// permanentError marks a failure that must not be retried (malformed
// payload, upstream 404, exhausted auth).
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the runtime fails the job immediately instead of
// rescheduling it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
