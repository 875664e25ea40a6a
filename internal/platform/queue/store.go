package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence interface for jobs. Claiming must be atomic so
// two workers never run the same job concurrently.
type Store interface {
	// Enqueue inserts a new waiting job.
	Enqueue(ctx context.Context, job *Job) error
	// ClaimNext atomically moves the oldest due waiting job on the queue
	// to active and returns it, or nil when nothing is due.
	ClaimNext(ctx context.Context, queue string, now time.Time) (*Job, error)
	// Complete marks an active job completed.
	Complete(ctx context.Context, id uuid.UUID) error
	// Retry returns an active job to waiting with an incremented attempt
	// counter and a future scheduled_at.
	Retry(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error
	// Fail marks an active job permanently failed.
	Fail(ctx context.Context, id uuid.UUID, errMsg string) error
	// Obliterate removes all waiting and active jobs on the given queues.
	// Run at startup so a restart never resumes stale work.
	Obliterate(ctx context.Context, queues []string) (int64, error)
	// Stats returns the counter set for one queue.
	Stats(ctx context.Context, queue string) (*Stats, error)
}
