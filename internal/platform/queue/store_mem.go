package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a thread-safe, in-memory Store used in tests and for
// running a single job synchronously without a database.
type InMemoryStore struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*Job
	order []uuid.UUID
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{jobs: make(map[uuid.UUID]*Job)}
}

func (s *InMemoryStore) Enqueue(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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

	cp := *job
	s.jobs[job.ID] = &cp
	s.order = append(s.order, job.ID)
	return nil
}

func (s *InMemoryStore) ClaimNext(_ context.Context, queue string, now time.Time) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Job
	for _, id := range s.order {
		j := s.jobs[id]
		if j == nil || j.Queue != queue || j.State != StateWaiting || j.ScheduledAt.After(now) {
			continue
		}
		if best == nil || j.ScheduledAt.Before(best.ScheduledAt) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	best.State = StateActive
	best.UpdatedAt = time.Now().UTC()
	cp := *best
	return &cp, nil
}

func (s *InMemoryStore) Complete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		now := time.Now().UTC()
		j.State = StateCompleted
		j.CompletedAt = &now
		j.UpdatedAt = now
	}
	return nil
}

func (s *InMemoryStore) Retry(_ context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.State = StateWaiting
		j.Attempt++
		j.LastError = &errMsg
		j.ScheduledAt = retryAt
		j.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *InMemoryStore) Fail(_ context.Context, id uuid.UUID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		now := time.Now().UTC()
		j.State = StateFailed
		j.LastError = &errMsg
		j.CompletedAt = &now
		j.UpdatedAt = now
	}
	return nil
}

func (s *InMemoryStore) Obliterate(_ context.Context, queues []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	match := make(map[string]bool, len(queues))
	for _, q := range queues {
		match[q] = true
	}

	var removed int64
	for id, j := range s.jobs {
		if match[j.Queue] && (j.State == StateWaiting || j.State == StateActive) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemoryStore) Stats(_ context.Context, queue string) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &Stats{Queue: queue}
	for _, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		switch j.State {
		case StateWaiting:
			stats.Waiting++
		case StateActive:
			stats.Active++
		case StateCompleted:
			stats.Completed++
		case StateFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// Snapshot returns copies of all jobs, for test assertions.
func (s *InMemoryStore) Snapshot() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, id := range s.order {
		if j, ok := s.jobs[id]; ok {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out
}
