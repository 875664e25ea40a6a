package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type testPayload struct {
	Target string `json:"target"`
}

func (p testPayload) Validate() error {
	if p.Target == "" {
		return fmt.Errorf("target is required")
	}
	return nil
}

func newTestRuntime(store Store, queues []QueueConfig) *Runtime {
	return NewRuntime(store, zerolog.Nop(), queues,
		WithPollInterval(5*time.Millisecond),
		WithBackoff(time.Second, 8*time.Second))
}

func TestEnqueueRejectsInvalidPayload(t *testing.T) {
	store := NewInMemoryStore()
	rt := newTestRuntime(store, []QueueConfig{{Name: "work", Concurrency: 1, MaxAttempts: 3}})

	if _, err := rt.Enqueue(context.Background(), "work", testPayload{}, 0); err == nil {
		t.Error("invalid payload must be rejected at enqueue")
	}
	if _, err := rt.Enqueue(context.Background(), "nonexistent", testPayload{Target: "x"}, 0); err == nil {
		t.Error("unknown queue must be rejected")
	}
	if len(store.Snapshot()) != 0 {
		t.Error("rejected payloads must not reach the store")
	}
}

func TestRunOnceCompletesJob(t *testing.T) {
	store := NewInMemoryStore()
	var got testPayload
	rt := newTestRuntime(store, []QueueConfig{{
		Name:        "work",
		Concurrency: 1,
		MaxAttempts: 3,
		Handler: func(_ context.Context, job *Job) error {
			return json.Unmarshal(job.Payload, &got)
		},
	}})

	if _, err := rt.Enqueue(context.Background(), "work", testPayload{Target: "e1"}, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	ran, err := rt.RunOnce(context.Background(), "work")
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if !ran {
		t.Fatal("expected a job to run")
	}
	if got.Target != "e1" {
		t.Errorf("payload not delivered: %+v", got)
	}

	jobs := store.Snapshot()
	if len(jobs) != 1 || jobs[0].State != StateCompleted {
		t.Errorf("job not completed: %+v", jobs[0])
	}

	// Queue drained.
	ran, err = rt.RunOnce(context.Background(), "work")
	if err != nil || ran {
		t.Errorf("expected empty queue, ran=%v err=%v", ran, err)
	}
}

func TestRunOnceRespectsSchedule(t *testing.T) {
	store := NewInMemoryStore()
	rt := newTestRuntime(store, []QueueConfig{{
		Name:        "work",
		Concurrency: 1,
		MaxAttempts: 3,
		Handler:     func(context.Context, *Job) error { return nil },
	}})

	if _, err := rt.Enqueue(context.Background(), "work", testPayload{Target: "later"}, time.Hour); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	ran, err := rt.RunOnce(context.Background(), "work")
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if ran {
		t.Error("future-scheduled job must not be claimed")
	}
}

func TestFailedJobReschedulesWithBackoff(t *testing.T) {
	store := NewInMemoryStore()
	rt := newTestRuntime(store, []QueueConfig{{
		Name:        "work",
		Concurrency: 1,
		MaxAttempts: 5,
		Handler:     func(context.Context, *Job) error { return fmt.Errorf("upstream 503") },
	}})

	if _, err := rt.Enqueue(context.Background(), "work", testPayload{Target: "e1"}, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	before := time.Now().UTC()
	if _, err := rt.RunOnce(context.Background(), "work"); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	jobs := store.Snapshot()
	j := jobs[0]
	if j.State != StateWaiting {
		t.Fatalf("failed attempt should return to waiting, got %s", j.State)
	}
	if j.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", j.Attempt)
	}
	if j.LastError == nil || *j.LastError != "upstream 503" {
		t.Errorf("last error not recorded: %v", j.LastError)
	}
	// First retry lands one backoff base out.
	delay := j.ScheduledAt.Sub(before)
	if delay < 900*time.Millisecond || delay > 2*time.Second {
		t.Errorf("unexpected retry delay %v", delay)
	}
}

func TestBackoffCurve(t *testing.T) {
	rt := newTestRuntime(NewInMemoryStore(), nil)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 8 * time.Second}, // capped
		{10, 8 * time.Second},
	}
	for _, tt := range tests {
		if got := rt.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPermanentErrorFailsImmediately(t *testing.T) {
	store := NewInMemoryStore()
	calls := 0
	rt := newTestRuntime(store, []QueueConfig{{
		Name:        "work",
		Concurrency: 1,
		MaxAttempts: 5,
		Handler: func(context.Context, *Job) error {
			calls++
			return Permanent(errors.New("payload references deleted encounter"))
		},
	}})

	if _, err := rt.Enqueue(context.Background(), "work", testPayload{Target: "e1"}, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := rt.RunOnce(context.Background(), "work"); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	jobs := store.Snapshot()
	if jobs[0].State != StateFailed {
		t.Errorf("permanent failure must not be retried, state=%s", jobs[0].State)
	}
	if calls != 1 {
		t.Errorf("expected 1 handler call, got %d", calls)
	}
}

func TestAttemptCapExhaustsToFailed(t *testing.T) {
	store := NewInMemoryStore()
	rt := newTestRuntime(store, []QueueConfig{{
		Name:        "work",
		Concurrency: 1,
		MaxAttempts: 2,
		Handler:     func(context.Context, *Job) error { return fmt.Errorf("still broken") },
	}})

	if _, err := rt.Enqueue(context.Background(), "work", testPayload{Target: "e1"}, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// First attempt: reschedule. Pull the retry forward so RunOnce sees it.
	if _, err := rt.RunOnce(context.Background(), "work"); err != nil {
		t.Fatalf("attempt 1 failed: %v", err)
	}
	jobs := store.Snapshot()
	if jobs[0].State != StateWaiting {
		t.Fatalf("after attempt 1: state=%s, want waiting", jobs[0].State)
	}
	store.mu.Lock()
	store.jobs[jobs[0].ID].ScheduledAt = time.Now().UTC().Add(-time.Second)
	store.mu.Unlock()

	// Second attempt: cap reached, job fails.
	if _, err := rt.RunOnce(context.Background(), "work"); err != nil {
		t.Fatalf("attempt 2 failed: %v", err)
	}
	jobs = store.Snapshot()
	if jobs[0].State != StateFailed {
		t.Errorf("after attempt 2: state=%s, want failed", jobs[0].State)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	store := NewInMemoryStore()
	rt := newTestRuntime(store, []QueueConfig{{
		Name:        "work",
		Concurrency: 1,
		MaxAttempts: 3,
		Handler:     func(context.Context, *Job) error { panic("nil map write") },
	}})

	if _, err := rt.Enqueue(context.Background(), "work", testPayload{Target: "e1"}, 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := rt.RunOnce(context.Background(), "work"); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	jobs := store.Snapshot()
	if jobs[0].State != StateWaiting {
		t.Errorf("panicking handler should reschedule, state=%s", jobs[0].State)
	}
	if jobs[0].LastError == nil {
		t.Error("panic not recorded as last error")
	}
}

func TestStartObliteratesStaleJobs(t *testing.T) {
	store := NewInMemoryStore()
	// Stale work left over from a previous process.
	for i := 0; i < 3; i++ {
		store.Enqueue(context.Background(), &Job{Queue: "work", Payload: []byte(`{}`), MaxAttempts: 3})
	}
	store.Enqueue(context.Background(), &Job{Queue: "other", Payload: []byte(`{}`), MaxAttempts: 3})

	rt := newTestRuntime(store, []QueueConfig{{
		Name:        "work",
		Concurrency: 0, // no workers; only the startup sweep matters here
		MaxAttempts: 3,
		Handler:     func(context.Context, *Job) error { return nil },
	}})

	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer rt.Stop()

	remaining := store.Snapshot()
	if len(remaining) != 1 || remaining[0].Queue != "other" {
		t.Errorf("expected only undeclared queues to survive, got %d jobs", len(remaining))
	}
}

func TestStartSeedsRecurringTrigger(t *testing.T) {
	store := NewInMemoryStore()
	rt := newTestRuntime(store, []QueueConfig{{
		Name:             "scan",
		Concurrency:      0,
		MaxAttempts:      3,
		Handler:          func(context.Context, *Job) error { return nil },
		Every:            time.Hour,
		RecurringPayload: func() interface{} { return testPayload{Target: "schedule"} },
	}})

	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer rt.Stop()

	jobs := store.Snapshot()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 seeded trigger, got %d", len(jobs))
	}
	if jobs[0].Queue != "scan" || jobs[0].State != StateWaiting {
		t.Errorf("unexpected seeded job: %+v", jobs[0])
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rt.Drain(ctx); err != nil {
		t.Errorf("Drain failed: %v", err)
	}
}

func TestStats(t *testing.T) {
	store := NewInMemoryStore()
	rt := newTestRuntime(store, []QueueConfig{
		{Name: "work", Concurrency: 1, MaxAttempts: 3, Handler: func(context.Context, *Job) error { return nil }},
		{Name: "scan", Concurrency: 1, MaxAttempts: 3, Handler: func(context.Context, *Job) error { return nil }},
	})

	rt.Enqueue(context.Background(), "work", testPayload{Target: "a"}, 0)
	rt.Enqueue(context.Background(), "work", testPayload{Target: "b"}, 0)
	rt.RunOnce(context.Background(), "work")

	stats, err := rt.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected stats for 2 queues, got %d", len(stats))
	}
	byQueue := map[string]*Stats{}
	for _, s := range stats {
		byQueue[s.Queue] = s
	}
	if byQueue["work"].Completed != 1 || byQueue["work"].Waiting != 1 {
		t.Errorf("unexpected work stats: %+v", byQueue["work"])
	}
	if byQueue["scan"].Waiting != 0 {
		t.Errorf("unexpected scan stats: %+v", byQueue["scan"])
	}
}
