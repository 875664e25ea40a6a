package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler processes one claimed job. Returning nil completes the job; a
// Permanent-wrapped error fails it immediately; any other error reschedules
// it on the backoff curve until the attempt cap is reached.
type Handler func(ctx context.Context, job *Job) error

// Validator is implemented by payload types that can reject bad input at
// enqueue time.
type Validator interface {
	Validate() error
}

// QueueConfig declares one named queue.
type QueueConfig struct {
	Name        string
	Concurrency int
	MaxAttempts int
	Handler     Handler
	// Every, when nonzero, enqueues RecurringPayload on this interval
	// (and once at startup).
	Every            time.Duration
	RecurringPayload func() interface{}
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithPollInterval sets how often idle workers poll for due jobs.
func WithPollInterval(d time.Duration) RuntimeOption {
	return func(r *Runtime) { r.pollInterval = d }
}

// WithBackoff sets the exponential backoff base and ceiling.
func WithBackoff(base, max time.Duration) RuntimeOption {
	return func(r *Runtime) {
		r.backoffBase = base
		r.backoffMax = max
	}
}

// Runtime drives the named queues: it claims due jobs up to each queue's
// concurrency cap, runs handlers, and enforces the retry budget uniformly.
type Runtime struct {
	store  Store
	logger zerolog.Logger
	queues []QueueConfig
	byName map[string]*QueueConfig

	pollInterval time.Duration
	backoffBase  time.Duration
	backoffMax   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRuntime creates a Runtime over the given store and queue declarations.
func NewRuntime(store Store, logger zerolog.Logger, queues []QueueConfig, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		store:        store,
		logger:       logger.With().Str("component", "queue").Logger(),
		queues:       queues,
		byName:       make(map[string]*QueueConfig, len(queues)),
		pollInterval: time.Second,
		backoffBase:  5 * time.Second,
		backoffMax:   10 * time.Minute,
	}
	for i := range r.queues {
		r.byName[r.queues[i].Name] = &r.queues[i]
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Enqueue validates and inserts a job on the named queue, scheduled after
// the given delay.
func (r *Runtime) Enqueue(ctx context.Context, queue string, payload interface{}, delay time.Duration) (*Job, error) {
	qc, ok := r.byName[queue]
	if !ok {
		return nil, fmt.Errorf("unknown queue %q", queue)
	}
	if v, ok := payload.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("invalid payload for %s: %w", queue, err)
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for %s: %w", queue, err)
	}

	job := &Job{
		Queue:       queue,
		Payload:     raw,
		MaxAttempts: qc.MaxAttempts,
		ScheduledAt: time.Now().UTC().Add(delay),
	}
	if err := r.store.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	r.logger.Debug().
		Str("queue", queue).
		Str("job_id", job.ID.String()).
		Time("scheduled_at", job.ScheduledAt).
		Msg("job enqueued")
	return job, nil
}

// Start obliterates stale work, seeds the recurring triggers, and launches
// the worker pools. It returns immediately.
func (r *Runtime) Start(ctx context.Context) error {
	names := make([]string, len(r.queues))
	for i, q := range r.queues {
		names[i] = q.Name
	}
	removed, err := r.store.Obliterate(ctx, names)
	if err != nil {
		return fmt.Errorf("obliterate stale jobs: %w", err)
	}
	if removed > 0 {
		r.logger.Info().Int64("removed", removed).Msg("cleared stale jobs at startup")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	for i := range r.queues {
		qc := &r.queues[i]

		for w := 0; w < qc.Concurrency; w++ {
			r.wg.Add(1)
			go r.worker(runCtx, qc)
		}

		if qc.Every > 0 {
			// Seed one trigger immediately, then tick.
			if _, err := r.Enqueue(ctx, qc.Name, qc.RecurringPayload(), 0); err != nil {
				r.logger.Error().Err(err).Str("queue", qc.Name).Msg("seed recurring trigger failed")
			}
			r.wg.Add(1)
			go r.ticker(runCtx, qc)
		}
	}

	r.logger.Info().Int("queues", len(r.queues)).Msg("queue runtime started")
	return nil
}

// Drain stops claiming new jobs and waits for in-flight handlers to finish,
// up to the context deadline.
func (r *Runtime) Drain(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain queue runtime: %w", ctx.Err())
	}
}

// Stop cancels the workers without waiting.
func (r *Runtime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Stats returns the counter set for every declared queue.
func (r *Runtime) Stats(ctx context.Context) ([]*Stats, error) {
	out := make([]*Stats, 0, len(r.queues))
	for _, q := range r.queues {
		s, err := r.store.Stats(ctx, q.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// RunOnce claims and processes at most one due job on the named queue,
// synchronously. Tests and the one-shot CLI use this instead of Start.
// It reports whether a job was processed.
func (r *Runtime) RunOnce(ctx context.Context, queue string) (bool, error) {
	qc, ok := r.byName[queue]
	if !ok {
		return false, fmt.Errorf("unknown queue %q", queue)
	}
	job, err := r.store.ClaimNext(ctx, queue, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	r.process(ctx, qc, job)
	return true, nil
}

func (r *Runtime) worker(ctx context.Context, qc *QueueConfig) {
	defer r.wg.Done()

	for {
		job, err := r.store.ClaimNext(ctx, qc.Name, time.Now().UTC())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error().Err(err).Str("queue", qc.Name).Msg("claim failed")
		}
		if job != nil {
			r.process(ctx, qc, job)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.pollInterval):
		}
	}
}

func (r *Runtime) ticker(ctx context.Context, qc *QueueConfig) {
	defer r.wg.Done()

	t := time.NewTicker(qc.Every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.Enqueue(ctx, qc.Name, qc.RecurringPayload(), 0); err != nil {
				r.logger.Error().Err(err).Str("queue", qc.Name).Msg("recurring enqueue failed")
			}
		}
	}
}

// process runs one handler invocation and settles the job's next state.
func (r *Runtime) process(ctx context.Context, qc *QueueConfig, job *Job) {
	log := r.logger.With().
		Str("queue", qc.Name).
		Str("job_id", job.ID.String()).
		Int("attempt", job.Attempt+1).
		Logger()

	start := time.Now()
	err := r.runHandler(ctx, qc.Handler, job)
	elapsed := time.Since(start)

	if err == nil {
		if cerr := r.store.Complete(ctx, job.ID); cerr != nil {
			log.Error().Err(cerr).Msg("mark job completed failed")
		}
		log.Info().Dur("elapsed", elapsed).Msg("job completed")
		return
	}

	attempt := job.Attempt + 1
	if IsPermanent(err) || attempt >= job.MaxAttempts {
		if ferr := r.store.Fail(ctx, job.ID, err.Error()); ferr != nil {
			log.Error().Err(ferr).Msg("mark job failed failed")
		}
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("job permanently failed")
		return
	}

	retryAt := time.Now().UTC().Add(r.backoff(attempt))
	if rerr := r.store.Retry(ctx, job.ID, err.Error(), retryAt); rerr != nil {
		log.Error().Err(rerr).Msg("reschedule job failed")
		return
	}
	log.Warn().Err(err).Time("retry_at", retryAt).Msg("job attempt failed, rescheduled")
}

// runHandler guards against handler panics so one bad job cannot kill a
// worker goroutine.
func (r *Runtime) runHandler(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, job)
}

// backoff returns base * 2^(attempt-1), capped at the ceiling.
func (r *Runtime) backoff(attempt int) time.Duration {
	d := r.backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= r.backoffMax {
			return r.backoffMax
		}
	}
	if d > r.backoffMax {
		return r.backoffMax
	}
	return d
}
