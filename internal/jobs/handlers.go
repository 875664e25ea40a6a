package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eni9889/ez-tracking-board-sub000/internal/domain/credentials"
	"github.com/eni9889/ez-tracking-board-sub000/internal/domain/notecheck"
	"github.com/eni9889/ez-tracking-board-sub000/internal/domain/vitals"
	"github.com/eni9889/ez-tracking-board-sub000/internal/platform/ezderm"
	"github.com/eni9889/ez-tracking-board-sub000/internal/platform/queue"
)

// Config sizes the queues.
type Config struct {
	CheckConcurrency int
	MaxAttempts      int
	ScanEvery        time.Duration
	VitalsEvery      time.Duration
}

// Handlers owns the queue handlers and the fan-out path between them.
type Handlers struct {
	checks *notecheck.Service
	vitals *vitals.Service
	rt     *queue.Runtime
	logger zerolog.Logger
}

func New(checks *notecheck.Service, vitalsSvc *vitals.Service, logger zerolog.Logger) *Handlers {
	return &Handlers{
		checks: checks,
		vitals: vitalsSvc,
		logger: logger.With().Str("component", "jobs").Logger(),
	}
}

// Bind attaches the runtime after construction; the runtime needs the
// queue configs (and therefore the handlers) first.
func (h *Handlers) Bind(rt *queue.Runtime) { h.rt = rt }

// QueueConfigs declares the three queues with their caps and recurring
// triggers.
func (h *Handlers) QueueConfigs(cfg Config) []queue.QueueConfig {
	return []queue.QueueConfig{
		{
			Name:             QueueScan,
			Concurrency:      1,
			MaxAttempts:      cfg.MaxAttempts,
			Handler:          h.HandleScan,
			Every:            cfg.ScanEvery,
			RecurringPayload: func() interface{} { return ScanPayload{TriggeredBy: "schedule"} },
		},
		{
			Name:        QueueCheck,
			Concurrency: cfg.CheckConcurrency,
			MaxAttempts: cfg.MaxAttempts,
			Handler:     h.HandleCheck,
		},
		{
			Name:             QueueVitals,
			Concurrency:      1,
			MaxAttempts:      cfg.MaxAttempts,
			Handler:          h.HandleVitals,
			Every:            cfg.VitalsEvery,
			RecurringPayload: func() interface{} { return VitalsPayload{TriggeredBy: "schedule"} },
		},
	}
}

// EnqueueCheck implements notecheck.CheckEnqueuer over the runtime.
func (h *Handlers) EnqueueCheck(ctx context.Context, encounterID, patientID string, force bool, delay time.Duration) error {
	_, err := h.rt.Enqueue(ctx, QueueCheck, CheckPayload{
		EncounterID: encounterID,
		PatientID:   patientID,
		Force:       force,
	}, delay)
	return err
}

// EnqueueScan enqueues an immediate scan (operator trigger).
func (h *Handlers) EnqueueScan(ctx context.Context, force bool, triggeredBy string) error {
	_, err := h.rt.Enqueue(ctx, QueueScan, ScanPayload{Force: force, TriggeredBy: triggeredBy}, 0)
	return err
}

// HandleScan runs one scan pass and fans out check jobs.
func (h *Handlers) HandleScan(ctx context.Context, job *queue.Job) error {
	var p ScanPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return queue.Permanent(fmt.Errorf("decode scan payload: %w", err))
	}
	_, err := h.checks.Scan(ctx, h, p.Force)
	return classify(err)
}

// HandleCheck runs one per-encounter check.
func (h *Handlers) HandleCheck(ctx context.Context, job *queue.Job) error {
	var p CheckPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return queue.Permanent(fmt.Errorf("decode check payload: %w", err))
	}
	if err := p.Validate(); err != nil {
		return queue.Permanent(err)
	}
	return classify(h.checks.RunCheck(ctx, p.EncounterID, p.PatientID, p.Force))
}

// HandleVitals runs one carryforward sweep.
func (h *Handlers) HandleVitals(ctx context.Context, job *queue.Job) error {
	var p VitalsPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return queue.Permanent(fmt.Errorf("decode vitals payload: %w", err))
	}
	_, err := h.vitals.RunSweep(ctx)
	return classify(err)
}

// classify maps the error taxonomy onto the runtime's retry decision:
// Transient failures retry on the backoff curve; exhausted auth, not-found,
// and fatal upstream errors fail the job immediately.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, credentials.ErrAuthFailed) {
		return queue.Permanent(err)
	}
	if ezderm.IsTransient(err) {
		return err
	}
	if ezderm.IsNotFound(err) || ezderm.IsFatal(err) || ezderm.IsUnauthorized(err) {
		return queue.Permanent(err)
	}
	// Unclassified infrastructure failure: let the backoff budget decide.
	return err
}
