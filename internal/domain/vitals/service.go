package vitals

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eni9889/ez-tracking-board-sub000/internal/platform/ezderm"
)

// Gateway is the slice of the EZDerm API the carryforward sweep uses.
type Gateway interface {
	ListEncounters(ctx context.Context, filter ezderm.EncounterFilter) ([]ezderm.Encounter, error)
	GetHistoricalEncounters(ctx context.Context, patientID, excludeEncounterID string) ([]ezderm.Encounter, error)
	GetVitalSigns(ctx context.Context, patientID, encounterID string) (*ezderm.VitalSigns, error)
	UpdateVitalSigns(ctx context.Context, vs ezderm.VitalSigns) error
}

// Service carries forward the most recent height/weight onto newly-staffed
// encounters that lack them.
type Service struct {
	repo    Repository
	gateway Gateway
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, gateway Gateway, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		gateway: gateway,
		logger:  logger.With().Str("component", "vitals").Logger(),
		now:     time.Now,
	}
}

// SetClock replaces the time source, for deterministic sweep windows in
// tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// RunSweep processes all of today's eligible encounters. Per-encounter
// failures are logged and skipped; a list failure fails the sweep as a
// unit so the queue retries it.
func (s *Service) RunSweep(ctx context.Context) (int, error) {
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	encounters, err := s.gateway.ListEncounters(ctx, ezderm.EncounterFilter{
		DateOfServiceRangeLow:  dayStart,
		DateOfServiceRangeHigh: now,
		LightBean:              true,
	})
	if err != nil {
		return 0, fmt.Errorf("list encounters: %w", err)
	}

	processed := 0
	for _, enc := range encounters {
		ok, err := s.CarryForward(ctx, enc)
		if err != nil {
			s.logger.Error().Err(err).Str("encounter_id", enc.ID).Msg("carryforward failed, skipping")
			continue
		}
		if ok {
			processed++
		}
	}

	s.logger.Info().
		Int("listed", len(encounters)).
		Int("processed", processed).
		Msg("vitals sweep complete")
	return processed, nil
}

// CarryForward runs the eligibility gate and, when it passed, the copy.
// Reports whether a carryforward row was written.
func (s *Service) CarryForward(ctx context.Context, enc ezderm.Encounter) (bool, error) {
	if enc.Status != ezderm.StatusReadyForStaff {
		return false, nil
	}
	if !enc.EstablishedPatient {
		return false, nil
	}

	// Age is judged on the date of service, not the sweep time.
	age, err := AgeAt(enc.DateOfBirth, enc.DateOfService)
	if err != nil {
		s.logger.Warn().Str("encounter_id", enc.ID).Str("dob", enc.DateOfBirth).Msg("unparseable date of birth, skipping")
		return false, nil
	}
	if age < AdultAge {
		return false, nil
	}

	// Idempotency boundary: at most one carryforward attempt per
	// encounter, ever.
	existing, err := s.repo.Get(ctx, enc.ID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	// Measured vitals on the visit itself win over any history. A failure
	// here leaves no row so a later sweep retries.
	current, err := s.gateway.GetVitalSigns(ctx, enc.PatientID, enc.ID)
	if err != nil && !ezderm.IsNotFound(err) {
		return false, fmt.Errorf("fetch current vitals: %w", err)
	}
	if current != nil && current.HasHeightAndWeight() {
		if err := s.repo.Create(ctx, &ProcessedVitalSigns{
			EncounterID: enc.ID,
			Success:     false,
			ProcessedAt: s.now().UTC(),
		}); err != nil {
			return false, err
		}
		s.logger.Debug().Str("encounter_id", enc.ID).Msg("encounter already has vitals, nothing to copy")
		return true, nil
	}

	source, vs, err := s.findSource(ctx, enc)
	if err != nil {
		// Transient history failure: leave no row so a later sweep
		// retries this encounter.
		return false, err
	}
	if source == "" {
		// No usable history; record the miss so the encounter is never
		// retried.
		if err := s.repo.Create(ctx, &ProcessedVitalSigns{
			EncounterID: enc.ID,
			Success:     false,
			ProcessedAt: s.now().UTC(),
		}); err != nil {
			return false, err
		}
		s.logger.Debug().Str("encounter_id", enc.ID).Msg("no historical vitals found")
		return true, nil
	}

	if err := s.gateway.UpdateVitalSigns(ctx, ezderm.VitalSigns{
		EncounterID: enc.ID,
		PatientID:   enc.PatientID,
		HeightIn:    vs.HeightIn,
		WeightLbs:   vs.WeightLbs,
	}); err != nil {
		return false, fmt.Errorf("update vitals: %w", err)
	}

	if err := s.repo.Create(ctx, &ProcessedVitalSigns{
		EncounterID:       enc.ID,
		SourceEncounterID: source,
		HeightIn:          vs.HeightIn,
		WeightLbs:         vs.WeightLbs,
		Success:           true,
		ProcessedAt:       s.now().UTC(),
	}); err != nil {
		return false, err
	}

	s.logger.Info().
		Str("encounter_id", enc.ID).
		Str("source_encounter_id", source).
		Msg("vitals carried forward")
	return true, nil
}

// findSource scans the patient's history newest-first for the most recent
// encounter whose vitals include both a nonzero height and weight.
func (s *Service) findSource(ctx context.Context, enc ezderm.Encounter) (string, *ezderm.VitalSigns, error) {
	history, err := s.gateway.GetHistoricalEncounters(ctx, enc.PatientID, enc.ID)
	if err != nil {
		return "", nil, fmt.Errorf("fetch history: %w", err)
	}

	for _, h := range history {
		vs, err := s.gateway.GetVitalSigns(ctx, enc.PatientID, h.ID)
		if err != nil {
			if ezderm.IsNotFound(err) {
				continue
			}
			return "", nil, fmt.Errorf("fetch vitals for %s: %w", h.ID, err)
		}
		if vs.HasHeightAndWeight() {
			return h.ID, vs, nil
		}
	}
	return "", nil, nil
}
