package notecheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eni9889/ez-tracking-board-sub000/internal/domain/credentials"
	"github.com/eni9889/ez-tracking-board-sub000/internal/platform/analysis"
	"github.com/eni9889/ez-tracking-board-sub000/internal/platform/ezderm"
)

// maxStagger bounds how far into the future a scan may schedule a check.
// Without it a very large batch would push jobs hours out.
const maxStagger = 5 * time.Minute

// scanStatuses are the encounter states whose notes are checkable.
var scanStatuses = map[string]bool{
	ezderm.StatusPendingCosign: true,
	ezderm.StatusCheckedOut:    true,
	ezderm.StatusWithProvider:  true,
}

// Gateway is the slice of the EZDerm API the check pipeline uses.
type Gateway interface {
	ListEncounters(ctx context.Context, filter ezderm.EncounterFilter) ([]ezderm.Encounter, error)
	GetProgressNote(ctx context.Context, patientID, encounterID string) (*ezderm.ProgressNote, error)
	CreateTask(ctx context.Context, req ezderm.CreateTaskRequest) (*ezderm.CreateTaskResponse, error)
}

// CheckEnqueuer fans out individual check jobs. Implemented by the jobs
// layer over the queue runtime; scan and check never share in-process state.
type CheckEnqueuer interface {
	EnqueueCheck(ctx context.Context, encounterID, patientID string, force bool, delay time.Duration) error
}

// Service implements the deduplication ledger, the scan fan-out, and the
// per-encounter check.
type Service struct {
	repo         Repository
	gateway      Gateway
	analyzer     analysis.Analyzer
	fingerprints *Fingerprinter
	staggerDelay time.Duration
	checkedBy    string
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(repo Repository, gateway Gateway, analyzer analysis.Analyzer, fp *Fingerprinter, staggerDelay time.Duration, checkedBy string, logger zerolog.Logger) *Service {
	return &Service{
		repo:         repo,
		gateway:      gateway,
		analyzer:     analyzer,
		fingerprints: fp,
		staggerDelay: staggerDelay,
		checkedBy:    checkedBy,
		logger:       logger.With().Str("component", "notecheck").Logger(),
		now:          time.Now,
	}
}

// SetClock replaces the time source, for tests with deterministic staleness.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// ---------------------------------------------------------------------------
// Deduplication ledger
// ---------------------------------------------------------------------------

// ShouldCheck decides whether an encounter needs (re-)analysis given the
// fingerprint of the freshly fetched note. Unchanged notes inside the
// staleness window are never re-analyzed; this is what makes repeated scans
// idempotent and bounds analysis cost.
func (s *Service) ShouldCheck(rec *NoteCheckRecord, fingerprint string, force bool) bool {
	if force {
		return true
	}
	if rec == nil {
		return true
	}
	if rec.Status != CheckStatusCompleted {
		// Errored and stuck-pending checks are always retried.
		return true
	}
	if rec.ContentFingerprint != fingerprint {
		return true
	}
	return s.now().Sub(rec.CheckedAt) > StalenessWindow
}

// needsEnqueue is the scan-time variant: the note has not been fetched yet,
// so only record existence, prior errors, and staleness can be judged.
func (s *Service) needsEnqueue(rec *NoteCheckRecord, force bool) bool {
	if force || rec == nil {
		return true
	}
	if rec.Status == CheckStatusError || rec.Status == CheckStatusPending {
		return true
	}
	return s.now().Sub(rec.CheckedAt) > StalenessWindow
}

// ---------------------------------------------------------------------------
// Scan job
// ---------------------------------------------------------------------------

// Scan lists encounters from yesterday's midnight through now, filters to
// checkable ones, and enqueues one check per encounter the ledger does not
// rule out. The range reaches back a day so a note that becomes eligible
// shortly after midnight is still listed. A token or list failure fails the
// scan as a unit; a single enqueue failure only skips that encounter.
func (s *Service) Scan(ctx context.Context, enq CheckEnqueuer, force bool) (int, error) {
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	encounters, err := s.gateway.ListEncounters(ctx, ezderm.EncounterFilter{
		DateOfServiceRangeLow:  dayStart.AddDate(0, 0, -1),
		DateOfServiceRangeHigh: now,
		LightBean:              true,
	})
	if err != nil {
		if errors.Is(err, credentials.ErrAuthFailed) || ezderm.IsUnauthorized(err) {
			return 0, fmt.Errorf("scan aborted, authentication failed: %w", err)
		}
		return 0, fmt.Errorf("list encounters: %w", err)
	}

	enqueued := 0
	for _, enc := range encounters {
		if !s.eligible(enc, now) {
			continue
		}

		rec, err := s.repo.GetCheck(ctx, enc.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("encounter_id", enc.ID).Msg("ledger lookup failed, skipping")
			continue
		}
		if !s.needsEnqueue(rec, force) {
			continue
		}

		// Stagger fan-out so a big batch does not burst the upstream API.
		delay := time.Duration(enqueued) * s.staggerDelay
		if delay > maxStagger {
			delay = maxStagger
		}
		if err := enq.EnqueueCheck(ctx, enc.ID, enc.PatientID, force, delay); err != nil {
			s.logger.Error().Err(err).Str("encounter_id", enc.ID).Msg("enqueue check failed, skipping")
			continue
		}
		enqueued++
	}

	s.logger.Info().
		Int("listed", len(encounters)).
		Int("enqueued", enqueued).
		Msg("scan complete")
	return enqueued, nil
}

// eligible applies the status and minimum-age filters.
func (s *Service) eligible(enc ezderm.Encounter, now time.Time) bool {
	if !scanStatuses[enc.Status] {
		return false
	}
	return now.Sub(enc.DateOfService) > MinNoteAge
}

// ---------------------------------------------------------------------------
// Check job
// ---------------------------------------------------------------------------

// RunCheck executes one per-encounter check: fetch the note, consult the
// ledger, analyze, persist, and file a remediation task when issues are
// found. The returned error's classification drives the queue's
// retry-or-fail decision.
func (s *Service) RunCheck(ctx context.Context, encounterID, patientID string, force bool) error {
	log := s.logger.With().Str("encounter_id", encounterID).Logger()

	note, err := s.gateway.GetProgressNote(ctx, patientID, encounterID)
	if err != nil {
		return fmt.Errorf("fetch note: %w", err)
	}

	fingerprint := s.fingerprints.Fingerprint(note)

	rec, err := s.repo.GetCheck(ctx, encounterID)
	if err != nil {
		return fmt.Errorf("ledger lookup: %w", err)
	}
	if !s.ShouldCheck(rec, fingerprint, force) {
		log.Debug().Msg("note unchanged, skipping analysis")
		return nil
	}

	prev := ""
	if rec != nil {
		prev = rec.ContentFingerprint
	}
	next := &NoteCheckRecord{
		EncounterID:         encounterID,
		PatientID:           patientID,
		Status:              CheckStatusPending,
		ContentFingerprint:  fingerprint,
		PreviousFingerprint: prev,
		CheckedAt:           s.now().UTC(),
		CheckedBy:           s.checkedBy,
	}
	if rec != nil {
		next.ID = rec.ID
	}
	// The pending row goes down before analysis starts. A worker that dies
	// mid-check leaves a pending record, which the ledger treats as
	// retryable on the next scan.
	if err := s.repo.UpsertCheck(ctx, next); err != nil {
		return fmt.Errorf("persist pending check: %w", err)
	}

	result, err := s.analyzer.Analyze(ctx, note.Text())
	if err != nil {
		// Record the business failure, then let the classification decide
		// whether the queue retries.
		msg := err.Error()
		next.Status = CheckStatusError
		next.ErrorMessage = &msg
		if uerr := s.repo.UpsertCheck(ctx, next); uerr != nil {
			log.Error().Err(uerr).Msg("persist error record failed")
		}
		return fmt.Errorf("analyze note: %w", err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode analysis result: %w", err)
	}
	next.Status = CheckStatusCompleted
	next.AnalysisResult = raw
	next.IssuesFound = result.IssuesFound
	next.CheckedAt = s.now().UTC()

	if err := s.repo.UpsertCheck(ctx, next); err != nil {
		return fmt.Errorf("persist check: %w", err)
	}

	if result.IssuesFound {
		if err := s.fileTask(ctx, next, len(result.Issues)); err != nil {
			return err
		}
	}

	log.Info().Bool("issues_found", result.IssuesFound).Msg("check completed")
	return nil
}

// fileTask creates the upstream ToDo at most once per encounter.
func (s *Service) fileTask(ctx context.Context, rec *NoteCheckRecord, issuesCount int) error {
	existing, err := s.repo.GetTask(ctx, rec.EncounterID)
	if err != nil {
		return fmt.Errorf("task lookup: %w", err)
	}
	if existing != nil {
		return nil
	}

	resp, err := s.gateway.CreateTask(ctx, ezderm.CreateTaskRequest{
		Subject:     fmt.Sprintf("Note compliance: %d issue(s) found", issuesCount),
		Description: "Automated note check found documentation issues. Review the encounter note.",
		PatientID:   rec.PatientID,
		EncounterID: rec.EncounterID,
	})
	if err != nil {
		return fmt.Errorf("create remediation task: %w", err)
	}

	task := &RemediationTask{
		EncounterID:    rec.EncounterID,
		ExternalTaskID: resp.ID,
		Subject:        fmt.Sprintf("Note compliance: %d issue(s) found", issuesCount),
		IssuesCount:    issuesCount,
		CreatedBy:      s.checkedBy,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("record remediation task: %w", err)
	}

	s.logger.Info().
		Str("encounter_id", rec.EncounterID).
		Str("external_task_id", resp.ID).
		Msg("remediation task filed")
	return nil
}

// ---------------------------------------------------------------------------
// Issue annotations
// ---------------------------------------------------------------------------

// MarkIssue annotates one issue of the current check as invalid or
// resolved. The annotation is an upsert keyed by (check, index, kind).
func (s *Service) MarkIssue(ctx context.Context, encounterID string, issueIndex int, kind, markedBy string, reason *string) error {
	if kind != MarkInvalid && kind != MarkResolved {
		return fmt.Errorf("unknown mark kind %q", kind)
	}

	rec, err := s.repo.GetCheck(ctx, encounterID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no check record for encounter %s", encounterID)
	}

	var result analysis.Result
	if len(rec.AnalysisResult) > 0 {
		if err := json.Unmarshal(rec.AnalysisResult, &result); err != nil {
			return fmt.Errorf("decode analysis result: %w", err)
		}
	}
	if issueIndex < 0 || issueIndex >= len(result.Issues) {
		return fmt.Errorf("issue index %d out of range (check has %d issues)", issueIndex, len(result.Issues))
	}

	return s.repo.AddMark(ctx, &IssueMark{
		EncounterID: encounterID,
		CheckID:     rec.ID,
		IssueIndex:  issueIndex,
		Kind:        kind,
		MarkedBy:    markedBy,
		MarkedAt:    s.now().UTC(),
		Reason:      reason,
	})
}

// GetCheckWithMarks returns the current check record and its annotations.
func (s *Service) GetCheckWithMarks(ctx context.Context, encounterID string) (*NoteCheckRecord, []*IssueMark, error) {
	rec, err := s.repo.GetCheck(ctx, encounterID)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		return nil, nil, nil
	}
	marks, err := s.repo.ListMarks(ctx, rec.ID)
	if err != nil {
		return nil, nil, err
	}
	return rec, marks, nil
}
