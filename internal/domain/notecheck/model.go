package notecheck

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Check statuses.
const (
	CheckStatusPending   = "pending"
	CheckStatusCompleted = "completed"
	CheckStatusError     = "error"
)

// StalenessWindow is how old a successful check may be before the encounter
// becomes re-checkable even without content change.
const StalenessWindow = 6 * time.Hour

// MinNoteAge is how long after the date of service a note must have existed
// before the scan considers it; fresher notes are usually still being
// written.
const MinNoteAge = 2 * time.Hour

// NoteCheckRecord is the one-row-per-encounter outcome of the latest check.
type NoteCheckRecord struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	EncounterID         string          `db:"encounter_id" json:"encounter_id"`
	PatientID           string          `db:"patient_id" json:"patient_id"`
	Status              string          `db:"status" json:"status"`
	ContentFingerprint  string          `db:"content_fingerprint" json:"content_fingerprint"`
	PreviousFingerprint string          `db:"previous_fingerprint" json:"previous_fingerprint,omitempty"`
	AnalysisResult      json.RawMessage `db:"analysis_result" json:"analysis_result,omitempty"`
	IssuesFound         bool            `db:"issues_found" json:"issues_found"`
	CheckedAt           time.Time       `db:"checked_at" json:"checked_at"`
	CheckedBy           string          `db:"checked_by" json:"checked_by"`
	ErrorMessage        *string         `db:"error_message" json:"error_message,omitempty"`
}

// IssueMark is a soft annotation over one issue of a check's analysis
// result. Analysis data is never deleted, only annotated. Kind is "invalid"
// (false positive) or "resolved" (fixed in the chart).
type IssueMark struct {
	ID          uuid.UUID `db:"id" json:"id"`
	EncounterID string    `db:"encounter_id" json:"encounter_id"`
	CheckID     uuid.UUID `db:"check_id" json:"check_id"`
	IssueIndex  int       `db:"issue_index" json:"issue_index"`
	Kind        string    `db:"kind" json:"kind"`
	MarkedBy    string    `db:"marked_by" json:"marked_by"`
	MarkedAt    time.Time `db:"marked_at" json:"marked_at"`
	Reason      *string   `db:"reason" json:"reason,omitempty"`
}

const (
	MarkInvalid  = "invalid"
	MarkResolved = "resolved"
)

// RemediationTask records the upstream ToDo filed for an encounter whose
// check found issues. At most one per encounter unless explicitly
// re-triggered.
type RemediationTask struct {
	ID             uuid.UUID `db:"id" json:"id"`
	EncounterID    string    `db:"encounter_id" json:"encounter_id"`
	ExternalTaskID string    `db:"external_task_id" json:"external_task_id"`
	Subject        string    `db:"subject" json:"subject"`
	Assignee       string    `db:"assignee" json:"assignee,omitempty"`
	IssuesCount    int       `db:"issues_count" json:"issues_count"`
	CreatedBy      string    `db:"created_by" json:"created_by"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
