package ezderm

import (
	"context"
	"time"
)

// Encounter statuses used by the tracking jobs. The upstream API uses more,
// but these are the only ones the eligibility filters care about.
const (
	StatusReadyForStaff = "READY_FOR_STAFF"
	StatusWithProvider  = "WITH_PROVIDER"
	StatusPendingCosign = "PENDING_COSIGN"
	StatusCheckedOut    = "CHECKED_OUT"
)

// LoginRequest is the body for the authenticate call.
type LoginRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Application string `json:"application"`
	TimeZoneID  string `json:"timeZoneId"`
}

// LoginResponse carries the token pair and the per-session server base URL.
// Tokens expire roughly ten minutes after issuance.
type LoginResponse struct {
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
	Servers      map[string]string `json:"servers"`
}

// AppServerURL returns the application server base URL from a login response.
func (r *LoginResponse) AppServerURL() string {
	return r.Servers["app"]
}

// RefreshRequest is the body for the token refresh call.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Session is what an authenticated gateway call needs: a bearer token and
// the server the session is pinned to.
type Session struct {
	AccessToken string
	ServerURL   string
}

// TokenSource supplies sessions to authenticated gateway calls. Refresh is
// invoked at most once per call when the upstream rejects the token.
type TokenSource interface {
	Session(ctx context.Context) (Session, error)
	Refresh(ctx context.Context) (Session, error)
}

// Encounter is an immutable snapshot returned by the list operations. It is
// consumed within the job that fetched it and never persisted.
type Encounter struct {
	ID                 string    `json:"id"`
	PatientID          string    `json:"patientId"`
	PatientFirstName   string    `json:"patientFirstName"`
	PatientLastName    string    `json:"patientLastName"`
	ChiefComplaint     string    `json:"chiefComplaintName"`
	DateOfService      time.Time `json:"dateOfService"`
	Status             string    `json:"status"`
	EstablishedPatient bool      `json:"establishedPatient"`
	DateOfBirth        string    `json:"dateOfBirth"` // YYYY-MM-DD
}

// PatientName returns "Last, First" for logging and task subjects.
func (e *Encounter) PatientName() string {
	if e.PatientLastName == "" {
		return e.PatientFirstName
	}
	return e.PatientLastName + ", " + e.PatientFirstName
}

// EncounterFilter selects encounters by service-date range and optionally by
// patient. Statuses are filtered client-side by the caller.
type EncounterFilter struct {
	DateOfServiceRangeLow  time.Time `json:"dateOfServiceRangeLow"`
	DateOfServiceRangeHigh time.Time `json:"dateOfServiceRangeHigh"`
	PatientID              string    `json:"patientId,omitempty"`
	LightBean              bool      `json:"lightBean"`
}

// ProgressNote is the clinical note attached to an encounter. The four
// narrative sections are the clinically-relevant content the dedup
// fingerprint is computed over.
type ProgressNote struct {
	EncounterID    string `json:"encounterId"`
	PatientID      string `json:"patientId"`
	ChiefComplaint string `json:"chiefComplaint"`
	Subjective     string `json:"subjective"`
	Objective      string `json:"objective"`
	Assessment     string `json:"assessment"`
	Plan           string `json:"plan"`
	SignedBy       string `json:"signedBy,omitempty"`
	CosignedBy     string `json:"cosignedBy,omitempty"`
	Status         string `json:"status"`
}

// Text returns the note narrative as a single block for analysis.
func (n *ProgressNote) Text() string {
	return "CHIEF COMPLAINT:\n" + n.ChiefComplaint +
		"\n\nSUBJECTIVE:\n" + n.Subjective +
		"\n\nOBJECTIVE:\n" + n.Objective +
		"\n\nASSESSMENT:\n" + n.Assessment +
		"\n\nPLAN:\n" + n.Plan
}

// NoteUpdate is a partial update to a progress note section.
type NoteUpdate struct {
	EncounterID string `json:"encounterId"`
	PatientID   string `json:"patientId"`
	Section     string `json:"section"`
	Text        string `json:"text"`
}

// VitalSigns is the measurement set attached to an encounter. Height is in
// inches, weight in pounds; zero means not recorded.
type VitalSigns struct {
	EncounterID string  `json:"encounterId"`
	PatientID   string  `json:"patientId"`
	HeightIn    float64 `json:"heightIn"`
	WeightLbs   float64 `json:"weightLbs"`
	BPSystolic  int     `json:"bpSystolic,omitempty"`
	BPDiastolic int     `json:"bpDiastolic,omitempty"`
}

// HasHeightAndWeight reports whether both measurements are recorded.
func (v *VitalSigns) HasHeightAndWeight() bool {
	return v.HeightIn > 0 && v.WeightLbs > 0
}

// CreateTaskRequest files a ToDo against a patient/encounter.
type CreateTaskRequest struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
	PatientID   string `json:"patientId"`
	EncounterID string `json:"encounterId"`
	AssigneeID  string `json:"assigneeId,omitempty"`
}

// CreateTaskResponse returns the upstream id of the created ToDo.
type CreateTaskResponse struct {
	ID string `json:"id"`
}
