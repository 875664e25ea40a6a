// Package jobs binds the domain services to the queue runtime: it declares
// the named queues, their tagged payload types, and the handlers that
// decode payloads and drive the services.
package jobs

import "fmt"

// Queue names. Scan and vitals are strictly serialized (one in flight);
// checks fan out up to the configured concurrency.
const (
	QueueScan   = "note-check-scan"
	QueueCheck  = "individual-note-check"
	QueueVitals = "vitals-carryforward"
)

// ScanPayload triggers one scan pass.
type ScanPayload struct {
	Force       bool   `json:"force"`
	TriggeredBy string `json:"triggeredBy,omitempty"`
}

func (p ScanPayload) Validate() error { return nil }

// CheckPayload identifies one encounter to check.
type CheckPayload struct {
	EncounterID string `json:"encounterId"`
	PatientID   string `json:"patientId"`
	Force       bool   `json:"force"`
}

func (p CheckPayload) Validate() error {
	if p.EncounterID == "" {
		return fmt.Errorf("encounterId is required")
	}
	if p.PatientID == "" {
		return fmt.Errorf("patientId is required")
	}
	return nil
}

// VitalsPayload triggers one carryforward sweep.
type VitalsPayload struct {
	TriggeredBy string `json:"triggeredBy,omitempty"`
}

func (p VitalsPayload) Validate() error { return nil }
