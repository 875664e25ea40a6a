package vitals

import (
	"time"

	"github.com/google/uuid"
)

// AdultAge is the minimum patient age for carryforward.
const AdultAge = 18

// ProcessedVitalSigns is the idempotency guard for carryforward: one row
// per encounter, ever. success=false rows record encounters where nothing
// was copied, either because the visit already had measured vitals or no
// usable history existed, so they are never retried.
type ProcessedVitalSigns struct {
	ID                uuid.UUID `db:"id" json:"id"`
	EncounterID       string    `db:"encounter_id" json:"encounter_id"`
	SourceEncounterID string    `db:"source_encounter_id" json:"source_encounter_id,omitempty"`
	HeightIn          float64   `db:"height_in" json:"height_in,omitempty"`
	WeightLbs         float64   `db:"weight_lbs" json:"weight_lbs,omitempty"`
	Success           bool      `db:"success" json:"success"`
	ProcessedAt       time.Time `db:"processed_at" json:"processed_at"`
}

// AgeAt returns the age in whole years at ref for a YYYY-MM-DD birth date,
// using calendar arithmetic rather than year subtraction. Returns an error
// for unparseable dates.
func AgeAt(dateOfBirth string, ref time.Time) (int, error) {
	dob, err := time.Parse("2006-01-02", dateOfBirth)
	if err != nil {
		return 0, err
	}
	years := ref.Year() - dob.Year()
	// Birthday not yet reached this year.
	if ref.Month() < dob.Month() || (ref.Month() == dob.Month() && ref.Day() < dob.Day()) {
		years--
	}
	return years, nil
}
