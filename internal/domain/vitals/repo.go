package vitals

import "context"

// Repository persists the carryforward idempotency rows. Get returns
// (nil, nil) when the encounter has never been processed.
type Repository interface {
	Get(ctx context.Context, encounterID string) (*ProcessedVitalSigns, error)
	Create(ctx context.Context, rec *ProcessedVitalSigns) error
}
