package ezderm

import "context"

// Bound pairs a Client with a TokenSource so domain services can call the
// upstream without threading session plumbing through every signature.
type Bound struct {
	client *Client
	ts     TokenSource
}

// NewBound creates a Bound gateway.
func NewBound(client *Client, ts TokenSource) *Bound {
	return &Bound{client: client, ts: ts}
}

func (b *Bound) ListEncounters(ctx context.Context, filter EncounterFilter) ([]Encounter, error) {
	return b.client.ListEncounters(ctx, b.ts, filter)
}

func (b *Bound) GetHistoricalEncounters(ctx context.Context, patientID, excludeEncounterID string) ([]Encounter, error) {
	return b.client.GetHistoricalEncounters(ctx, b.ts, patientID, excludeEncounterID)
}

func (b *Bound) GetProgressNote(ctx context.Context, patientID, encounterID string) (*ProgressNote, error) {
	return b.client.GetProgressNote(ctx, b.ts, patientID, encounterID)
}

func (b *Bound) UpdateProgressNote(ctx context.Context, update NoteUpdate) error {
	return b.client.UpdateProgressNote(ctx, b.ts, update)
}

func (b *Bound) GetVitalSigns(ctx context.Context, patientID, encounterID string) (*VitalSigns, error) {
	return b.client.GetVitalSigns(ctx, b.ts, patientID, encounterID)
}

func (b *Bound) UpdateVitalSigns(ctx context.Context, vs VitalSigns) error {
	return b.client.UpdateVitalSigns(ctx, b.ts, vs)
}

func (b *Bound) CreateTask(ctx context.Context, req CreateTaskRequest) (*CreateTaskResponse, error) {
	return b.client.CreateTask(ctx, b.ts, req)
}
