package vitals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Get(ctx context.Context, encounterID string) (*ProcessedVitalSigns, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, encounter_id, source_encounter_id, height_in, weight_lbs, success, processed_at
		FROM processed_vital_signs WHERE encounter_id = $1`, encounterID)

	var p ProcessedVitalSigns
	err := row.Scan(&p.ID, &p.EncounterID, &p.SourceEncounterID, &p.HeightIn,
		&p.WeightLbs, &p.Success, &p.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get processed vitals for %s: %w", encounterID, err)
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *ProcessedVitalSigns) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.ProcessedAt.IsZero() {
		p.ProcessedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO processed_vital_signs (id, encounter_id, source_encounter_id, height_in, weight_lbs, success, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (encounter_id) DO NOTHING`,
		p.ID, p.EncounterID, p.SourceEncounterID, p.HeightIn, p.WeightLbs, p.Success, p.ProcessedAt)
	if err != nil {
		return fmt.Errorf("record processed vitals for %s: %w", p.EncounterID, err)
	}
	return nil
}
