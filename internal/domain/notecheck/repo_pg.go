package notecheck

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

const checkCols = `id, encounter_id, patient_id, status, content_fingerprint, previous_fingerprint,
	analysis_result, issues_found, checked_at, checked_by, error_message`

func (r *repoPG) GetCheck(ctx context.Context, encounterID string) (*NoteCheckRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+checkCols+` FROM note_checks WHERE encounter_id = $1`, encounterID)

	var rec NoteCheckRecord
	err := row.Scan(&rec.ID, &rec.EncounterID, &rec.PatientID, &rec.Status,
		&rec.ContentFingerprint, &rec.PreviousFingerprint, &rec.AnalysisResult,
		&rec.IssuesFound, &rec.CheckedAt, &rec.CheckedBy, &rec.ErrorMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get check for %s: %w", encounterID, err)
	}
	return &rec, nil
}

func (r *repoPG) UpsertCheck(ctx context.Context, rec *NoteCheckRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO note_checks (`+checkCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (encounter_id) DO UPDATE SET
			status = EXCLUDED.status,
			content_fingerprint = EXCLUDED.content_fingerprint,
			previous_fingerprint = EXCLUDED.previous_fingerprint,
			analysis_result = EXCLUDED.analysis_result,
			issues_found = EXCLUDED.issues_found,
			checked_at = EXCLUDED.checked_at,
			checked_by = EXCLUDED.checked_by,
			error_message = EXCLUDED.error_message`,
		rec.ID, rec.EncounterID, rec.PatientID, rec.Status,
		rec.ContentFingerprint, rec.PreviousFingerprint, rec.AnalysisResult,
		rec.IssuesFound, rec.CheckedAt, rec.CheckedBy, rec.ErrorMessage)
	if err != nil {
		return fmt.Errorf("upsert check for %s: %w", rec.EncounterID, err)
	}
	return nil
}

func (r *repoPG) GetTask(ctx context.Context, encounterID string) (*RemediationTask, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, encounter_id, external_task_id, subject, assignee, issues_count, created_by, created_at
		FROM remediation_tasks WHERE encounter_id = $1
		ORDER BY created_at DESC LIMIT 1`, encounterID)

	var t RemediationTask
	err := row.Scan(&t.ID, &t.EncounterID, &t.ExternalTaskID, &t.Subject,
		&t.Assignee, &t.IssuesCount, &t.CreatedBy, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task for %s: %w", encounterID, err)
	}
	return &t, nil
}

func (r *repoPG) CreateTask(ctx context.Context, t *RemediationTask) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO remediation_tasks (id, encounter_id, external_task_id, subject, assignee, issues_count, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (encounter_id, external_task_id) DO NOTHING`,
		t.ID, t.EncounterID, t.ExternalTaskID, t.Subject,
		t.Assignee, t.IssuesCount, t.CreatedBy, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create task for %s: %w", t.EncounterID, err)
	}
	return nil
}

func (r *repoPG) AddMark(ctx context.Context, m *IssueMark) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.MarkedAt.IsZero() {
		m.MarkedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO issue_marks (id, encounter_id, check_id, issue_index, kind, marked_by, marked_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (encounter_id, check_id, issue_index, kind) DO UPDATE SET
			marked_by = EXCLUDED.marked_by,
			marked_at = EXCLUDED.marked_at,
			reason = EXCLUDED.reason`,
		m.ID, m.EncounterID, m.CheckID, m.IssueIndex, m.Kind, m.MarkedBy, m.MarkedAt, m.Reason)
	if err != nil {
		return fmt.Errorf("add %s mark for %s: %w", m.Kind, m.EncounterID, err)
	}
	return nil
}

func (r *repoPG) ListMarks(ctx context.Context, checkID uuid.UUID) ([]*IssueMark, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, encounter_id, check_id, issue_index, kind, marked_by, marked_at, reason
		FROM issue_marks WHERE check_id = $1
		ORDER BY issue_index, kind`, checkID)
	if err != nil {
		return nil, fmt.Errorf("list marks for %s: %w", checkID, err)
	}
	defer rows.Close()

	var marks []*IssueMark
	for rows.Next() {
		var m IssueMark
		if err := rows.Scan(&m.ID, &m.EncounterID, &m.CheckID, &m.IssueIndex,
			&m.Kind, &m.MarkedBy, &m.MarkedAt, &m.Reason); err != nil {
			return nil, fmt.Errorf("scan mark: %w", err)
		}
		marks = append(marks, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate marks: %w", err)
	}
	return marks, nil
}
