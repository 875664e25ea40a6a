package notecheck

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists check records, issue marks, and remediation tasks.
// Gets return (nil, nil) when no row exists. Uniqueness constraints
// (one check per encounter, one mark per check+index+kind, one task per
// encounter+external id) are enforced by the store.
type Repository interface {
	GetCheck(ctx context.Context, encounterID string) (*NoteCheckRecord, error)
	UpsertCheck(ctx context.Context, rec *NoteCheckRecord) error

	GetTask(ctx context.Context, encounterID string) (*RemediationTask, error)
	CreateTask(ctx context.Context, task *RemediationTask) error

	AddMark(ctx context.Context, mark *IssueMark) error
	ListMarks(ctx context.Context, checkID uuid.UUID) ([]*IssueMark, error)
}
