package credentials

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no active identity has been stored yet.
var ErrNotFound = errors.New("credentials not found")

type Repository interface {
	// GetActive returns the single active identity, or ErrNotFound.
	GetActive(ctx context.Context) (*Credentials, error)
	// Upsert stores the full record, replacing any previous state for the
	// same username.
	Upsert(ctx context.Context, creds *Credentials) error
}
