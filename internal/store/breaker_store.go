package store

import (
	"context"

	"taskfire/internal/models"
)

// BreakerStore persists circuit-breaker state per named operation so
// that a tripped breaker survives process restart.
type BreakerStore interface {
	// Load returns the stored state for an operation, or nil when the
	// operation has never been recorded.
	Load(ctx context.Context, operation string) (*models.BreakerState, error)

	// Save upserts the state.
	Save(ctx context.Context, st *models.BreakerState) error

	Close() error
}
