package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"taskfire/internal/models"
)

type BreakerStore struct {
	db *sql.DB
}

func NewBreakerStore(db *sql.DB) *BreakerStore {
	return &BreakerStore{db: db}
}

func (s *BreakerStore) Load(ctx context.Context, operation string) (*models.BreakerState, error) {
	var (
		st           models.BreakerState
		trippedAt    sql.NullTime
		resetAfterMS int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT operation, consecutive_failures, tripped_at, reset_after_ms, updated_at
		FROM taskfire_schema.breakers
		WHERE operation = $1
	`, operation).Scan(&st.Operation, &st.ConsecutiveFailures, &trippedAt, &resetAfterMS, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if trippedAt.Valid {
		t := trippedAt.Time
		st.TrippedAt = &t
	}
	st.ResetAfter = time.Duration(resetAfterMS) * time.Millisecond
	return &st, nil
}

func (s *BreakerStore) Save(ctx context.Context, st *models.BreakerState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO taskfire_schema.breakers (operation, consecutive_failures, tripped_at, reset_after_ms, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (operation) DO UPDATE SET
			consecutive_failures = EXCLUDED.consecutive_failures,
			tripped_at = EXCLUDED.tripped_at,
			reset_after_ms = EXCLUDED.reset_after_ms,
			updated_at = EXCLUDED.updated_at
	`, st.Operation, st.ConsecutiveFailures, st.TrippedAt, st.ResetAfter.Milliseconds(), time.Now().UTC())
	return err
}

func (s *BreakerStore) Close() error {
	return s.db.Close()
}
