package sqlite

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
		FROM breakers
		WHERE operation = ?
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
		INSERT INTO breakers (operation, consecutive_failures, tripped_at, reset_after_ms, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(operation) DO UPDATE SET
			consecutive_failures = excluded.consecutive_failures,
			tripped_at = excluded.tripped_at,
			reset_after_ms = excluded.reset_after_ms,
			updated_at = excluded.updated_at
	`, st.Operation, st.ConsecutiveFailures, st.TrippedAt, st.ResetAfter.Milliseconds(), time.Now().UTC())
	return err
}

func (s *BreakerStore) Close() error {
	return s.db.Close()
}
