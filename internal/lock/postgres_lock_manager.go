package lock

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresLockManager maps lock ids onto session-scoped advisory
// locks, so a crashed holder releases them automatically.
type PostgresLockManager struct {
	db *sql.DB
}

func NewPostgresLockManager(db *sql.DB) *PostgresLockManager {
	return &PostgresLockManager{db: db}
}

func (l *PostgresLockManager) Acquire(lockID int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockID)
	if err != nil {
		return fmt.Errorf("failed to acquire lock %d: %w", lockID, err)
	}
	return nil
}

func (l *PostgresLockManager) Release(lockID int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockID)
	if err != nil {
		return fmt.Errorf("failed to release lock %d: %w", lockID, err)
	}
	return nil
}
