package lock

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

const (
	lockHeartbeat  = 30 * time.Second
	lockStaleAfter = 2 * time.Minute
)

// SqliteLockManager backs locks with the engine_locks table. Rows
// carry the owner instance name so a restarted owner can re-acquire
// its own locks after an unclean shutdown. A held lock is refreshed
// on a heartbeat; a row whose last refresh is older than the stale
// window belongs to a dead instance and can be taken over by anyone.
type SqliteLockManager struct {
	db    *sql.DB
	owner string

	mutex      sync.Mutex
	heartbeats map[int]chan struct{}
}

func NewSqliteLockManager(db *sql.DB, owner string) *SqliteLockManager {
	return &SqliteLockManager{
		db:         db,
		owner:      owner,
		heartbeats: make(map[int]chan struct{}),
	}
}

func (l *SqliteLockManager) Acquire(lockID int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO engine_locks (lock_id, owner, acquired_at)
		VALUES (?, ?, ?)
		ON CONFLICT(lock_id) DO UPDATE SET
			owner = excluded.owner,
			acquired_at = excluded.acquired_at
		WHERE engine_locks.owner = excluded.owner
		   OR engine_locks.acquired_at <= ?
	`, lockID, l.owner, now, now.Add(-lockStaleAfter))
	if err != nil {
		return fmt.Errorf("failed to acquire lock %d: %w", lockID, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("lock %d is held by another instance", lockID)
	}

	l.startHeartbeat(lockID)
	return nil
}

func (l *SqliteLockManager) Release(lockID int) error {
	l.stopHeartbeat(lockID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := l.db.ExecContext(ctx,
		`DELETE FROM engine_locks WHERE lock_id = ? AND owner = ?`, lockID, l.owner)
	if err != nil {
		return fmt.Errorf("failed to release lock %d: %w", lockID, err)
	}
	return nil
}

func (l *SqliteLockManager) startHeartbeat(lockID int) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if _, running := l.heartbeats[lockID]; running {
		return
	}
	stop := make(chan struct{})
	l.heartbeats[lockID] = stop

	go func() {
		ticker := time.NewTicker(lockHeartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				l.refresh(lockID)
			}
		}
	}()
}

func (l *SqliteLockManager) stopHeartbeat(lockID int) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if stop, running := l.heartbeats[lockID]; running {
		close(stop)
		delete(l.heartbeats, lockID)
	}
}

// refresh bumps acquired_at so the row never looks stale while the
// owner is alive. The owner guard makes a post-takeover refresh a
// no-op.
func (l *SqliteLockManager) refresh(lockID int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, _ = l.db.ExecContext(ctx, `
		UPDATE engine_locks
		SET acquired_at = ?
		WHERE lock_id = ? AND owner = ?
	`, time.Now().UTC(), lockID, l.owner)
}
