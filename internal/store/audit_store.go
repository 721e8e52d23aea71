package store

import (
	"context"

	"taskfire/internal/models"
)

// AuditStore reads the append-only transition log. Entries are written
// by the TaskStore inside the same transaction as the move itself;
// this interface is the read side for dashboards and reconstruction.
type AuditStore interface {
	// ReadSince returns entries with sequence_no > since, oldest first.
	ReadSince(ctx context.Context, since int64, limit int) ([]models.AuditEntry, error)

	// ReadByTask returns the full transition chain of one record.
	ReadByTask(ctx context.Context, taskID string) ([]models.AuditEntry, error)

	LastSequence(ctx context.Context) (int64, error)

	Close() error
}

// VerifyContinuity reports the first gap in a sequence of entries.
// A gap means the log was truncated or tampered with.
func VerifyContinuity(entries []models.AuditEntry) (ok bool, gapAfter int64) {
	for i := 1; i < len(entries); i++ {
		if entries[i].SequenceNo != entries[i-1].SequenceNo+1 {
			return false, entries[i-1].SequenceNo
		}
	}
	return true, 0
}
