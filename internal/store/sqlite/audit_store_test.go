package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskfire/internal/models"
	"taskfire/internal/state"
	"taskfire/internal/store"
)

func seedTransitions(t *testing.T, tasks *TaskStore) *models.TaskRecord {
	t.Helper()
	ctx := context.Background()

	rec := newTestTask(models.TypeEmail, models.PriorityHigh)
	require.NoError(t, tasks.Insert(ctx, rec))
	require.NoError(t, tasks.Move(ctx, rec.ID, state.StateNeedsAction, state.StateInProgress, models.ActorSystem, "picked up"))
	require.NoError(t, tasks.Move(ctx, rec.ID, state.StateInProgress, state.StatePendingApproval, models.ActorSystem, "awaiting approval"))
	return rec
}

func TestAuditStore_ReadSince(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tasks := NewTaskStore(db)
	audit := NewAuditStore(db)

	seedTransitions(t, tasks)

	all, err := audit.ReadSince(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, all, 3)

	tail, err := audit.ReadSince(ctx, all[0].SequenceNo, 100)
	require.NoError(t, err)
	assert.Len(t, tail, 2)
	assert.Equal(t, all[1].SequenceNo, tail[0].SequenceNo)
}

func TestAuditStore_LastSequence(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tasks := NewTaskStore(db)
	audit := NewAuditStore(db)

	last, err := audit.LastSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)

	seedTransitions(t, tasks)

	last, err = audit.LastSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestAuditStore_SequenceNumbersAreContinuous(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tasks := NewTaskStore(db)
	audit := NewAuditStore(db)

	for i := 0; i < 4; i++ {
		seedTransitions(t, tasks)
	}

	entries, err := audit.ReadSince(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, entries, 12)

	ok, gapAfter := store.VerifyContinuity(entries)
	assert.True(t, ok)
	assert.Equal(t, int64(0), gapAfter)
}

func TestVerifyContinuity_DetectsGap(t *testing.T) {
	now := time.Now().UTC()
	entries := []models.AuditEntry{
		{SequenceNo: 1, TaskID: "a", Timestamp: now},
		{SequenceNo: 2, TaskID: "a", Timestamp: now},
		{SequenceNo: 5, TaskID: "a", Timestamp: now},
	}

	ok, gapAfter := store.VerifyContinuity(entries)
	assert.False(t, ok)
	assert.Equal(t, int64(2), gapAfter)
}
