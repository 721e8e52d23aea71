package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"taskfire/custom_errors"
	"taskfire/internal/models"
	"taskfire/internal/state"
)

const taskColumns = `id, type, priority, state, payload, retry_count, max_retries,
		generation, origin_id, decision, decision_actor, decided_at,
		last_error, next_attempt_at, leased_by, lease_expires,
		created_at, updated_at`

type TaskStore struct {
	db *sql.DB
}

func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

func (s *TaskStore) Insert(ctx context.Context, rec *models.TaskRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	rec.State = state.StateNeedsAction
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (
			id, type, priority, priority_rank, state, payload,
			retry_count, max_retries, generation, origin_id,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Type,
		rec.Priority,
		rec.Priority.Rank(),
		rec.State,
		string(rec.Payload),
		rec.MaxRetries,
		rec.Generation,
		rec.OriginID,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", rec.ID, err)
	}

	if err := appendAudit(ctx, tx, rec.ID, "", rec.State, models.ActorSystem, "task created", now); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *TaskStore) FindByID(ctx context.Context, id string) (*models.TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE id = ?
	`, id)

	rec, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, custom_errors.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *TaskStore) ListClaimable(ctx context.Context, st state.TaskState, now time.Time, limit int) ([]models.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE state = ?
		  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		  AND (leased_by IS NULL OR lease_expires <= ?)
		ORDER BY priority_rank DESC, created_at ASC
		LIMIT ?
	`, st, now.UTC(), now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTasks(rows)
}

func (s *TaskStore) ListDecided(ctx context.Context, now time.Time, limit int) ([]models.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE state = ?
		  AND decision IS NOT NULL
		  AND (leased_by IS NULL OR lease_expires <= ?)
		ORDER BY priority_rank DESC, created_at ASC
		LIMIT ?
	`, state.StatePendingApproval, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTasks(rows)
}

func (s *TaskStore) ListByState(ctx context.Context, st state.TaskState, page, pageSize int) (*models.PaginationResult[models.TaskRecord], error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	var totalItems int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE state = ?`, st,
	).Scan(&totalItems); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE state = ?
		ORDER BY priority_rank DESC, created_at ASC
		LIMIT ? OFFSET ?
	`, st, pageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}

	totalPages := int(math.Ceil(float64(totalItems) / float64(pageSize)))
	return &models.PaginationResult[models.TaskRecord]{
		Items:           tasks,
		TotalItems:      totalItems,
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}, nil
}

func (s *TaskStore) Claim(ctx context.Context, id, owner string, ttl time.Duration) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET leased_by = ?,
		    lease_expires = ?,
		    updated_at = ?
		WHERE id = ?
		  AND (leased_by IS NULL OR leased_by = ? OR lease_expires <= ?)
	`, owner, now.Add(ttl), now, id, owner, now)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		return nil
	}

	rec, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	holder := ""
	if rec.LeasedBy != nil {
		holder = *rec.LeasedBy
	}
	return &custom_errors.LeaseConflictError{TaskID: id, Holder: holder}
}

func (s *TaskStore) Release(ctx context.Context, id, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET leased_by = NULL,
		    lease_expires = NULL
		WHERE id = ? AND leased_by = ?
	`, id, owner)
	return err
}

func (s *TaskStore) ReclaimExpired(ctx context.Context, now time.Time) ([]string, error) {
	// in_progress records with a dead lease are requeued through the
	// regular move path so the audit trail records the recovery.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM tasks
		WHERE state = ? AND leased_by IS NOT NULL AND lease_expires <= ?
	`, state.StateInProgress, now.UTC())
	if err != nil {
		return nil, err
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		stale = append(stale, id)
	}
	rows.Close()

	var requeued []string
	for _, id := range stale {
		err := s.Move(ctx, id, state.StateInProgress, state.StateNeedsAction,
			models.ActorSystem, "lease expired; requeued")
		if err != nil {
			return requeued, err
		}
		requeued = append(requeued, id)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks
		SET leased_by = NULL,
		    lease_expires = NULL
		WHERE leased_by IS NOT NULL AND lease_expires <= ?
	`, now.UTC())
	return requeued, err
}

func (s *TaskStore) Move(ctx context.Context, id string, from, to state.TaskState, actor models.Actor, detail string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current state.TaskState
	err = tx.QueryRowContext(ctx, `SELECT state FROM tasks WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return custom_errors.ErrTaskNotFound
	}
	if err != nil {
		return err
	}

	// Replaying an already-applied move is a no-op: no second audit
	// entry, no state change.
	if current == to && current != from {
		return nil
	}
	if current != from {
		return &custom_errors.InvalidTransitionError{TaskID: id, From: from.String(), To: to.String()}
	}
	if !state.IsValidTransition(from, to) {
		return &custom_errors.InvalidTransitionError{TaskID: id, From: from.String(), To: to.String()}
	}

	// The lease is left untouched: the claim holder stays exclusive
	// across the transition until it calls Release or the lease expires.
	now := time.Now().UTC()
	query := `
		UPDATE tasks
		SET state = ?,
		    updated_at = ?
		WHERE id = ? AND state = ?
	`
	if to == state.StateDone {
		// Success resets the retry trail.
		query = `
			UPDATE tasks
			SET state = ?,
			    updated_at = ?,
			    retry_count = 0,
			    last_error = NULL,
			    next_attempt_at = NULL
			WHERE id = ? AND state = ?
		`
	}
	res, err := tx.ExecContext(ctx, query, to, now, id, from)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return &custom_errors.InvalidTransitionError{TaskID: id, From: from.String(), To: to.String()}
	}

	if err := appendAudit(ctx, tx, id, from, to, actor, detail, now); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *TaskStore) SetDecision(ctx context.Context, d models.ApprovalDecision) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET decision = ?,
		    decision_actor = ?,
		    decided_at = ?,
		    updated_at = ?
		WHERE id = ? AND state = ? AND decision IS NULL
	`, d.Decision, d.Actor, d.DecidedAt.UTC(), time.Now().UTC(), d.TaskID, state.StatePendingApproval)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		return nil
	}

	if _, err := s.FindByID(ctx, d.TaskID); err != nil {
		return err
	}
	return custom_errors.ErrDecisionNotAllowed
}

func (s *TaskStore) RecordFailure(ctx context.Context, id, errMsg string, nextAttemptAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET retry_count = retry_count + 1,
		    last_error = ?,
		    next_attempt_at = ?,
		    updated_at = ?
		WHERE id = ?
	`, errMsg, nextAttemptAt, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return custom_errors.ErrTaskNotFound
	}
	return nil
}

func (s *TaskStore) UpdatePayload(ctx context.Context, id string, payload []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET payload = ?,
		    updated_at = ?
		WHERE id = ?
	`, string(payload), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return custom_errors.ErrTaskNotFound
	}
	return nil
}

func (s *TaskStore) CountByState(ctx context.Context) (map[state.TaskState]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state, COUNT(*) AS count
		FROM tasks
		GROUP BY state
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[state.TaskState]int)
	for rows.Next() {
		var st state.TaskState
		var count int
		if err := rows.Scan(&st, &count); err != nil {
			return nil, err
		}
		result[st] = count
	}

	for _, st := range state.AllStates {
		if _, ok := result[st]; !ok {
			result[st] = 0
		}
	}
	return result, nil
}

func (s *TaskStore) Close() error {
	return s.db.Close()
}

func appendAudit(ctx context.Context, tx *sql.Tx, taskID string, from, to state.TaskState, actor models.Actor, detail string, ts time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (task_id, from_state, to_state, actor, detail, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, taskID, from, to, actor, detail, ts)
	if err != nil {
		return fmt.Errorf("append audit entry for %s: %w", taskID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.TaskRecord, error) {
	var (
		rec           models.TaskRecord
		payload       sql.NullString
		originID      sql.NullString
		decision      sql.NullString
		decisionActor sql.NullString
		decidedAt     sql.NullTime
		lastError     sql.NullString
		nextAttemptAt sql.NullTime
		leasedBy      sql.NullString
		leaseExpires  sql.NullTime
	)

	err := row.Scan(
		&rec.ID,
		&rec.Type,
		&rec.Priority,
		&rec.State,
		&payload,
		&rec.RetryCount,
		&rec.MaxRetries,
		&rec.Generation,
		&originID,
		&decision,
		&decisionActor,
		&decidedAt,
		&lastError,
		&nextAttemptAt,
		&leasedBy,
		&leaseExpires,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if payload.Valid {
		rec.Payload = []byte(payload.String)
	}
	if originID.Valid {
		rec.OriginID = &originID.String
	}
	if decision.Valid {
		d := models.Decision(decision.String)
		rec.Decision = &d
	}
	if decisionActor.Valid {
		rec.DecisionActor = &decisionActor.String
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		rec.DecidedAt = &t
	}
	if lastError.Valid {
		rec.LastError = &lastError.String
	}
	if nextAttemptAt.Valid {
		t := nextAttemptAt.Time
		rec.NextAttemptAt = &t
	}
	if leasedBy.Valid {
		rec.LeasedBy = &leasedBy.String
	}
	if leaseExpires.Valid {
		t := leaseExpires.Time
		rec.LeaseExpires = &t
	}
	return &rec, nil
}

func scanTasks(rows *sql.Rows) ([]models.TaskRecord, error) {
	var tasks []models.TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *rec)
	}
	return tasks, rows.Err()
}
