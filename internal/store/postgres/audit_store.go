package postgres

import (
	"context"
	"database/sql"

	"taskfire/internal/models"
)

type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

const auditColumns = `sequence_no, task_id, from_state, to_state, actor, detail, timestamp`

func (s *AuditStore) ReadSince(ctx context.Context, since int64, limit int) ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+auditColumns+`
		FROM taskfire_schema.audit_log
		WHERE sequence_no > $1
		ORDER BY sequence_no ASC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

func (s *AuditStore) ReadByTask(ctx context.Context, taskID string) ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+auditColumns+`
		FROM taskfire_schema.audit_log
		WHERE task_id = $1
		ORDER BY sequence_no ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

func (s *AuditStore) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(sequence_no) FROM taskfire_schema.audit_log`,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

func (s *AuditStore) Close() error {
	return s.db.Close()
}

func scanAuditEntries(rows *sql.Rows) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	for rows.Next() {
		var (
			e      models.AuditEntry
			detail sql.NullString
		)
		if err := rows.Scan(
			&e.SequenceNo,
			&e.TaskID,
			&e.FromState,
			&e.ToState,
			&e.Actor,
			&detail,
			&e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
