package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"taskfire/internal/constants"
	"taskfire/internal/lock"
)

const schema = "taskfire_schema"

var schemaScripts = []string{
	`CREATE TABLE IF NOT EXISTS taskfire_schema.tasks (
		id              VARCHAR(64) PRIMARY KEY,
		type            VARCHAR(32)  NOT NULL,
		priority        VARCHAR(16)  NOT NULL,
		priority_rank   INTEGER      NOT NULL,
		state           VARCHAR(32)  NOT NULL,
		payload         JSONB        NULL,
		retry_count     INTEGER      NOT NULL DEFAULT 0,
		max_retries     INTEGER      NOT NULL,
		generation      INTEGER      NOT NULL DEFAULT 1,
		origin_id       VARCHAR(64)  NULL,
		decision        VARCHAR(16)  NULL,
		decision_actor  VARCHAR(128) NULL,
		decided_at      TIMESTAMPTZ  NULL,
		last_error      TEXT         NULL,
		next_attempt_at TIMESTAMPTZ  NULL,
		leased_by       VARCHAR(128) NULL,
		lease_expires   TIMESTAMPTZ  NULL,
		created_at      TIMESTAMPTZ  NOT NULL,
		updated_at      TIMESTAMPTZ  NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_queue
		ON taskfire_schema.tasks (state, priority_rank DESC, created_at ASC)`,
	`CREATE TABLE IF NOT EXISTS taskfire_schema.audit_log (
		sequence_no BIGSERIAL   PRIMARY KEY,
		task_id     VARCHAR(64) NOT NULL,
		from_state  VARCHAR(32) NOT NULL,
		to_state    VARCHAR(32) NOT NULL,
		actor       VARCHAR(16) NOT NULL,
		detail      TEXT        NULL,
		timestamp   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_task
		ON taskfire_schema.audit_log (task_id, sequence_no)`,
	`CREATE TABLE IF NOT EXISTS taskfire_schema.breakers (
		operation            VARCHAR(64) PRIMARY KEY,
		consecutive_failures INTEGER     NOT NULL DEFAULT 0,
		tripped_at           TIMESTAMPTZ NULL,
		reset_after_ms       BIGINT      NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL
	)`,
}

// Open connects to the server without applying the schema; run
// Migrate before using the stores.
func Open(connectionURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connectionURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the schema under a distributed lock so that only
// one instance runs migrations at a time.
func Migrate(db *sql.DB, lockMgr lock.DistributedLockManager) error {
	if err := lockMgr.Acquire(constants.MigrationLock); err != nil {
		return err
	}
	defer lockMgr.Release(constants.MigrationLock)

	if _, err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return err
	}

	for _, script := range schemaScripts {
		if _, err := db.Exec(script); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
