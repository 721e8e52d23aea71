package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var schemaScripts = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id              VARCHAR(64) PRIMARY KEY,
		type            VARCHAR(32)  NOT NULL,
		priority        VARCHAR(16)  NOT NULL,
		priority_rank   INTEGER      NOT NULL,
		state           VARCHAR(32)  NOT NULL,
		payload         TEXT         NULL,
		retry_count     INTEGER      NOT NULL DEFAULT 0,
		max_retries     INTEGER      NOT NULL,
		generation      INTEGER      NOT NULL DEFAULT 1,
		origin_id       VARCHAR(64)  NULL,
		decision        VARCHAR(16)  NULL,
		decision_actor  VARCHAR(128) NULL,
		decided_at      DATETIME     NULL,
		last_error      TEXT         NULL,
		next_attempt_at DATETIME     NULL,
		leased_by       VARCHAR(128) NULL,
		lease_expires   DATETIME     NULL,
		created_at      DATETIME     NOT NULL,
		updated_at      DATETIME     NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_queue
		ON tasks (state, priority_rank DESC, created_at ASC)`,
	// AUTOINCREMENT keeps sequence numbers monotonic and never reused,
	// even after deletes or restarts.
	`CREATE TABLE IF NOT EXISTS audit_log (
		sequence_no INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id     VARCHAR(64) NOT NULL,
		from_state  VARCHAR(32) NOT NULL,
		to_state    VARCHAR(32) NOT NULL,
		actor       VARCHAR(16) NOT NULL,
		detail      TEXT        NULL,
		timestamp   DATETIME    NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_task ON audit_log (task_id, sequence_no)`,
	`CREATE TABLE IF NOT EXISTS breakers (
		operation            VARCHAR(64) PRIMARY KEY,
		consecutive_failures INTEGER     NOT NULL DEFAULT 0,
		tripped_at           DATETIME    NULL,
		reset_after_ms       INTEGER     NOT NULL,
		updated_at           DATETIME    NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS engine_locks (
		lock_id     INTEGER      PRIMARY KEY,
		owner       VARCHAR(128) NOT NULL,
		acquired_at DATETIME     NOT NULL
	)`,
}

// Open connects to the embedded database and applies the schema.
// A busy timeout is set because multiple executor instances may share
// one database file.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Serialized writer access; sqlite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}

	for _, script := range schemaScripts {
		if _, err := db.Exec(script); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return db, nil
}
