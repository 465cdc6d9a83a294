package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS mailbox_watermarks (
	mailbox TEXT PRIMARY KEY,
	last_uid BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS response_outcomes (
	mailbox TEXT NOT NULL,
	uid BIGINT NOT NULL,
	message_id TEXT NOT NULL DEFAULT '',
	sender TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL,
	needs_escalation BOOLEAN NOT NULL,
	classification JSONB NOT NULL,
	disposition TEXT NOT NULL,
	response_text TEXT NOT NULL DEFAULT '',
	responded_at TIMESTAMPTZ,
	response_time_ms BIGINT,
	escalation_id TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (mailbox, uid)
);

CREATE INDEX IF NOT EXISTS idx_outcomes_recorded_at ON response_outcomes(recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_outcomes_sender ON response_outcomes(sender, recorded_at DESC);

CREATE TABLE IF NOT EXISTS escalations (
	id TEXT PRIMARY KEY,
	mailbox TEXT NOT NULL,
	uid BIGINT NOT NULL,
	message_id TEXT NOT NULL DEFAULT '',
	sender TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	factors JSONB NOT NULL,
	score INTEGER NOT NULL,
	priority TEXT NOT NULL,
	status TEXT NOT NULL,
	assigned_to TEXT,
	draft_response TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (mailbox, uid)
);

CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations(status, created_at DESC);

CREATE TABLE IF NOT EXISTS knowledge_documents (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	storage_key TEXT NOT NULL,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_knowledge_documents_owner ON knowledge_documents(owner, created_at);
`

// EnsureSchema creates the tables. Concurrent worker and api startups are
// serialized by an advisory lock.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026030101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
