package backend_postgres_migrations

import (
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigration(upMessages, downMessages)
}

func upMessages(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS message_record (
			id VARCHAR(64) PRIMARY KEY,
			account_id VARCHAR(255) NOT NULL REFERENCES account(id) ON DELETE CASCADE,
			provider VARCHAR(32) NOT NULL,
			external_id VARCHAR(512) NOT NULL,
			sender TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			received_at TIMESTAMPTZ NOT NULL,
			priority_score SMALLINT CHECK (priority_score BETWEEN 0 AND 100),
			category VARCHAR(255) NOT NULL DEFAULT '',
			suggested_action TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (account_id, provider, external_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_message_record_received ON message_record(account_id, provider, received_at DESC)`,

		`CREATE TABLE IF NOT EXISTS message_summary (
			id VARCHAR(64) PRIMARY KEY,
			message_id VARCHAR(64) NOT NULL UNIQUE REFERENCES message_record(id) ON DELETE CASCADE,
			account_id VARCHAR(255) NOT NULL,
			summary TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}

func downMessages(tx *sql.Tx) error {
	stmts := []string{
		`DROP TABLE IF EXISTS message_summary`,
		`DROP INDEX IF EXISTS idx_message_record_received`,
		`DROP TABLE IF EXISTS message_record`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
