package backend_postgres_migrations

import (
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigration(upAccounts, downAccounts)
}

func upAccounts(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS account (
			id VARCHAR(255) PRIMARY KEY,
			provider VARCHAR(32) NOT NULL,
			email VARCHAR(320) NOT NULL DEFAULT '',
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			access_token_expiry TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// The refresh scheduler scans by expiry
		`CREATE INDEX IF NOT EXISTS idx_account_expiry ON account(access_token_expiry) WHERE refresh_token <> ''`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}

func downAccounts(tx *sql.Tx) error {
	stmts := []string{
		`DROP INDEX IF EXISTS idx_account_expiry`,
		`DROP TABLE IF EXISTS account`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
