package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const sqliteMemoryPath = ":memory:"

type sqliteMigration struct {
	version int
	sql     string
}

// Timestamps are stored as unix milliseconds so range scans compare numerically
var sqliteMigrations = []sqliteMigration{
	{
		version: 1,
		sql: `
			CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY
			);
			CREATE TABLE IF NOT EXISTS accounts (
				id TEXT PRIMARY KEY,
				provider TEXT NOT NULL,
				email TEXT NOT NULL DEFAULT '',
				access_token TEXT NOT NULL DEFAULT '',
				refresh_token TEXT NOT NULL DEFAULT '',
				access_token_expiry INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_accounts_expiry ON accounts(access_token_expiry);
			INSERT INTO schema_version (version) VALUES (1);
		`,
	},
	{
		version: 2,
		sql: `
			CREATE TABLE IF NOT EXISTS message_records (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
				provider TEXT NOT NULL,
				external_id TEXT NOT NULL,
				sender TEXT NOT NULL DEFAULT '',
				subject TEXT NOT NULL DEFAULT '',
				body TEXT NOT NULL DEFAULT '',
				received_at INTEGER NOT NULL,
				priority_score INTEGER,
				category TEXT NOT NULL DEFAULT '',
				suggested_action TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				UNIQUE (account_id, provider, external_id)
			);
			CREATE TABLE IF NOT EXISTS message_summaries (
				id TEXT PRIMARY KEY,
				message_id TEXT NOT NULL UNIQUE REFERENCES message_records(id) ON DELETE CASCADE,
				account_id TEXT NOT NULL,
				summary TEXT NOT NULL,
				created_at INTEGER NOT NULL
			);
			INSERT INTO schema_version (version) VALUES (2);
		`,
	},
}

// SQLiteStore implements Store on an embedded SQLite database
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies pending migrations
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = sqliteMemoryPath
	}

	dsn := path
	if path != sqliteMemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	} else {
		dsn = path + "?_pragma=foreign_keys(1)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// A single connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Str("path", path).Msg("opened sqlite store")
	return s, nil
}

func (s *SQLiteStore) runMigrations() error {
	current := 0

	var tables int
	if err := s.db.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'"); err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range sqliteMigrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteAccountRow struct {
	ID                string `db:"id"`
	Provider          string `db:"provider"`
	Email             string `db:"email"`
	AccessToken       string `db:"access_token"`
	RefreshToken      string `db:"refresh_token"`
	AccessTokenExpiry int64  `db:"access_token_expiry"`
	CreatedAt         int64  `db:"created_at"`
	UpdatedAt         int64  `db:"updated_at"`
}

func (r sqliteAccountRow) account() *types.Account {
	return &types.Account{
		ID:                r.ID,
		Provider:          types.Provider(r.Provider),
		Email:             r.Email,
		AccessToken:       r.AccessToken,
		RefreshToken:      r.RefreshToken,
		AccessTokenExpiry: fromMillis(r.AccessTokenExpiry),
		CreatedAt:         fromMillis(r.CreatedAt),
		UpdatedAt:         fromMillis(r.UpdatedAt),
	}
}

type sqliteMessageRow struct {
	ID              string        `db:"id"`
	AccountID       string        `db:"account_id"`
	Provider        string        `db:"provider"`
	ExternalID      string        `db:"external_id"`
	Sender          string        `db:"sender"`
	Subject         string        `db:"subject"`
	Body            string        `db:"body"`
	ReceivedAt      int64         `db:"received_at"`
	PriorityScore   sql.NullInt64 `db:"priority_score"`
	Category        string        `db:"category"`
	SuggestedAction string        `db:"suggested_action"`
	CreatedAt       int64         `db:"created_at"`
}

func (r sqliteMessageRow) message() *types.MessageRecord {
	m := &types.MessageRecord{
		ID:              r.ID,
		AccountID:       r.AccountID,
		Provider:        types.Provider(r.Provider),
		ExternalID:      r.ExternalID,
		Sender:          r.Sender,
		Subject:         r.Subject,
		Body:            r.Body,
		ReceivedAt:      fromMillis(r.ReceivedAt),
		Category:        r.Category,
		SuggestedAction: r.SuggestedAction,
		CreatedAt:       fromMillis(r.CreatedAt),
	}
	if r.PriorityScore.Valid {
		score := int(r.PriorityScore.Int64)
		m.PriorityScore = &score
	}
	return m
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*types.Account, error) {
	var row sqliteAccountRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM accounts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return row.account(), nil
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, account *types.Account) error {
	now := time.Now().UTC()
	created := account.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, provider, email, access_token, refresh_token, access_token_expiry, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID, string(account.Provider), account.Email, account.AccessToken, account.RefreshToken,
		toMillis(account.AccessTokenExpiry), toMillis(created), toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateAccountTokens(ctx context.Context, id, accessToken string, refreshToken *string, expiry time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET access_token = ?, refresh_token = COALESCE(?, refresh_token), access_token_expiry = ?, updated_at = ?
		WHERE id = ?`,
		accessToken, refreshToken, toMillis(expiry), toMillis(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("update account tokens: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update tokens %s: %w", id, types.ErrAccountNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListRefreshCandidates(ctx context.Context, deadline time.Time) ([]*types.Account, error) {
	var rows []sqliteAccountRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM accounts
		WHERE TRIM(refresh_token) != '' AND access_token_expiry <= ?
		ORDER BY access_token_expiry ASC`,
		toMillis(deadline),
	)
	if err != nil {
		return nil, fmt.Errorf("list refresh candidates: %w", err)
	}

	accounts := make([]*types.Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, r.account())
	}
	return accounts, nil
}

func (s *SQLiteStore) IngestedExternalIDs(ctx context.Context, accountID string, provider types.Provider) (map[string]struct{}, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT external_id FROM message_records WHERE account_id = ? AND provider = ?`,
		accountID, string(provider),
	)
	if err != nil {
		return nil, fmt.Errorf("list ingested ids: %w", err)
	}

	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *SQLiteStore) SaveIngested(ctx context.Context, messages []types.IngestedMessage) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range messages {
		msg := m.Message
		var score sql.NullInt64
		if msg.PriorityScore != nil {
			score = sql.NullInt64{Int64: int64(*msg.PriorityScore), Valid: true}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO message_records (id, account_id, provider, external_id, sender, subject, body, received_at,
				priority_score, category, suggested_action, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.AccountID, string(msg.Provider), msg.ExternalID, msg.Sender, msg.Subject, msg.Body,
			toMillis(msg.ReceivedAt), score, msg.Category, msg.SuggestedAction, toMillis(msg.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert message %s: %w", msg.ExternalID, err)
		}

		if m.Summary == nil {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO message_summaries (id, message_id, account_id, summary, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			m.Summary.ID, msg.ID, m.Summary.AccountID, m.Summary.Summary, toMillis(m.Summary.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert summary for %s: %w", msg.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, accountID string, provider types.Provider) ([]*types.MessageRecord, error) {
	var rows []sqliteMessageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM message_records
		WHERE account_id = ? AND provider = ?
		ORDER BY received_at DESC`,
		accountID, string(provider),
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	out := make([]*types.MessageRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.message())
	}
	return out, nil
}

// GetSummary returns the summary stored for a message, or nil if none
func (s *SQLiteStore) GetSummary(ctx context.Context, messageID string) (*types.SummaryRecord, error) {
	var row struct {
		ID        string `db:"id"`
		MessageID string `db:"message_id"`
		AccountID string `db:"account_id"`
		Summary   string `db:"summary"`
		CreatedAt int64  `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT * FROM message_summaries WHERE message_id = ?`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	return &types.SummaryRecord{
		ID:        row.ID,
		MessageID: row.MessageID,
		AccountID: row.AccountID,
		Summary:   row.Summary,
		CreatedAt: fromMillis(row.CreatedAt),
	}, nil
}
