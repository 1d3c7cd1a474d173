package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
)

const accountColumns = `id, provider, email, access_token, refresh_token, access_token_expiry, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*types.Account, error) {
	var a types.Account
	if err := row.Scan(&a.ID, &a.Provider, &a.Email, &a.AccessToken, &a.RefreshToken, &a.AccessTokenExpiry, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.AccessTokenExpiry = a.AccessTokenExpiry.UTC()
	return &a, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*types.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM account WHERE id = $1`

	a, err := scanAccount(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, account *types.Account) error {
	query := `
		INSERT INTO account (id, provider, email, access_token, refresh_token, access_token_expiry)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query,
		account.ID, account.Provider, account.Email, account.AccessToken, account.RefreshToken, account.AccessTokenExpiry.UTC())
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAccountTokens(ctx context.Context, id, accessToken string, refreshToken *string, expiry time.Time) error {
	query := `
		UPDATE account
		SET access_token = $2, refresh_token = COALESCE($3, refresh_token), access_token_expiry = $4, updated_at = NOW()
		WHERE id = $1
	`

	res, err := s.db.ExecContext(ctx, query, id, accessToken, refreshToken, expiry.UTC())
	if err != nil {
		return fmt.Errorf("update account tokens: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update tokens %s: %w", id, types.ErrAccountNotFound)
	}
	return nil
}

func (s *PostgresStore) ListRefreshCandidates(ctx context.Context, deadline time.Time) ([]*types.Account, error) {
	query := `
		SELECT ` + accountColumns + ` FROM account
		WHERE btrim(refresh_token) <> '' AND access_token_expiry <= $1
		ORDER BY access_token_expiry ASC
	`

	rows, err := s.db.QueryContext(ctx, query, deadline.UTC())
	if err != nil {
		return nil, fmt.Errorf("list refresh candidates: %w", err)
	}
	defer rows.Close()

	var accounts []*types.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
