package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/beam-cloud/mailsync/pkg/types"
)

func (s *PostgresStore) IngestedExternalIDs(ctx context.Context, accountID string, provider types.Provider) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id FROM message_record WHERE account_id = $1 AND provider = $2`, accountID, provider)
	if err != nil {
		return nil, fmt.Errorf("list ingested ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan external id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

func (s *PostgresStore) SaveIngested(ctx context.Context, messages []types.IngestedMessage) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertMessage := `
		INSERT INTO message_record (id, account_id, provider, external_id, sender, subject, body, received_at,
			priority_score, category, suggested_action, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	insertSummary := `
		INSERT INTO message_summary (id, message_id, account_id, summary, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	for _, m := range messages {
		msg := m.Message
		if _, err := tx.ExecContext(ctx, insertMessage,
			msg.ID, msg.AccountID, msg.Provider, msg.ExternalID, msg.Sender, msg.Subject, msg.Body, msg.ReceivedAt.UTC(),
			msg.PriorityScore, msg.Category, msg.SuggestedAction, msg.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert message %s: %w", msg.ExternalID, err)
		}

		if m.Summary == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx, insertSummary,
			m.Summary.ID, msg.ID, m.Summary.AccountID, m.Summary.Summary, m.Summary.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert summary for %s: %w", msg.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSummary(ctx context.Context, messageID string) (*types.SummaryRecord, error) {
	var r types.SummaryRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, message_id, account_id, summary, created_at FROM message_summary WHERE message_id = $1`, messageID,
	).Scan(&r.ID, &r.MessageID, &r.AccountID, &r.Summary, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, accountID string, provider types.Provider) ([]*types.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, provider, external_id, sender, subject, body, received_at,
			priority_score, category, suggested_action, created_at
		FROM message_record
		WHERE account_id = $1 AND provider = $2
		ORDER BY received_at DESC
	`, accountID, provider)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*types.MessageRecord
	for rows.Next() {
		var m types.MessageRecord
		var score sql.NullInt64
		if err := rows.Scan(&m.ID, &m.AccountID, &m.Provider, &m.ExternalID, &m.Sender, &m.Subject, &m.Body, &m.ReceivedAt,
			&score, &m.Category, &m.SuggestedAction, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if score.Valid {
			v := int(score.Int64)
			m.PriorityScore = &v
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
