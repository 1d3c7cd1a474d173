package repository

import (
	"context"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
)

// CredentialStore holds OAuth accounts keyed by account id
type CredentialStore interface {
	// GetAccount returns nil, nil when the account does not exist
	GetAccount(ctx context.Context, id string) (*types.Account, error)

	// CreateAccount stores an account produced by the interactive OAuth flow
	CreateAccount(ctx context.Context, account *types.Account) error

	// UpdateAccountTokens stores a refreshed access token and expiry.
	// A nil refreshToken leaves the stored refresh token untouched.
	UpdateAccountTokens(ctx context.Context, id, accessToken string, refreshToken *string, expiry time.Time) error

	// ListRefreshCandidates returns accounts with a non-empty refresh token whose
	// access token expires at or before deadline, soonest to expire first
	ListRefreshCandidates(ctx context.Context, deadline time.Time) ([]*types.Account, error)
}

// MessageStore holds ingested messages and their summaries
type MessageStore interface {
	// IngestedExternalIDs returns every external id already stored for the account and provider
	IngestedExternalIDs(ctx context.Context, accountID string, provider types.Provider) (map[string]struct{}, error)

	// SaveIngested persists messages and summaries in a single unit of work
	SaveIngested(ctx context.Context, messages []types.IngestedMessage) error

	// GetSummary returns nil, nil when the message has no summary
	GetSummary(ctx context.Context, messageID string) (*types.SummaryRecord, error)

	// ListMessages returns stored messages for an account, newest first
	ListMessages(ctx context.Context, accountID string, provider types.Provider) ([]*types.MessageRecord, error)
}

// Store is a backend providing both credential and message storage
type Store interface {
	CredentialStore
	MessageStore

	Ping(ctx context.Context) error
	Close() error
}
