package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
)

// MemoryStore implements Store using in-memory maps.
// This is used by tests and by embedders that bring their own persistence.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]*types.Account
	messages  map[types.DedupKey]*types.MessageRecord
	summaries map[string]*types.SummaryRecord // keyed by message id
	order     []types.DedupKey
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*types.Account),
		messages:  make(map[types.DedupKey]*types.MessageRecord),
		summaries: make(map[string]*types.SummaryRecord),
	}
}

func (s *MemoryStore) GetAccount(ctx context.Context, id string) (*types.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	clone := *a
	return &clone, nil
}

func (s *MemoryStore) CreateAccount(ctx context.Context, account *types.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[account.ID]; exists {
		return fmt.Errorf("account %s already exists", account.ID)
	}
	now := time.Now().UTC()
	clone := *account
	clone.AccessTokenExpiry = clone.AccessTokenExpiry.UTC()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	s.accounts[account.ID] = &clone
	return nil
}

func (s *MemoryStore) UpdateAccountTokens(ctx context.Context, id, accessToken string, refreshToken *string, expiry time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("update tokens %s: %w", id, types.ErrAccountNotFound)
	}
	a.AccessToken = accessToken
	if refreshToken != nil {
		a.RefreshToken = *refreshToken
	}
	a.AccessTokenExpiry = expiry.UTC()
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListRefreshCandidates(ctx context.Context, deadline time.Time) ([]*types.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Account
	for _, a := range s.accounts {
		if !a.CanRefresh() || a.AccessTokenExpiry.After(deadline) {
			continue
		}
		clone := *a
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AccessTokenExpiry.Before(out[j].AccessTokenExpiry)
	})
	return out, nil
}

func (s *MemoryStore) IngestedExternalIDs(ctx context.Context, accountID string, provider types.Provider) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make(map[string]struct{})
	for key := range s.messages {
		if key.AccountID == accountID && key.Provider == provider {
			ids[key.ExternalID] = struct{}{}
		}
	}
	return ids, nil
}

func (s *MemoryStore) SaveIngested(ctx context.Context, messages []types.IngestedMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch first so a conflict leaves nothing behind
	batch := make(map[types.DedupKey]struct{}, len(messages))
	for _, m := range messages {
		key := m.Message.DedupKey()
		if _, exists := s.messages[key]; exists {
			return fmt.Errorf("duplicate message %s/%s/%s", key.AccountID, key.Provider, key.ExternalID)
		}
		if _, exists := batch[key]; exists {
			return fmt.Errorf("duplicate message %s/%s/%s in batch", key.AccountID, key.Provider, key.ExternalID)
		}
		batch[key] = struct{}{}
	}

	for _, m := range messages {
		msg := *m.Message
		key := msg.DedupKey()
		s.messages[key] = &msg
		s.order = append(s.order, key)
		if m.Summary != nil {
			summary := *m.Summary
			s.summaries[msg.ID] = &summary
		}
	}
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, accountID string, provider types.Provider) ([]*types.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.MessageRecord
	for _, key := range s.order {
		if key.AccountID != accountID || key.Provider != provider {
			continue
		}
		clone := *s.messages[key]
		out = append(out, &clone)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	return out, nil
}

func (s *MemoryStore) GetSummary(ctx context.Context, messageID string) (*types.SummaryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary, ok := s.summaries[messageID]
	if !ok {
		return nil, nil
	}
	clone := *summary
	return &clone, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
