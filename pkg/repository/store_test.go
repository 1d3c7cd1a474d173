package repository

import (
	"context"
	"testing"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both embedded stores must behave identically
func testStores(t *testing.T) map[string]Store {
	sqlite, err := NewSQLiteStoreForTest()
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStore_AccountLifecycle(t *testing.T) {
	ctx := context.Background()
	expiry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			missing, err := store.GetAccount(ctx, "nope")
			assert.NoError(t, err)
			assert.Nil(t, missing)

			err = store.CreateAccount(ctx, &types.Account{
				ID:                "acct-1",
				Provider:          types.ProviderGmail,
				Email:             "a@example.com",
				AccessToken:       "AT1",
				RefreshToken:      "RT1",
				AccessTokenExpiry: expiry,
			})
			require.NoError(t, err)

			a, err := store.GetAccount(ctx, "acct-1")
			require.NoError(t, err)
			require.NotNil(t, a)
			assert.Equal(t, types.ProviderGmail, a.Provider)
			assert.Equal(t, "AT1", a.AccessToken)
			assert.True(t, a.AccessTokenExpiry.Equal(expiry))

			// nil refresh token keeps the stored one
			newExpiry := expiry.Add(time.Hour)
			require.NoError(t, store.UpdateAccountTokens(ctx, "acct-1", "AT2", nil, newExpiry))
			a, _ = store.GetAccount(ctx, "acct-1")
			assert.Equal(t, "AT2", a.AccessToken)
			assert.Equal(t, "RT1", a.RefreshToken)
			assert.True(t, a.AccessTokenExpiry.Equal(newExpiry))

			rotated := "RT2"
			require.NoError(t, store.UpdateAccountTokens(ctx, "acct-1", "AT3", &rotated, newExpiry))
			a, _ = store.GetAccount(ctx, "acct-1")
			assert.Equal(t, "RT2", a.RefreshToken)

			err = store.UpdateAccountTokens(ctx, "nope", "x", nil, newExpiry)
			assert.ErrorIs(t, err, types.ErrAccountNotFound)
		})
	}
}

func TestStore_ListRefreshCandidates(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			accounts := []*types.Account{
				{ID: "late", Provider: types.ProviderGmail, RefreshToken: "rt", AccessTokenExpiry: now.Add(10 * time.Minute)},
				{ID: "soon", Provider: types.ProviderOutlook, RefreshToken: "rt", AccessTokenExpiry: now.Add(time.Minute)},
				{ID: "expired", Provider: types.ProviderGmail, RefreshToken: "rt", AccessTokenExpiry: now.Add(-time.Hour)},
				{ID: "far", Provider: types.ProviderGmail, RefreshToken: "rt", AccessTokenExpiry: now.Add(2 * time.Hour)},
				{ID: "frozen", Provider: types.ProviderGmail, RefreshToken: "  ", AccessTokenExpiry: now},
			}
			for _, a := range accounts {
				require.NoError(t, store.CreateAccount(ctx, a))
			}

			candidates, err := store.ListRefreshCandidates(ctx, now.Add(15*time.Minute))
			require.NoError(t, err)

			var ids []string
			for _, c := range candidates {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, []string{"expired", "soon", "late"}, ids)
		})
	}
}

func TestStore_SaveIngested(t *testing.T) {
	ctx := context.Background()
	received := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.CreateAccount(ctx, &types.Account{ID: "acct-1", Provider: types.ProviderGmail}))

			score := 80
			batch := []types.IngestedMessage{
				{
					Message: &types.MessageRecord{
						ID: "m1", AccountID: "acct-1", Provider: types.ProviderGmail, ExternalID: "g-1",
						Sender: "bob@example.com", Subject: "hello", Body: "hi", ReceivedAt: received,
						PriorityScore: &score, Category: "work", SuggestedAction: "reply", CreatedAt: received,
					},
					Summary: &types.SummaryRecord{ID: "s1", MessageID: "m1", AccountID: "acct-1", Summary: "greeting", CreatedAt: received},
				},
				{
					Message: &types.MessageRecord{
						ID: "m2", AccountID: "acct-1", Provider: types.ProviderGmail, ExternalID: "g-2",
						ReceivedAt: received.Add(time.Hour), CreatedAt: received,
					},
				},
			}
			require.NoError(t, store.SaveIngested(ctx, batch))

			ids, err := store.IngestedExternalIDs(ctx, "acct-1", types.ProviderGmail)
			require.NoError(t, err)
			assert.Len(t, ids, 2)
			assert.Contains(t, ids, "g-1")

			other, err := store.IngestedExternalIDs(ctx, "acct-1", types.ProviderOutlook)
			require.NoError(t, err)
			assert.Empty(t, other)

			msgs, err := store.ListMessages(ctx, "acct-1", types.ProviderGmail)
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, "g-2", msgs[0].ExternalID)
			assert.Nil(t, msgs[0].PriorityScore)
			require.NotNil(t, msgs[1].PriorityScore)
			assert.Equal(t, 80, *msgs[1].PriorityScore)

			summary, err := store.GetSummary(ctx, "m1")
			require.NoError(t, err)
			require.NotNil(t, summary)
			assert.Equal(t, "greeting", summary.Summary)

			none, err := store.GetSummary(ctx, "m2")
			assert.NoError(t, err)
			assert.Nil(t, none)
		})
	}
}

func TestStore_SaveIngestedIsAtomic(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.CreateAccount(ctx, &types.Account{ID: "acct-1", Provider: types.ProviderOutlook}))

			first := []types.IngestedMessage{{Message: &types.MessageRecord{
				ID: "m1", AccountID: "acct-1", Provider: types.ProviderOutlook, ExternalID: "o-1", ReceivedAt: now, CreatedAt: now,
			}}}
			require.NoError(t, store.SaveIngested(ctx, first))

			// o-2 is new but o-1 conflicts, so neither is kept
			second := []types.IngestedMessage{
				{Message: &types.MessageRecord{ID: "m2", AccountID: "acct-1", Provider: types.ProviderOutlook, ExternalID: "o-2", ReceivedAt: now, CreatedAt: now}},
				{Message: &types.MessageRecord{ID: "m3", AccountID: "acct-1", Provider: types.ProviderOutlook, ExternalID: "o-1", ReceivedAt: now, CreatedAt: now}},
			}
			assert.Error(t, store.SaveIngested(ctx, second))

			ids, err := store.IngestedExternalIDs(ctx, "acct-1", types.ProviderOutlook)
			require.NoError(t, err)
			assert.Equal(t, map[string]struct{}{"o-1": {}}, ids)
		})
	}
}
