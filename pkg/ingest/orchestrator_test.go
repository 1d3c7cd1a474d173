package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/beam-cloud/mailsync/pkg/credentials"
	"github.com/beam-cloud/mailsync/pkg/oauth"
	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/beam-cloud/mailsync/pkg/sources"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource accepts only validToken; any other token gets a 401
type fakeSource struct {
	mu         sync.Mutex
	ids        []string
	validToken string
	excluded   map[string]bool
	badParse   map[string]bool
	onFetch    func(id string)
	fetchErr   func(ctx context.Context, id string) error

	listCalls  int
	fetchCalls int
	lastMax    int
}

func (s *fakeSource) Provider() types.Provider { return types.ProviderGmail }

func (s *fakeSource) ListCandidates(ctx context.Context, token string, max int) ([]sources.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	s.lastMax = max
	if token != s.validToken {
		return nil, sources.Unauthorized(types.ProviderGmail, "list", nil)
	}

	var out []sources.Candidate
	for _, id := range s.ids {
		if len(out) >= max {
			break
		}
		out = append(out, sources.Candidate{ExternalID: id})
	}
	return out, nil
}

func (s *fakeSource) FetchMessage(ctx context.Context, token string, c sources.Candidate) (*sources.RawMessage, error) {
	s.mu.Lock()
	s.fetchCalls++
	onFetch, fetchErr := s.onFetch, s.fetchErr
	s.mu.Unlock()

	if onFetch != nil {
		onFetch(c.ExternalID)
	}
	if fetchErr != nil {
		if err := fetchErr(ctx, c.ExternalID); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if token != s.validToken {
		return nil, sources.Unauthorized(types.ProviderGmail, "get", nil)
	}

	var labels []string
	if s.excluded[c.ExternalID] {
		labels = []string{"SPAM"}
	}
	return &sources.RawMessage{ExternalID: c.ExternalID, Labels: labels}, nil
}

func (s *fakeSource) Excluded(raw *sources.RawMessage) bool {
	return len(raw.Labels) > 0
}

func (s *fakeSource) Parse(raw *sources.RawMessage) (*sources.ParsedMessage, error) {
	if s.badParse[raw.ExternalID] {
		return nil, fmt.Errorf("missing payload")
	}
	return &sources.ParsedMessage{
		ExternalID: raw.ExternalID,
		Sender:     "sender@example.com",
		Subject:    "subject " + raw.ExternalID,
		Body:       "body " + raw.ExternalID,
		ReceivedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

type fakeTokenClient struct {
	mu    sync.Mutex
	calls int
	token string
	err   error
}

func (c *fakeTokenClient) Provider() types.Provider { return types.ProviderGmail }
func (c *fakeTokenClient) IsConfigured() bool       { return true }

func (c *fakeTokenClient) Refresh(ctx context.Context, refreshToken string) (*oauth.RefreshedToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &oauth.RefreshedToken{AccessToken: c.token, ExpiresIn: 3600}, nil
}

func (c *fakeTokenClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeClassifier struct {
	result types.Classification
	ok     bool
}

func (c fakeClassifier) Classify(ctx context.Context, subject, body string) (types.Classification, bool) {
	return c.result, c.ok
}

// failingSaveStore fails every batch write
type failingSaveStore struct {
	*repository.MemoryStore
}

func (s failingSaveStore) SaveIngested(ctx context.Context, messages []types.IngestedMessage) error {
	return errors.New("database is locked")
}

type recordingPublisher struct {
	mu          sync.Mutex
	results     []types.SyncResult
	hasDeadline bool
	ctxErr      error
}

func (p *recordingPublisher) SyncCompleted(ctx context.Context, accountID string, provider types.Provider, result types.SyncResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, p.hasDeadline = ctx.Deadline()
	p.ctxErr = ctx.Err()
	p.results = append(p.results, result)
}

func (p *recordingPublisher) Close() {}

// handoffLocker lets a test take the lock away from the current holder
type handoffLocker struct {
	mu   sync.Mutex
	lose context.CancelCauseFunc
}

func (l *handoffLocker) Lock(ctx context.Context, accountID string) (context.Context, func(), error) {
	held, cancel := context.WithCancelCause(ctx)
	l.mu.Lock()
	l.lose = cancel
	l.mu.Unlock()
	return held, func() { cancel(nil) }, nil
}

func (l *handoffLocker) TryLock(ctx context.Context, accountID string) (context.Context, func(), error) {
	return l.Lock(ctx, accountID)
}

func (l *handoffLocker) takeOver() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lose(credentials.ErrLockLost)
}

type harness struct {
	store  *repository.MemoryStore
	source *fakeSource
	tokens *fakeTokenClient
	orch   *Orchestrator
}

func newHarness(t *testing.T, ids []string, opts ...func(*Options)) *harness {
	return newHarnessWithLocker(t, ids, credentials.NewLocalLocker(time.Second), opts...)
}

func newHarnessWithLocker(t *testing.T, ids []string, locker credentials.Locker, opts ...func(*Options)) *harness {
	store := repository.NewMemoryStore()
	err := store.CreateAccount(context.Background(), &types.Account{
		ID:                "acct-1",
		Provider:          types.ProviderGmail,
		AccessToken:       "AT1",
		RefreshToken:      "RT1",
		AccessTokenExpiry: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	source := &fakeSource{ids: ids, validToken: "AT1", excluded: map[string]bool{}, badParse: map[string]bool{}}
	tokens := &fakeTokenClient{token: "AT2"}

	registry := oauth.NewRegistry()
	registry.Register(tokens)
	manager := credentials.NewManager(store, registry, locker, types.RefreshConfig{})

	o := Options{
		Source:      source,
		Accounts:    store,
		Messages:    store,
		Credentials: manager,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &harness{store: store, source: source, tokens: tokens, orch: NewOrchestrator(o)}
}

func (h *harness) ingest(t *testing.T, ids ...string) {
	var batch []types.IngestedMessage
	for i, id := range ids {
		batch = append(batch, types.IngestedMessage{Message: &types.MessageRecord{
			ID: fmt.Sprintf("pre-%d", i), AccountID: "acct-1", Provider: types.ProviderGmail, ExternalID: id,
		}})
	}
	require.NoError(t, h.store.SaveIngested(context.Background(), batch))
}

func TestSync_SkipsAlreadyIngested(t *testing.T) {
	h := newHarness(t, []string{"m5", "m4", "m3", "m2", "m1"})
	h.ingest(t, "m4", "m1")

	result := h.orch.Sync(context.Background(), "acct-1", 20)
	assert.Equal(t, types.SyncResult{Added: 3, Skipped: 2, Failed: 0, Errors: []string{}}, result)

	ids, err := h.store.IngestedExternalIDs(context.Background(), "acct-1", types.ProviderGmail)
	require.NoError(t, err)
	assert.Len(t, ids, 5)
	assert.Equal(t, 3, h.source.fetchCalls)
}

func TestSync_Idempotent(t *testing.T) {
	h := newHarness(t, []string{"a", "b", "c", "d"})

	first := h.orch.Sync(context.Background(), "acct-1", 20)
	assert.Equal(t, 4, first.Added)

	second := h.orch.Sync(context.Background(), "acct-1", 20)
	assert.Equal(t, 0, second.Added)
	assert.Equal(t, 4, second.Skipped)
	assert.Equal(t, 0, second.Failed)
	assert.Empty(t, second.Errors)
}

func TestSync_DuplicateCandidatesStoredOnce(t *testing.T) {
	h := newHarness(t, []string{"a", "a", "b"})

	result := h.orch.Sync(context.Background(), "acct-1", 20)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, result.Errors)
}

func TestSync_ListingUnauthorizedAndRefreshFails(t *testing.T) {
	h := newHarness(t, []string{"a", "b"})
	h.source.validToken = "never"
	h.tokens.err = &types.TokenEndpointError{Provider: types.ProviderGmail, StatusCode: 400, Body: "invalid_grant"}

	result := h.orch.Sync(context.Background(), "acct-1", 20)
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "reauthorization required")

	assert.Equal(t, 1, h.source.listCalls)
	assert.Equal(t, 0, h.source.fetchCalls)
	assert.Equal(t, 1, h.tokens.Calls())
}

func TestSync_PersistentUnauthorizedRetriesOnce(t *testing.T) {
	h := newHarness(t, []string{"a", "b"})
	h.source.validToken = "never"

	result := h.orch.Sync(context.Background(), "acct-1", 20)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 0, result.Added)

	assert.Equal(t, 2, h.source.listCalls)
	assert.Equal(t, 1, h.tokens.Calls())
}

func TestSync_RecoversFromRevokedToken(t *testing.T) {
	h := newHarness(t, []string{"a", "b"})
	h.source.validToken = "AT2"

	result := h.orch.Sync(context.Background(), "acct-1", 20)
	assert.Equal(t, types.SyncResult{Added: 2, Errors: []string{}}, result)
	assert.Equal(t, 1, h.tokens.Calls())

	account, err := h.store.GetAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "AT2", account.AccessToken)
}

func TestSync_ExcludedAndUnparseable(t *testing.T) {
	h := newHarness(t, []string{"a", "spam", "broken", "b"})
	h.source.excluded["spam"] = true
	h.source.badParse["broken"] = true

	result := h.orch.Sync(context.Background(), "acct-1", 20)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "broken")
}

func TestSync_ClassificationIsBestEffort(t *testing.T) {
	h := newHarness(t, []string{"a"}, func(o *Options) {
		o.Classifier = fakeClassifier{ok: false}
	})

	result := h.orch.Sync(context.Background(), "acct-1", 20)
	assert.Equal(t, 1, result.Added)

	msgs, err := h.store.ListMessages(context.Background(), "acct-1", types.ProviderGmail)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].PriorityScore)

	summary, err := h.store.GetSummary(context.Background(), msgs[0].ID)
	require.NoError(t, err)
	assert.Nil(t, summary)
}

func TestSync_ClassificationStoresSummary(t *testing.T) {
	h := newHarness(t, []string{"a", "b"}, func(o *Options) {
		o.Classifier = fakeClassifier{ok: true, result: types.Classification{
			Summary: "weekly update", PriorityScore: -3, Category: "work", SuggestedAction: "read",
		}}
	})

	result := h.orch.Sync(context.Background(), "acct-1", 20)
	assert.Equal(t, 2, result.Added)

	msgs, err := h.store.ListMessages(context.Background(), "acct-1", types.ProviderGmail)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		require.NotNil(t, m.PriorityScore)
		assert.Equal(t, 0, *m.PriorityScore)
		assert.Equal(t, "work", m.Category)

		summary, err := h.store.GetSummary(context.Background(), m.ID)
		require.NoError(t, err)
		require.NotNil(t, summary)
		assert.Equal(t, "weekly update", summary.Summary)
	}
}

func TestSync_SaveFailureCountsPending(t *testing.T) {
	h := newHarness(t, []string{"a", "b", "c"}, func(o *Options) {
		o.Messages = failingSaveStore{o.Accounts.(*repository.MemoryStore)}
	})

	result := h.orch.Sync(context.Background(), "acct-1", 20)
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 3, result.Failed)
	require.Len(t, result.Errors, 1)
}

func TestSync_CancelDiscardsUncommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, []string{"a", "b", "c"})
	h.source.onFetch = func(id string) {
		if id == "b" {
			cancel()
		}
	}

	result := h.orch.Sync(ctx, "acct-1", 20)
	assert.Equal(t, 0, result.Added)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "cancel")

	ids, err := h.store.IngestedExternalIDs(context.Background(), "acct-1", types.ProviderGmail)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSync_AccountChecks(t *testing.T) {
	h := newHarness(t, []string{"a"})
	require.NoError(t, h.store.CreateAccount(context.Background(), &types.Account{
		ID: "acct-outlook", Provider: types.ProviderOutlook, RefreshToken: "rt", AccessTokenExpiry: time.Now().Add(time.Hour),
	}))
	require.NoError(t, h.store.CreateAccount(context.Background(), &types.Account{
		ID: "acct-frozen", Provider: types.ProviderGmail, AccessToken: "AT1", AccessTokenExpiry: time.Now().Add(time.Hour),
	}))

	for _, id := range []string{"missing", "acct-outlook", "acct-frozen"} {
		result := h.orch.Sync(context.Background(), id, 20)
		assert.Equal(t, 0, result.Added+result.Skipped+result.Failed, id)
		assert.Len(t, result.Errors, 1, id)
	}
	assert.Equal(t, 0, h.source.listCalls)
	assert.Equal(t, 0, h.tokens.Calls())
}

func TestSync_ClampsMaxCount(t *testing.T) {
	h := newHarness(t, nil)

	h.orch.Sync(context.Background(), "acct-1", 0)
	assert.Equal(t, DefaultMaxCount, h.source.lastMax)

	h.orch.Sync(context.Background(), "acct-1", 10000)
	assert.Equal(t, MaxCount, h.source.lastMax)

	h.orch.Sync(context.Background(), "acct-1", 7)
	assert.Equal(t, 7, h.source.lastMax)
}

func TestSync_FetchTimeoutIsAFailure(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(300 * time.Millisecond):
		}
	}))
	defer slow.Close()
	client := &http.Client{Timeout: 20 * time.Millisecond}

	h := newHarness(t, []string{"m1", "slow", "m2"})
	h.source.fetchErr = func(ctx context.Context, id string) error {
		if id != "slow" {
			return nil
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, slow.URL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}

	result := h.orch.Sync(context.Background(), "acct-1", 20)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "slow")

	ids, err := h.store.IngestedExternalIDs(context.Background(), "acct-1", types.ProviderGmail)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestSync_CancelOnLastCandidateDiscards(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, []string{"a", "b", "c"})
	h.source.onFetch = func(id string) {
		if id == "c" {
			cancel()
		}
	}

	result := h.orch.Sync(ctx, "acct-1", 20)
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "cancel")

	ids, err := h.store.IngestedExternalIDs(context.Background(), "acct-1", types.ProviderGmail)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSync_LockLostDiscardsUncommitted(t *testing.T) {
	locker := &handoffLocker{}
	h := newHarnessWithLocker(t, []string{"a", "b", "c"}, locker)
	h.source.onFetch = func(id string) {
		if id == "b" {
			locker.takeOver()
		}
	}

	result := h.orch.Sync(context.Background(), "acct-1", 20)
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], credentials.ErrLockLost.Error())

	ids, err := h.store.IngestedExternalIDs(context.Background(), "acct-1", types.ProviderGmail)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSync_PublishesWithBoundedContext(t *testing.T) {
	publisher := &recordingPublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, []string{"a", "b"}, func(o *Options) {
		o.Publisher = publisher
	})
	h.source.onFetch = func(id string) {
		if id == "b" {
			cancel()
		}
	}

	h.orch.Sync(ctx, "acct-1", 20)

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	require.Len(t, publisher.results, 1)
	assert.True(t, publisher.hasDeadline)
	assert.NoError(t, publisher.ctxErr)
	assert.Equal(t, 0, publisher.results[0].Added)
}
