package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beam-cloud/mailsync/pkg/sources"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const outlookListFixture = `{
	"value": [
		{
			"id": "o-2",
			"subject": " Quarterly report ",
			"from": {"emailAddress": {"name": "Alice", "address": "alice@example.com"}},
			"body": {"contentType": "html", "content": "<html><body><p>See attached</p></body></html>"},
			"receivedDateTime": "2026-02-01T09:30:00Z",
			"categories": [],
			"isDraft": false
		},
		{
			"id": "o-1",
			"subject": "50% off",
			"from": {"emailAddress": {"name": "", "address": "deals@example.com"}},
			"body": {"contentType": "text", "content": "buy now"},
			"receivedDateTime": "2026-01-31T09:30:00+02:00",
			"categories": ["Promotions"],
			"isDraft": false
		}
	]
}`

func TestOutlookSource_ListReturnsFullRecords(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/me/mailFolders/inbox/messages", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("$top"))
		assert.Equal(t, "receivedDateTime desc", r.URL.Query().Get("$orderby"))
		assert.Equal(t, "Bearer AT1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(outlookListFixture))
	}))
	defer srv.Close()

	src := NewOutlookSource(types.SyncConfig{GraphAPIBase: srv.URL}, nil)
	ctx := context.Background()

	candidates, err := src.ListCandidates(ctx, "AT1", 5)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	raw, err := src.FetchMessage(ctx, "AT1", candidates[0])
	require.NoError(t, err)
	assert.False(t, src.Excluded(raw))

	parsed, err := src.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "Alice <alice@example.com>", parsed.Sender)
	assert.Equal(t, "Quarterly report", parsed.Subject)
	assert.Equal(t, "See attached", parsed.Body)
	assert.Equal(t, time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC), parsed.ReceivedAt)

	promo, err := src.FetchMessage(ctx, "AT1", candidates[1])
	require.NoError(t, err)
	assert.True(t, src.Excluded(promo))

	parsed, err = src.Parse(promo)
	require.NoError(t, err)
	assert.Equal(t, "deals@example.com", parsed.Sender)
	assert.Equal(t, time.Date(2026, 1, 31, 7, 30, 0, 0, time.UTC), parsed.ReceivedAt)

	// listing already carried the records
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestOutlookSource_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":"InvalidAuthenticationToken"}}`))
	}))
	defer srv.Close()

	src := NewOutlookSource(types.SyncConfig{GraphAPIBase: srv.URL}, nil)
	_, err := src.ListCandidates(context.Background(), "expired", 5)
	assert.True(t, errors.Is(err, sources.ErrUnauthorized))
}

func TestOutlookSource_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := NewOutlookSource(types.SyncConfig{GraphAPIBase: srv.URL}, nil)
	_, err := src.ListCandidates(context.Background(), "AT1", 5)
	require.Error(t, err)
	assert.False(t, errors.Is(err, sources.ErrUnauthorized))
}

func TestOutlookSource_ExcludesDrafts(t *testing.T) {
	src := NewOutlookSource(types.SyncConfig{}, nil)

	assert.True(t, src.Excluded(&sources.RawMessage{IsDraft: true}))
	assert.True(t, src.Excluded(&sources.RawMessage{Labels: []string{"Social"}}))
	assert.False(t, src.Excluded(&sources.RawMessage{Labels: []string{"Red category"}}))
}

func TestOutlookSource_ParseBadDate(t *testing.T) {
	src := NewOutlookSource(types.SyncConfig{}, nil)
	raw := rawOutlookMessage(&graphMessage{ID: "o-9", ReceivedDateTime: "yesterday"})

	_, err := src.Parse(raw)
	assert.Error(t, err)
}
