package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "mailsync.acct-1.sync.completed", Subject("mailsync", "acct-1", EventSyncCompleted))
	assert.Equal(t, "mailsync.a_b_c.sync.completed", Subject("", "a.b*c", EventSyncCompleted))
}

func TestSyncCompletedEvent_Marshal(t *testing.T) {
	result := types.NewSyncResult()
	result.Added = 3
	result.Skipped = 2

	event := newSyncCompletedEvent("acct-1", types.ProviderGmail, result)
	assert.NotEmpty(t, event.ID)

	payload, err := event.Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "gmail", decoded["provider"])
	res := decoded["result"].(map[string]any)
	assert.Equal(t, float64(3), res["added"])
	assert.Equal(t, []any{}, res["errors"])
}

func TestNew_NoopWithoutURL(t *testing.T) {
	p, err := New(types.EventsConfig{})
	require.NoError(t, err)
	p.SyncCompleted(context.Background(), "acct-1", types.ProviderGmail, types.SyncResult{})
	p.Close()
}
