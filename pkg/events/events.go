package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/beam-cloud/mailsync/pkg/types"
)

const (
	DefaultStream        = "MAILSYNC_EVENTS"
	DefaultSubjectPrefix = "mailsync"

	EventSyncCompleted = "sync.completed"
)

// Publisher announces finished syncs to downstream consumers. Publishing is
// best effort and never changes the outcome of a sync.
type Publisher interface {
	SyncCompleted(ctx context.Context, accountID string, provider types.Provider, result types.SyncResult)
	Close()
}

// SyncCompletedEvent is the payload published after every sync
type SyncCompletedEvent struct {
	ID          string           `json:"id"`
	AccountID   string           `json:"account_id"`
	Provider    types.Provider   `json:"provider"`
	Result      types.SyncResult `json:"result"`
	CompletedAt time.Time        `json:"completed_at"`
}

func newSyncCompletedEvent(accountID string, provider types.Provider, result types.SyncResult) SyncCompletedEvent {
	return SyncCompletedEvent{
		ID:          common.NewEventID(),
		AccountID:   accountID,
		Provider:    provider,
		Result:      result,
		CompletedAt: time.Now().UTC(),
	}
}

func (e SyncCompletedEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Subject builds "<prefix>.<account>.<event>". Dots and wildcards in the
// account id are replaced so it stays a single subject token.
func Subject(prefix, accountID, event string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	token := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(accountID)
	return fmt.Sprintf("%s.%s.%s", prefix, token, event)
}

// Noop drops every event
type Noop struct{}

func (Noop) SyncCompleted(ctx context.Context, accountID string, provider types.Provider, result types.SyncResult) {
}

func (Noop) Close() {}
