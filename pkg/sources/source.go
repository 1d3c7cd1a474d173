package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
)

// ErrUnauthorized marks an HTTP 401 from a provider API. It is the only signal
// that triggers a forced token refresh.
var ErrUnauthorized = errors.New("unauthorized")

// Unauthorized wraps ErrUnauthorized with the failing operation
func Unauthorized(provider types.Provider, op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s %s: %w", provider, op, ErrUnauthorized)
	}
	return fmt.Errorf("%s %s: %w: %v", provider, op, ErrUnauthorized, cause)
}

// Candidate is a message found during listing that may not be ingested yet
type Candidate struct {
	ExternalID string
	Raw        *RawMessage // set when the listing call already returned the full record
}

// RawMessage is a provider payload before parsing
type RawMessage struct {
	ExternalID string
	Labels     []string // Gmail labels or Outlook categories
	IsDraft    bool
	Payload    any // provider specific record
}

// ParsedMessage is the canonical form of a provider message
type ParsedMessage struct {
	ExternalID string
	Sender     string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// Source lists, fetches and parses messages for one provider
type Source interface {
	// Provider returns the provider this source reads from
	Provider() types.Provider

	// ListCandidates returns up to max messages, newest first, with the provider's
	// server-side exclusion filter applied
	ListCandidates(ctx context.Context, token string, max int) ([]Candidate, error)

	// FetchMessage returns the full message. It does not call the provider when
	// the candidate already carries its raw record.
	FetchMessage(ctx context.Context, token string, c Candidate) (*RawMessage, error)

	// Excluded reports whether a label or category filter rejects the message
	Excluded(raw *RawMessage) bool

	// Parse converts a raw message into its canonical form
	Parse(raw *RawMessage) (*ParsedMessage, error)
}

// HasAny returns true if any of values is in set
func HasAny(values []string, set map[string]struct{}) bool {
	for _, v := range values {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// StringSet builds a lookup set
func StringSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
