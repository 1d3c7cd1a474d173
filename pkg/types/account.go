package types

import (
	"fmt"
	"strings"
	"time"
)

// Provider identifies the mail provider an account belongs to
type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
)

// Providers lists every supported provider
var Providers = []Provider{ProviderGmail, ProviderOutlook}

func (p Provider) String() string {
	return string(p)
}

// ParseProvider maps a provider name to a Provider, case-insensitively
func ParseProvider(name string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(name))) {
	case ProviderGmail:
		return ProviderGmail, nil
	case ProviderOutlook:
		return ProviderOutlook, nil
	}
	return "", fmt.Errorf("%w: %s", ErrProviderNotSupported, name)
}

// Account is a stored set of OAuth credentials for one mailbox on one provider.
// It is created by the interactive OAuth flow and only mutated by token refresh.
type Account struct {
	ID                string    `json:"id" db:"id"`
	Provider          Provider  `json:"provider" db:"provider"`
	Email             string    `json:"email" db:"email"`
	AccessToken       string    `json:"-" db:"access_token"`
	RefreshToken      string    `json:"-" db:"refresh_token"`
	AccessTokenExpiry time.Time `json:"access_token_expiry" db:"access_token_expiry"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// CanRefresh reports whether the account holds a usable refresh token.
// Accounts without one stay frozen until they are reauthorized.
func (a *Account) CanRefresh() bool {
	return a != nil && strings.TrimSpace(a.RefreshToken) != ""
}
