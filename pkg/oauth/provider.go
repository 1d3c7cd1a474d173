package oauth

import (
	"context"
	"fmt"

	"github.com/beam-cloud/mailsync/pkg/types"
)

// TokenClient exchanges refresh tokens for access tokens against one provider
type TokenClient interface {
	// Provider returns the mail provider this client serves
	Provider() types.Provider

	// IsConfigured returns true if the client has valid credentials
	IsConfigured() bool

	// Refresh performs a refresh-token grant
	Refresh(ctx context.Context, refreshToken string) (*RefreshedToken, error)
}

// Registry maps providers to their token clients
type Registry struct {
	clients map[types.Provider]TokenClient
}

// NewRegistry creates a new client registry
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[types.Provider]TokenClient),
	}
}

// NewRegistryFromConfig registers the Google and Microsoft clients
func NewRegistryFromConfig(cfg types.OAuthConfig) *Registry {
	r := NewRegistry()
	r.Register(NewGoogleClient(cfg.Google))
	r.Register(NewMicrosoftClient(cfg.Microsoft))
	return r
}

// Register adds a client to the registry. Unconfigured clients are kept so
// lookups can report a configuration error instead of an unknown provider.
func (r *Registry) Register(c TokenClient) {
	if c == nil {
		return
	}
	r.clients[c.Provider()] = c
}

// Get returns the configured client for a provider
func (r *Registry) Get(provider types.Provider) (TokenClient, error) {
	c, ok := r.clients[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrProviderNotSupported, provider)
	}
	if !c.IsConfigured() {
		return nil, fmt.Errorf("%s: %w", provider, types.ErrClientNotConfigured)
	}
	return c, nil
}

// ListConfiguredProviders returns all providers with usable credentials
func (r *Registry) ListConfiguredProviders() []types.Provider {
	providers := make([]types.Provider, 0, len(r.clients))
	for p, c := range r.clients {
		if c.IsConfigured() {
			providers = append(providers, p)
		}
	}
	return providers
}
