package oauth

import (
	"context"

	"github.com/beam-cloud/mailsync/pkg/types"
	"golang.org/x/oauth2/google"
)

// GoogleClient refreshes Gmail account tokens
type GoogleClient struct {
	endpoint tokenEndpoint
}

// NewGoogleClient creates a new Google token client from config
func NewGoogleClient(cfg types.OAuthClientConfig) *GoogleClient {
	return &GoogleClient{endpoint: newTokenEndpoint(types.ProviderGmail, cfg, google.Endpoint.TokenURL)}
}

func (g *GoogleClient) Provider() types.Provider {
	return types.ProviderGmail
}

// IsConfigured returns true if Google OAuth is configured
func (g *GoogleClient) IsConfigured() bool {
	return g.endpoint.configured()
}

// Refresh exchanges a refresh token for a new access token.
// Google does not rotate refresh tokens, so RefreshToken is usually empty.
func (g *GoogleClient) Refresh(ctx context.Context, refreshToken string) (*RefreshedToken, error) {
	return g.endpoint.refresh(ctx, refreshToken)
}
