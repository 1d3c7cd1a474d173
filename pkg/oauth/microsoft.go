package oauth

import (
	"context"

	"github.com/beam-cloud/mailsync/pkg/types"
	"golang.org/x/oauth2/microsoft"
)

const (
	defaultMicrosoftTenant = "common"
	defaultMicrosoftScope  = "offline_access https://graph.microsoft.com/Mail.Read"
)

// MicrosoftClient refreshes Outlook account tokens against the Azure AD v2 endpoint
type MicrosoftClient struct {
	endpoint tokenEndpoint
}

// NewMicrosoftClient creates a new Microsoft token client from config
func NewMicrosoftClient(cfg types.OAuthClientConfig) *MicrosoftClient {
	tenant := cfg.Tenant
	if tenant == "" {
		tenant = defaultMicrosoftTenant
	}
	if cfg.Scope == "" {
		cfg.Scope = defaultMicrosoftScope
	}

	return &MicrosoftClient{
		endpoint: newTokenEndpoint(types.ProviderOutlook, cfg, microsoft.AzureADEndpoint(tenant).TokenURL),
	}
}

func (m *MicrosoftClient) Provider() types.Provider {
	return types.ProviderOutlook
}

func (m *MicrosoftClient) IsConfigured() bool {
	return m.endpoint.configured()
}

// Refresh exchanges a refresh token for a new access token. Microsoft usually
// rotates the refresh token and the new one must replace the stored one.
func (m *MicrosoftClient) Refresh(ctx context.Context, refreshToken string) (*RefreshedToken, error) {
	return m.endpoint.refresh(ctx, refreshToken)
}
