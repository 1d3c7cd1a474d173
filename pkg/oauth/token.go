package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
)

const maxErrorBody = 512

// RefreshedToken is the parsed response of a refresh-token grant
type RefreshedToken struct {
	AccessToken  string
	RefreshToken string // empty when the provider did not rotate it
	ExpiresIn    int
}

// tokenEndpoint performs refresh-token grants against one provider's token URL
type tokenEndpoint struct {
	provider     types.Provider
	clientID     string
	clientSecret string
	tokenURL     string
	scope        string
	httpClient   *http.Client
}

func newTokenEndpoint(provider types.Provider, cfg types.OAuthClientConfig, defaultURL string) tokenEndpoint {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return tokenEndpoint{
		provider:     provider,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokenURL:     tokenURL,
		scope:        cfg.Scope,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

func (e *tokenEndpoint) configured() bool {
	return e.clientID != "" && e.clientSecret != ""
}

func (e *tokenEndpoint) refresh(ctx context.Context, refreshToken string) (*RefreshedToken, error) {
	if !e.configured() {
		return nil, fmt.Errorf("%s: %w", e.provider, types.ErrClientNotConfigured)
	}
	if strings.TrimSpace(refreshToken) == "" {
		return nil, types.ErrNoRefreshToken
	}

	data := url.Values{
		"client_id":     {e.clientID},
		"client_secret": {e.clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}
	if e.scope != "" {
		data.Set("scope", e.scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &types.TokenEndpointError{
			Provider:   e.provider,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		TokenType    string `json:"token_type"`
	}
	if err := decodeJSON(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("parse response: missing access_token")
	}
	if result.ExpiresIn <= 0 {
		return nil, fmt.Errorf("parse response: invalid expires_in %d", result.ExpiresIn)
	}

	return &RefreshedToken{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
	}, nil
}

// decodeJSON decodes JSON from a reader
func decodeJSON(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}
