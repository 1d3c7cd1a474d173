package types

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound is returned when an account id does not resolve
	ErrAccountNotFound = errors.New("account not found")

	// ErrNoRefreshToken marks an account that must be reauthorized externally
	ErrNoRefreshToken = errors.New("account has no refresh token")

	// ErrProviderNotSupported is returned for providers without a registered client
	ErrProviderNotSupported = errors.New("provider not supported")

	// ErrReauthorizationRequired is returned when the provider keeps rejecting the account's tokens
	ErrReauthorizationRequired = errors.New("reauthorization required")

	// ErrClientNotConfigured is returned when OAuth client credentials are missing
	ErrClientNotConfigured = errors.New("oauth client not configured")
)

// TokenEndpointError is returned when a provider token endpoint answers with a non-2xx status
type TokenEndpointError struct {
	Provider   Provider
	StatusCode int
	Body       string
}

func (e *TokenEndpointError) Error() string {
	return fmt.Sprintf("%s token endpoint returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// From checks if the given error is a TokenEndpointError
func (e *TokenEndpointError) From(err error) bool {
	var endpointErr *TokenEndpointError
	return errors.As(err, &endpointErr)
}
