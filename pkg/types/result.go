package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncResult summarizes one sync invocation. It is a value object and is not persisted.
type SyncResult struct {
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

// NewSyncResult returns an empty result with a non-nil error list
func NewSyncResult() SyncResult {
	return SyncResult{Errors: []string{}}
}

// FailedSyncResult returns an all-zero result carrying a single error
func FailedSyncResult(format string, args ...any) SyncResult {
	r := NewSyncResult()
	r.AddError(format, args...)
	return r
}

// AddError appends a human-readable error without touching the counters
func (r *SyncResult) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Fail counts a failed message and records why
func (r *SyncResult) Fail(format string, args ...any) {
	r.Failed++
	r.AddError(format, args...)
}

func (r SyncResult) MarshalJSON() ([]byte, error) {
	type alias SyncResult
	if r.Errors == nil {
		r.Errors = []string{}
	}
	return json.Marshal(alias(r))
}

// TokenRefreshResult is the outcome of one refresh-token grant
type TokenRefreshResult struct {
	Success     bool      `json:"success"`
	AccessToken string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
	Error       string    `json:"error,omitempty"`
}

// RefreshFailure builds an unsuccessful TokenRefreshResult
func RefreshFailure(format string, args ...any) TokenRefreshResult {
	return TokenRefreshResult{Error: fmt.Sprintf(format, args...)}
}

// RefreshTickResult holds the counters for a single scheduler tick
type RefreshTickResult struct {
	Refreshed int `json:"refreshed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}
