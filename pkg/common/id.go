package common

import (
	"github.com/google/uuid"
)

// NewMessageID returns a fresh id for a message record.
func NewMessageID() string {
	return uuid.NewString()
}

// NewSummaryID returns a fresh id for a summary record.
func NewSummaryID() string {
	return uuid.NewString()
}

// NewEventID returns a fresh id used for event deduplication.
func NewEventID() string {
	return uuid.NewString()
}
