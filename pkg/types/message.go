package types

import (
	"time"
)

const (
	MinPriorityScore = 0
	MaxPriorityScore = 100
)

// MessageRecord is a message ingested from a provider. The (AccountID, Provider,
// ExternalID) triple is unique and records are never mutated after creation.
type MessageRecord struct {
	ID              string    `json:"id" db:"id"`
	AccountID       string    `json:"account_id" db:"account_id"`
	Provider        Provider  `json:"provider" db:"provider"`
	ExternalID      string    `json:"external_id" db:"external_id"`
	Sender          string    `json:"sender" db:"sender"`
	Subject         string    `json:"subject" db:"subject"`
	Body            string    `json:"body" db:"body"`
	ReceivedAt      time.Time `json:"received_at" db:"received_at"`
	PriorityScore   *int      `json:"priority_score,omitempty" db:"priority_score"`
	Category        string    `json:"category,omitempty" db:"category"`
	SuggestedAction string    `json:"suggested_action,omitempty" db:"suggested_action"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// DedupKey identifies a message across syncs
type DedupKey struct {
	AccountID  string
	Provider   Provider
	ExternalID string
}

func (m *MessageRecord) DedupKey() DedupKey {
	return DedupKey{AccountID: m.AccountID, Provider: m.Provider, ExternalID: m.ExternalID}
}

// ApplyClassification copies classifier output onto the record
func (m *MessageRecord) ApplyClassification(c Classification) {
	score := ClampPriority(c.PriorityScore)
	m.PriorityScore = &score
	m.Category = c.Category
	m.SuggestedAction = c.SuggestedAction
}

// SummaryRecord holds the classifier summary for a message, stored separately
type SummaryRecord struct {
	ID        string    `json:"id" db:"id"`
	MessageID string    `json:"message_id" db:"message_id"`
	AccountID string    `json:"account_id" db:"account_id"`
	Summary   string    `json:"summary" db:"summary"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IngestedMessage is a message plus its optional summary, persisted together
type IngestedMessage struct {
	Message *MessageRecord
	Summary *SummaryRecord
}

// Classification is the output of the external classifier
type Classification struct {
	Summary         string `json:"summary"`
	PriorityScore   int    `json:"priorityScore"`
	Category        string `json:"category"`
	SuggestedAction string `json:"suggestedAction"`
}

// ClampPriority forces a priority score into [0, 100]
func ClampPriority(score int) int {
	if score < MinPriorityScore {
		return MinPriorityScore
	}
	if score > MaxPriorityScore {
		return MaxPriorityScore
	}
	return score
}
