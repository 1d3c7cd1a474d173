package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/beam-cloud/mailsync/pkg/classifier"
	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/beam-cloud/mailsync/pkg/credentials"
	"github.com/beam-cloud/mailsync/pkg/events"
	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/beam-cloud/mailsync/pkg/sources"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxCount = 20
	MaxCount        = 500

	publishTimeout = 5 * time.Second
)

// Options wires an Orchestrator to its collaborators
type Options struct {
	Source      sources.Source
	Accounts    repository.CredentialStore
	Messages    repository.MessageStore
	Credentials *credentials.Manager
	Classifier  classifier.Classifier // nil disables classification
	Publisher   events.Publisher      // nil disables events

	DefaultMaxCount int
	MaxCount        int
}

// Orchestrator runs end-to-end syncs for one provider
type Orchestrator struct {
	source      sources.Source
	accounts    repository.CredentialStore
	messages    repository.MessageStore
	credentials *credentials.Manager
	classifier  classifier.Classifier
	publisher   events.Publisher
	defaultMax  int
	maxCount    int
	now         func() time.Time
}

func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		source:      opts.Source,
		accounts:    opts.Accounts,
		messages:    opts.Messages,
		credentials: opts.Credentials,
		classifier:  opts.Classifier,
		publisher:   opts.Publisher,
		defaultMax:  opts.DefaultMaxCount,
		maxCount:    opts.MaxCount,
		now:         time.Now,
	}
	if o.classifier == nil {
		o.classifier = classifier.Noop{}
	}
	if o.publisher == nil {
		o.publisher = events.Noop{}
	}
	if o.maxCount <= 0 || o.maxCount > MaxCount {
		o.maxCount = MaxCount
	}
	if o.defaultMax <= 0 || o.defaultMax > o.maxCount {
		o.defaultMax = DefaultMaxCount
	}
	return o
}

func (o *Orchestrator) Provider() types.Provider {
	return o.source.Provider()
}

func (o *Orchestrator) clampMaxCount(maxCount int) int {
	if maxCount <= 0 {
		return o.defaultMax
	}
	if maxCount > o.maxCount {
		return o.maxCount
	}
	return maxCount
}

// Sync pulls new messages for one account into the message store. It never
// returns an error; every failure is reported through the result.
func (o *Orchestrator) Sync(ctx context.Context, accountID string, maxCount int) (result types.SyncResult) {
	provider := o.source.Provider()
	logger := log.With().Str("account_id", accountID).Str("provider", provider.String()).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("sync panicked")
			result = types.FailedSyncResult("%s sync of account %s failed unexpectedly", provider, accountID)
		}

		logger.Info().
			Int("added", result.Added).
			Int("skipped", result.Skipped).
			Int("failed", result.Failed).
			Int("errors", len(result.Errors)).
			Msg("sync finished")

		publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		o.publisher.SyncCompleted(publishCtx, accountID, provider, result)
	}()

	maxCount = o.clampMaxCount(maxCount)

	account, err := o.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return types.FailedSyncResult("load account %s: %v", accountID, err)
	}
	if account == nil {
		return types.FailedSyncResult("account %s not found", accountID)
	}
	if account.Provider != provider {
		return types.FailedSyncResult("account %s belongs to %s, not %s", accountID, account.Provider, provider)
	}

	session, err := o.credentials.Lease(ctx, accountID)
	if err != nil {
		return types.FailedSyncResult("lock account %s: %v", accountID, err)
	}
	defer session.Release()
	ctx = session.Context()

	if !session.EnsureValid(ctx) {
		return types.FailedSyncResult("%s account %s has no usable credentials, reauthorization required", provider, accountID)
	}

	candidates, err := credentials.Retry(ctx, session, func(ctx context.Context, token string) ([]sources.Candidate, error) {
		return o.source.ListCandidates(ctx, token, maxCount)
	})
	if err != nil {
		return types.FailedSyncResult("list %s messages: %v", provider, err)
	}

	ingested, err := o.messages.IngestedExternalIDs(ctx, accountID, provider)
	if err != nil {
		return types.FailedSyncResult("load ingested messages: %v", err)
	}

	result = types.NewSyncResult()
	pending := make([]types.IngestedMessage, 0, len(candidates))

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return discard(ctx, logger, result, len(pending))
		}

		if _, ok := ingested[candidate.ExternalID]; ok {
			result.Skipped++
			continue
		}

		raw, err := credentials.Retry(ctx, session, func(ctx context.Context, token string) (*sources.RawMessage, error) {
			return o.source.FetchMessage(ctx, token, candidate)
		})
		if err != nil {
			if ctx.Err() != nil {
				// reported once by discard
				continue
			}
			result.Fail("fetch message %s: %v", candidate.ExternalID, err)
			continue
		}

		if o.source.Excluded(raw) {
			result.Skipped++
			continue
		}

		parsed, err := o.source.Parse(raw)
		if err != nil {
			result.Fail("parse message %s: %v", candidate.ExternalID, err)
			continue
		}

		pending = append(pending, o.buildRecord(ctx, accountID, provider, parsed))
		ingested[candidate.ExternalID] = struct{}{}
		result.Added++
	}

	if ctx.Err() != nil {
		return discard(ctx, logger, result, len(pending))
	}
	if len(pending) == 0 {
		return result
	}

	if err := o.messages.SaveIngested(ctx, pending); err != nil {
		logger.Error().Err(err).Int("pending", len(pending)).Msg("failed to persist messages")
		result.Failed += len(pending)
		result.Added = 0
		result.AddError("save messages: %v", err)
	}
	return result
}

// discard drops every message not yet committed when the sync context ends,
// whether by caller cancellation or loss of the account lock.
func discard(ctx context.Context, logger zerolog.Logger, result types.SyncResult, pending int) types.SyncResult {
	cause := context.Cause(ctx)
	logger.Warn().Err(cause).Int("pending", pending).Msg("sync cancelled, discarding uncommitted messages")
	result.Added = 0
	result.AddError("sync cancelled: %v", cause)
	return result
}

// buildRecord creates the message and optional summary records. Classification
// is best effort: an absent result leaves the classification fields empty.
func (o *Orchestrator) buildRecord(ctx context.Context, accountID string, provider types.Provider, parsed *sources.ParsedMessage) types.IngestedMessage {
	now := o.now().UTC()
	msg := &types.MessageRecord{
		ID:         common.NewMessageID(),
		AccountID:  accountID,
		Provider:   provider,
		ExternalID: parsed.ExternalID,
		Sender:     parsed.Sender,
		Subject:    parsed.Subject,
		Body:       parsed.Body,
		ReceivedAt: parsed.ReceivedAt.UTC(),
		CreatedAt:  now,
	}
	out := types.IngestedMessage{Message: msg}

	classification, ok := o.classifier.Classify(ctx, parsed.Subject, parsed.Body)
	if !ok {
		log.Debug().Str("account_id", accountID).Str("external_id", parsed.ExternalID).Msg("message left unclassified")
		return out
	}

	msg.ApplyClassification(classification)
	if summary := strings.TrimSpace(classification.Summary); summary != "" {
		out.Summary = &types.SummaryRecord{
			ID:        common.NewSummaryID(),
			MessageID: msg.ID,
			AccountID: accountID,
			Summary:   summary,
			CreatedAt: now,
		}
	}
	return out
}
