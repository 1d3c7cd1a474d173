package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSPublisher publishes events to a JetStream stream with MsgId deduplication
type NATSPublisher struct {
	nc            *nats.Conn
	js            nats.JetStreamContext
	stream        string
	subjectPrefix string
}

// NewNATSPublisher connects to NATS and ensures the event stream exists
func NewNATSPublisher(cfg types.EventsConfig) (*NATSPublisher, error) {
	stream := cfg.Stream
	if stream == "" {
		stream = DefaultStream
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("mailsync"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	p := &NATSPublisher{nc: nc, js: js, stream: stream, subjectPrefix: prefix}
	if err := p.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}

	log.Info().Str("stream", stream).Msg("connected to nats")
	return p, nil
}

func (p *NATSPublisher) ensureStream() error {
	info, err := p.js.StreamInfo(p.stream)
	if err == nil && info != nil {
		return nil
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:       p.stream,
		Subjects:   []string{p.subjectPrefix + ".>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     7 * 24 * time.Hour,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

func (p *NATSPublisher) SyncCompleted(ctx context.Context, accountID string, provider types.Provider, result types.SyncResult) {
	event := newSyncCompletedEvent(accountID, provider, result)
	payload, err := event.Marshal()
	if err != nil {
		log.Warn().Err(err).Str("account_id", accountID).Msg("failed to encode sync event")
		return
	}

	subject := Subject(p.subjectPrefix, accountID, EventSyncCompleted)
	if _, err := p.js.Publish(subject, payload, nats.MsgId(event.ID), nats.Context(ctx)); err != nil {
		log.Warn().Err(err).Str("account_id", accountID).Str("subject", subject).Msg("failed to publish sync event")
	}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

// New returns a NATS publisher when a URL is configured, otherwise Noop
func New(cfg types.EventsConfig) (Publisher, error) {
	if cfg.NATSURL == "" {
		return Noop{}, nil
	}
	return NewNATSPublisher(cfg)
}
