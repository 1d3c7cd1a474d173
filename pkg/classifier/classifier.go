package classifier

import (
	"context"

	"github.com/beam-cloud/mailsync/pkg/types"
)

// Classifier enriches a message with a summary, priority, category and suggested action.
// A false second return means no classification is available, which is a valid outcome.
type Classifier interface {
	Classify(ctx context.Context, subject, body string) (types.Classification, bool)
}

// Noop never classifies
type Noop struct{}

func (Noop) Classify(ctx context.Context, subject, body string) (types.Classification, bool) {
	return types.Classification{}, false
}

// New returns the HTTP classifier when a URL is configured, otherwise Noop
func New(cfg types.ClassifierConfig) (Classifier, error) {
	if cfg.URL == "" {
		return Noop{}, nil
	}
	return NewHTTPClient(cfg)
}
