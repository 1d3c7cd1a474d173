package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/beam-cloud/mailsync/pkg/sources"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	DefaultGmailQuery = "in:inbox category:primary -in:spam -in:trash"
	gmailUser         = "me"
)

// DefaultGmailExcludedLabels are rejected client-side even if the query lets them through
var DefaultGmailExcludedLabels = []string{"SPAM", "TRASH", "CATEGORY_PROMOTIONS", "CATEGORY_SOCIAL", "CATEGORY_FORUMS"}

// GmailSource implements sources.Source on the Gmail API
type GmailSource struct {
	endpoint string // empty uses the SDK default
	query    string
	excluded map[string]struct{}
	timeout  time.Duration
	limiter  *sources.RateLimiter
}

// NewGmailSource creates a Gmail source from sync config
func NewGmailSource(cfg types.SyncConfig, limiter *sources.RateLimiter) *GmailSource {
	query := cfg.GmailQuery
	if query == "" {
		query = DefaultGmailQuery
	}
	labels := cfg.GmailExcludedLabels
	if len(labels) == 0 {
		labels = DefaultGmailExcludedLabels
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &GmailSource{
		endpoint: cfg.GmailAPIBase,
		query:    query,
		excluded: sources.StringSet(labels),
		timeout:  timeout,
		limiter:  limiter,
	}
}

func (g *GmailSource) Provider() types.Provider {
	return types.ProviderGmail
}

func (g *GmailSource) service(ctx context.Context, token string) (*gmail.Service, error) {
	client := &http.Client{
		Timeout: g.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   http.DefaultTransport,
		},
	}

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}

// ListCandidates lists message ids matching the inbox allow-list query
func (g *GmailSource) ListCandidates(ctx context.Context, token string, max int) ([]sources.Candidate, error) {
	svc, err := g.service(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := g.limiter.Wait(ctx, types.ProviderGmail.String()); err != nil {
		return nil, err
	}

	resp, err := svc.Users.Messages.List(gmailUser).
		Q(g.query).
		MaxResults(int64(max)).
		IncludeSpamTrash(false).
		Context(ctx).
		Do()
	if err != nil {
		return nil, g.wrapError(err, "list messages")
	}

	candidates := make([]sources.Candidate, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if len(candidates) >= max {
			break
		}
		candidates = append(candidates, sources.Candidate{ExternalID: m.Id})
	}

	log.Debug().Int("count", len(candidates)).Msg("listed gmail messages")
	return candidates, nil
}

// FetchMessage retrieves the full message for a listed id
func (g *GmailSource) FetchMessage(ctx context.Context, token string, c sources.Candidate) (*sources.RawMessage, error) {
	if c.Raw != nil {
		return c.Raw, nil
	}

	svc, err := g.service(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := g.limiter.Wait(ctx, types.ProviderGmail.String()); err != nil {
		return nil, err
	}

	msg, err := svc.Users.Messages.Get(gmailUser, c.ExternalID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, g.wrapError(err, "get message "+c.ExternalID)
	}

	return &sources.RawMessage{
		ExternalID: c.ExternalID,
		Labels:     msg.LabelIds,
		IsDraft:    hasLabel(msg.LabelIds, "DRAFT"),
		Payload:    msg,
	}, nil
}

func (g *GmailSource) Excluded(raw *sources.RawMessage) bool {
	return sources.HasAny(raw.Labels, g.excluded)
}

// Parse extracts sender, subject, body and received time
func (g *GmailSource) Parse(raw *sources.RawMessage) (*sources.ParsedMessage, error) {
	msg, ok := raw.Payload.(*gmail.Message)
	if !ok || msg == nil {
		return nil, fmt.Errorf("gmail message %s: unexpected payload", raw.ExternalID)
	}
	if msg.Payload == nil {
		return nil, fmt.Errorf("gmail message %s: missing payload", raw.ExternalID)
	}

	parsed := &sources.ParsedMessage{
		ExternalID: raw.ExternalID,
		Sender:     headerValue(msg.Payload.Headers, "From"),
		Subject:    headerValue(msg.Payload.Headers, "Subject"),
		Body:       extractBody(msg.Payload),
	}

	if msg.InternalDate > 0 {
		parsed.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	} else if date := headerValue(msg.Payload.Headers, "Date"); date != "" {
		t, err := parseEmailDate(date)
		if err != nil {
			return nil, fmt.Errorf("gmail message %s: %w", raw.ExternalID, err)
		}
		parsed.ReceivedAt = t.UTC()
	} else {
		return nil, fmt.Errorf("gmail message %s: missing received date", raw.ExternalID)
	}

	return parsed, nil
}

func (g *GmailSource) wrapError(err error, op string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		return sources.Unauthorized(types.ProviderGmail, op, err)
	}
	return fmt.Errorf("gmail %s: %w", op, err)
}

func headerValue(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return strings.TrimSpace(h.Value)
		}
	}
	return ""
}

func hasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// extractBody prefers text/plain and falls back to stripped text/html
func extractBody(part *gmail.MessagePart) string {
	if text := findMimePart(part, "text/plain"); text != "" {
		return sources.CleanText(text)
	}
	if html := findMimePart(part, "text/html"); html != "" {
		return sources.StripHTML(html)
	}
	return ""
}

// findMimePart searches the part tree breadth first at each level, then recurses
func findMimePart(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}
	if part.MimeType == mimeType && part.Body != nil {
		if decoded := sources.DecodeBase64URL(part.Body.Data); decoded != "" {
			return decoded
		}
	}

	for _, p := range part.Parts {
		if p.MimeType == mimeType && p.Body != nil {
			if decoded := sources.DecodeBase64URL(p.Body.Data); decoded != "" {
				return decoded
			}
		}
	}
	for _, p := range part.Parts {
		if len(p.Parts) > 0 {
			if result := findMimePart(p, mimeType); result != "" {
				return result
			}
		}
	}
	return ""
}

func parseEmailDate(dateStr string) (time.Time, error) {
	formats := []string{
		time.RFC1123Z,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
		"Mon, 2 Jan 2006 15:04:05 MST",
		time.RFC3339,
	}
	for _, layout := range formats {
		if t, err := time.Parse(layout, dateStr); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", dateStr)
}
