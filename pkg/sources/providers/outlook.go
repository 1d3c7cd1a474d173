package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/beam-cloud/mailsync/pkg/sources"
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/rs/zerolog/log"
)

const (
	GraphAPIBase  = "https://graph.microsoft.com/v1.0"
	outlookSelect = "id,subject,from,body,receivedDateTime,categories,isDraft"
)

// DefaultOutlookExcludedCategories are rejected client-side
var DefaultOutlookExcludedCategories = []string{"Promotions", "Social"}

// graphMessage is the subset of a Graph message resource that is selected
type graphMessage struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    *struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	Body *struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	ReceivedDateTime string   `json:"receivedDateTime"`
	Categories       []string `json:"categories"`
	IsDraft          bool     `json:"isDraft"`
}

type graphMessageList struct {
	Value []graphMessage `json:"value"`
}

// OutlookSource implements sources.Source on the Microsoft Graph mail API.
// The inbox listing returns full records so no follow-up fetch is made.
type OutlookSource struct {
	apiBase    string
	excluded   map[string]struct{}
	httpClient *http.Client
	limiter    *sources.RateLimiter
}

// NewOutlookSource creates an Outlook source from sync config
func NewOutlookSource(cfg types.SyncConfig, limiter *sources.RateLimiter) *OutlookSource {
	base := cfg.GraphAPIBase
	if base == "" {
		base = GraphAPIBase
	}
	categories := cfg.OutlookExcludedCategories
	if len(categories) == 0 {
		categories = DefaultOutlookExcludedCategories
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OutlookSource{
		apiBase:    strings.TrimRight(base, "/"),
		excluded:   sources.StringSet(categories),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

func (o *OutlookSource) Provider() types.Provider {
	return types.ProviderOutlook
}

// request makes an authenticated GET against the Graph API
func (o *OutlookSource) request(ctx context.Context, token, path string, query url.Values, result any) error {
	if err := o.limiter.Wait(ctx, types.ProviderOutlook.String()); err != nil {
		return err
	}

	u := o.apiBase + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", `outlook.body-content-type="text"`)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("outlook request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return sources.Unauthorized(types.ProviderOutlook, path, nil)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("graph API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}

// ListCandidates lists the newest inbox messages with their full records
func (o *OutlookSource) ListCandidates(ctx context.Context, token string, max int) ([]sources.Candidate, error) {
	query := url.Values{
		"$top":     {strconv.Itoa(max)},
		"$orderby": {"receivedDateTime desc"},
		"$select":  {outlookSelect},
	}

	var list graphMessageList
	if err := o.request(ctx, token, "/me/mailFolders/inbox/messages", query, &list); err != nil {
		return nil, err
	}

	candidates := make([]sources.Candidate, 0, len(list.Value))
	for i := range list.Value {
		if len(candidates) >= max {
			break
		}
		m := list.Value[i]
		candidates = append(candidates, sources.Candidate{
			ExternalID: m.ID,
			Raw:        rawOutlookMessage(&m),
		})
	}

	log.Debug().Int("count", len(candidates)).Msg("listed outlook messages")
	return candidates, nil
}

// FetchMessage returns the listed record, or loads it by id when the candidate has none
func (o *OutlookSource) FetchMessage(ctx context.Context, token string, c sources.Candidate) (*sources.RawMessage, error) {
	if c.Raw != nil {
		return c.Raw, nil
	}

	var m graphMessage
	query := url.Values{"$select": {outlookSelect}}
	if err := o.request(ctx, token, "/me/messages/"+url.PathEscape(c.ExternalID), query, &m); err != nil {
		return nil, err
	}
	return rawOutlookMessage(&m), nil
}

func (o *OutlookSource) Excluded(raw *sources.RawMessage) bool {
	return raw.IsDraft || sources.HasAny(raw.Labels, o.excluded)
}

func (o *OutlookSource) Parse(raw *sources.RawMessage) (*sources.ParsedMessage, error) {
	m, ok := raw.Payload.(*graphMessage)
	if !ok || m == nil {
		return nil, fmt.Errorf("outlook message %s: unexpected payload", raw.ExternalID)
	}

	received, err := time.Parse(time.RFC3339, m.ReceivedDateTime)
	if err != nil {
		return nil, fmt.Errorf("outlook message %s: invalid receivedDateTime %q", raw.ExternalID, m.ReceivedDateTime)
	}

	parsed := &sources.ParsedMessage{
		ExternalID: raw.ExternalID,
		Subject:    strings.TrimSpace(m.Subject),
		ReceivedAt: received.UTC(),
	}

	if m.From != nil {
		addr := m.From.EmailAddress
		switch {
		case addr.Name != "" && addr.Address != "" && addr.Name != addr.Address:
			parsed.Sender = fmt.Sprintf("%s <%s>", addr.Name, addr.Address)
		case addr.Address != "":
			parsed.Sender = addr.Address
		default:
			parsed.Sender = addr.Name
		}
	}

	if m.Body != nil {
		if strings.EqualFold(m.Body.ContentType, "html") {
			parsed.Body = sources.StripHTML(m.Body.Content)
		} else {
			parsed.Body = sources.CleanText(m.Body.Content)
		}
	}

	return parsed, nil
}

func rawOutlookMessage(m *graphMessage) *sources.RawMessage {
	return &sources.RawMessage{
		ExternalID: m.ID,
		Labels:     m.Categories,
		IsDraft:    m.IsDraft,
		Payload:    m,
	}
}
