package classifier

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beam-cloud/mailsync/pkg/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

const (
	defaultTimeout   = 20 * time.Second
	defaultCacheSize = 1024
	maxBodyBytes     = 64 * 1024
)

type classifyRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// HTTPClient calls an external classification service. Calls go through a
// circuit breaker and successful results are cached by content hash.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	cache      *lru.Cache[string, types.Classification]
}

func NewHTTPClient(cfg types.ClassifierConfig) (*HTTPClient, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	openDelay := cfg.BreakerOpenDelay
	if openDelay <= 0 {
		openDelay = 30 * time.Second
	}

	cache, err := lru.New[string, types.Classification](size)
	if err != nil {
		return nil, fmt.Errorf("create classifier cache: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "classifier",
		MaxRequests: 1,
		Timeout:     openDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &HTTPClient{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		cache:      cache,
	}, nil
}

func cacheKey(subject, body string) string {
	h := sha256.New()
	h.Write([]byte(subject))
	h.Write([]byte{0})
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *HTTPClient) Classify(ctx context.Context, subject, body string) (types.Classification, bool) {
	key := cacheKey(subject, body)
	if cached, ok := c.cache.Get(key); ok {
		return cached, true
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.call(ctx, subject, body)
	})
	if err != nil {
		log.Warn().Err(err).Msg("classification unavailable")
		return types.Classification{}, false
	}

	classification := result.(types.Classification)
	c.cache.Add(key, classification)
	return classification, true
}

func (c *HTTPClient) call(ctx context.Context, subject, body string) (types.Classification, error) {
	payload, err := json.Marshal(classifyRequest{Subject: subject, Body: body})
	if err != nil {
		return types.Classification{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return types.Classification{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.Classification{}, fmt.Errorf("classifier request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return types.Classification{}, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var out types.Classification
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&out); err != nil {
		return types.Classification{}, fmt.Errorf("decode classification: %w", err)
	}
	out.PriorityScore = types.ClampPriority(out.PriorityScore)
	return out, nil
}
