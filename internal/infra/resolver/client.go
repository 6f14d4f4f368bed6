// Package resolver provides the HTTP clients that talk to the preview service:
// preview URL resolution and raw audio download.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/edumarques81/stellar-playback/internal/domain/preview"
)

const (
	// DefaultBaseURL is the preview service base URL
	DefaultBaseURL = "http://localhost:8080"

	// DefaultUserAgent identifies us to the preview service
	DefaultUserAgent = "Stellar-Playback/1.0 (https://github.com/edumarques81/stellar-playback)"

	// DefaultTimeout for HTTP requests
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit - requests per second
	DefaultRateLimit = 5
)

// Client resolves track ids to preview URLs via GET {base}/preview/{id}.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRateLimit sets the rate limit in requests per second.
// Zero or less disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// NewClient creates a new preview resolver client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// previewResponse is the resolver payload. PreviewURL is null when the track
// has no preview.
type previewResponse struct {
	PreviewURL *string `json:"previewUrl"`
}

// ResolvePreview implements preview.Resolver.
//
// A 200 with a null or empty previewUrl yields ("", nil). A 429 yields
// preview.ErrRateLimited. Every other failure wraps preview.ErrNetwork, except
// context cancellation and deadline, which are returned as the context error.
func (c *Client) ResolvePreview(ctx context.Context, trackID string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: rate limiter: %v", preview.ErrNetwork, err)
	}

	reqURL := fmt.Sprintf("%s/preview/%s", c.baseURL, url.PathEscape(trackID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %w", preview.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		log.Warn().Str("trackId", trackID).Msg("Preview service rate limit exceeded")
		return "", preview.ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", fmt.Errorf("%w: unexpected status: %d", preview.ErrNetwork, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: read response: %w", preview.ErrNetwork, err)
	}

	var pr previewResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return "", fmt.Errorf("%w: parse response: %w", preview.ErrNetwork, err)
	}

	if pr.PreviewURL == nil || strings.TrimSpace(*pr.PreviewURL) == "" {
		log.Debug().Str("trackId", trackID).Msg("Preview service reports no preview")
		return "", nil
	}

	return strings.TrimSpace(*pr.PreviewURL), nil
}
