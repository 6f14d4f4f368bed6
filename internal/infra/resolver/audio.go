package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultAudioTimeout bounds a single audio download.
	DefaultAudioTimeout = 30 * time.Second

	// DefaultMaxAudioBytes caps a downloaded preview (previews are ~30 s clips).
	DefaultMaxAudioBytes = 16 << 20
)

// Audio download errors.
var (
	// ErrAudioTooLarge indicates the body exceeded the configured byte limit.
	ErrAudioTooLarge = errors.New("audio body exceeds size limit")

	// ErrAudioStatus indicates a non-2xx response.
	ErrAudioStatus = errors.New("unexpected audio status")
)

// AudioFetcher downloads raw preview audio.
type AudioFetcher struct {
	userAgent  string
	httpClient *http.Client
	timeout    time.Duration
	maxBytes   int64
}

// AudioOption is a functional option for configuring the audio fetcher.
type AudioOption func(*AudioFetcher)

// WithAudioHTTPClient sets a custom HTTP client.
func WithAudioHTTPClient(client *http.Client) AudioOption {
	return func(f *AudioFetcher) {
		f.httpClient = client
	}
}

// WithAudioTimeout bounds each download.
func WithAudioTimeout(d time.Duration) AudioOption {
	return func(f *AudioFetcher) {
		f.timeout = d
	}
}

// WithMaxBytes caps the download size.
func WithMaxBytes(n int64) AudioOption {
	return func(f *AudioFetcher) {
		f.maxBytes = n
	}
}

// WithAudioUserAgent sets a custom User-Agent header.
func WithAudioUserAgent(ua string) AudioOption {
	return func(f *AudioFetcher) {
		f.userAgent = ua
	}
}

// NewAudioFetcher creates a new audio fetcher.
func NewAudioFetcher(opts ...AudioOption) *AudioFetcher {
	f := &AudioFetcher{
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{},
		timeout:    DefaultAudioTimeout,
		maxBytes:   DefaultMaxAudioBytes,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch downloads the body at audioURL. The download is bounded by the
// fetcher's timeout and by ctx.
func (f *AudioFetcher) Fetch(ctx context.Context, audioURL string) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrAudioStatus, resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("read body: %w", err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, ErrAudioTooLarge
	}

	log.Debug().
		Str("url", audioURL).
		Int("bytes", len(data)).
		Dur("elapsed", time.Since(start)).
		Msg("Fetched preview audio")

	return data, nil
}
