package modelcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/time/rate"

	"github.com/tabsense/tabsense/internal/logger"
)

// Default fetcher behaviour.
const (
	DefaultFetchTimeout = 5 * time.Minute
	DefaultFetchRetries = 3
	DefaultFetchBackoff = 2 * time.Second
)

// Fetcher downloads model binaries with request pacing and bounded retries.
type Fetcher struct {
	client       *http.Client
	limiter      *rate.Limiter
	retries      int
	backoff      time.Duration
	showProgress bool
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient overrides the HTTP client. Useful for testing.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithRetries sets the retry count for transient failures.
func WithRetries(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.retries = n
		}
	}
}

// WithBackoff sets the base backoff between attempts. Backoff grows
// linearly: attempt n waits n times the base.
func WithBackoff(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.backoff = d
		}
	}
}

// WithProgress enables a progress bar on stderr during downloads.
func WithProgress(show bool) FetcherOption {
	return func(f *Fetcher) {
		f.showProgress = show
	}
}

// NewFetcher creates a fetcher. Request pacing defaults to one download
// start per second, which keeps repeated retry loops polite.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{Timeout: DefaultFetchTimeout},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		retries: DefaultFetchRetries,
		backoff: DefaultFetchBackoff,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads url, retrying transient failures with linear backoff.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.retries; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("fetch rate limit: %w", err)
		}

		payload, err := f.fetchOnce(ctx, url)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		logger.Warn("modelcache: download attempt %d/%d failed: %v", attempt, f.retries, err)

		if attempt < f.retries {
			select {
			case <-time.After(time.Duration(attempt) * f.backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("download failed after %d attempts: %w", f.retries, lastErr)
}

// fetchOnce performs a single download attempt.
func (f *Fetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	var dst io.Writer = &buf
	if f.showProgress {
		bar := progressbar.DefaultBytes(resp.ContentLength, "downloading model")
		dst = io.MultiWriter(&buf, bar)
	}

	if _, err := io.Copy(dst, resp.Body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return buf.Bytes(), nil
}
