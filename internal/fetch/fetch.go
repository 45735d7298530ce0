// Package fetch retrieves marketplace pages. Every network fetch goes
// through the per-host limiter; cache hits are served without touching
// the limiter at all.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultUserAgent = "CompScout/1.0 (+ops@compscout.dev)"
	maxBodyBytes     = 4 << 20
)

// ErrTooManyRequests signals an HTTP 429 from the host. The agent counts
// these per host and stops dispatching once the host's budget is spent.
var ErrTooManyRequests = errors.New("too many requests")

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL    string
	Status int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
}

// Fetcher retrieves the raw HTML of a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// HTTPFetcher is the plain HTTP fetcher used for hosts that serve usable
// markup without JavaScript.
type HTTPFetcher struct {
	Client    *http.Client
	Retries   int
	UserAgent string
}

// NewHTTPFetcher builds a fetcher with the given request timeout and
// retry budget for transient failures.
func NewHTTPFetcher(timeout time.Duration, retries int) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPFetcher{
		Client:    &http.Client{Timeout: timeout},
		Retries:   retries,
		UserAgent: defaultUserAgent,
	}
}

// Fetch GETs the URL, retrying transient failures (network errors and
// 5xx) with exponential backoff. A 429 is never retried here: it is
// returned immediately wrapped around ErrTooManyRequests so the caller
// can charge the host's rate-limit budget.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= f.Retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		html, err := f.fetchOnce(ctx, url)
		if err == nil {
			return html, nil
		}
		if errors.Is(err, ErrTooManyRequests) || ctx.Err() != nil {
			return "", err
		}
		var se StatusError
		if errors.As(err, &se) && se.Status < 500 {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("fetch %s after %d attempts: %w", url, f.Retries+1, lastErr)
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("fetch %s: %w", url, ErrTooManyRequests)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", StatusError{URL: url, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return strings.ToValidUTF8(string(body), ""), nil
}
