// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package extension

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// Fetcher defaults.
const (
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 3
	DefaultBackoff    = 200 * time.Millisecond
	maxBodySize       = 8 << 20
)

// Fetcher downloads manifests and bundles over HTTP, retrying transient
// failures with exponential backoff.
type Fetcher struct {
	client     *http.Client
	maxRetries uint64
	backoff    time.Duration
	logger     *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithRetries sets the number of retries and the initial backoff.
func WithRetries(retries uint64, backoff time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.maxRetries = retries
		f.backoff = backoff
	}
}

// WithFetchLogger sets the logger.
func WithFetchLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher creates a fetcher.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:     &http.Client{Timeout: DefaultTimeout},
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get downloads target. Network errors and 5xx/429 responses are retried;
// other non-2xx responses fail at once.
func (f *Fetcher) Get(ctx context.Context, kind, target string) ([]byte, error) {
	var body []byte
	attempt := 0
	b := retry.WithMaxRetries(f.maxRetries, retry.NewExponential(f.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		resp, err := f.client.Do(req)
		if err != nil {
			f.logger.DebugContext(ctx, "fetch attempt failed", "url", target, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			f.logger.DebugContext(ctx, "fetch attempt failed", "url", target, "attempt", attempt, "status", resp.StatusCode)
			return retry.RetryableError(fmt.Errorf("unexpected status %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
		if err != nil {
			return retry.RetryableError(err)
		}
		if len(data) > maxBodySize {
			return fmt.Errorf("response larger than %d bytes", maxBodySize)
		}
		body = data
		return nil
	})
	if err != nil {
		fetches.WithLabelValues(kind, "error").Inc()
		return nil, ErrFetchFailed(target, err)
	}
	fetches.WithLabelValues(kind, "ok").Inc()
	return body, nil
}

// ResolveURL resolves ref against base. Absolute refs are returned as is.
func ResolveURL(base, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if r.IsAbs() || base == "" {
		return r.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// joinFolder prefixes ref with folder unless ref is absolute.
func joinFolder(folder, ref string) string {
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}
	if strings.HasPrefix(ref, "/") || folder == "" {
		return ref
	}
	if !strings.HasSuffix(folder, "/") {
		folder += "/"
	}
	return folder + ref
}
