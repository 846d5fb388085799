// Package calendar talks to external calendars: iCal feeds and the PMS
// availability API.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"ledger-backend/internal/metrics"
)

const maxFeedBytes = 5 << 20

// ErrFeedTooLarge is returned for bodies over maxFeedBytes
var ErrFeedTooLarge = fmt.Errorf("calendar response exceeds %d bytes", maxFeedBytes)

// RetryConfig configures outbound calendar requests
type RetryConfig struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (c RetryConfig) normalize() RetryConfig {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 200 * time.Millisecond
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = 2 * time.Second
	}
	return c
}

// StatusError is a non-2xx response from a calendar endpoint
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("calendar endpoint returned HTTP %d", e.Status)
}

func (e *StatusError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func shouldRetry(_ []byte, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrFeedTooLarge) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	return true
}

func newExecutor(cfg RetryConfig) failsafe.Executor[[]byte] {
	retry := retrypolicy.NewBuilder[[]byte]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(shouldRetry).
		Build()
	return failsafe.With(retry)
}

// httpGetter runs bounded GETs through a retry policy. The timeout covers
// all attempts together.
type httpGetter struct {
	client   *http.Client
	executor failsafe.Executor[[]byte]
	timeout  time.Duration
	kind     string
}

func newHTTPGetter(client *http.Client, cfg RetryConfig, kind string) *httpGetter {
	cfg = cfg.normalize()
	if client == nil {
		client = &http.Client{}
	}
	return &httpGetter{
		client:   client,
		executor: newExecutor(cfg),
		timeout:  cfg.Timeout,
		kind:     kind,
	}
}

func (g *httpGetter) get(ctx context.Context, target string, header http.Header) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.CalendarFetchDuration.WithLabelValues(g.kind).Observe(time.Since(start).Seconds())
	}()

	return g.executor.WithContext(ctx).Get(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range header {
			req.Header[k] = v
		}

		resp, err := g.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			return nil, &StatusError{URL: target, Status: resp.StatusCode}
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
		if err != nil {
			return nil, err
		}
		if len(body) > maxFeedBytes {
			return nil, ErrFeedTooLarge
		}
		return body, nil
	})
}

// FeedFetcher downloads iCal feeds
type FeedFetcher struct {
	getter *httpGetter
}

func NewFeedFetcher(client *http.Client, cfg RetryConfig) *FeedFetcher {
	return &FeedFetcher{getter: newHTTPGetter(client, cfg, "ical")}
}

// Fetch returns the raw feed body. webcal:// URLs are fetched over https.
func (f *FeedFetcher) Fetch(ctx context.Context, feedURL string) ([]byte, error) {
	target, err := httpURL(feedURL)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Accept", "text/calendar")
	return f.getter.get(ctx, target, header)
}

func httpURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid feed URL: %w", err)
	}
	if u.Scheme == "webcal" {
		u.Scheme = "https"
	}
	return u.String(), nil
}
