// Package transport contains the HTTP round tripper shared by the backend clients.
package transport

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultMaxAttempts = 4
	defaultBackoff     = 500 * time.Millisecond
	maxWait            = 30 * time.Second
)

// RetryingTransport retries requests the server rejected as rate limited or temporarily unavailable. It honors
// Retry-After and gives up after a fixed number of attempts, returning the last response.
type RetryingTransport struct {
	base        http.RoundTripper
	maxAttempts int
	backoff     time.Duration
	sleep       func(req *http.Request, d time.Duration) error
}

// Option configures a RetryingTransport
type Option func(*RetryingTransport)

// WithMaxAttempts bounds the number of attempts per request, the first one included
func WithMaxAttempts(n int) Option {
	return func(t *RetryingTransport) {
		if n > 0 {
			t.maxAttempts = n
		}
	}
}

// WithBackoff sets the wait before the first retry when the server sends no Retry-After. It doubles per attempt.
func WithBackoff(d time.Duration) Option {
	return func(t *RetryingTransport) { t.backoff = d }
}

func WithRetries(base http.RoundTripper, opts ...Option) *RetryingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &RetryingTransport{
		base:        base,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *RetryingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Preserve the original request body for retries
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		err = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to close request body: %w", err)
		}
	}

	for attempt := 1; ; attempt++ {
		// Restore the request body for each attempt
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return resp, err
		}
		if !retryable(resp.StatusCode) || attempt >= t.maxAttempts {
			return resp, nil
		}

		wait := retryAfter(resp.Header.Get("Retry-After"))
		if wait <= 0 {
			wait = t.backoff << (attempt - 1)
		}
		wait = min(wait, maxWait)

		// Close the response body to free resources
		err = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to close response body: %w", err)
		}

		log.Printf("Request to %s returned %d, retrying in %s (attempt %d of %d)",
			req.URL.Path, resp.StatusCode, wait, attempt+1, t.maxAttempts)
		if err := t.sleep(req, wait); err != nil {
			return nil, err
		}
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date
func retryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		return time.Until(when)
	}
	return 0
}

func sleepContext(req *http.Request, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-timer.C:
		return nil
	}
}
