package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(waits *[]time.Duration) Option {
	return func(t *RetryingTransport) {
		t.sleep = func(_ *http.Request, d time.Duration) error {
			*waits = append(*waits, d)
			return nil
		}
	}
}

func TestRetryingTransport_RetriesUntilSuccessAndReplaysBody(t *testing.T) {
	var calls atomic.Int32
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		switch calls.Add(1) {
		case 1:
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	var waits []time.Duration
	client := &http.Client{Transport: WithRetries(nil, WithBackoff(100*time.Millisecond), noSleep(&waits))}

	resp, err := client.Post(server.URL, "application/json", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []string{`{"a":1}`, `{"a":1}`, `{"a":1}`}, bodies)
	assert.Equal(t, []time.Duration{2 * time.Second, 200 * time.Millisecond}, waits)
}

func TestRetryingTransport_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	var waits []time.Duration
	client := &http.Client{Transport: WithRetries(nil, WithMaxAttempts(2), noSleep(&waits))}

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, waits, 1)
}

func TestRetryingTransport_DoesNotRetryOtherErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := &http.Client{Transport: WithRetries(nil)}
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryingTransport_CanceledWhileWaiting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	_, err = WithRetries(nil).RoundTrip(req)
	assert.Error(t, err)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, retryAfter("5"))
	assert.Zero(t, retryAfter(""))
	assert.Zero(t, retryAfter("soon"))

	future := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
	d := retryAfter(future)
	assert.Greater(t, d, 8*time.Second)
	assert.LessOrEqual(t, d, 10*time.Second)
}
