package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/pkg/obs"
)

func newTestTransport(ring *obs.Ring) *Transport {
	t := NewTransport("schwab", "market", TransportConfig{
		MaxRetries:     3,
		BackoffBase:    time.Millisecond,
		AttemptTimeout: 2 * time.Second,
	}, ring)
	t.sleep = func(context.Context, time.Duration) error { return nil }
	t.jitter = func() time.Duration { return 0 }
	return t
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 502, 503, 504} {
		assert.True(t, RetryableStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 500} {
		assert.False(t, RetryableStatus(code), "status %d", code)
	}
}

func TestTransport_SuccessFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := newTestTransport(nil)
	body, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL + "/quote"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestTransport_RetriesOn503ThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ring := obs.NewRing(16, nil)
	tr := newTestTransport(ring)

	body, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL + "/quote"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(3), calls.Load())

	// Every attempt is recorded, in order, with increasing attempt numbers.
	events := ring.Snapshot()
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Attempt)
		assert.Equal(t, "schwab", ev.Provider)
		assert.Equal(t, "market", ev.App)
	}
	assert.False(t, events[0].Success)
	assert.True(t, events[2].Success)
}

func TestTransport_ExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr := newTestTransport(nil)
	_, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL + "/quote"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestTransport_NonRetryableStatusFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tr := newTestTransport(nil)
	_, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL + "/quote"})
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load(), "404 must not be retried")
}

func TestTransport_UnauthorizedMapsToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := newTestTransport(nil)
	_, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL + "/accounts"})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestTransport_ResendsBodyOnRetry(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(raw))
		if len(bodies) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tr := newTestTransport(nil)
	_, err := tr.Do(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    srv.URL + "/search",
		Body:   []byte(`{"query":"NVDA earnings"}`),
	})
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Equal(t, `{"query":"NVDA earnings"}`, bodies[0])
	assert.Equal(t, `{"query":"NVDA earnings"}`, bodies[1], "retried POST must resend the full payload")
}

func TestTransport_CancelDuringBackoffStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := NewTransport("schwab", "market", TransportConfig{
		MaxRetries:     3,
		BackoffBase:    time.Minute, // only a canceled context can end the test quickly
		AttemptTimeout: time.Second,
	}, nil)
	tr.jitter = func() time.Duration { return 0 }

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := tr.Do(ctx, &Request{Method: http.MethodGet, URL: srv.URL + "/quote"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load(), "no retry after cancellation")
}

func TestTransport_BackoffDoubles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewTransport("schwab", "market", TransportConfig{
		MaxRetries:     3,
		BackoffBase:    100 * time.Millisecond,
		AttemptTimeout: time.Second,
	}, nil)
	tr.jitter = func() time.Duration { return 0 }

	var delays []time.Duration
	tr.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, err := tr.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
	require.ErrorIs(t, err, ErrUnavailable)

	require.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, delays)
}
