// Package providers contains typed clients for the external data providers
// (Schwab, Alpaca, FRED, Finviz, Reddit, Tavily) and the shared retrying
// HTTP transport they are built on.
package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/obs"
)

// Sentinel errors for provider-layer failures.
var (
	// ErrUnavailable is returned when a request exhausted its retries.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrUnauthorized is returned on 401/403 after any auth recovery failed.
	ErrUnauthorized = errors.New("provider unauthorized")
)

// StatusError carries a non-2xx response status for classification.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// RetryableStatus reports whether an HTTP status should be retried.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Request describes one provider API call.
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string
	// Body is the raw request body. A fresh reader is built per attempt so
	// retried POSTs resend the full payload.
	Body []byte

	// Endpoint is the logical endpoint name recorded in broker events
	// (defaults to the URL path).
	Endpoint string
}

// TransportConfig tunes the shared retry behavior.
type TransportConfig struct {
	MaxRetries     int
	BackoffBase    time.Duration
	AttemptTimeout time.Duration
}

// Transport is the retrying HTTP doer shared by all provider clients.
// Every attempt is recorded to the observability ring (and through it the
// async audit sink), tagged with the provider and logical app.
type Transport struct {
	provider string
	app      string
	client   *http.Client
	cfg      TransportConfig
	ring     *obs.Ring

	// sleep and jitter are replaceable in tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// NewTransport creates a transport for one provider/app pair. ring may be
// nil (events dropped).
func NewTransport(provider, app string, cfg TransportConfig, ring *obs.Ring) *Transport {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	return &Transport{
		provider: provider,
		app:      app,
		client:   &http.Client{},
		cfg:      cfg,
		ring:     ring,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(100 * time.Millisecond)))
		},
	}
}

// Do executes the request with retries. Retries happen on transport errors
// and on the retryable status set {429, 502, 503, 504}, with exponential
// backoff base*2^(attempt-1) plus up to 100ms of jitter. Non-retryable
// statuses return a *StatusError immediately.
func (t *Transport) Do(ctx context.Context, req *Request) ([]byte, error) {
	requestID := uuid.NewString()
	endpoint := req.Endpoint
	if endpoint == "" {
		if u, err := url.Parse(req.URL); err == nil {
			endpoint = u.Path
		}
	}

	var lastErr error
	attempts := t.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := t.cfg.BackoffBase*time.Duration(1<<(attempt-2)) + t.jitter()
			if err := t.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		body, status, err := t.attempt(ctx, req, endpoint, requestID, attempt)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return nil, fmt.Errorf("%w: %s %s: %v", ErrUnauthorized, t.provider, endpoint, err)
		}
		if status != 0 && !RetryableStatus(status) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w: %s %s after %d attempts: %v",
		ErrUnavailable, t.provider, endpoint, attempts, lastErr)
}

// attempt performs a single HTTP call and records its broker event.
// Returns (body, 0, nil) on success, or (nil, status, err) where status is 0
// for transport-level failures.
func (t *Transport) attempt(ctx context.Context, req *Request, endpoint, requestID string, attempt int) ([]byte, int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, t.cfg.AttemptTimeout)
	defer cancel()

	fullURL := req.URL
	if len(req.Query) > 0 {
		fullURL = req.URL + "?" + req.Query.Encode()
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, fullURL, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	latency := time.Since(start)

	if err != nil {
		t.record(endpoint, req.Method, 0, attempt, latency, false, err.Error(), requestID)
		return nil, 0, fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		t.record(endpoint, req.Method, resp.StatusCode, attempt, latency, false, readErr.Error(), requestID)
		return nil, 0, fmt.Errorf("read body: %w", readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		t.record(endpoint, req.Method, resp.StatusCode, attempt, latency, false, statusErr.Error(), requestID)
		return nil, resp.StatusCode, statusErr
	}

	t.record(endpoint, req.Method, resp.StatusCode, attempt, latency, true, "", requestID)
	return body, 0, nil
}

func (t *Transport) record(endpoint, method string, status, attempt int, latency time.Duration, success bool, errMsg, requestID string) {
	if t.ring == nil {
		return
	}
	t.ring.Append(models.BrokerEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Provider:  t.provider,
		App:       t.app,
		Endpoint:  endpoint,
		Method:    method,
		Status:    status,
		Attempt:   attempt,
		LatencyMS: latency.Milliseconds(),
		Success:   success,
		Error:     errMsg,
		RequestID: requestID,
	})
	if !success {
		slog.Debug("provider attempt failed",
			"provider", t.provider, "app", t.app, "endpoint", endpoint,
			"status", status, "attempt", attempt, "error", errMsg)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
