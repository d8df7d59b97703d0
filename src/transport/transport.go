// Package transport issues HTTP calls with per-attempt timeouts, abort, and
// exponential-backoff retry. It is the leaf dependency of the conversation
// client and the session manager.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Policy controls timeout and retry behavior for a single logical call.
type Policy struct {
	// Timeout governs one attempt end to end, including body consumption.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt, so a
	// policy with MaxRetries=3 performs at most 4 attempts.
	MaxRetries int
	// RetryDelay is the base backoff delay; attempt n waits RetryDelay*2^n.
	RetryDelay time.Duration
}

// MessagePolicy is the default policy for regular message sends.
func MessagePolicy() Policy {
	return Policy{
		Timeout:    2 * time.Minute,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// WorkflowPolicy is the policy for workflow-class sends. These hit heavier
// backend paths, so the timeout is extended and fewer retries are allowed:
// retrying an expensive operation compounds cost.
func WorkflowPolicy() Policy {
	return Policy{
		Timeout:    5 * time.Minute,
		MaxRetries: 2,
		RetryDelay: time.Second,
	}
}

// Request describes one HTTP call. The body is held as bytes so attempts can
// be replayed.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Transport performs HTTP requests with retry. Retries happen only on
// network failures, timeouts, and 5xx responses; 4xx responses are returned
// immediately for the caller to handle.
type Transport struct {
	client *http.Client
	logger *slog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.client = c }
}

// New creates a Transport.
func New(logger *slog.Logger, opts ...Option) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		// Per-attempt deadlines come from the policy, not the client.
		client: &http.Client{},
		logger: logger.With("component", "transport"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Do performs the request under the given policy. The returned response body
// must be closed by the caller; closing it releases the attempt's timeout.
func (t *Transport) Do(ctx context.Context, req Request, p Policy) (*http.Response, error) {
	logger := t.logger.With("method", req.Method, "url", req.URL)

	var lastErr error
	attempts := p.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := p.RetryDelay * (1 << uint(attempt-1))
			logger.Debug("retrying request", "attempt", attempt+1, "delay", delay)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp, err := t.attempt(ctx, req, p.Timeout)
		if err != nil {
			// Caller-side aborts are not failures and must not be retried.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			logger.Debug("request attempt failed", "attempt", attempt+1, "error", err)
			continue
		}

		if resp.StatusCode < 500 {
			// Success or a client error the caller must fix.
			return resp, nil
		}

		resp.Body.Close()
		lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
		logger.Debug("server error", "attempt", attempt+1, "status_code", resp.StatusCode)
	}

	logger.Error("request failed after all retries", "retries", p.MaxRetries, "error", lastErr)
	return nil, fmt.Errorf("request failed after %d retries: %w", p.MaxRetries, lastErr)
}

// attempt performs a single attempt under its own timeout. On success the
// timeout stays armed until the response body is closed.
func (t *Transport) attempt(ctx context.Context, req Request, timeout time.Duration) (*http.Response, error) {
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("attempt timed out after %v: %w", timeout, err)
		}
		return nil, err
	}

	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the attempt context when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
