package transport

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
)

func fastPolicy(maxRetries int) Policy {
	return Policy{
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
	}
}

func TestDoRetriesServerErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tr := New(nil)
	start := time.Now()
	_, err := tr.Do(context.Background(), Request{
		Method: http.MethodGet,
		URL:    server.URL,
	}, fastPolicy(3))
	elapsed := time.Since(start)

	require.Error(t, err)
	// MaxRetries=3 means one initial attempt plus three retries.
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits))
	assert.Contains(t, err.Error(), "503")

	// Backoff doubles per retry: at least 1+2+4 base delays elapse, and not
	// wildly more.
	assert.GreaterOrEqual(t, elapsed, 7*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestDoRecoversAfterServerError(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	tr := New(nil)
	resp, err := tr.Do(context.Background(), Request{
		Method: http.MethodGet,
		URL:    server.URL,
	}, fastPolicy(3))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"bad request", http.StatusBadRequest},
		{"not found", http.StatusNotFound},
		{"too many requests", http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			tr := New(nil)
			resp, err := tr.Do(context.Background(), Request{
				Method: http.MethodGet,
				URL:    server.URL,
			}, fastPolicy(3))
			require.NoError(t, err)
			resp.Body.Close()

			// 4xx goes back to the caller on the first attempt.
			assert.Equal(t, tt.statusCode, resp.StatusCode)
			assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
		})
	}
}

func TestDoReplaysBodyOnRetry(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))
		if len(bodies) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tr := New(nil)
	resp, err := tr.Do(context.Background(), Request{
		Method: http.MethodPost,
		URL:    server.URL,
		Body:   []byte(`{"message":"hello"}`),
	}, fastPolicy(2))
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1])
}

func TestDoHonorsCallerCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := New(nil)
	_, err := tr.Do(ctx, Request{
		Method: http.MethodGet,
		URL:    server.URL,
	}, fastPolicy(3))
	require.ErrorIs(t, err, context.Canceled)
}

func TestDoAttemptTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	tr := New(nil)
	start := time.Now()
	_, err := tr.Do(context.Background(), Request{
		Method: http.MethodGet,
		URL:    server.URL,
	}, Policy{Timeout: 50 * time.Millisecond, MaxRetries: 1, RetryDelay: time.Millisecond})

	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDoSendsHeaders(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer secret")

	tr := New(nil)
	resp, err := tr.Do(context.Background(), Request{
		Method: http.MethodGet,
		URL:    server.URL,
		Header: header,
	}, fastPolicy(0))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestDefaultPolicies(t *testing.T) {
	msg := MessagePolicy()
	assert.Equal(t, 2*time.Minute, msg.Timeout)
	assert.Equal(t, 3, msg.MaxRetries)

	wf := WorkflowPolicy()
	assert.Equal(t, 5*time.Minute, wf.Timeout)
	assert.Equal(t, 2, wf.MaxRetries)
}
