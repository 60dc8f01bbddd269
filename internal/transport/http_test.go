package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irisforge/emissary/internal/errdefs"
	"github.com/irisforge/emissary/internal/model"
	"github.com/irisforge/emissary/internal/tracectx"
)

func newTestTransport(t *testing.T, baseURL string, retryMax int, backoff float64) (*HTTPTransport, *[]time.Duration) {
	t.Helper()
	tr, err := NewHTTPTransport(HTTPConfig{
		BaseURL:            baseURL,
		Timeout:            2 * time.Second,
		RetryMaxAttempts:   retryMax,
		RetryBackoffFactor: backoff,
		Logger:             testLogger(),
	})
	require.NoError(t, err)

	var delays []time.Duration
	tr.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return tr, &delays
}

func TestHTTPPublishSuccess(t *testing.T) {
	var gotTrace atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/messages", r.URL.Path)
		gotTrace.Store(r.Header.Get("X-Trace-ID"))

		var wire map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wire))
		assert.Contains(t, wire, "message_text")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr, delays := newTestTransport(t, srv.URL, 3, 2)
	ctx, id := tracectx.Ensure(context.Background())

	ok, err := tr.Publish(ctx, testMessage(id.String()))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, *delays)
	assert.Equal(t, id.String(), gotTrace.Load())
}

func TestHTTPPublishRetriesWithExponentialBackoff(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr, delays := newTestTransport(t, srv.URL, 3, 2)
	ctx, id := tracectx.Ensure(context.Background())

	ok, err := tr.Publish(ctx, testMessage(id.String()))
	assert.False(t, ok)

	var ierr *errdefs.ExternalIntegrationError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, srv.URL+"/messages", ierr.Endpoint)
	assert.Equal(t, id.String(), ierr.TraceID)

	// exactly retry_max_attempts attempts, delays 2^0 and 2^1 seconds
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)
}

func TestHTTPPublishRecoversMidRetry(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr, delays := newTestTransport(t, srv.URL, 3, 2)
	ok, err := tr.Publish(context.Background(), testMessage(strings.Repeat("c", 32)))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Len(t, *delays, 2)
}

func TestHTTPPublishConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	tr, _ := newTestTransport(t, srv.URL, 2, 2)
	ok, err := tr.Publish(context.Background(), testMessage(strings.Repeat("d", 32)))
	assert.False(t, ok)

	var ierr *errdefs.ExternalIntegrationError
	require.ErrorAs(t, err, &ierr)
}

func TestHTTPPublishHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport(HTTPConfig{BaseURL: srv.URL, Logger: testLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	tr.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err = tr.Publish(ctx, testMessage(strings.Repeat("e", 32)))
	require.ErrorIs(t, err, context.Canceled)
}

func TestHTTPConsumeArray(t *testing.T) {
	good := json.RawMessage(commandDoc(t))
	bad := json.RawMessage(`{"error_type": "hardware", "severity": 9}`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/commands", r.URL.Path)
		assert.Len(t, r.Header.Get("X-Trace-ID"), 32)
		_ = json.NewEncoder(w).Encode([]json.RawMessage{good, bad})
	}))
	defer srv.Close()

	tr, _ := newTestTransport(t, srv.URL, 3, 2)
	cmds, err := tr.Consume(context.Background())
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, model.ErrorTypeResource, cmds[0].ErrorType)
}

func TestHTTPConsumeSingleObject(t *testing.T) {
	doc := commandDoc(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(doc)
	}))
	defer srv.Close()

	tr, _ := newTestTransport(t, srv.URL, 3, 2)
	cmds, err := tr.Consume(context.Background())
	require.NoError(t, err)
	require.Len(t, cmds, 1)
}

func TestHTTPConsumeNonOKStatusNoRetry(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr, delays := newTestTransport(t, srv.URL, 3, 2)
	_, err := tr.Consume(context.Background())

	var ierr *errdefs.ExternalIntegrationError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, http.StatusBadGateway, ierr.StatusCode)
	assert.Equal(t, srv.URL+"/commands", ierr.Endpoint)
	assert.Equal(t, int32(1), attempts.Load())
	assert.Empty(t, *delays)
}

func TestHTTPConsumeInvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer srv.Close()

	tr, _ := newTestTransport(t, srv.URL, 3, 2)
	_, err := tr.Consume(context.Background())
	var ierr *errdefs.ExternalIntegrationError
	require.ErrorAs(t, err, &ierr)
}

func TestHTTPConsumeEmptyArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	tr, _ := newTestTransport(t, srv.URL, 3, 2)
	cmds, err := tr.Consume(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, time.Second, backoffDelay(2, 1))
	assert.Equal(t, 2*time.Second, backoffDelay(2, 2))
	assert.Equal(t, 4*time.Second, backoffDelay(2, 3))
	assert.Equal(t, 1500*time.Millisecond, backoffDelay(1.5, 2))
}
