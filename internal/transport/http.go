package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/irisforge/emissary/internal/errdefs"
	"github.com/irisforge/emissary/internal/model"
	"github.com/irisforge/emissary/internal/tracectx"
)

// HTTPConfig carries the constructor parameters for the HTTP transport.
// Values come from the process configuration loader.
type HTTPConfig struct {
	BaseURL string

	// Timeout bounds each individual attempt, not the whole retry loop.
	Timeout time.Duration

	// RetryMaxAttempts is the total number of publish attempts.
	// Defaults to 3 if <= 0.
	RetryMaxAttempts int

	// RetryBackoffFactor is the base of the exponential inter-attempt
	// delay: factor^(attempt-1) seconds. Defaults to 2 if <= 0.
	RetryBackoffFactor float64

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPTransport publishes to POST {base}/messages and consumes from
// GET {base}/commands, propagating the flow's trace ID in X-Trace-ID.
type HTTPTransport struct {
	baseURL  string
	client   *http.Client
	timeout  time.Duration
	retryMax int
	backoff  float64
	logger   *slog.Logger

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHTTPTransport validates cfg and returns an HTTP-backed transport.
func NewHTTPTransport(cfg HTTPConfig) (*HTTPTransport, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("transport: base url required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retryMax := cfg.RetryMaxAttempts
	if retryMax <= 0 {
		retryMax = 3
	}
	backoff := cfg.RetryBackoffFactor
	if backoff <= 0 {
		backoff = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		client:   client,
		timeout:  timeout,
		retryMax: retryMax,
		backoff:  backoff,
		logger:   logger,
		sleep:    sleepCtx,
	}, nil
}

// Publish POSTs msg with bounded retries. Attempts are strictly sequential;
// the delay before attempt n+1 is backoff^(n-1) seconds. There is no delay
// before the first attempt and none after the last. Exhausting all attempts
// fails with *errdefs.ExternalIntegrationError carrying the target URL and
// trace ID.
func (t *HTTPTransport) Publish(ctx context.Context, msg *model.Message) (bool, error) {
	ctx, flowID := tracectx.Ensure(ctx)
	traceID := flowID.String()
	url := t.baseURL + "/messages"

	m := *msg
	if m.TraceID == "" {
		m.TraceID = traceID
	}
	body, err := json.Marshal(&m)
	if err != nil {
		return false, &errdefs.ExternalIntegrationError{
			Message:  fmt.Sprintf("marshal message: %v", err),
			Endpoint: url,
			TraceID:  traceID,
			Err:      err,
		}
	}

	for attempt := 1; attempt <= t.retryMax; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		status, err := t.postOnce(ctx, url, traceID, body)
		if err != nil {
			t.logger.Warn("publish attempt failed",
				"url", url, "attempt", attempt, "error", err, tracectx.Attr(ctx))
		} else if status == http.StatusOK || status == http.StatusCreated || status == http.StatusAccepted {
			t.logger.Info("published message",
				"url", url, "status", status, "attempt", attempt,
				"severity", m.Severity, "category", m.Category, tracectx.Attr(ctx))
			return true, nil
		} else {
			t.logger.Warn("publish got non-success status",
				"url", url, "status", status, "attempt", attempt, tracectx.Attr(ctx))
		}

		if attempt < t.retryMax {
			delay := backoffDelay(t.backoff, attempt)
			t.logger.Info("retrying publish",
				"delay", delay.String(), "attempt", attempt, tracectx.Attr(ctx))
			if err := t.sleep(ctx, delay); err != nil {
				return false, err
			}
		}
	}

	return false, &errdefs.ExternalIntegrationError{
		Message:  fmt.Sprintf("publish failed after %d attempts", t.retryMax),
		Endpoint: url,
		TraceID:  traceID,
	}
}

func (t *HTTPTransport) postOnce(ctx context.Context, url, traceID string, body []byte) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trace-ID", traceID)

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, nil
}

// Consume issues a single GET; there is no retry on consume. A non-200
// response fails immediately with *errdefs.ExternalIntegrationError carrying
// the status code. The body may hold a single command object or an array;
// items that fail to decode are logged and skipped.
func (t *HTTPTransport) Consume(ctx context.Context) ([]*model.RemediationCommand, error) {
	ctx, flowID := tracectx.Ensure(ctx)
	traceID := flowID.String()
	url := t.baseURL + "/commands"

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &errdefs.ExternalIntegrationError{
			Message:  fmt.Sprintf("build consume request: %v", err),
			Endpoint: url,
			TraceID:  traceID,
			Err:      err,
		}
	}
	req.Header.Set("X-Trace-ID", traceID)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &errdefs.ExternalIntegrationError{
			Message:  fmt.Sprintf("consume commands: %v", err),
			Endpoint: url,
			TraceID:  traceID,
			Err:      err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &errdefs.ExternalIntegrationError{
			Message:    "consume commands failed",
			Endpoint:   url,
			StatusCode: resp.StatusCode,
			TraceID:    traceID,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errdefs.ExternalIntegrationError{
			Message:  fmt.Sprintf("read consume response: %v", err),
			Endpoint: url,
			TraceID:  traceID,
			Err:      err,
		}
	}

	items, err := splitCommandDocs(body)
	if err != nil {
		return nil, &errdefs.ExternalIntegrationError{
			Message:  fmt.Sprintf("decode consume response: %v", err),
			Endpoint: url,
			TraceID:  traceID,
			Err:      err,
		}
	}

	var cmds []*model.RemediationCommand
	for _, raw := range items {
		cmd, err := model.ParseCommand(ctx, raw)
		if err != nil {
			t.logger.Warn("skipping malformed command",
				"url", url, "error", err, tracectx.Attr(ctx))
			continue
		}
		t.logger.Info("consumed command",
			"url", url,
			"command_id", cmd.CommandID.String(),
			"error_type", string(cmd.ErrorType),
			tracectx.Attr(ctx))
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// splitCommandDocs accepts either a JSON array or a single object and
// returns the individual documents in source order.
func splitCommandDocs(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	return []json.RawMessage{trimmed}, nil
}

func backoffDelay(factor float64, attempt int) time.Duration {
	return time.Duration(math.Pow(factor, float64(attempt-1)) * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
