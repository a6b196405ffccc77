package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/webhook-chat/backend/internal/metrics"
)

// FallbackReply is returned when the workflow answers without an output.
const FallbackReply = "No response received"

// retryDelay separates the first attempt from the optional retry.
const retryDelay = 250 * time.Millisecond

var (
	ErrNotConfigured  = errors.New("webhook url not configured")
	ErrUpstreamStatus = errors.New("webhook returned non-success status")
	ErrMalformedReply = errors.New("webhook returned malformed body")
)

// Config controls the outbound call.
type Config struct {
	URL     string
	Timeout time.Duration
	// Retries is 0 or 1; a retry happens only on transport errors and 5xx.
	Retries int
}

// Gateway forwards chat turns to the external reply workflow.
type Gateway struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
}

// New creates a Gateway. A nil client gets one with cfg.Timeout.
func New(cfg Config, client *http.Client, logger zerolog.Logger) *Gateway {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Gateway{
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("component", "webhook").Logger(),
	}
}

type forwardRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type workflowItem struct {
	Output string `json:"output"`
}

// Forward posts {message, sessionId} and returns the first item's output.
func (g *Gateway) Forward(ctx context.Context, message, sessionID string) (string, error) {
	if g.cfg.URL == "" {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(forwardRequest{Message: message, SessionID: sessionID})
	if err != nil {
		return "", err
	}

	var (
		reply     string
		retryable bool
	)
	err = retry.Call(retry.CallArgs{
		Func: func() error {
			var err error
			reply, retryable, err = g.do(ctx, body)
			return err
		},
		IsFatalError: func(error) bool { return !retryable },
		NotifyFunc: func(err error, attempt int) {
			if attempt <= g.cfg.Retries {
				g.logger.Warn().Err(err).Int("attempt", attempt).Str("session_id", sessionID).Msg("webhook attempt failed")
			}
		},
		Attempts: g.cfg.Retries + 1,
		Delay:    retryDelay,
		Clock:    clock.WallClock,
		Stop:     ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		err = retry.LastError(err)
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (g *Gateway) do(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	metrics.WebhookLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return "", true, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", resp.StatusCode >= 500, fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}

	// Only an array carries items; any other JSON value has no [0].output.
	var items []workflowItem
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return "", false, fmt.Errorf("%w: %v", ErrMalformedReply, err)
		}
	}

	if len(items) == 0 || items[0].Output == "" {
		return FallbackReply, false, nil
	}
	return items[0].Output, false, nil
}
