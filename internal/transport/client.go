package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ashita-ai/hibiki/internal/wire"
)

// ingestPath is appended to the configured base URL for batch delivery.
const ingestPath = "/v1/events"

// Config holds the settings needed to construct a Client.
type Config struct {
	// Endpoint is the root URL of the ingestion backend (e.g. "https://traces.example.com").
	Endpoint string

	// PublicKey and SecretKey authenticate the batch via HTTP Basic auth.
	PublicKey string
	SecretKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with the configured timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual ingestion requests. Defaults to 30 seconds.
	Timeout time.Duration

	// MaxRetries is the number of retries per batch on transient failures.
	MaxRetries int

	// BreakerThreshold and BreakerResetTimeout configure the circuit breaker.
	BreakerThreshold    int
	BreakerResetTimeout time.Duration
}

// Client ships event batches to the ingestion backend. A single Client is
// shared by the whole process; only the flush worker calls Send.
type Client struct {
	endpoint   string
	publicKey  string
	secretKey  string
	client     *http.Client
	logger     *slog.Logger
	maxRetries uint64
	breaker    *Breaker
}

// NewClient creates a Client from the given configuration.
// Returns an error if Endpoint, PublicKey, or SecretKey is empty — this is
// the only point where misconfiguration surfaces; Send never returns it.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("transport: Endpoint is required")
	}
	if cfg.PublicKey == "" {
		return nil, fmt.Errorf("transport: PublicKey is required")
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("transport: SecretKey is required")
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	resetTimeout := cfg.BreakerResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}

	return &Client{
		endpoint:   endpoint,
		publicKey:  cfg.PublicKey,
		secretKey:  cfg.SecretKey,
		client:     httpClient,
		logger:     logger,
		maxRetries: uint64(max(cfg.MaxRetries, 0)),
		breaker:    NewBreaker(threshold, resetTimeout),
	}, nil
}

// Send delivers one batch. While the breaker is open, the batch is dropped
// without network I/O and ErrCircuitOpen is returned. Transient failures
// (network errors, 5xx, 429) are retried with exponential backoff up to
// MaxRetries; other 4xx and serialization failures are not retried. The
// breaker observes the post-retry outcome.
func (c *Client) Send(ctx context.Context, events []wire.Event) error {
	if len(events) == 0 {
		return nil
	}

	body, dropped, err := wire.EncodeBatch(events)
	if dropped > 0 {
		c.logger.Warn("transport: dropped unserializable events", "dropped", dropped)
	}
	if err != nil {
		// Serialization failures are the caller's data, not the backend's
		// health — they do not count against the breaker. Returning before
		// Allow keeps a half-open trial unconsumed: the trial must settle
		// through Success or Failure, and a batch that never reaches the
		// network can do neither.
		return err
	}

	if !c.breaker.Allow() {
		return ErrCircuitOpen
	}

	op := func() error {
		sendErr := c.post(ctx, body)
		if sendErr == nil {
			return nil
		}
		var apiErr *Error
		if errors.As(sendErr, &apiErr) && !apiErr.Retryable() {
			return backoff.Permanent(sendErr)
		}
		return sendErr
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		c.breaker.Failure()
		return err
	}
	c.breaker.Success()
	return nil
}

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() State {
	return c.breaker.State()
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+ingestPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transport: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.publicKey, c.secretKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if readErr != nil {
			respBody = nil
		}
		return parseErrorResponse(resp.StatusCode, respBody)
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
