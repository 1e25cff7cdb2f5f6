// Package remote is the device's HTTP transport to the ledger service.
// Every transport failure surfaces as shared.ErrNetworkUnavailable so the
// caller can fall back to the offline cache and queue.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alem-hub/mastery-engine/internal/client/offline"
	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/internal/domain/shared"
	"github.com/alem-hub/mastery-engine/internal/domain/sprint"
	"github.com/alem-hub/mastery-engine/pkg/circuitbreaker"
	"github.com/alem-hub/mastery-engine/pkg/logger"
	"github.com/alem-hub/mastery-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the ledger service client.
type Config struct {
	// BaseURL of the API, e.g. https://api.example.com/api/v1
	BaseURL string

	// AccountID owning this device.
	AccountID string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// RequestsPerSecond and Burst bound the device's request rate.
	RequestsPerSecond float64
	Burst             int

	// ReadAttempts bounds retries of idempotent reads. Mutations are not
	// retried here; the sync queue redelivers them.
	ReadAttempts int
	RetryDelay   time.Duration

	Logger *logger.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(baseURL, accountID string) Config {
	return Config{
		BaseURL:           baseURL,
		AccountID:         accountID,
		Timeout:           10 * time.Second,
		RequestsPerSecond: 5,
		Burst:             10,
		ReadAttempts:      3,
		RetryDelay:        200 * time.Millisecond,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client talks to the ledger service.
type Client struct {
	config     Config
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	limiter    *rate.Limiter
	reads      *retry.Retrier
	log        *logger.Logger
}

// NewClient creates a new client.
func NewClient(config Config) *Client {
	if config.Logger == nil {
		config.Logger = logger.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.ReadAttempts <= 0 {
		config.ReadAttempts = 1
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	log := config.Logger.With(logger.Component("remote"))

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}

	reads := retry.RemoteRetrier().With(
		retry.WithMaxAttempts(config.ReadAttempts),
		retry.WithRetryIf(shared.IsNetworkUnavailable),
	)
	if config.RetryDelay > 0 {
		reads = reads.With(retry.WithInitialDelay(config.RetryDelay))
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		breaker: circuitbreaker.LedgerServiceBreaker(
			shared.IsNetworkUnavailable,
			func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit breaker state changed",
					logger.String("breaker", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()),
				)
			},
		),
		limiter: rate.NewLimiter(limit, burst),
		reads:   reads,
		log:     log,
	}
}

// BreakerState exposes the breaker state for status output.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// ─────────────────────────────────────────────────────────────────────────────
// Operations
// ─────────────────────────────────────────────────────────────────────────────

// Ack is the server's acknowledgment of a delivered mutation.
type Ack struct {
	MutationID string          `json:"mutationId"`
	Ledger     progress.Ledger `json:"ledger"`
	Replayed   bool            `json:"replayed"`
}

// Sprint is the daily sprint as served by the API.
type Sprint struct {
	AccountID string        `json:"accountId"`
	Date      string        `json:"date"`
	Items     []sprint.Item `json:"items"`
	FromCache bool          `json:"fromCache"`
}

// FetchContent returns the raw JSON of a problem. The payload is kept
// opaque so it can go to the offline cache unchanged.
func (c *Client) FetchContent(ctx context.Context, id string) ([]byte, error) {
	path := "/problems/" + url.PathEscape(id)
	return retry.DoWithData(ctx, c.reads, func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, "FetchContent", http.MethodGet, path, nil)
	})
}

// FetchLedger returns the device account's ledger.
func (c *Client) FetchLedger(ctx context.Context) (progress.Ledger, error) {
	var resp struct {
		Ledger progress.Ledger `json:"ledger"`
	}
	err := c.reads.Do(ctx, func(ctx context.Context) error {
		return c.doJSON(ctx, "FetchLedger", http.MethodGet, c.accountPath("/ledger"), nil, &resp)
	})
	return resp.Ledger, err
}

// FetchSprint returns today's sprint for the device account.
func (c *Client) FetchSprint(ctx context.Context) (Sprint, error) {
	var s Sprint
	err := c.reads.Do(ctx, func(ctx context.Context) error {
		return c.doJSON(ctx, "FetchSprint", http.MethodGet, c.accountPath("/sprint"), nil, &s)
	})
	return s, err
}

// Submit delivers one queued mutation. The server treats a repeated
// mutationId as a replay, so redelivery is safe.
func (c *Client) Submit(ctx context.Context, mutationID string, kind progress.MutationKind, payload json.RawMessage) (Ack, error) {
	body := struct {
		MutationID string          `json:"mutationId"`
		Kind       string          `json:"kind"`
		Payload    json.RawMessage `json:"payload"`
	}{mutationID, string(kind), payload}

	var ack Ack
	if err := c.doJSON(ctx, "Submit", http.MethodPost, c.accountPath("/mutations"), body, &ack); err != nil {
		return Ack{}, err
	}
	return ack, nil
}

// Deliver adapts Submit to the offline queue's SubmitFunc.
func (c *Client) Deliver(ctx context.Context, m offline.PendingMutation) (string, error) {
	ack, err := c.Submit(ctx, m.MutationID, m.Kind, m.Payload)
	return ack.MutationID, err
}

func (c *Client) accountPath(suffix string) string {
	return "/accounts/" + url.PathEscape(c.config.AccountID) + suffix
}

// ─────────────────────────────────────────────────────────────────────────────
// Transport
// ─────────────────────────────────────────────────────────────────────────────

func (c *Client) doJSON(ctx context.Context, op, method, path string, body, result any) error {
	raw, err := c.do(ctx, op, method, path, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("remote.%s: decode response: %w", op, err)
	}
	return nil
}

// do runs one request through the rate limiter and the circuit breaker.
func (c *Client) do(ctx context.Context, op, method, path string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, shared.WrapError("remote", op, shared.ErrNetworkUnavailable, "rate limiter", err)
	}

	var out []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.roundTrip(ctx, op, method, path, body)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return nil, shared.WrapError("remote", op, shared.ErrNetworkUnavailable, "ledger service unavailable", err)
	}
	return out, err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("remote.%s: marshal body: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("remote.%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, shared.WrapError("remote", op, shared.ErrNetworkUnavailable, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, shared.WrapError("remote", op, shared.ErrNetworkUnavailable, "read response", err)
	}

	c.log.Debug("ledger service call",
		logger.Operation(op),
		logger.Int("status", resp.StatusCode),
		logger.Latency(time.Since(start)),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}
	return nil, statusError(op, resp.StatusCode, raw)
}

// statusError maps an error response onto the shared error kinds.
func statusError(op string, status int, raw []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := http.StatusText(status)
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}

	var kind error
	switch {
	case status == http.StatusNotFound:
		kind = shared.ErrNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		kind = shared.ErrValidation
	case status == http.StatusConflict:
		kind = shared.ErrConcurrencyConflict
	default:
		// 5xx, 429, gateway errors: the service is not usable right now.
		kind = shared.ErrNetworkUnavailable
	}
	return shared.NewDomainError("remote", op, kind, fmt.Sprintf("status %d: %s", status, msg))
}
