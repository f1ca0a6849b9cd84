// Package registrar creates entities in the external registration service.
package registrar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"onboarding/internal/onboarding/models"
	"onboarding/internal/platform/config"
	"onboarding/internal/platform/metrics"
	"onboarding/pkg/platform/retry"
)

const createPath = "/api/entity/create"

var tracer = otel.Tracer("onboarding/registrar")

// Payload is the body of an entity creation request.
type Payload struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Timestamp time.Time `json:"timestamp"`
}

type createResponse struct {
	EntityID string `json:"entity_id"`
}

// CallLogger records every attempt against the service.
type CallLogger interface {
	LogAPICall(ctx context.Context, entry models.APICallLog) error
}

// Client is the HTTP implementation of the registration service.
type Client struct {
	baseURL     string
	http        *http.Client
	maxAttempts int
	baseDelay   time.Duration
	calls       CallLogger
	logger      *slog.Logger
	metrics     *metrics.Metrics
	retryOpts   []retry.Option
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

func WithCallLogger(l CallLogger) Option {
	return func(c *Client) {
		c.calls = l
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithRetryOptions passes options through to retry.Do, e.g. a test timer.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(c *Client) {
		c.retryOpts = append(c.retryOpts, opts...)
	}
}

// New creates a client from configuration.
func New(cfg config.RegistrarConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		http:        &http.Client{Timeout: cfg.Timeout},
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateEntity registers the signup data and returns the assigned entity id.
// Transient failures are retried with exponential backoff.
func (c *Client) CreateEntity(ctx context.Context, sessionID string, payload Payload) (string, error) {
	ctx, span := tracer.Start(ctx, "registrar.CreateEntity")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode registration payload: %w", err)
	}

	attempt := 0
	var entityID string
	op := func(ctx context.Context) error {
		attempt++
		id, err := c.post(ctx, sessionID, attempt, body, payload)
		if err != nil {
			return err
		}
		entityID = id
		return nil
	}
	notify := func(attempt int, err error, wait time.Duration) {
		c.logger.WarnContext(ctx, "registration attempt failed, retrying",
			"session_id", sessionID,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}

	opts := append([]retry.Option{retry.WithNotify(notify)}, c.retryOpts...)
	if err := retry.Do(ctx, op, c.maxAttempts, c.baseDelay, opts...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "entity registration failed")
		return "", err
	}
	span.SetAttributes(attribute.String("entity_id", entityID), attribute.Int("attempts", attempt))
	c.logger.InfoContext(ctx, "entity registered",
		"session_id", sessionID,
		"entity_id", entityID,
		"attempts", attempt,
	)
	return entityID, nil
}

func (c *Client) post(ctx context.Context, sessionID string, attempt int, body []byte, payload Payload) (string, error) {
	start := time.Now()
	endpoint := c.baseURL + createPath

	entry := models.APICallLog{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Endpoint:  endpoint,
		Attempt:   attempt,
		Request: map[string]any{
			"name":      payload.Name,
			"email":     payload.Email,
			"phone":     payload.Phone,
			"timestamp": payload.Timestamp.Format(time.RFC3339Nano),
		},
	}

	entityID, status, respBody, err := c.do(ctx, endpoint, body)
	entry.StatusCode = status
	entry.Response = respBody
	entry.CreatedAt = time.Now().UTC()
	if err != nil {
		entry.Error = err.Error()
		c.metrics.ObserveRegistrar(string(KindOf(err)), time.Since(start))
	} else {
		c.metrics.ObserveRegistrar("success", time.Since(start))
	}
	c.record(ctx, entry)
	return entityID, err
}

func (c *Client) do(ctx context.Context, endpoint string, body []byte) (string, int, map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, nil, fmt.Errorf("build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, nil, classify(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", resp.StatusCode, nil, classify(err)
	}
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", resp.StatusCode, decoded, newUnexpected(resp.StatusCode,
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}
	var parsed createResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", resp.StatusCode, decoded, newUnexpected(resp.StatusCode, "response is not valid JSON")
	}
	if parsed.EntityID == "" {
		return "", resp.StatusCode, decoded, newUnexpected(resp.StatusCode, "no entity_id in response")
	}
	return parsed.EntityID, resp.StatusCode, decoded, nil
}

func (c *Client) record(ctx context.Context, entry models.APICallLog) {
	if c.calls == nil {
		return
	}
	if err := c.calls.LogAPICall(ctx, entry); err != nil {
		c.logger.WarnContext(ctx, "failed to record registration attempt",
			"session_id", entry.SessionID,
			"attempt", entry.Attempt,
			"error", err,
		)
	}
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return newTimeout(err)
	}
	return newConnection(err)
}
