package redis

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"onboarding/internal/platform/metrics"
	"onboarding/pkg/platform/retry"
)

// Pinger is anything whose liveness can be probed.
type Pinger interface {
	Health(ctx context.Context) error
}

// HealthChecker probes a Pinger on a fixed interval and reports transitions.
// Each probe retries transient failures before declaring the server down.
type HealthChecker struct {
	target      Pinger
	interval    time.Duration
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	healthy     atomic.Bool
}

type HealthOption func(*HealthChecker)

func WithHealthLogger(logger *slog.Logger) HealthOption {
	return func(h *HealthChecker) {
		h.logger = logger
	}
}

func WithHealthMetrics(m *metrics.Metrics) HealthOption {
	return func(h *HealthChecker) {
		h.metrics = m
	}
}

// WithProbeRetry sets how many attempts one probe makes and the first backoff delay.
func WithProbeRetry(maxAttempts int, baseDelay time.Duration) HealthOption {
	return func(h *HealthChecker) {
		h.maxAttempts = maxAttempts
		h.baseDelay = baseDelay
	}
}

// NewHealthChecker builds a checker; interval defaults to 30s.
func NewHealthChecker(target Pinger, interval time.Duration, opts ...HealthOption) *HealthChecker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	h := &HealthChecker{
		target:      target,
		interval:    interval,
		timeout:     5 * time.Second,
		maxAttempts: 3,
		baseDelay:   200 * time.Millisecond,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Healthy reports the outcome of the latest probe.
func (h *HealthChecker) Healthy() bool {
	return h.healthy.Load()
}

// Check runs one probe and records the result.
func (h *HealthChecker) Check(ctx context.Context) bool {
	err := retry.Do(ctx, func(ctx context.Context) error {
		probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		if err := h.target.Health(probeCtx); err != nil {
			return retry.Transient(err)
		}
		return nil
	}, h.maxAttempts, h.baseDelay)

	healthy := err == nil
	previous := h.healthy.Swap(healthy)
	h.metrics.SetCacheHealthy(healthy)
	switch {
	case healthy && !previous:
		h.logger.InfoContext(ctx, "redis reachable")
	case !healthy && previous:
		h.logger.WarnContext(ctx, "redis unreachable", "error", err)
	}
	return healthy
}

// Run probes until ctx is cancelled.
func (h *HealthChecker) Run(ctx context.Context) error {
	h.Check(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}
