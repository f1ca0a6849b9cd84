// Package notify fans session change events out to pub/sub sinks.
//
// Notifications are fire-and-forget: a failing or slow sink never fails the
// write that produced the event. Each sink sits behind its own circuit
// breaker so an outage costs one failed publish per cooldown instead of one
// per save.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"onboarding/internal/onboarding/models"
	"onboarding/internal/platform/metrics"
	"onboarding/pkg/platform/circuit"
)

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("notify: dispatcher closed")

// Sink delivers one event to a transport.
type Sink interface {
	Name() string
	Publish(ctx context.Context, event models.Event) error
}

// Dispatcher publishes events to every sink, inline or from a bounded buffer.
type Dispatcher struct {
	sinks    []guardedSink
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	timeout  time.Duration
	bufSize  int
	failures int
	cooldown time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan models.Event
	wg     sync.WaitGroup
}

type guardedSink struct {
	sink    Sink
	breaker *circuit.Breaker
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithAsyncBuffer queues events and publishes them from a background
// goroutine. A full buffer drops the event.
func WithAsyncBuffer(size int) Option {
	return func(d *Dispatcher) {
		d.bufSize = size
	}
}

// WithBreaker sets the per-sink failure threshold and cooldown.
func WithBreaker(failures int, cooldown time.Duration) Option {
	return func(d *Dispatcher) {
		d.failures = failures
		d.cooldown = cooldown
	}
}

// WithPublishTimeout bounds each sink call.
func WithPublishTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// NewDispatcher creates a dispatcher over sinks. Nil sinks are skipped.
func NewDispatcher(sinks []Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:   slog.Default(),
		now:      time.Now,
		timeout:  5 * time.Second,
		failures: 5,
		cooldown: time.Minute,
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, s := range sinks {
		if s == nil {
			continue
		}
		d.sinks = append(d.sinks, guardedSink{
			sink: s,
			breaker: circuit.New(s.Name(),
				circuit.WithFailureThreshold(d.failures),
				circuit.WithCooldown(d.cooldown),
				circuit.WithClock(d.now),
			),
		})
	}
	if d.bufSize > 0 {
		d.queue = make(chan models.Event, d.bufSize)
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Emit hands an event to the sinks. It only fails after Close.
func (d *Dispatcher) Emit(ctx context.Context, event models.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = d.now()
	}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return ErrClosed
	}
	if d.queue == nil {
		d.mu.RUnlock()
		d.publish(context.WithoutCancel(ctx), event)
		return nil
	}
	defer d.mu.RUnlock()
	select {
	case d.queue <- event:
	default:
		d.metrics.RecordEventDropped()
		d.logger.WarnContext(ctx, "notification buffer full, dropping event",
			"event", event.Type,
			"session_id", event.SessionID,
		)
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be published.
// Inline publishes already in flight are not waited for.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	if d.queue != nil {
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for event := range d.queue {
		d.publish(context.Background(), event)
	}
}

func (d *Dispatcher) publish(ctx context.Context, event models.Event) {
	for _, gs := range d.sinks {
		name := gs.sink.Name()
		if !gs.breaker.Allow() {
			d.metrics.RecordEvent(name, "skipped")
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := gs.sink.Publish(callCtx, event)
		cancel()

		if err != nil {
			d.metrics.RecordEvent(name, "error")
			_, change := gs.breaker.RecordFailure()
			d.logger.WarnContext(ctx, "failed to publish notification",
				"sink", name,
				"event", event.Type,
				"session_id", event.SessionID,
				"error", err,
			)
			if change.Opened {
				d.logger.WarnContext(ctx, "notification sink circuit opened", "sink", name)
			}
			continue
		}
		d.metrics.RecordEvent(name, "ok")
		if _, change := gs.breaker.RecordSuccess(); change.Closed {
			d.logger.InfoContext(ctx, "notification sink circuit closed", "sink", name)
		}
	}
}
