package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboarding/internal/onboarding/models"
	"onboarding/internal/platform/logger"
	"onboarding/internal/platform/metrics"
)

type countingSink struct {
	calls atomic.Int32
	err   error
}

func (s *countingSink) Name() string { return "counting" }

func (s *countingSink) Publish(context.Context, models.Event) error {
	s.calls.Add(1)
	return s.err
}

type blockingSink struct {
	release chan struct{}
	once    sync.Once
	started chan struct{}
}

func (s *blockingSink) Name() string { return "blocking" }

func (s *blockingSink) Publish(context.Context, models.Event) error {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return nil
}

func savedEvent(sessionID string) models.Event {
	return models.Event{Type: models.EventStateSaved, SessionID: sessionID}
}

func TestDispatcher_SyncModePublishesToEverySink(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	d := NewDispatcher([]Sink{a, nil, b}, WithLogger(logger.Discard()))
	defer d.Close()

	require.NoError(t, d.Emit(context.Background(), savedEvent("sess-1")))

	require.Len(t, a.Events(), 1)
	require.Len(t, b.Events(), 1)
	assert.Equal(t, "sess-1", a.Events()[0].SessionID)
	assert.False(t, a.Events()[0].Timestamp.IsZero(), "timestamp should be stamped")
}

func TestDispatcher_CloseDoesNotWaitForSlowInlinePublish(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), started: make(chan struct{})}
	d := NewDispatcher([]Sink{sink}, WithLogger(logger.Discard()))
	defer close(sink.release)

	go func() { _ = d.Emit(context.Background(), savedEvent("sess-1")) }()
	<-sink.started

	closed := make(chan struct{})
	go func() {
		d.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked behind an inline publish")
	}
	assert.ErrorIs(t, d.Emit(context.Background(), savedEvent("sess-2")), ErrClosed)
}

func TestDispatcher_SinkFailureIsSwallowed(t *testing.T) {
	failing := NewRecorder()
	failing.FailWith(errors.New("connection refused"))
	healthy := NewRecorder()
	d := NewDispatcher([]Sink{failing, healthy}, WithLogger(logger.Discard()))
	defer d.Close()

	require.NoError(t, d.Emit(context.Background(), savedEvent("sess-1")))
	assert.Len(t, healthy.Events(), 1)
}

func TestDispatcher_AsyncDrainsOnClose(t *testing.T) {
	rec := NewRecorder()
	d := NewDispatcher([]Sink{rec}, WithAsyncBuffer(100), WithLogger(logger.Discard()))

	for range 10 {
		require.NoError(t, d.Emit(context.Background(), savedEvent("sess-1")))
	}
	d.Close()

	assert.Len(t, rec.Events(), 10, "all queued events should be published on close")
	assert.ErrorIs(t, d.Emit(context.Background(), savedEvent("sess-1")), ErrClosed)
}

func TestDispatcher_FullBufferDropsEvent(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), started: make(chan struct{})}
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	d := NewDispatcher([]Sink{sink}, WithAsyncBuffer(1), WithMetrics(m), WithLogger(logger.Discard()))

	// First event is taken by the worker and blocks, second fills the buffer.
	require.NoError(t, d.Emit(context.Background(), savedEvent("a")))
	<-sink.started
	require.NoError(t, d.Emit(context.Background(), savedEvent("b")))
	require.NoError(t, d.Emit(context.Background(), savedEvent("c")))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsDropped))

	close(sink.release)
	d.Close()
}

func TestDispatcher_BreakerSkipsFailingSink(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sink := &countingSink{err: errors.New("down")}
	d := NewDispatcher([]Sink{sink},
		WithBreaker(2, time.Minute),
		WithClock(func() time.Time { return now }),
		WithLogger(logger.Discard()),
	)
	defer d.Close()

	for range 5 {
		require.NoError(t, d.Emit(context.Background(), savedEvent("sess-1")))
	}
	assert.Equal(t, int32(2), sink.calls.Load(), "open circuit should skip the sink")

	now = now.Add(time.Minute)
	sink.err = nil
	require.NoError(t, d.Emit(context.Background(), savedEvent("sess-1")))
	require.NoError(t, d.Emit(context.Background(), savedEvent("sess-1")))
	assert.Equal(t, int32(4), sink.calls.Load(), "probe should close the circuit")
}
