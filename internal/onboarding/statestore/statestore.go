// Package statestore is the single entry point for onboarding session state.
//
// Writes go to the durable store first; the cache copy and change
// notifications follow on a best-effort basis. Reads prefer the cache while
// it is healthy and fall back to the durable store. Every record read is
// upgraded to the current layout before it is returned.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"onboarding/internal/onboarding/models"
	"onboarding/internal/onboarding/store"
	"onboarding/internal/platform/metrics"
	dErrors "onboarding/pkg/domain-errors"
)

// DurableStore is the source of truth for session state.
type DurableStore interface {
	Save(ctx context.Context, session *models.Session) error
	Load(ctx context.Context, sessionID string) (*store.StoredState, error)
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context, limit int) ([]models.SessionSummary, error)
	Features(ctx context.Context, sessionID string) (*models.EntityFeatures, error)
	AppendAPILog(ctx context.Context, entry models.APICallLog) error
}

// Cache holds a TTL-bound copy of session state.
type Cache interface {
	Get(ctx context.Context, sessionID string) (json.RawMessage, error)
	Set(ctx context.Context, sessionID string, blob json.RawMessage) error
	Delete(ctx context.Context, sessionID string) error
	Health(ctx context.Context) error
}

// Notifier receives change events. Delivery is not guaranteed.
type Notifier interface {
	Emit(ctx context.Context, event models.Event) error
}

const healthProbeTimeout = 2 * time.Second

// Store coordinates the durable store, cache and notifier.
type Store struct {
	durable      DurableStore
	cache        Cache
	notifier     Notifier
	cacheHealthy bool
	logger       *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

type Option func(*Store)

// WithCache enables the write-through cache.
func WithCache(c Cache) Option {
	return func(s *Store) {
		s.cache = c
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Store) {
		s.notifier = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New builds a Store. When a cache is configured it is probed once; an
// unreachable cache leaves the store durable-only for its lifetime.
func New(ctx context.Context, durable DurableStore, opts ...Option) *Store {
	s := &Store{
		durable: durable,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache != nil {
		probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		err := s.cache.Health(probeCtx)
		cancel()
		s.cacheHealthy = err == nil
		if err != nil {
			s.logger.WarnContext(ctx, "session cache unreachable, running durable-only", "error", err)
		}
	}
	s.metrics.SetCacheEnabled(s.cacheHealthy)
	return s
}

// CacheEnabled reports whether reads and writes use the cache.
func (s *Store) CacheEnabled() bool {
	return s.cacheHealthy
}

// Save persists session under sessionID. Completed stages already stored
// are never reverted. Only the durable outcome is reported.
func (s *Store) Save(ctx context.Context, sessionID string, session *models.Session) error {
	if session == nil {
		return dErrors.New(dErrors.CodeBadRequest, "session is required")
	}
	if session.ID == "" {
		session.ID = sessionID
	}
	if session.ID != sessionID {
		return dErrors.New(dErrors.CodeBadRequest, "session id mismatch")
	}

	prev, err := s.loadDurable(ctx, sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodePersistence, "failed to read current session state")
	}
	models.PreserveCompletion(prev, session)
	session.SchemaVersion = models.CurrentSchemaVersion
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}
	session.Touch(s.now())

	if err := s.durable.Save(ctx, session); err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "failed to persist session state")
	}

	s.writeCache(ctx, session)
	s.notify(ctx, prev, session)
	return nil
}

// Load returns the session, or a fresh unsaved session if none exists.
func (s *Store) Load(ctx context.Context, sessionID string) (*models.Session, error) {
	if s.cacheHealthy {
		blob, err := s.cache.Get(ctx, sessionID)
		switch {
		case err == nil:
			session, decodeErr := decodeState(sessionID, blob)
			if decodeErr == nil {
				return session, nil
			}
			s.logger.WarnContext(ctx, "discarding undecodable cached session",
				"session_id", sessionID,
				"error", decodeErr,
			)
		case !errors.Is(err, store.ErrNotFound):
			s.logger.WarnContext(ctx, "session cache read failed",
				"session_id", sessionID,
				"error", err,
			)
		}
	}

	session, err := s.loadDurable(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return models.NewSession(sessionID, s.now()), nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to load session state")
	}
	s.writeCache(ctx, session)
	return session, nil
}

// Update merges fields into the stored session by top-level JSON key and
// saves the result. Concurrent updates of one session are last-write-wins.
func (s *Store) Update(ctx context.Context, sessionID string, fields map[string]any) (*models.Session, error) {
	prev, err := s.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	next, err := merge(prev, fields)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid session update")
	}
	next.ID = sessionID
	models.PreserveCompletion(prev, next)
	next.Touch(s.now())

	if err := s.Save(ctx, sessionID, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Delete removes the durable record and evicts the cache copy.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.durable.Delete(ctx, sessionID); err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "failed to delete session")
	}
	if s.cacheHealthy {
		if err := s.cache.Delete(ctx, sessionID); err != nil {
			s.logger.WarnContext(ctx, "failed to evict cached session",
				"session_id", sessionID,
				"error", err,
			)
		}
	}
	return nil
}

// Features returns the stored entity features of a session.
func (s *Store) Features(ctx context.Context, sessionID string) (*models.EntityFeatures, error) {
	f, err := s.durable.Features(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "session not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to load entity features")
	}
	return f, nil
}

// List returns the most recently updated sessions.
func (s *Store) List(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	out, err := s.durable.List(ctx, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to list sessions")
	}
	return out, nil
}

// LogAPICall appends an external call record. Failures are logged only.
func (s *Store) LogAPICall(ctx context.Context, entry models.APICallLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if err := s.durable.AppendAPILog(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "failed to record api call",
			"session_id", entry.SessionID,
			"endpoint", entry.Endpoint,
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodePersistence, "failed to record api call")
	}
	return nil
}

func (s *Store) loadDurable(ctx context.Context, sessionID string) (*models.Session, error) {
	state, err := s.durable.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return decodeState(sessionID, state.Data)
}

func (s *Store) writeCache(ctx context.Context, session *models.Session) {
	if !s.cacheHealthy {
		return
	}
	blob, err := json.Marshal(session)
	if err == nil {
		err = s.cache.Set(ctx, session.ID, blob)
	}
	if err == nil {
		return
	}
	s.logger.WarnContext(ctx, "failed to write session cache",
		"session_id", session.ID,
		"error", err,
	)
	// A stale copy must not outlive a failed write.
	if err := s.cache.Delete(ctx, session.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to evict stale session cache",
			"session_id", session.ID,
			"error", err,
		)
	}
}

func (s *Store) notify(ctx context.Context, prev, next *models.Session) {
	if s.notifier == nil {
		return
	}
	now := s.now()
	events := []models.Event{{
		Type:      models.EventStateSaved,
		SessionID: next.ID,
		Stage:     next.CurrentStep,
		Data:      map[string]any{"status": string(next.Status), "current_step": string(next.CurrentStep)},
		Timestamp: now,
	}}

	var before models.Flags
	if prev != nil {
		before = prev.Flags()
	}
	after := next.Flags()
	for _, stage := range models.DataStages {
		if after.Completed(stage) && !before.Completed(stage) {
			events = append(events, models.Event{
				Type:      models.EventFeatureCompleted,
				SessionID: next.ID,
				Stage:     stage,
				Data:      next.Record(stage).Data,
				Timestamp: now,
			})
		}
	}
	if after.Finalized && !before.Finalized {
		events = append(events, models.Event{
			Type:      models.EventOnboardingCompleted,
			SessionID: next.ID,
			Stage:     models.StageComplete,
			Data:      map[string]any{"entity_id": next.EntityID, "onboarding_id": next.OnboardingID},
			Timestamp: now,
		})
	}

	for _, event := range events {
		if err := s.notifier.Emit(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "failed to emit session event",
				"session_id", next.ID,
				"event", event.Type,
				"error", err,
			)
		}
	}
}

// merge overlays fields onto the JSON form of base. Later keys win.
func merge(base *models.Session, fields map[string]any) (*models.Session, error) {
	encoded, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return nil, err
	}
	for k, v := range fields {
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var next models.Session
	if err := json.Unmarshal(merged, &next); err != nil {
		return nil, err
	}
	return &next, nil
}
