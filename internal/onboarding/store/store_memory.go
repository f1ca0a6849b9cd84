package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"onboarding/internal/onboarding/models"
)

// InMemory is a process-local durable store for tests and development.
// State is kept as encoded blobs so callers never share maps with the store.
type InMemory struct {
	mu       sync.RWMutex
	states   map[string]StoredState
	sessions map[string]models.SessionSummary
	features map[string][]byte
	logs     []models.APICallLog
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		states:   make(map[string]StoredState),
		sessions: make(map[string]models.SessionSummary),
		features: make(map[string][]byte),
	}
}

func (s *InMemory) Save(_ context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	blob, err := encodeSession(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	features, err := json.Marshal(models.FeaturesOf(session))
	if err != nil {
		return fmt.Errorf("encode entity features: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[session.ID] = StoredState{
		SessionID:     session.ID,
		SchemaVersion: session.SchemaVersion,
		Data:          blob,
		UpdatedAt:     session.UpdatedAt,
	}
	created := session.CreatedAt
	if existing, ok := s.sessions[session.ID]; ok {
		created = existing.CreatedAt
	}
	s.sessions[session.ID] = models.SessionSummary{
		ID:          session.ID,
		Status:      session.Status,
		CurrentStep: session.CurrentStep,
		CreatedAt:   created,
		UpdatedAt:   session.UpdatedAt,
	}
	s.features[session.ID] = features
	return nil
}

// SaveRaw stores a state blob as-is, e.g. a record written by an older build.
func (s *InMemory) SaveRaw(_ context.Context, state StoredState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := make(json.RawMessage, len(state.Data))
	copy(data, state.Data)
	state.Data = data
	s.states[state.SessionID] = state
	return nil
}

func (s *InMemory) Load(_ context.Context, sessionID string) (*StoredState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	data := make(json.RawMessage, len(state.Data))
	copy(data, state.Data)
	state.Data = data
	return &state, nil
}

func (s *InMemory) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, sessionID)
	delete(s.sessions, sessionID)
	delete(s.features, sessionID)
	return nil
}

func (s *InMemory) List(_ context.Context, limit int) ([]models.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SessionSummary, 0, len(s.sessions))
	for _, summary := range s.sessions {
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) Features(_ context.Context, sessionID string) (*models.EntityFeatures, error) {
	s.mu.RLock()
	raw, ok := s.features[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var f models.EntityFeatures
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode entity features: %w", err)
	}
	return &f, nil
}

func (s *InMemory) AppendAPILog(_ context.Context, entry models.APICallLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *InMemory) APILogs(_ context.Context, sessionID string) ([]models.APICallLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.APICallLog
	for _, entry := range s.logs {
		if entry.SessionID == sessionID {
			out = append(out, entry)
		}
	}
	return out, nil
}
