package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"onboarding/pkg/platform/sentinel"
)

type entry struct {
	blob      json.RawMessage
	expiresAt time.Time
}

// InMemory is a TTL cache for tests and single-process development.
type InMemory struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
	down    bool
}

// NewInMemory creates an in-memory cache whose entries live for ttl.
func NewInMemory(ttl time.Duration) *InMemory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemory{entries: make(map[string]entry), ttl: ttl, now: time.Now}
}

// SetDown makes every call fail as if the server were unreachable.
func (c *InMemory) SetDown(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = down
}

func (c *InMemory) Get(_ context.Context, sessionID string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, sentinel.ErrUnavailable
	}
	e, ok := c.entries[sessionID]
	if !ok || !c.now().Before(e.expiresAt) {
		delete(c.entries, sessionID)
		return nil, ErrMiss
	}
	out := make(json.RawMessage, len(e.blob))
	copy(out, e.blob)
	return out, nil
}

func (c *InMemory) Set(_ context.Context, sessionID string, blob json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return sentinel.ErrUnavailable
	}
	stored := make(json.RawMessage, len(blob))
	copy(stored, blob)
	c.entries[sessionID] = entry{blob: stored, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *InMemory) Delete(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return sentinel.ErrUnavailable
	}
	delete(c.entries, sessionID)
	return nil
}

func (c *InMemory) Health(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return sentinel.ErrUnavailable
	}
	return nil
}

// Len reports the number of stored entries, expired or not.
func (c *InMemory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
