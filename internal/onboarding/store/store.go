// Package store persists onboarding sessions durably.
//
// Stores are pure I/O: they write what they are given and return raw state
// blobs on read. Schema migration and cache policy belong to the statestore.
package store

import (
	"encoding/json"
	"time"

	"onboarding/internal/onboarding/models"
	"onboarding/pkg/platform/sentinel"
)

// ErrNotFound is returned when no durable record exists for a session.
var ErrNotFound = sentinel.ErrNotFound

// StoredState is the raw persisted state blob of one session.
type StoredState struct {
	SessionID     string
	SchemaVersion int
	Data          json.RawMessage
	UpdatedAt     time.Time
}

func encodeSession(s *models.Session) (json.RawMessage, error) {
	return json.Marshal(s)
}
