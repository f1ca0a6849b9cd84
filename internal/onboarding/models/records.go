package models

import "time"

// StageResult is what a stage processor reports back to the workflow.
type StageResult struct {
	Stage        Stage          `json:"stage"`
	Success      bool           `json:"success"`
	Errors       []string       `json:"errors,omitempty"`
	ProducedData map[string]any `json:"produced_data,omitempty"`
	SideEffectID string         `json:"side_effect_id,omitempty"`
}

// APICallLog is one attempt against an external service. Rows are append-only.
type APICallLog struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Endpoint   string         `json:"api_endpoint"`
	Attempt    int            `json:"attempt"`
	Request    map[string]any `json:"request_data,omitempty"`
	Response   map[string]any `json:"response_data,omitempty"`
	StatusCode int            `json:"status_code"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// SessionSummary is the listing view of a stored session.
type SessionSummary struct {
	ID          string    `json:"session_id"`
	Status      Status    `json:"status"`
	CurrentStep Stage     `json:"current_step"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EventType names a change notification.
type EventType string

const (
	EventStateSaved          EventType = "state_saved"
	EventFeatureCompleted    EventType = "feature_completed"
	EventOnboardingCompleted EventType = "onboarding_completed"
)

// Event is a fire-and-forget change notification.
type Event struct {
	Type      EventType      `json:"event"`
	SessionID string         `json:"session_id"`
	Stage     Stage          `json:"stage,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
