package handler

import (
	"time"

	"onboarding/internal/onboarding/models"
)

// SessionResponse is the HTTP view of a session.
type SessionResponse struct {
	SessionID    string                        `json:"session_id"`
	Status       models.Status                 `json:"status"`
	CurrentStep  models.Stage                  `json:"current_step"`
	Flags        models.Flags                  `json:"flags"`
	EntityID     string                        `json:"entity_id,omitempty"`
	OnboardingID string                        `json:"onboarding_id,omitempty"`
	Stages       map[models.Stage]StageSummary `json:"stages"`
	LastErrors   []string                      `json:"last_errors,omitempty"`
	CreatedAt    time.Time                     `json:"created_at"`
	UpdatedAt    time.Time                     `json:"updated_at"`
}

// StageSummary is one stage of a SessionResponse. Collected data is left out.
type StageSummary struct {
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ReferenceID string     `json:"reference_id,omitempty"`
	Attempts    int        `json:"attempts"`
}

// ListResponse is the HTTP response for GET /onboarding/sessions.
type ListResponse struct {
	Sessions []models.SessionSummary `json:"sessions"`
	Count    int                     `json:"count"`
}

// FromSession converts a session into its HTTP view.
func FromSession(s *models.Session) *SessionResponse {
	stages := make(map[models.Stage]StageSummary, len(models.DataStages))
	for _, st := range models.DataStages {
		rec := s.Record(st)
		stages[st] = StageSummary{
			Completed:   rec.Completed,
			CompletedAt: rec.CompletedAt,
			ReferenceID: rec.ReferenceID,
			Attempts:    rec.Attempts,
		}
	}
	return &SessionResponse{
		SessionID:    s.ID,
		Status:       s.Status,
		CurrentStep:  s.CurrentStep,
		Flags:        s.Flags(),
		EntityID:     s.EntityID,
		OnboardingID: s.OnboardingID,
		Stages:       stages,
		LastErrors:   s.LastErrors,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}
