package handler

import (
	"strings"

	dErrors "onboarding/pkg/domain-errors"
)

// MessageRequest is the HTTP request body for POST /onboarding/messages.
type MessageRequest struct {
	SessionID string `json:"session_id" validate:"max=128"`
	Message   string `json:"message" validate:"max=4000"`
}

// Validate trims the request. An empty message is rejected; an empty
// session id starts a new session.
func (r *MessageRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.SessionID = strings.TrimSpace(r.SessionID)
	r.Message = strings.TrimSpace(r.Message)
	if r.Message == "" {
		return dErrors.New(dErrors.CodeValidation, "message is required")
	}
	return nil
}
