package models

import (
	"fmt"
	"time"
)

// Stage names a node of the onboarding workflow.
type Stage string

const (
	StageSignup   Stage = "signup"
	StageCompany  Stage = "company"
	StageKYC      Stage = "kyc"
	StageBank     Stage = "bank"
	StageComplete Stage = "complete"
	StageEnd      Stage = "end"
)

// DataStages lists the data-collection stages in workflow order.
var DataStages = []Stage{StageSignup, StageCompany, StageKYC, StageBank}

func (s Stage) String() string { return string(s) }

// IsDataStage reports whether s collects user data.
func (s Stage) IsDataStage() bool {
	switch s {
	case StageSignup, StageCompany, StageKYC, StageBank:
		return true
	}
	return false
}

// ParseStage converts a stored or routed name into a Stage.
func ParseStage(v string) (Stage, error) {
	switch s := Stage(v); s {
	case StageSignup, StageCompany, StageKYC, StageBank, StageComplete, StageEnd:
		return s, nil
	}
	return "", fmt.Errorf("unknown stage %q", v)
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// CurrentSchemaVersion is the layout written by this build.
const CurrentSchemaVersion = 2

// StageRecord is the persisted outcome of one data stage.
type StageRecord struct {
	Completed     bool           `json:"completed"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	ReferenceID   string         `json:"reference_id,omitempty"`
	Attempts      int            `json:"attempts"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty"`
}

// Session is the root aggregate of one onboarding conversation.
type Session struct {
	ID            string      `json:"session_id"`
	SchemaVersion int         `json:"schema_version"`
	Status        Status      `json:"status"`
	CurrentStep   Stage       `json:"current_step"`
	EntityID      string      `json:"entity_id,omitempty"`
	OnboardingID  string      `json:"onboarding_id,omitempty"`
	TaskComplete  bool        `json:"task_complete"`
	Signup        StageRecord `json:"signup"`
	Company       StageRecord `json:"company"`
	KYC           StageRecord `json:"kyc"`
	Bank          StageRecord `json:"bank"`
	LastErrors    []string    `json:"last_errors,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewSession returns the default state of a session that has never been saved.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:            id,
		SchemaVersion: CurrentSchemaVersion,
		Status:        StatusActive,
		CurrentStep:   StageSignup,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Record returns the stage record for a data stage, or nil for routing-only stages.
func (s *Session) Record(stage Stage) *StageRecord {
	switch stage {
	case StageSignup:
		return &s.Signup
	case StageCompany:
		return &s.Company
	case StageKYC:
		return &s.KYC
	case StageBank:
		return &s.Bank
	}
	return nil
}

// Flags snapshots the completion state the router reads.
func (s *Session) Flags() Flags {
	return Flags{
		Signup:    s.Signup.Completed,
		Company:   s.Company.Completed,
		KYC:       s.KYC.Completed,
		Bank:      s.Bank.Completed,
		Finalized: s.TaskComplete,
	}
}

// RecordAttempt counts a processing attempt without touching completion.
func (s *Session) RecordAttempt(stage Stage, now time.Time) {
	rec := s.Record(stage)
	if rec == nil {
		return
	}
	rec.Attempts++
	at := now
	rec.LastAttemptAt = &at
}

// CompleteStage marks a data stage complete. Completing twice keeps the first record.
func (s *Session) CompleteStage(stage Stage, data map[string]any, referenceID string, now time.Time) {
	rec := s.Record(stage)
	if rec == nil || rec.Completed {
		return
	}
	at := now
	rec.Completed = true
	rec.CompletedAt = &at
	rec.Data = data
	rec.ReferenceID = referenceID
}

// Finalize records the onboarding identifier and closes the session.
func (s *Session) Finalize(onboardingID string, now time.Time) {
	if s.TaskComplete {
		return
	}
	s.OnboardingID = onboardingID
	s.TaskComplete = true
	s.Status = StatusCompleted
	s.CurrentStep = StageEnd
	s.Touch(now)
}

// Touch advances UpdatedAt, never moving it backwards.
func (s *Session) Touch(now time.Time) {
	if now.After(s.UpdatedAt) {
		s.UpdatedAt = now
	}
}

// PreserveCompletion copies into next any completion already recorded in prev.
// A completed stage record is never reverted or rewritten, the finalized flag
// never reverts, and UpdatedAt never decreases.
func PreserveCompletion(prev, next *Session) {
	if prev == nil || next == nil {
		return
	}
	for _, stage := range DataStages {
		before, after := prev.Record(stage), next.Record(stage)
		if before.Completed {
			*after = *before
		}
	}
	if prev.TaskComplete && !next.TaskComplete {
		next.TaskComplete = true
		next.OnboardingID = prev.OnboardingID
		next.Status = StatusCompleted
	}
	if next.EntityID == "" || (prev.Signup.Completed && prev.EntityID != "") {
		next.EntityID = prev.EntityID
	}
	if next.UpdatedAt.Before(prev.UpdatedAt) {
		next.UpdatedAt = prev.UpdatedAt
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = prev.CreatedAt
	}
}

// Flags is the completion snapshot the supervisor routes on.
type Flags struct {
	Signup    bool `json:"signup_complete"`
	Company   bool `json:"company_complete"`
	KYC       bool `json:"kyc_complete"`
	Bank      bool `json:"bank_complete"`
	Finalized bool `json:"task_complete"`
}

// Completed reports the flag for a data stage.
func (f Flags) Completed(stage Stage) bool {
	switch stage {
	case StageSignup:
		return f.Signup
	case StageCompany:
		return f.Company
	case StageKYC:
		return f.KYC
	case StageBank:
		return f.Bank
	}
	return false
}

// With returns a copy of f with stage marked complete.
func (f Flags) With(stage Stage) Flags {
	switch stage {
	case StageSignup:
		f.Signup = true
	case StageCompany:
		f.Company = true
	case StageKYC:
		f.KYC = true
	case StageBank:
		f.Bank = true
	case StageComplete:
		f.Finalized = true
	}
	return f
}

// AllStagesComplete is the derived onboarding-completed flag.
func (f Flags) AllStagesComplete() bool {
	return f.Signup && f.Company && f.KYC && f.Bank
}
