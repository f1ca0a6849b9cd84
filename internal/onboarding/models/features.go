package models

import "time"

// FeatureStatus is the per-stage view exposed in EntityFeatures.
type FeatureStatus struct {
	Completed   bool           `json:"completed"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// EntityFeatures summarises which onboarding features a session has completed.
// It is always derived from a Session and never written on its own.
type EntityFeatures struct {
	SessionID             string        `json:"session_id"`
	EntityID              string        `json:"entity_id,omitempty"`
	UserEmail             string        `json:"user_email,omitempty"`
	UserPhone             string        `json:"user_phone,omitempty"`
	OrganizationName      string        `json:"organization_name,omitempty"`
	Signup                FeatureStatus `json:"signup"`
	Company               FeatureStatus `json:"company"`
	KYC                   FeatureStatus `json:"kyc"`
	Bank                  FeatureStatus `json:"bank"`
	OnboardingCompleted   bool          `json:"onboarding_completed"`
	OnboardingCompletedAt *time.Time    `json:"onboarding_completed_at,omitempty"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// FeaturesOf derives the feature view of s.
func FeaturesOf(s *Session) *EntityFeatures {
	f := &EntityFeatures{
		SessionID:        s.ID,
		EntityID:         s.EntityID,
		UserEmail:        stringField(s.Signup.Data, "email"),
		UserPhone:        stringField(s.Signup.Data, "phone"),
		OrganizationName: stringField(s.Company.Data, "company_name"),
		Signup:           featureOf(s.Signup),
		Company:          featureOf(s.Company),
		KYC:              featureOf(s.KYC),
		Bank:             featureOf(s.Bank),
		UpdatedAt:        s.UpdatedAt,
	}
	f.OnboardingCompleted = s.Flags().AllStagesComplete()
	if f.OnboardingCompleted {
		f.OnboardingCompletedAt = latest(s.Signup.CompletedAt, s.Company.CompletedAt, s.KYC.CompletedAt, s.Bank.CompletedAt)
	}
	return f
}

func featureOf(r StageRecord) FeatureStatus {
	return FeatureStatus{Completed: r.Completed, CompletedAt: r.CompletedAt, Data: r.Data}
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func latest(times ...*time.Time) *time.Time {
	var out *time.Time
	for _, t := range times {
		if t != nil && (out == nil || t.After(*out)) {
			out = t
		}
	}
	return out
}
