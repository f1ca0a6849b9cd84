package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"onboarding/internal/onboarding/models"
	"onboarding/internal/onboarding/registrar"
	"onboarding/internal/onboarding/validation"
	"onboarding/internal/platform/metrics"
	"onboarding/pkg/domain"
	"onboarding/pkg/platform/retry"
)

// EntityRegistrar creates the external entity for a signed-up user.
type EntityRegistrar interface {
	CreateEntity(ctx context.Context, sessionID string, payload registrar.Payload) (string, error)
}

// SignupCompleter registers the entity with the external service.
type SignupCompleter struct {
	registrar EntityRegistrar
	now       func() time.Time
}

func NewSignupCompleter(r EntityRegistrar) *SignupCompleter {
	return &SignupCompleter{registrar: r, now: time.Now}
}

func (c *SignupCompleter) Complete(ctx context.Context, session *models.Session, fields map[string]any) (Completion, error) {
	payload := registrar.Payload{
		Name:      stringField(fields, "name"),
		Email:     stringField(fields, "email"),
		Phone:     stringField(fields, "phone"),
		Timestamp: c.now().UTC(),
	}
	entityID, err := c.registrar.CreateEntity(ctx, session.ID, payload)
	if err != nil {
		return Completion{}, err
	}
	return Completion{
		ReferenceID: entityID,
		EntityID:    entityID,
		Data:        map[string]any{"entity_id": entityID},
	}, nil
}

// ReferenceCompleter issues a local reference id, e.g. "KYC_1A2B3C4D".
type ReferenceCompleter struct {
	prefix  string
	dataKey string
}

func NewReferenceCompleter(prefix, dataKey string) *ReferenceCompleter {
	return &ReferenceCompleter{prefix: prefix, dataKey: dataKey}
}

func (c *ReferenceCompleter) Complete(_ context.Context, _ *models.Session, _ map[string]any) (Completion, error) {
	ref := domain.NewReference(c.prefix)
	return Completion{ReferenceID: ref, Data: map[string]any{c.dataKey: ref}}, nil
}

// Set holds one processor per data stage.
type Set map[models.Stage]*Processor

// NewSet wires the standard processors: signup goes through the registrar,
// the other stages issue local references.
func NewSet(engine *validation.Engine, reg EntityRegistrar, store StateStore, logger *slog.Logger, m *metrics.Metrics) Set {
	opts := []Option{WithLogger(logger), WithMetrics(m)}
	return Set{
		models.StageSignup:  New(models.StageSignup, engine, NewSignupCompleter(reg), store, opts...),
		models.StageCompany: New(models.StageCompany, engine, NewReferenceCompleter(domain.PrefixCompany, "company_id"), store, opts...),
		models.StageKYC:     New(models.StageKYC, engine, NewReferenceCompleter(domain.PrefixKYC, "kyc_id"), store, opts...),
		models.StageBank:    New(models.StageBank, engine, NewReferenceCompleter(domain.PrefixBank, "bank_id"), store, opts...),
	}
}

func failureReason(stage models.Stage, err error) string {
	if stage != models.StageSignup {
		return fmt.Sprintf("Failed to complete %s stage: %v", stage, err)
	}
	var exhausted *retry.ExhaustedError
	switch registrar.KindOf(err) {
	case registrar.KindTimeout:
		return "Entity registration timed out - please try again"
	case registrar.KindConnection:
		return "Entity registration service is unavailable - please try again"
	}
	if errors.As(err, &exhausted) {
		return fmt.Sprintf("Failed to generate entity ID after %d attempts", exhausted.Attempts)
	}
	return "Failed to generate entity ID. Please try again."
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}
