// Package stage runs one onboarding data stage: validate the collected
// fields, perform the stage's completion side effect once, and persist the
// completed record.
package stage

import (
	"context"
	"log/slog"
	"time"

	"onboarding/internal/onboarding/models"
	"onboarding/internal/onboarding/validation"
	"onboarding/internal/platform/metrics"
	dErrors "onboarding/pkg/domain-errors"
)

// StateStore is the slice of the state store a processor needs.
type StateStore interface {
	Load(ctx context.Context, sessionID string) (*models.Session, error)
	Update(ctx context.Context, sessionID string, fields map[string]any) (*models.Session, error)
}

// Completer performs the side effect that finishes a stage and returns its
// reference id plus any data to store with the record.
type Completer interface {
	Complete(ctx context.Context, session *models.Session, fields map[string]any) (Completion, error)
}

// Completion is the outcome of a successful side effect.
type Completion struct {
	ReferenceID string
	Data        map[string]any
	EntityID    string
}

// Processor handles one data stage.
type Processor struct {
	stage     models.Stage
	engine    *validation.Engine
	completer Completer
	store     StateStore
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Processor)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

// New creates a processor for a data stage.
func New(stage models.Stage, engine *validation.Engine, completer Completer, store StateStore, opts ...Option) *Processor {
	p := &Processor{
		stage:     stage,
		engine:    engine,
		completer: completer,
		store:     store,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) Stage() models.Stage { return p.stage }

// Process validates fields and, if they pass, completes and persists the
// stage. Validation and side-effect failures are reported in the result;
// only state store failures are returned as errors.
func (p *Processor) Process(ctx context.Context, sessionID string, fields map[string]any) (*models.StageResult, error) {
	start := p.now()
	result, err := p.process(ctx, sessionID, fields)
	outcome := "error"
	switch {
	case err != nil:
	case result.Success:
		outcome = "completed"
	default:
		outcome = "rejected"
	}
	p.metrics.ObserveStage(string(p.stage), outcome, p.now().Sub(start))
	return result, err
}

func (p *Processor) process(ctx context.Context, sessionID string, fields map[string]any) (*models.StageResult, error) {
	session, err := p.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	record := session.Record(p.stage)
	if record == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "not a data stage: "+string(p.stage))
	}
	if record.Completed {
		return &models.StageResult{
			Stage:        p.stage,
			Success:      true,
			ProducedData: record.Data,
			SideEffectID: record.ReferenceID,
		}, nil
	}

	fields = normalize(p.stage, fields)
	verdict := p.engine.ValidateStage(p.stage, fields)
	if !verdict.Valid {
		p.logger.InfoContext(ctx, "stage validation failed",
			"session_id", sessionID,
			"stage", p.stage,
			"errors", len(verdict.Errors),
		)
		p.recordAttempt(ctx, session, verdict.Errors)
		return &models.StageResult{Stage: p.stage, Success: false, Errors: verdict.Errors}, nil
	}

	completion, err := p.completer.Complete(ctx, session, fields)
	if err != nil {
		reason := failureReason(p.stage, err)
		p.logger.WarnContext(ctx, "stage completion failed",
			"session_id", sessionID,
			"stage", p.stage,
			"error", err,
		)
		p.recordAttempt(ctx, session, []string{reason})
		return &models.StageResult{Stage: p.stage, Success: false, Errors: []string{reason}}, nil
	}

	data := make(map[string]any, len(fields)+len(completion.Data))
	for k, v := range fields {
		data[k] = v
	}
	for k, v := range completion.Data {
		data[k] = v
	}

	now := p.now()
	next := *record
	next.Completed = true
	next.CompletedAt = &now
	next.Data = data
	next.ReferenceID = completion.ReferenceID
	next.Attempts++
	next.LastAttemptAt = &now

	update := map[string]any{
		string(p.stage): next,
		"current_step":  string(nextStage(session.Flags().With(p.stage))),
		"last_errors":   nil,
	}
	if completion.EntityID != "" {
		update["entity_id"] = completion.EntityID
	}
	if session.Status == models.StatusError {
		update["status"] = string(models.StatusActive)
	}
	if _, err := p.store.Update(ctx, sessionID, update); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to persist completed stage")
	}

	p.logger.InfoContext(ctx, "stage completed",
		"session_id", sessionID,
		"stage", p.stage,
		"reference_id", completion.ReferenceID,
	)
	return &models.StageResult{
		Stage:        p.stage,
		Success:      true,
		ProducedData: data,
		SideEffectID: completion.ReferenceID,
	}, nil
}

// recordAttempt stores the failed attempt. It is best effort: the caller
// still receives the validation verdict when the write fails.
func (p *Processor) recordAttempt(ctx context.Context, session *models.Session, errs []string) {
	record := *session.Record(p.stage)
	now := p.now()
	record.Attempts++
	record.LastAttemptAt = &now
	_, err := p.store.Update(ctx, session.ID, map[string]any{
		string(p.stage): record,
		"last_errors":   errs,
	})
	if err != nil {
		p.logger.WarnContext(ctx, "failed to record stage attempt",
			"session_id", session.ID,
			"stage", p.stage,
			"error", err,
		)
	}
}

// nextStage mirrors the supervisor's ordering for the stored current_step.
func nextStage(f models.Flags) models.Stage {
	for _, s := range models.DataStages {
		if !f.Completed(s) {
			return s
		}
	}
	if !f.Finalized {
		return models.StageComplete
	}
	return models.StageEnd
}

func normalize(stage models.Stage, fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	if stage == models.StageCompany {
		if name, ok := out["company_name"].(string); ok && name != "" {
			if _, set := out["company_type"]; !set {
				out["company_type"] = validation.CompanyType(name)
			}
		}
	}
	return out
}
