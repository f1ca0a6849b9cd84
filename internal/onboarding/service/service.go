// Package service runs the onboarding workflow for inbound messages.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"onboarding/internal/onboarding/models"
	"onboarding/internal/onboarding/supervisor"
	"onboarding/internal/onboarding/validation"
	"onboarding/internal/platform/metrics"
	"onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
)

var tracer = otel.Tracer("onboarding/service")

// Extractor pulls the fields of one stage out of a message.
type Extractor interface {
	Extract(stage models.Stage, message string) map[string]any
}

// StageProcessor completes one data stage.
type StageProcessor interface {
	Process(ctx context.Context, sessionID string, fields map[string]any) (*models.StageResult, error)
}

// StateStore is the session state API the workflow runs against.
type StateStore interface {
	Load(ctx context.Context, sessionID string) (*models.Session, error)
	Save(ctx context.Context, sessionID string, session *models.Session) error
	Update(ctx context.Context, sessionID string, fields map[string]any) (*models.Session, error)
	Delete(ctx context.Context, sessionID string) error
	Features(ctx context.Context, sessionID string) (*models.EntityFeatures, error)
	List(ctx context.Context, limit int) ([]models.SessionSummary, error)
}

// Run status reported to callers.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// Request is one inbound user message.
type Request struct {
	SessionID string
	Message   string
}

// Response reports where the session stands after a message.
type Response struct {
	SessionID    string               `json:"session_id"`
	Status       string               `json:"status"`
	CurrentStep  models.Stage         `json:"current_step"`
	Message      string               `json:"message"`
	Errors       []string             `json:"errors,omitempty"`
	Flags        models.Flags         `json:"flags"`
	EntityID     string               `json:"entity_id,omitempty"`
	OnboardingID string               `json:"onboarding_id,omitempty"`
	Results      []models.StageResult `json:"results,omitempty"`
}

// Service is the onboarding workflow.
type Service struct {
	store      StateStore
	processors map[models.Stage]StageProcessor
	extractor  Extractor
	supervisor *supervisor.Supervisor
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithSupervisor(sup *supervisor.Supervisor) Option {
	return func(s *Service) {
		s.supervisor = sup
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Processors adapts a typed processor map, e.g. a stage.Set.
func Processors[P StageProcessor](set map[models.Stage]P) map[models.Stage]StageProcessor {
	out := make(map[models.Stage]StageProcessor, len(set))
	for st, p := range set {
		out[st] = p
	}
	return out
}

// New creates the workflow service. processors must cover every data stage.
func New(store StateStore, processors map[models.Stage]StageProcessor, extractor Extractor, opts ...Option) (*Service, error) {
	for _, st := range models.DataStages {
		if processors[st] == nil {
			return nil, fmt.Errorf("no processor for stage %s", st)
		}
	}
	s := &Service{
		store:      store,
		processors: processors,
		extractor:  extractor,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.supervisor == nil {
		s.supervisor = supervisor.New(supervisor.WithLogger(s.logger), supervisor.WithMetrics(s.metrics))
	}
	return s, nil
}

// run collects what one message did to a session.
type run struct {
	sessionID string
	message   string
	attempted map[models.Stage]bool
	results   []models.StageResult
	notes     []string
	errors    []string
	prompt    string
}

// ProcessMessage advances a session as far as the message allows.
func (s *Service) ProcessMessage(ctx context.Context, req Request) (*Response, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = domain.NewSessionID()
	} else if _, err := domain.ParseSessionID(sessionID); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "onboarding.ProcessMessage")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	session, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	r := &run{sessionID: sessionID, message: req.Message, attempted: make(map[models.Stage]bool)}
	res, runErr := s.supervisor.Run(ctx, session.Flags(), req.Message, func(ctx context.Context, st supervisor.Step) (supervisor.Outcome, error) {
		return s.step(ctx, r, st)
	})

	var overrun *supervisor.RoutingOverrunError
	if errors.As(runErr, &overrun) {
		s.markFailed(ctx, sessionID, overrun.Error())
	}
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "onboarding run failed")
		s.logger.ErrorContext(ctx, "onboarding run failed",
			"session_id", sessionID,
			"error", runErr,
		)
		return nil, runErr
	}

	session, err = s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("steps", res.Steps), attribute.String("final", string(res.Final)))
	s.logger.InfoContext(ctx, "onboarding message processed",
		"session_id", sessionID,
		"steps", res.Steps,
		"current_step", session.CurrentStep,
		"halted", res.Halted,
	)
	return s.respond(session, r), nil
}

func (s *Service) step(ctx context.Context, r *run, st supervisor.Step) (supervisor.Outcome, error) {
	if st.Stage == models.StageComplete {
		if err := s.finalize(ctx, r, st.OnboardingID); err != nil {
			return supervisor.Outcome{}, err
		}
		return supervisor.Outcome{Flags: st.Flags.With(models.StageComplete)}, nil
	}

	halt := supervisor.Outcome{Flags: st.Flags, Halt: true}
	if r.attempted[st.Stage] {
		return halt, nil
	}
	r.attempted[st.Stage] = true

	session, err := s.store.Load(ctx, r.sessionID)
	if err != nil {
		return supervisor.Outcome{}, err
	}
	fields := mergeFields(session.Record(st.Stage).Data, s.extractor.Extract(st.Stage, r.message))
	if len(fields) == 0 {
		r.prompt = stagePrompt(st.Stage)
		return halt, nil
	}
	if missing := missingFields(st.Stage, fields); len(missing) > 0 {
		if err := s.savePending(ctx, r.sessionID, st.Stage, fields); err != nil {
			return supervisor.Outcome{}, err
		}
		r.prompt = fmt.Sprintf("Thanks! I still need your %s.", humanList(missing))
		return halt, nil
	}

	result, err := s.processors[st.Stage].Process(ctx, r.sessionID, fields)
	if err != nil {
		return supervisor.Outcome{}, err
	}
	r.results = append(r.results, *result)
	if !result.Success {
		r.errors = append(r.errors, result.Errors...)
		if err := s.savePending(ctx, r.sessionID, st.Stage, fields); err != nil {
			return supervisor.Outcome{}, err
		}
		return halt, nil
	}
	r.notes = append(r.notes, completionNote(st.Stage, result))
	return supervisor.Outcome{Flags: st.Flags.With(st.Stage)}, nil
}

func (s *Service) finalize(ctx context.Context, r *run, onboardingID string) error {
	session, err := s.store.Load(ctx, r.sessionID)
	if err != nil {
		return err
	}
	if !session.Flags().AllStagesComplete() {
		return dErrors.New(dErrors.CodeInternal, "cannot finalize with incomplete stages")
	}
	if !session.TaskComplete {
		session.Finalize(onboardingID, s.now())
		if err := s.store.Save(ctx, r.sessionID, session); err != nil {
			return err
		}
	}
	r.notes = append(r.notes, fmt.Sprintf("Onboarding complete! Your onboarding ID is %s.", session.OnboardingID))
	return nil
}

// savePending keeps partially supplied fields on the open stage record so
// later messages can add the rest.
func (s *Service) savePending(ctx context.Context, sessionID string, stage models.Stage, fields map[string]any) error {
	session, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	record := *session.Record(stage)
	record.Data = fields
	_, err = s.store.Update(ctx, sessionID, map[string]any{string(stage): record})
	return err
}

func (s *Service) markFailed(ctx context.Context, sessionID, reason string) {
	_, err := s.store.Update(ctx, sessionID, map[string]any{
		"status":      string(models.StatusError),
		"last_errors": []string{reason},
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to mark session as failed",
			"session_id", sessionID,
			"error", err,
		)
	}
}

func (s *Service) respond(session *models.Session, r *run) *Response {
	resp := &Response{
		SessionID:    session.ID,
		Status:       StatusInProgress,
		CurrentStep:  supervisor.Next(session.Flags()),
		Errors:       r.errors,
		Flags:        session.Flags(),
		EntityID:     session.EntityID,
		OnboardingID: session.OnboardingID,
		Results:      r.results,
	}
	if session.TaskComplete {
		resp.Status = StatusCompleted
	}

	parts := append([]string(nil), r.notes...)
	switch {
	case len(r.errors) > 0:
		parts = append(parts, "Please fix the following and try again: "+strings.Join(r.errors, "; "))
	case r.prompt != "":
		parts = append(parts, r.prompt)
	case !session.TaskComplete:
		parts = append(parts, stagePrompt(resp.CurrentStep))
	}
	resp.Message = strings.Join(parts, " ")
	return resp
}

// Status returns the stored session, or the default state for an unknown id.
func (s *Service) Status(ctx context.Context, sessionID string) (*models.Session, error) {
	if _, err := domain.ParseSessionID(sessionID); err != nil {
		return nil, err
	}
	return s.store.Load(ctx, sessionID)
}

// Features returns the entity features of a stored session.
func (s *Service) Features(ctx context.Context, sessionID string) (*models.EntityFeatures, error) {
	if _, err := domain.ParseSessionID(sessionID); err != nil {
		return nil, err
	}
	return s.store.Features(ctx, sessionID)
}

// Reset deletes every stored trace of a session except its api call log.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	if _, err := domain.ParseSessionID(sessionID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "session reset", "session_id", sessionID)
	return nil
}

// List returns recently updated sessions.
func (s *Service) List(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	return s.store.List(ctx, limit)
}

func mergeFields(pending, extracted map[string]any) map[string]any {
	out := make(map[string]any, len(pending)+len(extracted))
	for k, v := range pending {
		out[k] = v
	}
	for k, v := range extracted {
		out[k] = v
	}
	return out
}

func missingFields(stage models.Stage, fields map[string]any) []string {
	var missing []string
	for _, f := range validation.RequiredFields(stage, fields) {
		v, ok := fields[f]
		if !ok || v == nil {
			missing = append(missing, f)
			continue
		}
		if str, isString := v.(string); isString && strings.TrimSpace(str) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}
