package supervisor

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"onboarding/internal/onboarding/models"
	"onboarding/internal/platform/metrics"
	"onboarding/pkg/domain"
)

var tracer = otel.Tracer("onboarding/supervisor")

// Decision is the routing outcome for one point in a run.
type Decision struct {
	Next   models.Stage
	Advice string
	Agreed bool
}

// Step is one dispatch handed to the step function.
type Step struct {
	Stage models.Stage
	Flags models.Flags
	// OnboardingID is issued when Stage is complete.
	OnboardingID string
}

// Outcome is what the step function reports back.
type Outcome struct {
	Flags models.Flags
	Halt  bool
}

// StepFunc executes one stage. Returning Halt ends the run, e.g. when the
// stage needs more input from the user.
type StepFunc func(ctx context.Context, step Step) (Outcome, error)

// RunResult summarises a run.
type RunResult struct {
	Flags        models.Flags
	Steps        int
	Path         []models.Stage
	Halted       bool
	Final        models.Stage
	OnboardingID string
	Decision     Decision
}

// Supervisor drives runs.
type Supervisor struct {
	advisor  Advisor
	maxSteps int
	logger   *slog.Logger
	metrics  *metrics.Metrics
	newID    func() string
}

type Option func(*Supervisor)

func WithAdvisor(a Advisor) Option {
	return func(s *Supervisor) {
		s.advisor = a
	}
}

// WithMaxSteps overrides the step ceiling. Values below 1 are ignored.
func WithMaxSteps(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.maxSteps = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// WithIDGenerator replaces the onboarding id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Supervisor) {
		s.newID = fn
	}
}

func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		advisor:  KeywordAdvisor{},
		maxSteps: DefaultMaxSteps,
		logger:   slog.Default(),
		newID:    func() string { return domain.NewReference(domain.PrefixOnboarding) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) MaxSteps() int { return s.maxSteps }

// Decide routes on flags and records how the advisor's suggestion compares.
func (s *Supervisor) Decide(ctx context.Context, flags models.Flags, message string) Decision {
	d := Decision{Next: Next(flags)}
	if s.advisor == nil {
		return d
	}
	advice, err := s.advisor.Advise(ctx, flags, message)
	if err != nil {
		s.logger.WarnContext(ctx, "routing advisor failed", "error", err)
		return d
	}
	if advice == "" {
		return d
	}
	d.Advice = advice
	d.Agreed = advice == string(d.Next)
	s.metrics.RecordAdvice(d.Agreed)
	if !d.Agreed {
		s.logger.InfoContext(ctx, "routing advice disagrees with route",
			"route", d.Next,
			"advice", advice,
		)
	}
	return d
}

// Run dispatches stages until end, a halt, or the step ceiling. Exceeding
// the ceiling returns *RoutingOverrunError alongside the partial result.
func (s *Supervisor) Run(ctx context.Context, flags models.Flags, message string, step StepFunc) (*RunResult, error) {
	ctx, span := tracer.Start(ctx, "supervisor.Run")
	defer span.End()

	res := &RunResult{Flags: flags}
	res.Decision = s.Decide(ctx, flags, message)

	for {
		if err := ctx.Err(); err != nil {
			s.finish(ctx, res, "cancelled")
			return res, err
		}

		next := Next(res.Flags)
		res.Final = next
		if next == models.StageEnd {
			s.finish(ctx, res, "completed")
			span.SetAttributes(attribute.Int("steps", res.Steps))
			return res, nil
		}
		if res.Steps >= s.maxSteps {
			err := &RoutingOverrunError{Steps: res.Steps, Flags: res.Flags, Path: res.Path}
			s.finish(ctx, res, "overrun")
			span.RecordError(err)
			span.SetStatus(codes.Error, "step ceiling reached")
			s.logger.ErrorContext(ctx, "onboarding run exceeded step ceiling",
				"steps", res.Steps,
				"stage", next,
			)
			return res, err
		}

		st := Step{Stage: next, Flags: res.Flags}
		if next == models.StageComplete {
			st.OnboardingID = s.newID()
		}
		span.AddEvent("dispatch", traceStage(next))

		res.Steps++
		res.Path = append(res.Path, next)
		out, err := step(ctx, st)
		if err != nil {
			s.finish(ctx, res, "error")
			span.RecordError(err)
			span.SetStatus(codes.Error, "stage failed")
			return res, err
		}
		res.Flags = out.Flags
		if out.Halt {
			res.Halted = true
			s.finish(ctx, res, "halted")
			return res, nil
		}
		if next == models.StageComplete {
			res.Flags = res.Flags.With(models.StageComplete)
			res.OnboardingID = st.OnboardingID
		}
	}
}

func (s *Supervisor) finish(ctx context.Context, res *RunResult, status string) {
	s.metrics.ObserveRun(status, res.Steps)
	s.logger.DebugContext(ctx, "onboarding run finished",
		"status", status,
		"steps", res.Steps,
		"final", res.Final,
	)
}

func traceStage(stage models.Stage) trace.EventOption {
	return trace.WithAttributes(attribute.String("stage", string(stage)))
}
