package supervisor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"onboarding/internal/onboarding/models"
	"onboarding/internal/platform/logger"
	"onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
)

func TestNext(t *testing.T) {
	// Every combination of the five flags routes to the first incomplete stage.
	order := []models.Stage{models.StageSignup, models.StageCompany, models.StageKYC, models.StageBank, models.StageComplete}
	for mask := 0; mask < 32; mask++ {
		f := models.Flags{
			Signup:    mask&1 != 0,
			Company:   mask&2 != 0,
			KYC:       mask&4 != 0,
			Bank:      mask&8 != 0,
			Finalized: mask&16 != 0,
		}
		done := []bool{f.Signup, f.Company, f.KYC, f.Bank, f.Finalized}
		want := models.StageEnd
		for i, d := range done {
			if !d {
				want = order[i]
				break
			}
		}
		assert.Equal(t, want, Next(f), "flags %+v", f)
	}
}

type fixedAdvisor struct {
	advice string
	err    error
}

func (a fixedAdvisor) Advise(context.Context, models.Flags, string) (string, error) {
	return a.advice, a.err
}

type SupervisorSuite struct {
	suite.Suite
	ctx context.Context
}

func TestSupervisorSuite(t *testing.T) {
	suite.Run(t, new(SupervisorSuite))
}

func (s *SupervisorSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *SupervisorSuite) newSupervisor(opts ...Option) *Supervisor {
	return New(append([]Option{WithLogger(logger.Discard())}, opts...)...)
}

func (s *SupervisorSuite) TestDecisionIgnoresAdvice() {
	flags := models.Flags{Signup: true}
	for _, advisor := range []Advisor{
		fixedAdvisor{advice: "bank"},
		fixedAdvisor{advice: "end"},
		fixedAdvisor{advice: "nonsense"},
		fixedAdvisor{err: errors.New("model unavailable")},
		KeywordAdvisor{},
	} {
		d := s.newSupervisor(WithAdvisor(advisor)).Decide(s.ctx, flags, "here are my bank details")
		s.Equal(models.StageCompany, d.Next)
	}

	d := s.newSupervisor(WithAdvisor(fixedAdvisor{advice: "company"})).Decide(s.ctx, flags, "")
	s.True(d.Agreed)
	d = s.newSupervisor(WithAdvisor(fixedAdvisor{advice: "bank"})).Decide(s.ctx, flags, "")
	s.False(d.Agreed)
	s.Equal("bank", d.Advice)
}

func (s *SupervisorSuite) TestRunCompletesEveryStage() {
	sup := s.newSupervisor()
	var seen []Step
	res, err := sup.Run(s.ctx, models.Flags{}, "", func(_ context.Context, st Step) (Outcome, error) {
		seen = append(seen, st)
		return Outcome{Flags: st.Flags.With(st.Stage)}, nil
	})
	s.Require().NoError(err)

	s.Equal([]models.Stage{
		models.StageSignup, models.StageCompany, models.StageKYC, models.StageBank, models.StageComplete,
	}, res.Path)
	s.Equal(5, res.Steps)
	s.Equal(models.StageEnd, res.Final)
	s.True(res.Flags.Finalized)
	s.True(domain.IsReference(domain.PrefixOnboarding, res.OnboardingID), res.OnboardingID)
	s.Equal(res.OnboardingID, seen[4].OnboardingID)
	s.Empty(seen[0].OnboardingID)
}

func (s *SupervisorSuite) TestEndIsAbsorbing() {
	done := models.Flags{Signup: true, Company: true, KYC: true, Bank: true, Finalized: true}
	res, err := s.newSupervisor().Run(s.ctx, done, "", func(context.Context, Step) (Outcome, error) {
		s.Fail("no stage should run after end")
		return Outcome{}, nil
	})
	s.Require().NoError(err)
	s.Equal(0, res.Steps)
	s.Equal(models.StageEnd, res.Final)
}

func (s *SupervisorSuite) TestHaltStopsRun() {
	res, err := s.newSupervisor().Run(s.ctx, models.Flags{Signup: true}, "", func(_ context.Context, st Step) (Outcome, error) {
		return Outcome{Flags: st.Flags, Halt: true}, nil
	})
	s.Require().NoError(err)
	s.True(res.Halted)
	s.Equal(1, res.Steps)
	s.Equal(models.StageCompany, res.Final)
}

func (s *SupervisorSuite) TestStepCeiling() {
	for _, max := range []int{1, 7, DefaultMaxSteps} {
		calls := 0
		sup := s.newSupervisor(WithMaxSteps(max))
		res, err := sup.Run(s.ctx, models.Flags{}, "", func(_ context.Context, st Step) (Outcome, error) {
			calls++
			return Outcome{Flags: st.Flags}, nil
		})

		var overrun *RoutingOverrunError
		s.Require().ErrorAs(err, &overrun)
		s.True(dErrors.HasCode(err, dErrors.CodeRoutingOverrun))
		s.Equal(max, calls)
		s.Equal(max, overrun.Steps)
		s.Len(overrun.Path, max)
		s.Equal(max, res.Steps)
	}
}

func (s *SupervisorSuite) TestStepErrorStopsRun() {
	boom := errors.New("persist failed")
	res, err := s.newSupervisor().Run(s.ctx, models.Flags{}, "", func(context.Context, Step) (Outcome, error) {
		return Outcome{}, boom
	})
	s.ErrorIs(err, boom)
	s.Equal(1, res.Steps)
}

func TestKeywordAdvisor(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		msg   string
		flags models.Flags
		want  string
	}{
		{"My IFSC is HDFC0001234", models.Flags{}, "bank"},
		{"PAN: ABCDE1234F", models.Flags{}, "kyc"},
		{"our company is Acme", models.Flags{}, "company"},
		{"my name is Ada", models.Flags{}, "signup"},
		{"bank and pan", models.Flags{Bank: true}, "kyc"},
		{"hello", models.Flags{}, ""},
	}
	for _, tt := range tests {
		got, err := KeywordAdvisor{}.Advise(ctx, tt.flags, tt.msg)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.msg)
	}
}
