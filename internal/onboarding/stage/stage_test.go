package stage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"onboarding/internal/onboarding/models"
	"onboarding/internal/onboarding/registrar"
	"onboarding/internal/onboarding/stage"
	"onboarding/internal/onboarding/stage/mocks"
	"onboarding/internal/onboarding/statestore"
	"onboarding/internal/onboarding/store"
	"onboarding/internal/onboarding/validation"
	"onboarding/internal/platform/logger"
	"onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
)

//go:generate mockgen -source=stage.go -destination=mocks/mocks.go -package=mocks StateStore,Completer
type ProcessorSuite struct {
	suite.Suite
	ctx       context.Context
	now       time.Time
	store     *mocks.MockStateStore
	completer *mocks.MockCompleter
}

func TestProcessorSuite(t *testing.T) {
	suite.Run(t, new(ProcessorSuite))
}

func (s *ProcessorSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.ctx = context.Background()
	s.now = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	s.store = mocks.NewMockStateStore(ctrl)
	s.completer = mocks.NewMockCompleter(ctrl)
}

func (s *ProcessorSuite) processor(st models.Stage) *stage.Processor {
	return stage.New(st, validation.NewEngine(), s.completer, s.store,
		stage.WithLogger(logger.Discard()),
		stage.WithClock(func() time.Time { return s.now }),
	)
}

func (s *ProcessorSuite) TestValidationFailureSkipsSideEffect() {
	session := models.NewSession("sess-1", s.now)
	s.store.EXPECT().Load(gomock.Any(), "sess-1").Return(session, nil)
	s.store.EXPECT().Update(gomock.Any(), "sess-1", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, fields map[string]any) (*models.Session, error) {
			record := fields["signup"].(models.StageRecord)
			s.False(record.Completed)
			s.Equal(1, record.Attempts)
			s.Len(fields["last_errors"], 3)
			return session, nil
		})
	s.completer.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	result, err := s.processor(models.StageSignup).Process(s.ctx, "sess-1", map[string]any{
		"name":  "A",
		"email": "bad-email",
		"phone": "123",
	})
	s.Require().NoError(err)
	s.False(result.Success)
	s.Equal([]string{
		"Name must be at least 2 characters",
		"Invalid email format",
		"Phone must be between 10 and 15 digits",
	}, result.Errors)
}

func (s *ProcessorSuite) TestSuccessPersistsCompletedRecordInOneUpdate() {
	session := models.NewSession("sess-1", s.now)
	fields := map[string]any{"name": "Ada Lovelace", "email": "ada@example.com", "phone": "9876543210"}

	s.store.EXPECT().Load(gomock.Any(), "sess-1").Return(session, nil)
	s.completer.EXPECT().Complete(gomock.Any(), session, gomock.Any()).Return(stage.Completion{
		ReferenceID: "ENT-1",
		EntityID:    "ENT-1",
		Data:        map[string]any{"entity_id": "ENT-1"},
	}, nil).Times(1)
	s.store.EXPECT().Update(gomock.Any(), "sess-1", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, update map[string]any) (*models.Session, error) {
			record := update["signup"].(models.StageRecord)
			s.True(record.Completed)
			s.Require().NotNil(record.CompletedAt)
			s.Equal(s.now, *record.CompletedAt)
			s.Equal("Ada Lovelace", record.Data["name"])
			s.Equal("ENT-1", record.ReferenceID)
			s.Equal("ENT-1", update["entity_id"])
			s.Equal("company", update["current_step"])
			return session, nil
		}).Times(1)

	result, err := s.processor(models.StageSignup).Process(s.ctx, "sess-1", fields)
	s.Require().NoError(err)
	s.True(result.Success)
	s.Equal("ENT-1", result.SideEffectID)
	s.Equal("ENT-1", result.ProducedData["entity_id"])
}

func (s *ProcessorSuite) TestSuccessClearsErrorStatus() {
	session := models.NewSession("sess-1", s.now)
	session.Status = models.StatusError
	fields := map[string]any{"pan_number": "ABCDE1234F", "aadhaar_number": "123456789012"}

	s.store.EXPECT().Load(gomock.Any(), "sess-1").Return(session, nil)
	s.completer.EXPECT().Complete(gomock.Any(), session, gomock.Any()).Return(stage.Completion{ReferenceID: "KYC_0000ABCD"}, nil)
	s.store.EXPECT().Update(gomock.Any(), "sess-1", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, update map[string]any) (*models.Session, error) {
			s.Equal("active", update["status"])
			return session, nil
		})

	result, err := s.processor(models.StageKYC).Process(s.ctx, "sess-1", fields)
	s.Require().NoError(err)
	s.True(result.Success)
}

func (s *ProcessorSuite) TestCompletedStageIsNotReprocessed() {
	session := models.NewSession("sess-1", s.now)
	session.CompleteStage(models.StageKYC, map[string]any{"pan_number": "ABCDE1234F"}, "KYC_0000ABCD", s.now)
	s.store.EXPECT().Load(gomock.Any(), "sess-1").Return(session, nil)
	s.store.EXPECT().Update(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	s.completer.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	result, err := s.processor(models.StageKYC).Process(s.ctx, "sess-1", map[string]any{})
	s.Require().NoError(err)
	s.True(result.Success)
	s.Equal("KYC_0000ABCD", result.SideEffectID)
}

func (s *ProcessorSuite) TestSideEffectFailureLeavesStageIncomplete() {
	session := models.NewSession("sess-1", s.now)
	s.store.EXPECT().Load(gomock.Any(), "sess-1").Return(session, nil)
	s.completer.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).Return(stage.Completion{}, errors.New("boom"))
	s.store.EXPECT().Update(gomock.Any(), "sess-1", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, update map[string]any) (*models.Session, error) {
			s.False(update["bank"].(models.StageRecord).Completed)
			return session, nil
		})

	result, err := s.processor(models.StageBank).Process(s.ctx, "sess-1", map[string]any{
		"account_holder_name": "Jane Doe",
		"account_number":      "12345",
		"ifsc_code":           "ABCD0123456",
		"bank_name":           "Test Bank",
	})
	s.Require().NoError(err)
	s.False(result.Success)
	s.Require().Len(result.Errors, 1)
	s.Contains(result.Errors[0], "boom")
}

func (s *ProcessorSuite) TestPersistenceFailureIsReturned() {
	session := models.NewSession("sess-1", s.now)
	s.store.EXPECT().Load(gomock.Any(), "sess-1").Return(session, nil)
	s.completer.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).Return(stage.Completion{ReferenceID: "BANK_00000001"}, nil)
	s.store.EXPECT().Update(gomock.Any(), "sess-1", gomock.Any()).Return(nil, errors.New("db down"))

	_, err := s.processor(models.StageBank).Process(s.ctx, "sess-1", map[string]any{
		"account_holder_name": "Jane Doe",
		"account_number":      "12345",
		"ifsc_code":           "ABCD0123456",
		"bank_name":           "Test Bank",
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodePersistence))
}

func (s *ProcessorSuite) TestCompanyTypeIsDerived() {
	session := models.NewSession("sess-1", s.now)
	s.store.EXPECT().Load(gomock.Any(), "sess-1").Return(session, nil)
	s.completer.EXPECT().Complete(gomock.Any(), gomock.Any(), gomock.Any()).Return(stage.Completion{ReferenceID: "COMP_00000001"}, nil)
	s.store.EXPECT().Update(gomock.Any(), "sess-1", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, update map[string]any) (*models.Session, error) {
			s.Equal("LLC/Partnership", update["company"].(models.StageRecord).Data["company_type"])
			return session, nil
		})

	result, err := s.processor(models.StageCompany).Process(s.ctx, "sess-1", map[string]any{
		"company_name":        "Hopper Partners LLP",
		"registration_number": "REG-2024-001",
		"address":             "1 Harbour Road, Mumbai",
	})
	s.Require().NoError(err)
	s.True(result.Success)
}

type fakeRegistrar struct {
	calls int
	err   error
}

func (f *fakeRegistrar) CreateEntity(_ context.Context, _ string, _ registrar.Payload) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "ENT-100", nil
}

func TestSetAgainstStateStore(t *testing.T) {
	ctx := context.Background()
	st := statestore.New(ctx, store.NewInMemory(), statestore.WithLogger(logger.Discard()))
	reg := &fakeRegistrar{}
	set := stage.NewSet(validation.NewEngine(), reg, st, logger.Discard(), nil)

	result, err := set[models.StageBank].Process(ctx, "sess-1", map[string]any{
		"account_holder_name": "Jane Doe",
		"account_number":      "12345",
		"ifsc_code":           "ABCD0123456",
		"bank_name":           "Test Bank",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || !domain.IsReference(domain.PrefixBank, result.SideEffectID) {
		t.Fatalf("unexpected bank result: %+v", result)
	}

	session, err := st.Load(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !session.Bank.Completed || session.Bank.CompletedAt == nil {
		t.Fatalf("bank record not persisted: %+v", session.Bank)
	}
	if session.Bank.Data["bank_id"] != result.SideEffectID {
		t.Fatalf("bank_id = %v, want %s", session.Bank.Data["bank_id"], result.SideEffectID)
	}

	reg.err = &registrar.Error{Kind: registrar.KindTimeout, Message: "request timed out"}
	result, err = set[models.StageSignup].Process(ctx, "sess-1", map[string]any{
		"name": "Ada Lovelace", "email": "ada@example.com", "phone": "9876543210",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Success || reg.calls != 1 {
		t.Fatalf("expected failed signup after one registrar call, got %+v (calls=%d)", result, reg.calls)
	}
	if result.Errors[0] != "Entity registration timed out - please try again" {
		t.Fatalf("unexpected reason %q", result.Errors[0])
	}

	session, err = st.Load(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if session.Signup.Completed || session.Signup.Attempts != 1 {
		t.Fatalf("signup attempt not recorded: %+v", session.Signup)
	}
}
