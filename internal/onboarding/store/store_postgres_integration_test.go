//go:build integration

package store_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"onboarding/internal/onboarding/models"
	"onboarding/internal/onboarding/store"
	"onboarding/pkg/platform/sentinel"
	txcontext "onboarding/pkg/platform/tx"
	"onboarding/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB, nil)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "entity_features", "onboarding_state", "sessions", "api_logs")
	s.Require().NoError(err)
	s.now = time.Now().UTC().Truncate(time.Millisecond)
}

func (s *PostgresStoreSuite) TestSaveWritesAllTables() {
	ctx := context.Background()
	session := models.NewSession("sess-pg-1", s.now)
	session.EntityID = "ent-1"
	session.CompleteStage(models.StageSignup, map[string]any{"email": "a@b.co", "phone": "5551234567"}, "ent-1", s.now)
	session.CurrentStep = models.StageCompany

	s.Require().NoError(s.store.Save(ctx, session))

	state, err := s.store.Load(ctx, "sess-pg-1")
	s.Require().NoError(err)
	s.Equal(models.CurrentSchemaVersion, state.SchemaVersion)
	var decoded models.Session
	s.Require().NoError(json.Unmarshal(state.Data, &decoded))
	s.True(decoded.Signup.Completed)

	features, err := s.store.Features(ctx, "sess-pg-1")
	s.Require().NoError(err)
	s.True(features.Signup.Completed)
	s.Equal("a@b.co", features.UserEmail)
	s.False(features.OnboardingCompleted)

	list, err := s.store.List(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(models.StageCompany, list[0].CurrentStep)
}

func (s *PostgresStoreSuite) TestRolledBackTransactionLeavesNothing() {
	ctx := context.Background()
	session := models.NewSession("sess-pg-rollback", s.now)

	err := txcontext.RunInTx(ctx, s.postgres.DB, func(ctx context.Context) error {
		if err := s.store.Save(ctx, session); err != nil {
			return err
		}
		return sentinel.ErrInvalidState
	})
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)

	_, err = s.store.Load(ctx, "sess-pg-rollback")
	s.ErrorIs(err, store.ErrNotFound)
	_, err = s.store.Features(ctx, "sess-pg-rollback")
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *PostgresStoreSuite) TestDeleteRemovesEveryRecord() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, models.NewSession("sess-pg-del", s.now)))

	s.Require().NoError(s.store.Delete(ctx, "sess-pg-del"))

	_, err := s.store.Load(ctx, "sess-pg-del")
	s.ErrorIs(err, store.ErrNotFound)
	_, err = s.store.Features(ctx, "sess-pg-del")
	s.ErrorIs(err, store.ErrNotFound)
}

// TestConcurrentSavesAreLastWriteWins verifies racing saves of one session
// never leave the state blob and the session row out of step.
func (s *PostgresStoreSuite) TestConcurrentSavesAreLastWriteWins() {
	ctx := context.Background()
	const writers = 20

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			session := models.NewSession("sess-pg-race", s.now)
			session.UpdatedAt = s.now.Add(time.Duration(idx) * time.Second)
			if idx%2 == 0 {
				session.CurrentStep = models.StageCompany
			}
			_ = s.store.Save(ctx, session)
		}(i)
	}
	wg.Wait()

	state, err := s.store.Load(ctx, "sess-pg-race")
	s.Require().NoError(err)
	var decoded models.Session
	s.Require().NoError(json.Unmarshal(state.Data, &decoded))

	list, err := s.store.List(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(decoded.CurrentStep, list[0].CurrentStep)
}

func (s *PostgresStoreSuite) TestAPILogs() {
	ctx := context.Background()
	for attempt := 1; attempt <= 3; attempt++ {
		s.Require().NoError(s.store.AppendAPILog(ctx, models.APICallLog{
			SessionID:  "sess-pg-log",
			Endpoint:   "/api/entity/create",
			Attempt:    attempt,
			Request:    map[string]any{"email": "a@b.co"},
			StatusCode: 503,
			Error:      "service unavailable",
			CreatedAt:  s.now,
		}))
	}

	logs, err := s.store.APILogs(ctx, "sess-pg-log")
	s.Require().NoError(err)
	s.Require().Len(logs, 3)
	s.Equal(3, logs[2].Attempt)
	s.Equal("a@b.co", logs[0].Request["email"])
}
