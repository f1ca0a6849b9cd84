package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"onboarding/internal/onboarding/models"
	"onboarding/internal/platform/metrics"
	txcontext "onboarding/pkg/platform/tx"
)

// PostgresStore persists sessions, their state blob and derived entity
// features in PostgreSQL. A save touches all three tables in one transaction.
type PostgresStore struct {
	db      *sql.DB
	metrics *metrics.Metrics
}

// NewPostgres constructs a PostgreSQL-backed session store.
func NewPostgres(db *sql.DB, m *metrics.Metrics) *PostgresStore {
	return &PostgresStore{db: db, metrics: m}
}

func (s *PostgresStore) Save(ctx context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("session is required")
	}
	defer s.metrics.ObserveStore("save", time.Now())

	blob, err := encodeSession(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	features := models.FeaturesOf(session)

	return txcontext.RunInTx(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.Executor(ctx, s.db)

		_, err := exec.ExecContext(ctx, `
			INSERT INTO sessions (session_id, status, current_step, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (session_id) DO UPDATE SET
				status = EXCLUDED.status,
				current_step = EXCLUDED.current_step,
				updated_at = EXCLUDED.updated_at
		`, session.ID, string(session.Status), string(session.CurrentStep), session.CreatedAt, session.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}

		_, err = exec.ExecContext(ctx, `
			INSERT INTO onboarding_state (session_id, schema_version, state_data, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (session_id) DO UPDATE SET
				schema_version = EXCLUDED.schema_version,
				state_data = EXCLUDED.state_data,
				updated_at = EXCLUDED.updated_at
		`, session.ID, session.SchemaVersion, []byte(blob), session.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert onboarding state: %w", err)
		}

		if err := upsertFeatures(ctx, exec, features); err != nil {
			return fmt.Errorf("upsert entity features: %w", err)
		}
		return nil
	})
}

func upsertFeatures(ctx context.Context, exec txcontext.Execer, f *models.EntityFeatures) error {
	signup, err := nullableJSON(f.Signup.Data)
	if err != nil {
		return err
	}
	company, err := nullableJSON(f.Company.Data)
	if err != nil {
		return err
	}
	kyc, err := nullableJSON(f.KYC.Data)
	if err != nil {
		return err
	}
	bank, err := nullableJSON(f.Bank.Data)
	if err != nil {
		return err
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO entity_features (
			session_id, entity_id, user_email, user_phone, organization_name,
			signup_completed, signup_completed_at, signup_data,
			company_completed, company_completed_at, company_data,
			kyc_completed, kyc_completed_at, kyc_data,
			bank_completed, bank_completed_at, bank_data,
			onboarding_completed, onboarding_completed_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (session_id) DO UPDATE SET
			entity_id = EXCLUDED.entity_id,
			user_email = EXCLUDED.user_email,
			user_phone = EXCLUDED.user_phone,
			organization_name = EXCLUDED.organization_name,
			signup_completed = EXCLUDED.signup_completed,
			signup_completed_at = EXCLUDED.signup_completed_at,
			signup_data = EXCLUDED.signup_data,
			company_completed = EXCLUDED.company_completed,
			company_completed_at = EXCLUDED.company_completed_at,
			company_data = EXCLUDED.company_data,
			kyc_completed = EXCLUDED.kyc_completed,
			kyc_completed_at = EXCLUDED.kyc_completed_at,
			kyc_data = EXCLUDED.kyc_data,
			bank_completed = EXCLUDED.bank_completed,
			bank_completed_at = EXCLUDED.bank_completed_at,
			bank_data = EXCLUDED.bank_data,
			onboarding_completed = EXCLUDED.onboarding_completed,
			onboarding_completed_at = EXCLUDED.onboarding_completed_at,
			updated_at = EXCLUDED.updated_at
	`,
		f.SessionID, nullString(f.EntityID), nullString(f.UserEmail), nullString(f.UserPhone), nullString(f.OrganizationName),
		f.Signup.Completed, f.Signup.CompletedAt, signup,
		f.Company.Completed, f.Company.CompletedAt, company,
		f.KYC.Completed, f.KYC.CompletedAt, kyc,
		f.Bank.Completed, f.Bank.CompletedAt, bank,
		f.OnboardingCompleted, f.OnboardingCompletedAt, f.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) Load(ctx context.Context, sessionID string) (*StoredState, error) {
	defer s.metrics.ObserveStore("load", time.Now())

	var (
		state StoredState
		data  []byte
	)
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx, `
		SELECT session_id, schema_version, state_data, updated_at
		FROM onboarding_state
		WHERE session_id = $1
	`, sessionID).Scan(&state.SessionID, &state.SchemaVersion, &data, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load onboarding state: %w", err)
	}
	state.Data = json.RawMessage(data)
	return &state, nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	defer s.metrics.ObserveStore("delete", time.Now())

	return txcontext.RunInTx(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.Executor(ctx, s.db)
		for _, query := range []string{
			`DELETE FROM entity_features WHERE session_id = $1`,
			`DELETE FROM onboarding_state WHERE session_id = $1`,
			`DELETE FROM sessions WHERE session_id = $1`,
		} {
			if _, err := exec.ExecContext(ctx, query, sessionID); err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, `
		SELECT session_id, status, current_step, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.SessionSummary
	for rows.Next() {
		var (
			summary models.SessionSummary
			status  string
			step    string
		)
		if err := rows.Scan(&summary.ID, &status, &step, &summary.CreatedAt, &summary.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		summary.Status = models.Status(status)
		summary.CurrentStep = models.Stage(step)
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Features(ctx context.Context, sessionID string) (*models.EntityFeatures, error) {
	var (
		f                          models.EntityFeatures
		entityID, email, phone     sql.NullString
		org                        sql.NullString
		signup, company, kyc, bank []byte
	)
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx, `
		SELECT session_id, entity_id, user_email, user_phone, organization_name,
			signup_completed, signup_completed_at, signup_data,
			company_completed, company_completed_at, company_data,
			kyc_completed, kyc_completed_at, kyc_data,
			bank_completed, bank_completed_at, bank_data,
			onboarding_completed, onboarding_completed_at, updated_at
		FROM entity_features
		WHERE session_id = $1
	`, sessionID).Scan(
		&f.SessionID, &entityID, &email, &phone, &org,
		&f.Signup.Completed, &f.Signup.CompletedAt, &signup,
		&f.Company.Completed, &f.Company.CompletedAt, &company,
		&f.KYC.Completed, &f.KYC.CompletedAt, &kyc,
		&f.Bank.Completed, &f.Bank.CompletedAt, &bank,
		&f.OnboardingCompleted, &f.OnboardingCompletedAt, &f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load entity features: %w", err)
	}
	f.EntityID, f.UserEmail, f.UserPhone, f.OrganizationName = entityID.String, email.String, phone.String, org.String
	for _, pair := range []struct {
		raw []byte
		dst *map[string]any
	}{
		{signup, &f.Signup.Data},
		{company, &f.Company.Data},
		{kyc, &f.KYC.Data},
		{bank, &f.Bank.Data},
	} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return nil, fmt.Errorf("decode feature data: %w", err)
		}
	}
	return &f, nil
}

func (s *PostgresStore) AppendAPILog(ctx context.Context, entry models.APICallLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	request, err := nullableJSON(entry.Request)
	if err != nil {
		return err
	}
	response, err := nullableJSON(entry.Response)
	if err != nil {
		return err
	}
	_, err = txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO api_logs (id, session_id, api_endpoint, attempt, request_data, response_data, status_code, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.SessionID, entry.Endpoint, entry.Attempt, request, response, entry.StatusCode, nullString(entry.Error), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append api log: %w", err)
	}
	return nil
}

func (s *PostgresStore) APILogs(ctx context.Context, sessionID string) ([]models.APICallLog, error) {
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, `
		SELECT id, session_id, api_endpoint, attempt, request_data, response_data, status_code, error, created_at
		FROM api_logs
		WHERE session_id = $1
		ORDER BY created_at, attempt
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list api logs: %w", err)
	}
	defer rows.Close()

	var out []models.APICallLog
	for rows.Next() {
		var (
			entry             models.APICallLog
			request, response []byte
			errText           sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.Endpoint, &entry.Attempt, &request, &response, &entry.StatusCode, &errText, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api log: %w", err)
		}
		entry.Error = errText.String
		if len(request) > 0 {
			_ = json.Unmarshal(request, &entry.Request)
		}
		if len(response) > 0 {
			_ = json.Unmarshal(response, &entry.Response)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullableJSON(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return b, nil
}
