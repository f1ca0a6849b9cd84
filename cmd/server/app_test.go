package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboarding/internal/onboarding/service"
	"onboarding/internal/platform/config"
	"onboarding/internal/platform/logger"
	"onboarding/internal/platform/metrics"
	"onboarding/pkg/platform/middleware/metadata"
	"onboarding/pkg/testutil"
)

func testConfig(registrarURL string) *config.Config {
	return &config.Config{
		Server: config.Server{Addr: ":0", ShutdownTimeout: time.Second},
		Registrar: config.RegistrarConfig{
			BaseURL:     registrarURL,
			Timeout:     time.Second,
			MaxAttempts: 1,
			BaseDelay:   time.Millisecond,
		},
		Workflow: config.WorkflowConfig{
			MaxSteps:       50,
			CacheTTL:       time.Hour,
			BreakerFailure: 5,
			BreakerCool:    time.Minute,
		},
	}
}

func TestAppInMemoryWorkflow(t *testing.T) {
	registrarSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/entity/create", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entity_id":"ENT-42"}`))
	}))
	defer registrarSrv.Close()

	reg := prometheus.NewRegistry()
	a, err := newApp(context.Background(), testConfig(registrarSrv.URL), logger.Discard(), metrics.NewWithRegisterer(reg), reg)
	require.NoError(t, err)
	defer a.close()
	assert.Empty(t, a.background, "no redis health checker without REDIS_URL")

	testutil.Given(t, "a new session", func(t *testing.T) {
		testutil.When(t, "the user sends every detail at once", func(t *testing.T) {
			req := testutil.NewJSONRequest(t, http.MethodPost, "/onboarding/messages", map[string]string{
				"session_id": "sess-app",
				"message": "name: Jane Doe, email: jane@example.com, phone: 9876543210, " +
					"company_name: Acme Corp, registration_number: REG-1234, address: 1 Main Street; " +
					"pan: ABCDE1234F, aadhaar: 1234 5678 9012, " +
					"account_holder_name: Jane Doe, account_number: 1234567890, ifsc: HDFC0001234, bank_name: HDFC Bank",
			})
			rec := testutil.DoRequest(a.router, req)

			testutil.Then(t, "onboarding completes with the registrar's entity id", func(t *testing.T) {
				require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
				resp := testutil.UnmarshalResponse[service.Response](t, rec)
				assert.Equal(t, service.StatusCompleted, resp.Status)
				assert.Equal(t, "ENT-42", resp.EntityID)
				assert.NotEmpty(t, rec.Header().Get(metadata.RequestIDHeader))
			})
		})

		testutil.When(t, "its features are requested", func(t *testing.T) {
			rec := testutil.DoRequest(a.router, testutil.NewRequest(t, http.MethodGet, "/onboarding/sessions/sess-app/features"))

			testutil.Then(t, "they report the completed onboarding", func(t *testing.T) {
				require.Equal(t, http.StatusOK, rec.Code)
				assert.Contains(t, rec.Body.String(), `"onboarding_completed":true`)
			})
		})
	})

	rec := testutil.DoRequest(a.router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = testutil.DoRequest(a.router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "onboarding_stage_outcomes_total"))
}
