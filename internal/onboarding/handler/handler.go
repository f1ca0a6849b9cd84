// Package handler exposes the onboarding workflow over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"onboarding/internal/onboarding/models"
	"onboarding/internal/onboarding/service"
	dErrors "onboarding/pkg/domain-errors"
	"onboarding/pkg/platform/httputil"
	"onboarding/pkg/requestcontext"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Service is the workflow the handler drives.
type Service interface {
	ProcessMessage(ctx context.Context, req service.Request) (*service.Response, error)
	Status(ctx context.Context, sessionID string) (*models.Session, error)
	Features(ctx context.Context, sessionID string) (*models.EntityFeatures, error)
	Reset(ctx context.Context, sessionID string) error
	List(ctx context.Context, limit int) ([]models.SessionSummary, error)
}

// Handler wires onboarding endpoints to the workflow service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts onboarding endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/onboarding", func(r chi.Router) {
		r.Post("/messages", h.HandleMessage)
		r.Get("/sessions", h.HandleList)
		r.Get("/sessions/{id}", h.HandleStatus)
		r.Get("/sessions/{id}/features", h.HandleFeatures)
		r.Delete("/sessions/{id}", h.HandleReset)
	})
}

// HandleMessage handles POST /onboarding/messages.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := requestcontext.Now(ctx)

	req, ok := httputil.DecodeAndPrepare[MessageRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	resp, err := h.service.ProcessMessage(ctx, service.Request{SessionID: req.SessionID, Message: req.Message})
	if err != nil {
		h.logger.ErrorContext(ctx, "message processing failed",
			"request_id", requestID,
			"client_ip", requestcontext.ClientIP(ctx),
			"session_id", req.SessionID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "message processed",
		"request_id", requestID,
		"session_id", resp.SessionID,
		"status", resp.Status,
		"current_step", resp.CurrentStep,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleStatus handles GET /onboarding/sessions/{id}.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	session, err := h.service.Status(ctx, sessionID)
	if err != nil {
		h.fail(ctx, w, "session status failed", sessionID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSession(session))
}

// HandleFeatures handles GET /onboarding/sessions/{id}/features.
func (h *Handler) HandleFeatures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	features, err := h.service.Features(ctx, sessionID)
	if err != nil {
		h.fail(ctx, w, "entity features lookup failed", sessionID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, features)
}

// HandleReset handles DELETE /onboarding/sessions/{id}.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	if err := h.service.Reset(ctx, sessionID); err != nil {
		h.fail(ctx, w, "session reset failed", sessionID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleList handles GET /onboarding/sessions?limit=N.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	sessions, err := h.service.List(ctx, limit)
	if err != nil {
		h.fail(ctx, w, "session listing failed", "", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse{Sessions: sessions, Count: len(sessions)})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg, sessionID string, err error) {
	level := slog.LevelError
	if httputil.StatusFor(dErrors.CodeOf(err)) < http.StatusInternalServerError {
		level = slog.LevelInfo
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"session_id", sessionID,
		"error", err,
	)
	httputil.WriteError(w, err)
}
