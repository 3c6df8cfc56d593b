// Package http exposes the engine's ops surface: event publication, the
// user collection, queue status and recent results.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/webitel/automation-engine/internal/domain/model"
	"github.com/webitel/automation-engine/internal/service"
	"github.com/webitel/automation-engine/internal/usercache"
)

type Handler struct {
	engine *service.Engine
	logger *slog.Logger
}

func NewHandler(engine *service.Engine, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", h.publishEvent)
		r.Get("/users", h.listUsers)
		r.Post("/users", h.addUsers)
		r.Patch("/users/{identifier}", h.updateUser)
		r.Delete("/users/{identifier}", h.deleteUser)
		r.Get("/queue", h.queueStatus)
		r.Get("/results/recent", h.recentResults)
	})
	return r
}

type publishEventRequest struct {
	EventType   string         `json:"event_type"`
	GeneratedAt *time.Time     `json:"generated_at,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

func (h *Handler) publishEvent(w http.ResponseWriter, r *http.Request) {
	var req publishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.EventType == "" {
		writeError(w, http.StatusBadRequest, errors.New("event_type is required"))
		return
	}

	generatedAt := time.Now()
	if req.GeneratedAt != nil {
		generatedAt = *req.GeneratedAt
	}

	ev, err := h.engine.PublishEvent(r.Context(), req.EventType, generatedAt, req.Details)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ev == nil {
		// No handlers bound: accepted but dropped.
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "dropped"})
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *Handler) listUsers(w http.ResponseWriter, _ *http.Request) {
	users, err := h.engine.Users().GetAllUsers()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) addUsers(w http.ResponseWriter, r *http.Request) {
	var list []model.User
	if err := json.NewDecoder(r.Body).Decode(&list); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	added, err := h.engine.Users().AddUsers(r.Context(), list)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")

	var partial map[string]any
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	updated, err := h.engine.Users().UpdateUserByUniqueIdentifier(r.Context(), identifier, partial)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	if err := h.engine.Users().DeleteUserByUniqueIdentifier(r.Context(), identifier); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) queueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.QueueStatus(r.Context()))
}

func (h *Handler) recentResults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Results().Recent())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, usercache.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, usercache.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, usercache.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
