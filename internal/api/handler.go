// Package api provides the authoring and session review HTTP handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/cuepoint/internal/domain"
	"github.com/ashureev/cuepoint/internal/store"
	"github.com/go-chi/chi/v5"
)

// maxBodyBytes caps project and session import documents.
const maxBodyBytes = 8 << 20

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Fail maps a domain error to its HTTP status and writes it.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "error", err, "method", r.Method, "path", r.URL.Path)
		Error(w, status, "internal error")
		return
	}
	Error(w, status, err.Error())
}

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNoActiveInteraction):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON request body into v.
func decode(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if domain.IsValidation(err) {
			return err
		}
		return &domain.ValidationError{Reason: "malformed JSON: " + err.Error()}
	}
	return nil
}

// body returns the size-limited request body.
func body(r *http.Request) io.Reader {
	return http.MaxBytesReader(nil, r.Body, maxBodyBytes)
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
