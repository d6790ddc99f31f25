package api

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/cuepoint/internal/domain"
	"github.com/ashureev/cuepoint/internal/ledger"
	"github.com/ashureev/cuepoint/internal/store"
	"github.com/go-chi/chi/v5"
)

// SessionHandler serves learner session creation, review and exchange.
type SessionHandler struct {
	ledger *ledger.Ledger
	repo   store.Repository
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(l *ledger.Ledger, repo store.Repository) *SessionHandler {
	return &SessionHandler{ledger: l, repo: repo}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Start)
		r.Post("/import", h.Import)
		r.Get("/export.json", h.ExportAllJSON)
		r.Get("/export.csv", h.ExportAllCSV)
		r.Get("/{id}", h.Get)
		r.Delete("/{id}", h.Delete)
		r.Get("/{id}/export.json", h.ExportJSON)
		r.Get("/{id}/export.csv", h.ExportCSV)
	})
}

type sessionSummary struct {
	ID          string       `json:"sessionId"`
	ProjectID   string       `json:"projectId"`
	ProjectName string       `json:"projectName"`
	LearnerName string       `json:"studentName"`
	StartedAt   int64        `json:"startedAt"`
	Score       domain.Score `json:"score"`
	ScoreText   string       `json:"scoreText"`
	Skipped     []string     `json:"skipped"`
}

func summarize(s *domain.Session) sessionSummary {
	sc := ledger.Score(s)
	skipped := s.Skipped()
	if skipped == nil {
		skipped = []string{}
	}
	return sessionSummary{
		ID:          s.ID,
		ProjectID:   s.ProjectID,
		ProjectName: s.ProjectName,
		LearnerName: s.LearnerName,
		StartedAt:   s.StartedAt.UnixMilli(),
		Score:       sc,
		ScoreText:   sc.String(),
		Skipped:     skipped,
	}
}

// Start opens a session for a learner on a project.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID   string `json:"projectId"`
		LearnerName string `json:"studentName"`
	}
	if err := decode(r, &req); err != nil {
		Fail(w, r, err)
		return
	}
	p, err := h.repo.GetProject(r.Context(), req.ProjectID)
	if err != nil {
		Fail(w, r, err)
		return
	}
	if p == nil {
		Fail(w, r, fmt.Errorf("project %s: %w", req.ProjectID, domain.ErrNotFound))
		return
	}
	sess, err := h.ledger.StartSession(r.Context(), p, req.LearnerName)
	if err != nil {
		Fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]any{
		"sessionId": sess.ID,
		"playUrl":   "/ws/sessions/" + sess.ID + "/play",
		"session":   sess,
	})
}

// List returns every session with its score.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.ledger.Sessions(r.Context())
	if err != nil {
		Fail(w, r, err)
		return
	}
	out := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, summarize(s))
	}
	JSON(w, http.StatusOK, out)
}

// Get returns one session with attempts and score.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.ledger.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"session": sess,
		"summary": summarize(sess),
	})
}

// Delete removes a session and its attempts.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.ledger.Session(r.Context(), id); err != nil {
		Fail(w, r, err)
		return
	}
	if err := h.ledger.Delete(r.Context(), id); err != nil {
		Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Import stores one session or an array of sessions. The whole document is
// validated before anything is written.
func (h *SessionHandler) Import(w http.ResponseWriter, r *http.Request) {
	n, err := h.ledger.Import(r.Context(), body(r))
	if err != nil {
		Fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]int{"imported": n})
}

// ExportJSON downloads one session as JSON.
func (h *SessionHandler) ExportJSON(w http.ResponseWriter, r *http.Request) {
	sess, err := h.ledger.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := ledger.WriteSessionJSON(&buf, sess); err != nil {
		Fail(w, r, err)
		return
	}
	download(w, "application/json", fmt.Sprintf("%s_%s.json", sess.LearnerName, sess.ID), buf.Bytes())
}

// ExportCSV downloads one session's attempts as CSV.
func (h *SessionHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	sess, err := h.ledger.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Fail(w, r, err)
		return
	}
	rows, err := h.ledger.ExportSession(r.Context(), sess.ID)
	if err != nil {
		Fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := ledger.WriteCSV(&buf, rows, false); err != nil {
		Fail(w, r, err)
		return
	}
	download(w, "text/csv", fmt.Sprintf("%s_%s.csv", sess.LearnerName, sess.ID), buf.Bytes())
}

// ExportAllJSON downloads every session as a JSON array.
func (h *SessionHandler) ExportAllJSON(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.ledger.Sessions(r.Context())
	if err != nil {
		Fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := ledger.WriteSessionsJSON(&buf, sessions); err != nil {
		Fail(w, r, err)
		return
	}
	download(w, "application/json", "all_sessions.json", buf.Bytes())
}

// ExportAllCSV downloads every attempt of every session as CSV.
func (h *SessionHandler) ExportAllCSV(w http.ResponseWriter, r *http.Request) {
	rows, err := h.ledger.ExportAll(r.Context())
	if err != nil {
		Fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := ledger.WriteCSV(&buf, rows, true); err != nil {
		Fail(w, r, err)
		return
	}
	download(w, "text/csv", "all_sessions.csv", buf.Bytes())
}

func download(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Debug("Failed to write download", "error", err, "file", filename)
	}
}
