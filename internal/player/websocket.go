package player

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/ashureev/cuepoint/internal/catalog"
	"github.com/ashureev/cuepoint/internal/domain"
	"github.com/ashureev/cuepoint/internal/playback"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// Sessions loads ledger sessions and records attempts. *ledger.Ledger
// implements it.
type Sessions interface {
	playback.Recorder
	Session(ctx context.Context, sessionID string) (*domain.Session, error)
}

// Projects loads projects. store.Repository implements it.
type Projects interface {
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)
}

// Options tunes the playback handler.
type Options struct {
	PollInterval  time.Duration
	RearmOnSeek   bool
	AllowedOrigin string
	IsDev         bool
}

// WebSocketHandler serves GET /ws/sessions/{id}/play.
type WebSocketHandler struct {
	sessions Sessions
	projects Projects
	sm       *SessionManager
	opts     Options
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(sessions Sessions, projects Projects, sm *SessionManager, opts Options) *WebSocketHandler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = playback.DefaultPollInterval
	}
	return &WebSocketHandler{sessions: sessions, projects: projects, sm: sm, opts: opts}
}

// RegisterRoutes mounts the playback endpoint.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/sessions/{id}/play", h.ServeHTTP)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	sess, err := h.sessions.Session(r.Context(), sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Failed to load session", "error", err, "session_id", sessionID)
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}
	project, err := h.projects.GetProject(r.Context(), sess.ProjectID)
	if err != nil {
		slog.Error("Failed to load project", "error", err, "project_id", sess.ProjectID)
		http.Error(w, "failed to load project", http.StatusInternalServerError)
		return
	}
	if project == nil {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}
	cat, err := catalog.FromProject(project)
	if err != nil {
		slog.Error("Stored project has an invalid catalog", "error", err, "project_id", project.ID)
		http.Error(w, "invalid project", http.StatusUnprocessableEntity)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	remote := NewRemote(ws)
	shown, from := resumePoint(sess, cat)
	engineOpts := []playback.Option{playback.WithShown(shown...)}
	if h.opts.RearmOnSeek {
		engineOpts = append(engineOpts, playback.WithRearmOnSeek())
	}
	engine := playback.NewEngine(sess.ID, cat, remote, remote, h.sessions, engineOpts...)

	h.sm.Register(sess.ID, engine, ws)
	defer h.sm.Unregister(sess.ID, ws)
	defer engine.Close(context.Background())

	if err := engine.Start(ctx, from); err != nil {
		slog.Error("Failed to start playback", "error", err, "session_id", sess.ID)
		return
	}
	h.sendStatus(ctx, remote, engine, 0)

	polled := r.URL.Query().Get("clock") == "poll" ||
		(project.Video != nil && project.Video.Type == domain.VideoYouTube && r.URL.Query().Get("clock") != "push")
	if polled {
		go playback.Poll(ctx, remote, engine, h.opts.PollInterval)
	}

	h.inputLoop(ctx, ws, remote, engine, polled)
	slog.Info("Playback session ended", "session_id", sess.ID)
}

// resumePoint returns the interactions resolved in earlier connections
// (answered correctly or skipped) and the position to continue from: the
// latest resolved trigger, but never past an interaction that was only
// answered wrong, since that one is still open.
func resumePoint(sess *domain.Session, cat *catalog.Catalog) ([]string, float64) {
	var ids []string
	from := 0.0
	open := math.Inf(1)
	for _, a := range sess.Attempts {
		in, ok := cat.Get(a.InteractionID)
		if !ok {
			continue
		}
		if !a.Correct && !a.Skipped {
			open = math.Min(open, in.At)
			continue
		}
		ids = append(ids, in.ID)
		from = math.Max(from, in.At)
	}
	return ids, math.Min(from, open)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	if origin == h.opts.AllowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}

//nolint:gocognit // Message dispatch must coordinate websocket, clock, and engine state.
func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, remote *Remote, engine *playback.Engine, polled bool) {
	sessionID := engine.SessionID()
	slog.Debug("Starting input loop", "session_id", sessionID)
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg inMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.sendError(ctx, remote, "malformed message")
			continue
		}

		switch msg.Type {
		case "time":
			remote.observe(msg.Position)
			if polled {
				continue
			}
			if _, err := engine.Sample(ctx, msg.Position); err != nil {
				h.sendError(ctx, remote, err.Error())
			}
		case "submit":
			if msg.Response != nil {
				remote.capture(*msg.Response)
			}
			_, err := engine.Submit(ctx)
			switch {
			case err == nil, errors.Is(err, domain.ErrIncompleteResponse):
				// feedback already sent by the engine
			case errors.Is(err, domain.ErrPersistence):
				slog.Error("Attempt not saved", "error", err, "session_id", sessionID)
				h.sendError(ctx, remote, "could not save your answer, please submit again")
			default:
				h.sendError(ctx, remote, err.Error())
			}
		case "skip":
			if err := engine.Skip(ctx); err != nil {
				h.sendError(ctx, remote, err.Error())
			}
		case "hint":
			text, err := engine.Hint()
			if err != nil {
				h.sendError(ctx, remote, err.Error())
				continue
			}
			if text == "" {
				text = "No hint provided."
			}
			if err := remote.send(ctx, outMessage{Type: "hint", Text: text}); err != nil {
				slog.Debug("Failed to send hint", "error", err)
			}
		case "revisit":
			n, _, err := engine.Revisit(ctx)
			if err != nil {
				h.sendError(ctx, remote, err.Error())
				continue
			}
			h.sendStatus(ctx, remote, engine, n)
		case "status":
			h.sendStatus(ctx, remote, engine, 0)
		case "ping":
			if err := remote.send(ctx, outMessage{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		default:
			h.sendError(ctx, remote, "unknown message type "+msg.Type)
		}
	}
}

func (h *WebSocketHandler) sendStatus(ctx context.Context, remote *Remote, engine *playback.Engine, queued int) {
	msg := outMessage{Type: "status", State: engine.State().String(), Queued: queued}
	if err := remote.send(ctx, msg); err != nil {
		slog.Debug("Failed to send status", "error", err)
	}
}

func (h *WebSocketHandler) sendError(ctx context.Context, remote *Remote, text string) {
	if err := remote.send(ctx, outMessage{Type: "error", Error: text}); err != nil {
		slog.Debug("Failed to send error", "error", err)
	}
}
