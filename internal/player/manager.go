// Package player serves live playback sessions over websocket.
package player

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/cuepoint/internal/playback"
	"github.com/coder/websocket"
)

type live struct {
	engine *playback.Engine
	conn   *websocket.Conn
}

// SessionManager tracks the one live connection per ledger session.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]live
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]live),
	}
}

// GetActive returns the live engine for a session, or nil.
func (m *SessionManager) GetActive(sessionID string) *playback.Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[sessionID].engine
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Register makes conn the live connection for sessionID. A previous
// connection for the same session is closed.
func (m *SessionManager) Register(sessionID string, engine *playback.Engine, conn *websocket.Conn) {
	m.mu.Lock()
	existing, replaced := m.active[sessionID]
	replaced = replaced && existing.conn != conn
	m.active[sessionID] = live{engine: engine, conn: conn}
	m.mu.Unlock()

	slog.Info("Playback session registered", "session_id", sessionID, "replaced", replaced)
	if replaced {
		existing.engine.Close(context.Background())
		_ = existing.conn.Close(websocket.StatusNormalClosure, "session replaced")
	}
}

// Unregister removes conn if it is still the live connection for sessionID.
func (m *SessionManager) Unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[sessionID]; ok && current.conn == conn {
		delete(m.active, sessionID)
		slog.Info("Playback session unregistered", "session_id", sessionID)
	}
}

// CloseSession abandons and disconnects the live connection for sessionID.
func (m *SessionManager) CloseSession(sessionID string) {
	m.mu.Lock()
	l, ok := m.active[sessionID]
	delete(m.active, sessionID)
	m.mu.Unlock()

	if !ok {
		return
	}
	l.engine.Close(context.Background())
	_ = l.conn.Close(websocket.StatusNormalClosure, "session closed")
	slog.Info("Playback session closed", "session_id", sessionID)
}

// idle returns the sessions whose engines have been inactive longer than ttl.
func (m *SessionManager) idle(now time.Time, ttl time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, l := range m.active {
		if now.Sub(l.engine.LastActive()) > ttl {
			ids = append(ids, id)
		}
	}
	return ids
}
