package player

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/cuepoint/internal/catalog"
	"github.com/ashureev/cuepoint/internal/domain"
	"github.com/ashureev/cuepoint/internal/ledger"
	"github.com/ashureev/cuepoint/internal/playback"
	"github.com/ashureev/cuepoint/internal/store"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

type fixture struct {
	ledger  *ledger.Ledger
	sm      *SessionManager
	server  *httptest.Server
	session *domain.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "player.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	project := &domain.Project{
		ID:    "p1",
		Name:  "Cells",
		Video: &domain.Video{Type: domain.VideoLocal, Name: "cells.mp4"},
		Interactions: []domain.Interaction{
			{ID: "q1", At: 10, Payload: domain.SingleChoice{Question: "pick", Options: []string{"A", "B"}, CorrectIndex: 1}},
			{ID: "q2", At: 20, Hint: "yes", Payload: domain.TrueFalse{Statement: "s", Answer: true}},
		},
	}
	ctx := context.Background()
	if err := repo.UpsertProject(ctx, project); err != nil {
		t.Fatalf("UpsertProject: %v", err)
	}
	led := ledger.New(repo)
	sess, err := led.StartSession(ctx, project, "Ada")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	sm := NewSessionManager()
	r := chi.NewRouter()
	NewWebSocketHandler(led, repo, sm, Options{IsDev: true}).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &fixture{ledger: led, sm: sm, server: srv, session: sess}
}

func (f *fixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/sessions/" + f.session.ID + "/play" + query
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func expect(t *testing.T, conn *websocket.Conn, typ string) outMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var msg outMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("waiting for %q: %v", typ, err)
	}
	if msg.Type != typ {
		t.Fatalf("got %q message %+v, want %q", msg.Type, msg, typ)
	}
	return msg
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestPlaybackOverWebSocket(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "")

	expect(t, conn, "resume")
	if st := expect(t, conn, "status"); st.State != "waiting" {
		t.Fatalf("initial state %q", st.State)
	}

	send(t, conn, map[string]any{"type": "time", "position": 5})
	send(t, conn, map[string]any{"type": "time", "position": 10.2})
	expect(t, conn, "pause")
	present := expect(t, conn, "present")
	if present.View == nil || present.View.ID != "q1" || len(present.View.Options) != 2 {
		t.Fatalf("unexpected present frame %+v", present)
	}

	send(t, conn, map[string]any{"type": "submit", "response": map[string]any{"selectedIndex": 0}})
	if fb := expect(t, conn, "feedback"); fb.Result == nil || fb.Result.Correct {
		t.Fatalf("wrong answer feedback %+v", fb)
	}

	send(t, conn, map[string]any{"type": "submit", "response": map[string]any{"selectedIndex": 1}})
	if fb := expect(t, conn, "feedback"); fb.Result == nil || !fb.Result.Correct {
		t.Fatalf("right answer feedback %+v", fb)
	}
	expect(t, conn, "close")
	expect(t, conn, "resume")

	send(t, conn, map[string]any{"type": "hint"})
	expect(t, conn, "error")

	send(t, conn, map[string]any{"type": "time", "position": 21})
	expect(t, conn, "pause")
	expect(t, conn, "present")
	send(t, conn, map[string]any{"type": "hint"})
	if hint := expect(t, conn, "hint"); hint.Text != "yes" {
		t.Fatalf("hint = %q", hint.Text)
	}
	send(t, conn, map[string]any{"type": "skip"})
	expect(t, conn, "close")
	expect(t, conn, "resume")

	send(t, conn, map[string]any{"type": "ping"})
	expect(t, conn, "pong")

	sess, err := f.ledger.Session(context.Background(), f.session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sess.Attempts) != 2 {
		t.Fatalf("attempts = %+v", sess.Attempts)
	}
	q1, q2 := sess.Attempts[0], sess.Attempts[1]
	if q1.InteractionID != "q1" || q1.Attempts != 1 || !q1.Correct {
		t.Fatalf("q1 = %+v", q1)
	}
	if q2.InteractionID != "q2" || !q2.Skipped || q2.Correct {
		t.Fatalf("q2 = %+v", q2)
	}
}

func TestReconnectResumesSession(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ledger.RecordAttempt(context.Background(), f.session.ID, "q1", domain.Delta{Skipped: true}); err != nil {
		t.Fatal(err)
	}

	conn := f.dial(t, "")
	if seek := expect(t, conn, "seek"); seek.Position == nil || *seek.Position != 10 {
		t.Fatalf("seek frame %+v", seek)
	}
	expect(t, conn, "resume")
	expect(t, conn, "status")

	send(t, conn, map[string]any{"type": "time", "position": 12})
	send(t, conn, map[string]any{"type": "revisit"})
	expect(t, conn, "pause")
	if p := expect(t, conn, "present"); p.View == nil || p.View.ID != "q1" || !p.View.Revisited {
		t.Fatalf("revisit present %+v", p)
	}
	if st := expect(t, conn, "status"); st.Queued != 1 || st.State != "presenting" {
		t.Fatalf("status after revisit %+v", st)
	}
}

func TestReconnectReopensWrongAnswer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// q1 was answered wrong and the connection dropped; q2 was skipped.
	if _, err := f.ledger.RecordAttempt(ctx, f.session.ID, "q1", domain.Delta{Attempts: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.RecordAttempt(ctx, f.session.ID, "q2", domain.Delta{Skipped: true}); err != nil {
		t.Fatal(err)
	}

	conn := f.dial(t, "")
	if seek := expect(t, conn, "seek"); seek.Position == nil || *seek.Position != 10 {
		t.Fatalf("seek frame %+v", seek)
	}
	expect(t, conn, "resume")
	expect(t, conn, "status")

	send(t, conn, map[string]any{"type": "time", "position": 10.5})
	expect(t, conn, "pause")
	if p := expect(t, conn, "present"); p.View == nil || p.View.ID != "q1" || p.View.Revisited {
		t.Fatalf("unresolved interaction not presented again: %+v", p)
	}

	send(t, conn, map[string]any{"type": "submit", "response": map[string]any{"selectedIndex": 1}})
	if fb := expect(t, conn, "feedback"); fb.Result == nil || !fb.Result.Correct {
		t.Fatalf("feedback %+v", fb)
	}
	expect(t, conn, "close")
	expect(t, conn, "resume")

	// q2 stays resolved: passing its trigger presents nothing.
	send(t, conn, map[string]any{"type": "time", "position": 25})
	send(t, conn, map[string]any{"type": "ping"})
	expect(t, conn, "pong")

	sess, err := f.ledger.Session(ctx, f.session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if a := sess.Attempt("q1"); a == nil || a.Attempts != 1 || !a.Correct {
		t.Fatalf("q1 = %+v", a)
	}
}

func TestResumePoint(t *testing.T) {
	cat, err := catalog.New([]domain.Interaction{
		{ID: "a", At: 5, Payload: domain.TrueFalse{}},
		{ID: "b", At: 10, Payload: domain.TrueFalse{}},
		{ID: "c", At: 20, Payload: domain.TrueFalse{}},
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		attempts  []domain.Attempt
		wantShown []string
		wantFrom  float64
	}{
		{"fresh session", nil, nil, 0},
		{"resolved only", []domain.Attempt{{InteractionID: "a", Correct: true}, {InteractionID: "c", Skipped: true}}, []string{"a", "c"}, 20},
		{"wrong answer holds position", []domain.Attempt{{InteractionID: "b", Attempts: 2}, {InteractionID: "c", Correct: true}}, []string{"c"}, 10},
		{"unknown ids ignored", []domain.Attempt{{InteractionID: "gone", Skipped: true}}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shown, from := resumePoint(&domain.Session{Attempts: tt.attempts}, cat)
			if strings.Join(shown, ",") != strings.Join(tt.wantShown, ",") || from != tt.wantFrom {
				t.Fatalf("resumePoint = %v, %v; want %v, %v", shown, from, tt.wantShown, tt.wantFrom)
			}
		})
	}
}

func TestSecondConnectionReplacesFirst(t *testing.T) {
	f := newFixture(t)
	first := f.dial(t, "")
	expect(t, first, "resume")
	expect(t, first, "status")

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for {
			if _, _, err := first.Read(ctx); err != nil {
				return
			}
		}
	}()

	second := f.dial(t, "")
	expect(t, second, "resume")
	expect(t, second, "status")
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("first connection not closed")
	}

	// The replaced handler's unregister must not drop the new connection.
	send(t, second, map[string]any{"type": "ping"})
	expect(t, second, "pong")
	if f.sm.Len() != 1 || f.sm.GetActive(f.session.ID) == nil {
		t.Fatalf("live sessions = %d, want the second connection registered", f.sm.Len())
	}
}

func TestIdleSweeperClosesSessions(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "")
	expect(t, conn, "resume")
	expect(t, conn, "status")

	// Keep reading so the close handshake completes.
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	if n := sweepIdle(f.sm, time.Now().Add(time.Hour), time.Minute); n != 1 {
		t.Fatalf("swept %d sessions, want 1", n)
	}
	if f.sm.Len() != 0 {
		t.Fatalf("%d sessions still live", f.sm.Len())
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("connection not closed by sweeper")
	}
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/sessions/missing/play"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %+v", resp)
	}
}

func TestSessionManager_RegisterUnregister(t *testing.T) {
	cat, err := catalog.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	sm := NewSessionManager()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}
	e1 := playback.NewEngine("s1", cat, nil, nil, nil)
	e2 := playback.NewEngine("s2", cat, nil, nil, nil)

	sm.Register("s1", e1, conn1)
	sm.Register("s2", e2, conn2)
	if sm.GetActive("s1") != e1 || sm.Len() != 2 {
		t.Fatalf("unexpected registry state")
	}

	// A stale unregister for another session leaves the rest alone.
	sm.Unregister("s1", conn2)
	if sm.GetActive("s1") != e1 {
		t.Fatal("stale unregister removed s1")
	}
	sm.Unregister("s1", conn1)
	if sm.GetActive("s1") != nil || sm.GetActive("s2") != e2 {
		t.Fatal("unregister removed the wrong session")
	}
}
