package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/cuepoint/internal/domain"
	"github.com/ashureev/cuepoint/internal/evaluate"
	"github.com/ashureev/cuepoint/internal/playback"
	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

var errNoResponse = errors.New("no response captured for the presented interaction")

// inMessage is a browser-to-server frame.
type inMessage struct {
	Type     string           `json:"type"`
	Position float64          `json:"position,omitempty"`
	Handle   string           `json:"handle,omitempty"`
	Response *domain.Response `json:"response,omitempty"`
}

// outMessage is a server-to-browser frame.
type outMessage struct {
	Type     string           `json:"type"`
	Position *float64         `json:"position,omitempty"`
	Handle   string           `json:"handle,omitempty"`
	View     *domain.View     `json:"view,omitempty"`
	Result   *evaluate.Result `json:"result,omitempty"`
	Text     string           `json:"text,omitempty"`
	State    string           `json:"state,omitempty"`
	Queued   int              `json:"queued,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Remote is the browser end of a playback websocket. It is the engine's
// Clock (the browser owns the media element or embedded player) and its
// Presenter (the browser renders the overlay and captures input).
type Remote struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	pos      float64
	seq      int
	current  playback.Handle
	captured bool
	response domain.Response
}

// NewRemote wraps an accepted websocket connection.
func NewRemote(ws *websocket.Conn) *Remote {
	return &Remote{ws: ws}
}

func (r *Remote) send(ctx context.Context, msg outMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.ws.Write(ctx, websocket.MessageText, data)
}

// observe records a position reported by the browser.
func (r *Remote) observe(t float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = t
}

// capture stores the learner's response for the presented interaction.
func (r *Remote) capture(resp domain.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.response = resp
	r.captured = true
}

// Pause asks the browser to pause playback.
func (r *Remote) Pause(ctx context.Context) error {
	return r.send(ctx, outMessage{Type: "pause"})
}

// Resume asks the browser to resume playback.
func (r *Remote) Resume(ctx context.Context) error {
	return r.send(ctx, outMessage{Type: "resume"})
}

// Seek moves the browser's playback position.
func (r *Remote) Seek(ctx context.Context, t float64) error {
	r.observe(t)
	return r.send(ctx, outMessage{Type: "seek", Position: &t})
}

// CurrentTime returns the last position the browser reported.
func (r *Remote) CurrentTime() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

// Present sends the answer-free view to the browser.
func (r *Remote) Present(ctx context.Context, view domain.View) (playback.Handle, error) {
	r.mu.Lock()
	r.seq++
	h := playback.Handle(fmt.Sprintf("%s#%d", view.ID, r.seq))
	r.current = h
	r.captured = false
	r.response = domain.Response{}
	r.mu.Unlock()

	if err := r.send(ctx, outMessage{Type: "present", Handle: string(h), View: &view}); err != nil {
		return "", err
	}
	return h, nil
}

// ReadResponse returns the response captured from the last submit frame.
func (r *Remote) ReadResponse(_ context.Context, h playback.Handle) (domain.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h != r.current || !r.captured {
		return domain.Response{}, errNoResponse
	}
	return r.response, nil
}

// Feedback sends an evaluation verdict.
func (r *Remote) Feedback(ctx context.Context, h playback.Handle, result evaluate.Result) error {
	return r.send(ctx, outMessage{Type: "feedback", Handle: string(h), Result: &result})
}

// Dismiss tells the browser to close the overlay.
func (r *Remote) Dismiss(ctx context.Context, h playback.Handle) error {
	r.mu.Lock()
	if r.current == h {
		r.current = ""
		r.captured = false
	}
	r.mu.Unlock()
	return r.send(ctx, outMessage{Type: "close", Handle: string(h)})
}
