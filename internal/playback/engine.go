package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/cuepoint/internal/catalog"
	"github.com/ashureev/cuepoint/internal/domain"
	"github.com/ashureev/cuepoint/internal/evaluate"
	"github.com/ashureev/cuepoint/internal/schedule"
)

// Engine orchestrates one session. All methods are safe for concurrent use;
// calls are serialized so a poller and a message loop can share an engine.
type Engine struct {
	mu sync.Mutex

	sessionID string
	sched     *schedule.Scheduler
	clock     Clock
	presenter Presenter
	recorder  Recorder
	now       func() time.Time
	logger    *slog.Logger

	handle     Handle
	shownAt    time.Time
	lastActive time.Time
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	sched  []schedule.Option
	shown  []string
	now    func() time.Time
	logger *slog.Logger
}

// WithRearmOnSeek enables seek re-arming in the session scheduler.
func WithRearmOnSeek() Option {
	return func(o *engineOptions) { o.sched = append(o.sched, schedule.WithRearmOnSeek()) }
}

// WithShown marks interactions already surfaced in an earlier connection to
// the same session.
func WithShown(ids ...string) Option {
	return func(o *engineOptions) { o.shown = append(o.shown, ids...) }
}

// WithNow overrides the wall clock used for time-spent accounting.
func WithNow(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// NewEngine returns an idle engine for sessionID over cat.
func NewEngine(sessionID string, cat *catalog.Catalog, clock Clock, presenter Presenter, recorder Recorder, opts ...Option) *Engine {
	o := engineOptions{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	sched := schedule.New(cat, o.sched...)
	sched.MarkShown(o.shown...)

	return &Engine{
		sessionID:  sessionID,
		sched:      sched,
		clock:      clock,
		presenter:  presenter,
		recorder:   recorder,
		now:        o.now,
		logger:     o.logger.With("session_id", sessionID),
		lastActive: o.now(),
	}
}

// SessionID returns the ledger session this engine records into.
func (e *Engine) SessionID() string { return e.sessionID }

// State returns the scheduler state.
func (e *Engine) State() schedule.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched.State()
}

// LastActive returns when the engine last received a call.
func (e *Engine) LastActive() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastActive
}

// Start begins playback. A positive from seeks the clock there first, which
// is how a resumed session continues where it stopped.
func (e *Engine) Start(ctx context.Context, from float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastActive = e.now()

	if err := e.sched.Start(); err != nil {
		return err
	}
	if from > 0 {
		if err := e.clock.Seek(ctx, from); err != nil {
			e.logger.Warn("seek on start failed", "position", from, "error", err)
		}
	}
	if err := e.clock.Resume(ctx); err != nil {
		e.logger.Warn("resume on start failed", "error", err)
	}
	e.logger.Info("playback started", "position", from)
	return nil
}

// Sample feeds one playback position. When an interaction becomes due the
// clock is paused, the interaction presented and returned.
func (e *Engine) Sample(ctx context.Context, t float64) (*domain.Interaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastActive = e.now()
	return e.sampleLocked(ctx, t)
}

func (e *Engine) sampleLocked(ctx context.Context, t float64) (*domain.Interaction, error) {
	in := e.sched.OnPositionSample(t)
	if in == nil {
		return nil, nil
	}
	revisit := e.sched.PendingIsRevisit()

	if err := e.clock.Pause(ctx); err != nil {
		e.logger.Warn("pause failed", "interaction_id", in.ID, "error", err)
	}

	view := in.View()
	view.Revisited = revisit
	h, err := e.presenter.Present(ctx, view)
	if err != nil {
		// The interaction stays shown, so record it as skipped to keep it
		// reachable through Revisit, then keep playing.
		delta := domain.Delta{Skipped: true, ShownAt: e.now()}
		if _, recErr := e.recorder.RecordAttempt(ctx, e.sessionID, in.ID, delta); recErr != nil {
			e.logger.Error("record failed presentation", "interaction_id", in.ID, "error", recErr)
		}
		_ = e.sched.Skip()
		e.resumeLocked(ctx)
		return nil, fmt.Errorf("present %s: %w", in.ID, err)
	}
	e.handle = h
	e.shownAt = e.now()
	e.logger.Debug("interaction presented", "interaction_id", in.ID, "position", t, "revisit", revisit)
	return in, nil
}

func (e *Engine) resumeLocked(ctx context.Context) {
	if err := e.clock.Resume(ctx); err != nil {
		e.logger.Warn("resume failed", "error", err)
	}
}

// Submit reads the learner's response for the presented interaction and
// evaluates it. An incomplete response returns domain.ErrIncompleteResponse
// and records nothing. An incorrect response records one attempt and keeps
// the interaction presented. A correct response records the answer and the
// time spent, dismisses the interaction and resumes the clock.
func (e *Engine) Submit(ctx context.Context) (evaluate.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastActive = e.now()

	in := e.sched.Pending()
	if in == nil || e.sched.State() != schedule.StatePresenting {
		return evaluate.Result{}, domain.ErrNoActiveInteraction
	}
	resp, err := e.presenter.ReadResponse(ctx, e.handle)
	if err != nil {
		return evaluate.Result{}, fmt.Errorf("read response: %w", err)
	}
	if err := e.sched.BeginEvaluation(); err != nil {
		return evaluate.Result{}, err
	}

	res, err := evaluate.Evaluate(in.Payload, resp)
	if err != nil {
		_ = e.sched.Retry()
		if errors.Is(err, domain.ErrIncompleteResponse) {
			e.feedbackLocked(ctx, res)
		}
		return res, err
	}

	at := e.now()
	delta := domain.Delta{ShownAt: e.shownAt}
	if res.Correct {
		delta.Answered = true
		delta.Correct = true
		delta.TimeSpent = at.Sub(e.shownAt)
	} else {
		delta.Attempts = 1
	}
	if _, err := e.recorder.RecordAttempt(ctx, e.sessionID, in.ID, delta); err != nil {
		_ = e.sched.Retry()
		return res, err
	}

	e.feedbackLocked(ctx, res)
	if !res.Correct {
		return res, e.sched.Retry()
	}

	e.dismissLocked(ctx)
	if err := e.sched.Complete(); err != nil {
		return res, err
	}
	e.resumeLocked(ctx)
	e.logger.Info("interaction answered", "interaction_id", in.ID)
	return res, nil
}

// Skip closes the presented interaction without an answer, records it as
// skipped and resumes the clock.
func (e *Engine) Skip(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastActive = e.now()

	in := e.sched.Pending()
	if in == nil || e.sched.State() != schedule.StatePresenting {
		return domain.ErrNoActiveInteraction
	}
	delta := domain.Delta{
		Skipped:   true,
		TimeSpent: e.now().Sub(e.shownAt),
		ShownAt:   e.shownAt,
	}
	if _, err := e.recorder.RecordAttempt(ctx, e.sessionID, in.ID, delta); err != nil {
		return err
	}

	e.dismissLocked(ctx)
	if err := e.sched.Skip(); err != nil {
		return err
	}
	e.resumeLocked(ctx)
	e.logger.Info("interaction skipped", "interaction_id", in.ID)
	return nil
}

// Hint returns the hint of the presented interaction. The text may be empty.
func (e *Engine) Hint() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastActive = e.now()

	in := e.sched.Pending()
	if in == nil {
		return "", domain.ErrNoActiveInteraction
	}
	return in.Hint, nil
}

// Revisit queues every interaction this session skipped without answering
// correctly and, when nothing is presented, surfaces the first of them at
// once. It returns the number of interactions queued.
func (e *Engine) Revisit(ctx context.Context) (int, *domain.Interaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastActive = e.now()

	if e.sched.State() == schedule.StateIdle {
		return 0, nil, fmt.Errorf("revisit: %w", domain.ErrInvalidTransition)
	}
	ids, err := e.recorder.Skipped(ctx, e.sessionID)
	if err != nil {
		return 0, nil, fmt.Errorf("load skipped: %w", err)
	}
	n := e.sched.Revisit(ids)
	if n == 0 || e.sched.Pending() != nil {
		return n, nil, nil
	}
	in, err := e.sampleLocked(ctx, e.clock.CurrentTime())
	return n, in, err
}

// Close abandons the session. Any presented interaction is dismissed without
// a record; attempts already recorded are untouched.
func (e *Engine) Close(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sched.Pending() != nil {
		e.dismissLocked(ctx)
	}
	e.sched.Abandon()
	e.handle = ""
	e.logger.Info("playback closed")
}

func (e *Engine) feedbackLocked(ctx context.Context, res evaluate.Result) {
	if err := e.presenter.Feedback(ctx, e.handle, res); err != nil {
		e.logger.Warn("feedback failed", "error", err)
	}
}

func (e *Engine) dismissLocked(ctx context.Context) {
	if err := e.presenter.Dismiss(ctx, e.handle); err != nil {
		e.logger.Warn("dismiss failed", "error", err)
	}
	e.handle = ""
}
