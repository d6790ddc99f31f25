// Package ledger records per-session learner attempts and produces the
// review and export views built from them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/cuepoint/internal/domain"
	"github.com/ashureev/cuepoint/internal/store"
	"github.com/google/uuid"
)

// Ledger is the durable attempt record. Writes for one session are
// serialized; writes for different sessions proceed independently.
type Ledger struct {
	repo   store.Repository
	locks  sync.Map // session id -> *sync.Mutex
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the wall clock used for session and answer timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) { l.newID = fn }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New returns a ledger backed by repo.
func New(repo store.Repository, opts ...Option) *Ledger {
	l := &Ledger{
		repo:   repo,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) sessionLock(sessionID string) *sync.Mutex {
	mu, _ := l.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// StartSession opens a new, empty session for learnerName on project.
func (l *Ledger) StartSession(ctx context.Context, project *domain.Project, learnerName string) (*domain.Session, error) {
	learnerName = strings.TrimSpace(learnerName)
	if learnerName == "" {
		return nil, &domain.ValidationError{Field: "studentName", Reason: "empty"}
	}
	if project == nil {
		return nil, fmt.Errorf("start session: project: %w", domain.ErrNotFound)
	}

	sess := &domain.Session{
		ID:          l.newID(),
		ProjectID:   project.ID,
		ProjectName: project.Name,
		LearnerName: learnerName,
		StartedAt:   l.now(),
	}
	if err := l.repo.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("start session: %w: %w", domain.ErrPersistence, err)
	}
	l.logger.Info("session started", "session_id", sess.ID, "project_id", project.ID, "learner", learnerName)
	return sess, nil
}

// RecordAttempt upserts delta into the attempt record for interactionID and
// returns the stored record. Attempt counts and time are summed, skipped and
// answered are OR-ed, correct never reverts once true, and the answer
// timestamp is kept from the first answered write. Any storage failure is
// reported as domain.ErrPersistence and leaves the record unchanged.
func (l *Ledger) RecordAttempt(ctx context.Context, sessionID, interactionID string, delta domain.Delta) (*domain.Attempt, error) {
	if delta.Attempts < 0 || delta.TimeSpent < 0 {
		return nil, &domain.ValidationError{Field: "delta", Reason: "negative increment"}
	}

	mu := l.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	attempt, err := l.repo.UpsertAttempt(ctx, sessionID, interactionID, delta, l.now())
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("record attempt: %w", err)
	}
	if err != nil {
		l.logger.Error("attempt not recorded",
			"session_id", sessionID,
			"interaction_id", interactionID,
			"error", err)
		return nil, fmt.Errorf("record attempt %s/%s: %w: %w", sessionID, interactionID, domain.ErrPersistence, err)
	}
	l.logger.Debug("attempt recorded",
		"session_id", sessionID,
		"interaction_id", interactionID,
		"attempts", attempt.Attempts,
		"correct", attempt.Correct,
		"skipped", attempt.Skipped)
	return attempt, nil
}

// Session returns the session with id, or domain.ErrNotFound.
func (l *Ledger) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := l.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return sess, nil
}

// Sessions returns every recorded session, oldest first.
func (l *Ledger) Sessions(ctx context.Context) ([]*domain.Session, error) {
	sessions, err := l.repo.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Skipped returns the interactions of a session that were skipped and never
// answered correctly, in discovery order.
func (l *Ledger) Skipped(ctx context.Context, sessionID string) ([]string, error) {
	sess, err := l.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Skipped(), nil
}

// Score returns "correct/total" for a session, where total counts every
// attempt record.
func Score(sess *domain.Session) domain.Score {
	return sess.Score()
}

// Import decodes one session or an array of sessions from r, validates all of
// them, and only then stores each, replacing any session with the same id.
// It returns the number of sessions stored.
func (l *Ledger) Import(ctx context.Context, r io.Reader) (int, error) {
	sessions, err := domain.DecodeSessions(r)
	if err != nil {
		return 0, err
	}
	for i := range sessions {
		sess := &sessions[i]
		mu := l.sessionLock(sess.ID)
		mu.Lock()
		err := l.repo.ReplaceSession(ctx, sess)
		mu.Unlock()
		if err != nil {
			return i, fmt.Errorf("import session %s: %w: %w", sess.ID, domain.ErrPersistence, err)
		}
	}
	l.logger.Info("sessions imported", "count", len(sessions))
	return len(sessions), nil
}

// Delete removes a session and its attempts.
func (l *Ledger) Delete(ctx context.Context, sessionID string) error {
	mu := l.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()
	if err := l.repo.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return nil
}
