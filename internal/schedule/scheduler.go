// Package schedule decides which interaction becomes due as playback advances.
//
// A Scheduler is owned by exactly one playback session and is not safe for
// concurrent use; the playback engine serializes access to it.
package schedule

import (
	"fmt"
	"sort"

	"github.com/ashureev/cuepoint/internal/catalog"
	"github.com/ashureev/cuepoint/internal/domain"
)

// State is the per-session presentation state.
type State int

const (
	// StateIdle indicates playback has not started or the session was abandoned.
	StateIdle State = iota
	// StateWaiting indicates playback runs and no interaction is active.
	StateWaiting
	// StatePresenting indicates an interaction is shown and playback is paused.
	StatePresenting
	// StateEvaluating indicates a submitted response is being scored.
	StateEvaluating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StatePresenting:
		return "presenting"
	case StateEvaluating:
		return "evaluating"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRearmOnSeek makes a backward seek re-arm shown interactions whose
// trigger lies after the new position. Off by default: scrubbing back never
// re-triggers an interaction within a session.
func WithRearmOnSeek() Option {
	return func(s *Scheduler) { s.rearmOnSeek = true }
}

// Scheduler maps playback position samples to due interactions.
type Scheduler struct {
	cat   *catalog.Catalog
	shown map[string]struct{}
	// revisit is the override queue, kept in catalog order.
	revisit []*domain.Interaction

	state       State
	pending     *domain.Interaction
	fromRevisit bool

	rearmOnSeek bool
	last        float64
	sampled     bool
}

// New returns a scheduler over cat in StateIdle.
func New(cat *catalog.Catalog, opts ...Option) *Scheduler {
	s := &Scheduler{
		cat:   cat,
		shown: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Scheduler) State() State { return s.state }

// Pending returns the interaction being presented or evaluated, or nil.
func (s *Scheduler) Pending() *domain.Interaction { return s.pending }

// PendingIsRevisit reports whether the pending interaction came from the revisit queue.
func (s *Scheduler) PendingIsRevisit() bool { return s.pending != nil && s.fromRevisit }

// Shown reports whether id was already surfaced in this session.
func (s *Scheduler) Shown(id string) bool {
	_, ok := s.shown[id]
	return ok
}

// MarkShown records ids as already surfaced, for sessions resumed from the ledger.
func (s *Scheduler) MarkShown(ids ...string) {
	for _, id := range ids {
		if _, ok := s.cat.Get(id); ok {
			s.shown[id] = struct{}{}
		}
	}
}

// Start moves an idle scheduler to StateWaiting.
func (s *Scheduler) Start() error {
	if s.state != StateIdle {
		return s.transitionErr("start")
	}
	s.state = StateWaiting
	return nil
}

// OnPositionSample returns the interaction that becomes due at t, or nil.
// At most one interaction is active at a time; while one is pending every
// sample returns nil.
func (s *Scheduler) OnPositionSample(t float64) *domain.Interaction {
	if s.state != StateWaiting || s.pending != nil {
		return nil
	}
	if s.rearmOnSeek && s.sampled && t < s.last {
		s.rearm(t)
	}
	s.last, s.sampled = t, true

	var next *domain.Interaction
	for i := 0; i < s.cat.Len(); i++ {
		in := s.cat.At(i)
		if in.At > t {
			break
		}
		if _, done := s.shown[in.ID]; !done {
			next = in
			break
		}
	}

	fromRevisit := false
	if len(s.revisit) > 0 && s.revisit[0].At <= t {
		if next == nil || s.revisit[0].At <= next.At {
			next = s.revisit[0]
			s.revisit = s.revisit[1:]
			fromRevisit = true
		}
	}
	if next == nil {
		return nil
	}

	s.shown[next.ID] = struct{}{}
	s.pending = next
	s.fromRevisit = fromRevisit
	s.state = StatePresenting
	return next
}

// rearm forgets shown interactions triggering after t.
func (s *Scheduler) rearm(t float64) {
	for id := range s.shown {
		if in, ok := s.cat.Get(id); ok && in.At > t {
			delete(s.shown, id)
		}
	}
}

// BeginEvaluation moves a presented interaction to StateEvaluating on submit.
func (s *Scheduler) BeginEvaluation() error {
	if s.state != StatePresenting {
		return s.transitionErr("evaluate")
	}
	s.state = StateEvaluating
	return nil
}

// Retry returns an evaluated interaction to StatePresenting after an
// incorrect or incomplete response.
func (s *Scheduler) Retry() error {
	if s.state != StateEvaluating {
		return s.transitionErr("retry")
	}
	s.state = StatePresenting
	return nil
}

// Complete closes the pending interaction after a correct response.
func (s *Scheduler) Complete() error {
	if s.state != StateEvaluating {
		return s.transitionErr("complete")
	}
	s.clearPending()
	return nil
}

// Skip closes the presented interaction without an answer.
func (s *Scheduler) Skip() error {
	if s.state != StatePresenting {
		return s.transitionErr("skip")
	}
	s.clearPending()
	return nil
}

// Revisit queues ids for re-presentation regardless of the shown set, in
// their original trigger order. Unknown ids and ids already queued or
// pending are ignored. It returns the number newly queued.
func (s *Scheduler) Revisit(ids []string) int {
	queued := make(map[string]struct{}, len(s.revisit))
	for _, in := range s.revisit {
		queued[in.ID] = struct{}{}
	}
	added := 0
	for _, id := range ids {
		in, ok := s.cat.Get(id)
		if !ok {
			continue
		}
		if _, dup := queued[id]; dup || (s.pending != nil && s.pending.ID == id) {
			continue
		}
		queued[id] = struct{}{}
		s.revisit = append(s.revisit, in)
		added++
	}
	sort.SliceStable(s.revisit, func(a, b int) bool {
		return s.cat.Position(s.revisit[a].ID) < s.cat.Position(s.revisit[b].ID)
	})
	return added
}

// Queued returns the number of interactions waiting in the revisit queue.
func (s *Scheduler) Queued() int { return len(s.revisit) }

// Abandon discards the pending interaction and the revisit queue and returns
// the scheduler to StateIdle. The shown set survives.
func (s *Scheduler) Abandon() {
	s.pending = nil
	s.fromRevisit = false
	s.revisit = nil
	s.state = StateIdle
}

func (s *Scheduler) clearPending() {
	s.pending = nil
	s.fromRevisit = false
	s.state = StateWaiting
}

func (s *Scheduler) transitionErr(op string) error {
	return fmt.Errorf("%s from %s: %w", op, s.state, domain.ErrInvalidTransition)
}
