package domain

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Attempt is the per-session record of a learner's engagement with one
// interaction. There is at most one Attempt per interaction id per session.
type Attempt struct {
	InteractionID string
	Attempts      int
	Skipped       bool
	Answered      bool
	Correct       bool
	TimeSpent     time.Duration
	ShownAt       time.Time
	AnsweredAt    *time.Time
}

// Delta is the increment applied to an Attempt by a single ledger write.
// ShownAt is only kept from the first write for an interaction.
type Delta struct {
	Attempts  int
	Skipped   bool
	Answered  bool
	Correct   bool
	TimeSpent time.Duration
	ShownAt   time.Time
}

// Apply folds d into a. Attempt counts and time are summed; skipped, answered
// and correct only ever move from false to true.
func (a *Attempt) Apply(d Delta, at time.Time) {
	a.Attempts += d.Attempts
	a.TimeSpent += d.TimeSpent
	if a.ShownAt.IsZero() {
		a.ShownAt = d.ShownAt
	}
	if d.Skipped {
		a.Skipped = true
	}
	if d.Correct {
		a.Correct = true
	}
	if d.Answered {
		a.Answered = true
		if a.AnsweredAt == nil {
			ts := at
			a.AnsweredAt = &ts
		}
	}
}

// Validate rejects negative counters.
func (a *Attempt) Validate() error {
	if strings.TrimSpace(a.InteractionID) == "" {
		return invalid("id", "empty")
	}
	if a.Attempts < 0 {
		return invalid("attempts", "negative")
	}
	if a.TimeSpent < 0 {
		return invalid("timeSpent", "negative")
	}
	return nil
}

// Session is one learner's playthrough of a project.
type Session struct {
	ID          string
	ProjectID   string
	ProjectName string
	LearnerName string
	StartedAt   time.Time
	Attempts    []Attempt
}

// Attempt returns the record for interactionID, or nil.
func (s *Session) Attempt(interactionID string) *Attempt {
	for i := range s.Attempts {
		if s.Attempts[i].InteractionID == interactionID {
			return &s.Attempts[i]
		}
	}
	return nil
}

// Skipped returns interaction ids that were skipped and never answered
// correctly, in discovery order.
func (s *Session) Skipped() []string {
	var ids []string
	for _, a := range s.Attempts {
		if a.Skipped && !a.Correct {
			ids = append(ids, a.InteractionID)
		}
	}
	return ids
}

// Score summarises a session as correct out of attempted-or-skipped.
type Score struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

func (s Score) String() string { return fmt.Sprintf("%d/%d", s.Correct, s.Total) }

// Score counts correct attempts against every recorded attempt.
func (s *Session) Score() Score {
	sc := Score{Total: len(s.Attempts)}
	for _, a := range s.Attempts {
		if a.Correct {
			sc.Correct++
		}
	}
	return sc
}

// Validate checks identity fields and every attempt.
func (s *Session) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return invalid("sessionId", "empty")
	}
	if strings.TrimSpace(s.LearnerName) == "" {
		return invalid("studentName", "empty")
	}
	seen := make(map[string]struct{}, len(s.Attempts))
	for i := range s.Attempts {
		if err := s.Attempts[i].Validate(); err != nil {
			return prefixed(fmt.Sprintf("interactions[%d]", i), err)
		}
		id := s.Attempts[i].InteractionID
		if _, dup := seen[id]; dup {
			return invalid(fmt.Sprintf("interactions[%d].id", i), "duplicate attempt for %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

type attemptJSON struct {
	ID         string `json:"id"`
	ShownAt    int64  `json:"shownAt,omitempty"`
	Attempts   int    `json:"attempts"`
	Skipped    bool   `json:"skipped"`
	Answered   bool   `json:"answered"`
	Correct    bool   `json:"correct"`
	AnsweredAt int64  `json:"answeredAt,omitempty"`
	TimeSpent  int64  `json:"timeSpent"`
}

// MarshalJSON writes times as epoch milliseconds.
func (a Attempt) MarshalJSON() ([]byte, error) {
	w := attemptJSON{
		ID:        a.InteractionID,
		ShownAt:   toMillis(a.ShownAt),
		Attempts:  a.Attempts,
		Skipped:   a.Skipped,
		Answered:  a.Answered,
		Correct:   a.Correct,
		TimeSpent: a.TimeSpent.Milliseconds(),
	}
	if a.AnsweredAt != nil {
		w.AnsweredAt = toMillis(*a.AnsweredAt)
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the millisecond wire form.
func (a *Attempt) UnmarshalJSON(data []byte) error {
	var w attemptJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode attempt: %w", err)
	}
	*a = Attempt{
		InteractionID: w.ID,
		Attempts:      w.Attempts,
		Skipped:       w.Skipped,
		Answered:      w.Answered,
		Correct:       w.Correct,
		TimeSpent:     time.Duration(w.TimeSpent) * time.Millisecond,
		ShownAt:       fromMillis(w.ShownAt),
	}
	if w.AnsweredAt != 0 {
		ts := fromMillis(w.AnsweredAt)
		a.AnsweredAt = &ts
	}
	return nil
}

type sessionJSON struct {
	ID          string    `json:"sessionId"`
	ProjectID   string    `json:"projectKey"`
	ProjectName string    `json:"projectName"`
	LearnerName string    `json:"studentName"`
	StartedAt   int64     `json:"startedAt"`
	Attempts    []Attempt `json:"interactions"`
}

// MarshalJSON writes the session document.
func (s Session) MarshalJSON() ([]byte, error) {
	attempts := s.Attempts
	if attempts == nil {
		attempts = []Attempt{}
	}
	return json.Marshal(sessionJSON{
		ID:          s.ID,
		ProjectID:   s.ProjectID,
		ProjectName: s.ProjectName,
		LearnerName: s.LearnerName,
		StartedAt:   toMillis(s.StartedAt),
		Attempts:    attempts,
	})
}

// UnmarshalJSON reads the session document.
func (s *Session) UnmarshalJSON(data []byte) error {
	var w sessionJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	*s = Session{
		ID:          w.ID,
		ProjectID:   w.ProjectID,
		ProjectName: w.ProjectName,
		LearnerName: w.LearnerName,
		StartedAt:   fromMillis(w.StartedAt),
		Attempts:    w.Attempts,
	}
	return nil
}

// DecodeSessions reads either a single session document or an array of them
// and validates every entry. One bad session rejects the whole input.
func DecodeSessions(r io.Reader) ([]Session, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, invalid("", "malformed session JSON: %v", err)
	}
	var sessions []Session
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(raw, &sessions); err != nil {
			return nil, invalid("", "malformed session JSON: %v", err)
		}
	} else {
		var one Session
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, invalid("", "malformed session JSON: %v", err)
		}
		sessions = []Session{one}
	}
	for i := range sessions {
		if err := sessions[i].Validate(); err != nil {
			return nil, prefixed(fmt.Sprintf("sessions[%d]", i), err)
		}
	}
	return sessions, nil
}
