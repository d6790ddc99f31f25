// Package domain contains the core types of the interactive video engine:
// interactions and their payloads, projects, sessions and attempts.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind identifies the interaction variant. The string values are the wire
// names used in project files.
type Kind string

const (
	KindSingleChoice   Kind = "mcq"
	KindFillBlank      Kind = "fill"
	KindTrueFalse      Kind = "tf"
	KindPairMatching   Kind = "match"
	KindRegionColoring Kind = "colour"
)

// Kinds lists every supported interaction kind.
var Kinds = []Kind{KindSingleChoice, KindFillBlank, KindTrueFalse, KindPairMatching, KindRegionColoring}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Interaction is a single timed question bound to a playback position.
type Interaction struct {
	ID        string
	At        float64 // trigger time in seconds
	Hint      string
	Payload   Payload
	CreatedAt time.Time
}

// Kind returns the payload kind, or "" when the payload is unset.
func (i *Interaction) Kind() Kind {
	if i.Payload == nil {
		return ""
	}
	return i.Payload.Kind()
}

// Validate checks identity, trigger time and payload.
func (i *Interaction) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return invalid("id", "empty")
	}
	if !finite(i.At) {
		return invalid("ts", "trigger time %g is not a number", i.At)
	}
	if i.At < 0 {
		return invalid("ts", "trigger time %g is negative", i.At)
	}
	if i.Payload == nil {
		return invalid("payload", "missing")
	}
	if err := i.Payload.Validate(); err != nil {
		return prefixed("payload", err)
	}
	return nil
}

type interactionJSON struct {
	ID        string          `json:"id"`
	At        float64         `json:"ts"`
	Kind      Kind            `json:"type"`
	Hint      string          `json:"hint"`
	CreatedAt int64           `json:"createdAt,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// MarshalJSON writes the interaction with a "type" discriminator.
func (i Interaction) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(i.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return json.Marshal(interactionJSON{
		ID:        i.ID,
		At:        i.At,
		Kind:      i.Kind(),
		Hint:      i.Hint,
		CreatedAt: toMillis(i.CreatedAt),
		Payload:   raw,
	})
}

// UnmarshalJSON decodes the payload variant named by "type".
func (i *Interaction) UnmarshalJSON(data []byte) error {
	var w interactionJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode interaction: %w", err)
	}
	p, err := decodePayload(w.Kind, w.Payload)
	if err != nil {
		return prefixed(w.ID, err)
	}
	*i = Interaction{
		ID:        w.ID,
		At:        w.At,
		Hint:      w.Hint,
		Payload:   p,
		CreatedAt: fromMillis(w.CreatedAt),
	}
	return nil
}

// View is the learner-facing projection of an interaction with every answer
// stripped out. It is what a presenter renders.
type View struct {
	ID        string   `json:"id"`
	Kind      Kind     `json:"type"`
	At        float64  `json:"ts"`
	HasHint   bool     `json:"hasHint"`
	Question  string   `json:"qText,omitempty"`
	Options   []string `json:"options,omitempty"`
	Left      []string `json:"left,omitempty"`
	Right     []string `json:"right,omitempty"`
	Image     string   `json:"diagram,omitempty"`
	Regions   []Region `json:"hotspots,omitempty"`
	Revisited bool     `json:"revisit,omitempty"`
}

// View builds the answer-free projection of i.
func (i *Interaction) View() View {
	v := View{ID: i.ID, Kind: i.Kind(), At: i.At, HasHint: i.Hint != ""}
	switch p := i.Payload.(type) {
	case SingleChoice:
		v.Question = p.Question
		v.Options = p.Options
	case FillBlank:
		v.Question = p.Question
	case TrueFalse:
		v.Question = p.Statement
	case PairMatching:
		v.Left = p.Left
		v.Right = p.Right
	case RegionColoring:
		v.Image = p.Image
		v.Regions = p.Regions
	}
	return v
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
