package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the kind-specific body of an interaction. The set of
// implementations is closed: SingleChoice, FillBlank, TrueFalse,
// PairMatching and RegionColoring.
type Payload interface {
	Kind() Kind
	Validate() error
	// sealed keeps the variant set closed to this package.
	sealed()
}

// SingleChoice is a multiple choice question with exactly one correct option.
type SingleChoice struct {
	Question     string   `json:"qText"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIdx"`
}

func (SingleChoice) Kind() Kind { return KindSingleChoice }
func (SingleChoice) sealed()    {}

// Validate checks option count and that CorrectIndex is in bounds.
func (p SingleChoice) Validate() error {
	if len(p.Options) < 2 {
		return invalid("options", "need at least 2 options, got %d", len(p.Options))
	}
	if p.CorrectIndex < 0 || p.CorrectIndex >= len(p.Options) {
		return invalid("correctIdx", "index %d out of range [0,%d)", p.CorrectIndex, len(p.Options))
	}
	return nil
}

// FillBlank expects a free text answer compared case- and whitespace-insensitively.
type FillBlank struct {
	Question string `json:"qText"`
	Answer   string `json:"correctAnswer"`
}

func (FillBlank) Kind() Kind { return KindFillBlank }
func (FillBlank) sealed()    {}

// Validate requires a non-blank expected answer.
func (p FillBlank) Validate() error {
	if strings.TrimSpace(p.Answer) == "" {
		return invalid("correctAnswer", "expected answer is empty")
	}
	return nil
}

// TrueFalse asks the learner to judge a statement.
type TrueFalse struct {
	Statement string `json:"qText"`
	Answer    bool   `json:"correctTF"`
}

func (TrueFalse) Kind() Kind { return KindTrueFalse }
func (TrueFalse) sealed()    {}

// Validate always succeeds; any boolean is a valid expectation.
func (TrueFalse) Validate() error { return nil }

// PairMatching asks the learner to place each left item into a right slot.
// Mapping[slot] names the left index expected in that slot; a nil Mapping
// means the identity permutation.
type PairMatching struct {
	Left    []string `json:"left"`
	Right   []string `json:"right"`
	Mapping []int    `json:"mapping,omitempty"`
}

func (PairMatching) Kind() Kind { return KindPairMatching }
func (PairMatching) sealed()    {}

// Validate checks list lengths and that Mapping, when present, is a permutation.
func (p PairMatching) Validate() error {
	if len(p.Left) == 0 {
		return invalid("left", "no items")
	}
	if len(p.Left) != len(p.Right) {
		return invalid("right", "left has %d items, right has %d", len(p.Left), len(p.Right))
	}
	if p.Mapping == nil {
		return nil
	}
	if len(p.Mapping) != len(p.Left) {
		return invalid("mapping", "has %d entries, want %d", len(p.Mapping), len(p.Left))
	}
	seen := make([]bool, len(p.Left))
	for slot, src := range p.Mapping {
		if src < 0 || src >= len(p.Left) {
			return invalid("mapping", "slot %d: index %d out of range", slot, src)
		}
		if seen[src] {
			return invalid("mapping", "slot %d: index %d used twice", slot, src)
		}
		seen[src] = true
	}
	return nil
}

// Expected returns the left index that belongs in slot.
func (p PairMatching) Expected(slot int) int {
	if p.Mapping == nil {
		return slot
	}
	return p.Mapping[slot]
}

// RegionColoring asks the learner to colour rectangular regions of an image.
// Colors is index-aligned with Regions; an empty or missing entry accepts any
// non-empty colour.
type RegionColoring struct {
	Image   string   `json:"diagram"`
	Regions []Region `json:"hotspots"`
	Colors  []string `json:"colors"`
}

func (RegionColoring) Kind() Kind { return KindRegionColoring }
func (RegionColoring) sealed()    {}

// Validate checks the image reference, region bounds and colour count.
func (p RegionColoring) Validate() error {
	if strings.TrimSpace(p.Image) == "" {
		return invalid("diagram", "image reference is empty")
	}
	if len(p.Regions) == 0 {
		return invalid("hotspots", "no regions")
	}
	for i, r := range p.Regions {
		if err := r.Validate(); err != nil {
			return prefixed(fmt.Sprintf("hotspots[%d]", i), err)
		}
	}
	if len(p.Colors) > len(p.Regions) {
		return invalid("colors", "%d colours for %d regions", len(p.Colors), len(p.Regions))
	}
	return nil
}

// ExpectedColor returns the expected colour token for region i, or "".
func (p RegionColoring) ExpectedColor(i int) string {
	if i < len(p.Colors) {
		return strings.TrimSpace(p.Colors[i])
	}
	return ""
}

// Region is a rectangle expressed in percentages of the image bounds.
type Region struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Validate requires every coordinate to be within [0,100].
func (r Region) Validate() error {
	for _, c := range []struct {
		name string
		v    float64
	}{{"x", r.X}, {"y", r.Y}, {"w", r.W}, {"h", r.H}} {
		if !finite(c.v) || c.v < 0 || c.v > 100 {
			return invalid(c.name, "%g outside [0,100]", c.v)
		}
	}
	return nil
}

// UnmarshalJSON accepts both the object form and the "x,y,w,h" string form.
func (r *Region) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParseRegion(s)
		if err != nil {
			return err
		}
		*r = parsed
		return nil
	}
	type plain Region
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode region: %w", err)
	}
	*r = Region(p)
	return nil
}

func decodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, invalid("payload", "missing for kind %q", kind)
	}
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindSingleChoice:
		var v SingleChoice
		err = json.Unmarshal(raw, &v)
		p = v
	case KindFillBlank:
		var v FillBlank
		err = json.Unmarshal(raw, &v)
		p = v
	case KindTrueFalse:
		var v TrueFalse
		err = json.Unmarshal(raw, &v)
		p = v
	case KindPairMatching:
		var v PairMatching
		err = json.Unmarshal(raw, &v)
		p = v
	case KindRegionColoring:
		var v RegionColoring
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, invalid("type", "unknown interaction kind %q", kind)
	}
	if err != nil {
		return nil, invalid("payload", "%v", err)
	}
	return p, nil
}
