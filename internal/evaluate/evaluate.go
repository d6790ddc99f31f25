// Package evaluate scores a learner response against an interaction payload.
// Every function here is pure.
package evaluate

import (
	"fmt"
	"strings"

	"github.com/ashureev/cuepoint/internal/domain"
	"golang.org/x/text/cases"
)

// Result is the verdict for one submitted response.
type Result struct {
	Correct bool   `json:"correct"`
	Filled  int    `json:"filled,omitempty"`
	Total   int    `json:"total,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Evaluate returns the verdict for r against p. It returns
// domain.ErrIncompleteResponse when r lacks the input p needs; in that case
// nothing should be recorded.
func Evaluate(p domain.Payload, r domain.Response) (Result, error) {
	switch p := p.(type) {
	case domain.SingleChoice:
		return singleChoice(p, r)
	case domain.FillBlank:
		return fillBlank(p, r)
	case domain.TrueFalse:
		return trueFalse(p, r)
	case domain.PairMatching:
		return pairMatching(p, r), nil
	case domain.RegionColoring:
		return regionColoring(p, r), nil
	default:
		return Result{}, fmt.Errorf("evaluate: unsupported payload %T", p)
	}
}

func singleChoice(p domain.SingleChoice, r domain.Response) (Result, error) {
	if r.SelectedIndex == nil {
		return Result{Detail: "select an option"}, domain.ErrIncompleteResponse
	}
	if *r.SelectedIndex == p.CorrectIndex {
		return Result{Correct: true}, nil
	}
	return Result{Detail: "incorrect, try again"}, nil
}

func fillBlank(p domain.FillBlank, r domain.Response) (Result, error) {
	got := strings.TrimSpace(r.Text)
	if got == "" {
		return Result{Detail: "enter an answer"}, domain.ErrIncompleteResponse
	}
	if fold(got) == fold(strings.TrimSpace(p.Answer)) {
		return Result{Correct: true}, nil
	}
	return Result{Detail: "incorrect, try again"}, nil
}

func trueFalse(p domain.TrueFalse, r domain.Response) (Result, error) {
	if r.Choice == nil {
		return Result{Detail: "choose true or false"}, domain.ErrIncompleteResponse
	}
	if *r.Choice == p.Answer {
		return Result{Correct: true}, nil
	}
	return Result{Detail: "incorrect, try again"}, nil
}

// pairMatching never reports incomplete: a missing placement is simply wrong
// so the learner gets feedback immediately.
func pairMatching(p domain.PairMatching, r domain.Response) Result {
	n := len(p.Left)
	res := Result{Total: n}
	correct := true
	for slot := 0; slot < n; slot++ {
		if slot >= len(r.Placements) || r.Placements[slot] == domain.EmptySlot {
			correct = false
			continue
		}
		res.Filled++
		if r.Placements[slot] != p.Expected(slot) {
			correct = false
		}
	}
	res.Correct = correct
	if !correct {
		res.Detail = fmt.Sprintf("%d/%d placed, not all pairs match", res.Filled, n)
	}
	return res
}

func regionColoring(p domain.RegionColoring, r domain.Response) Result {
	n := len(p.Regions)
	res := Result{Total: n}
	correct := true
	for i := 0; i < n; i++ {
		chosen := ""
		if i < len(r.Colors) {
			chosen = strings.TrimSpace(r.Colors[i])
		}
		if chosen == "" {
			correct = false
			continue
		}
		res.Filled++
		if want := p.ExpectedColor(i); want != "" && fold(chosen) != fold(want) {
			correct = false
		}
	}
	res.Correct = correct
	if !correct {
		res.Detail = fmt.Sprintf("%d/%d areas coloured, not all correct", res.Filled, n)
	}
	return res
}

func fold(s string) string {
	return cases.Fold().String(s)
}
