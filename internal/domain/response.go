package domain

// EmptySlot marks a pair-matching slot with nothing placed in it.
const EmptySlot = -1

// Response is the raw input captured by a presenter. Only the fields
// relevant to the interaction kind are read.
type Response struct {
	SelectedIndex *int     `json:"selectedIndex,omitempty"`
	Text          string   `json:"text,omitempty"`
	Choice        *bool    `json:"choice,omitempty"`
	Placements    []int    `json:"placements,omitempty"`
	Colors        []string `json:"colors,omitempty"`
}
