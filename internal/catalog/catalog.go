// Package catalog provides the read-only, trigger-ordered interaction list a
// scheduler walks during playback.
package catalog

import (
	"fmt"
	"sort"

	"github.com/ashureev/cuepoint/internal/domain"
)

// Catalog is an immutable, validated collection of interactions sorted by
// trigger time. Interactions sharing a trigger time keep insertion order.
// A Catalog is safe for concurrent use by any number of sessions.
type Catalog struct {
	items []domain.Interaction
	index map[string]int
}

// New validates interactions and returns them as a sorted catalog. The input
// slice is copied; later changes to it do not affect the catalog.
func New(interactions []domain.Interaction) (*Catalog, error) {
	items := make([]domain.Interaction, len(interactions))
	copy(items, interactions)

	seen := make(map[string]struct{}, len(items))
	for i := range items {
		if err := items[i].Validate(); err != nil {
			return nil, fmt.Errorf("interaction %d: %w", i, err)
		}
		if _, dup := seen[items[i].ID]; dup {
			return nil, fmt.Errorf("interaction %d: %w", i, &domain.ValidationError{
				Field:  "id",
				Reason: fmt.Sprintf("duplicate id %q", items[i].ID),
			})
		}
		seen[items[i].ID] = struct{}{}
	}

	sort.SliceStable(items, func(a, b int) bool { return items[a].At < items[b].At })

	index := make(map[string]int, len(items))
	for i := range items {
		index[items[i].ID] = i
	}
	return &Catalog{items: items, index: index}, nil
}

// FromProject builds a catalog from a project's interactions.
func FromProject(p *domain.Project) (*Catalog, error) {
	return New(p.Interactions)
}

// Len returns the number of interactions.
func (c *Catalog) Len() int { return len(c.items) }

// At returns the interaction at position i in trigger order.
func (c *Catalog) At(i int) *domain.Interaction { return &c.items[i] }

// Get returns the interaction with id.
func (c *Catalog) Get(id string) (*domain.Interaction, bool) {
	i, ok := c.index[id]
	if !ok {
		return nil, false
	}
	return &c.items[i], true
}

// Position returns the sort position of id, or -1.
func (c *Catalog) Position(id string) int {
	if i, ok := c.index[id]; ok {
		return i
	}
	return -1
}

// All returns a copy of the interactions in trigger order.
func (c *Catalog) All() []domain.Interaction {
	out := make([]domain.Interaction, len(c.items))
	copy(out, c.items)
	return out
}
