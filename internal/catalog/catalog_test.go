package catalog

import (
	"testing"

	"github.com/ashureev/cuepoint/internal/domain"
)

func tf(id string, at float64) domain.Interaction {
	return domain.Interaction{ID: id, At: at, Payload: domain.TrueFalse{Statement: id, Answer: true}}
}

func TestNewSortsStably(t *testing.T) {
	c, err := New([]domain.Interaction{tf("c", 30), tf("a", 10), tf("b1", 20), tf("b2", 20), tf("z", 0)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := []string{"z", "a", "b1", "b2", "c"}
	for i, id := range want {
		if got := c.At(i).ID; got != id {
			t.Fatalf("position %d = %s, want %s", i, got, id)
		}
	}
	if c.Position("b2") != 3 || c.Position("missing") != -1 {
		t.Fatalf("unexpected positions")
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		items []domain.Interaction
	}{
		{"duplicate id", []domain.Interaction{tf("a", 1), tf("a", 2)}},
		{"negative trigger", []domain.Interaction{tf("a", -1)}},
		{"out of bounds index", []domain.Interaction{{ID: "m", Payload: domain.SingleChoice{Options: []string{"A", "B"}, CorrectIndex: 2}}}},
		{"unequal match lists", []domain.Interaction{{ID: "m", Payload: domain.PairMatching{Left: []string{"x"}, Right: []string{"1", "2"}}}}},
		{"missing payload", []domain.Interaction{{ID: "m"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.items)
			if err == nil {
				t.Fatal("expected error")
			}
			if !domain.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCatalogIsIsolatedFromInput(t *testing.T) {
	items := []domain.Interaction{tf("a", 1)}
	c, err := New(items)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	items[0].ID = "mutated"
	if _, ok := c.Get("a"); !ok {
		t.Fatal("catalog changed after input mutation")
	}
}
