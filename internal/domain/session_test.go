package domain

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestAttemptApplyStickyCorrect(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var a Attempt
	a.Apply(Delta{Correct: true, Answered: true, TimeSpent: time.Second}, now)
	a.Apply(Delta{Attempts: 1, TimeSpent: 2 * time.Second}, now.Add(time.Minute))

	if !a.Correct {
		t.Fatal("correct was reset by a later incorrect delta")
	}
	if a.Attempts != 1 || a.TimeSpent != 3*time.Second {
		t.Fatalf("attempts=%d timeSpent=%v", a.Attempts, a.TimeSpent)
	}
	if a.AnsweredAt == nil || !a.AnsweredAt.Equal(now) {
		t.Fatalf("answeredAt = %v, want first answer time", a.AnsweredAt)
	}
}

func TestSessionJSONRoundTrip(t *testing.T) {
	answered := time.UnixMilli(1700000005000).UTC()
	in := Session{
		ID:          "s_1",
		ProjectID:   "p_1",
		ProjectName: "Volcanoes",
		LearnerName: `Ada "The Count" L`,
		StartedAt:   time.UnixMilli(1700000000000).UTC(),
		Attempts: []Attempt{
			{InteractionID: "a", Attempts: 2, Correct: true, Answered: true, TimeSpent: 1500 * time.Millisecond, ShownAt: time.UnixMilli(1700000001000).UTC(), AnsweredAt: &answered},
			{InteractionID: "b", Skipped: true, TimeSpent: 300 * time.Millisecond},
		},
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	out, err := DecodeSessions(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d sessions", len(out))
	}
	if !reflect.DeepEqual(in.Attempts, out[0].Attempts) {
		t.Fatalf("attempts mismatch:\n in=%+v\nout=%+v", in.Attempts, out[0].Attempts)
	}
	if out[0].LearnerName != in.LearnerName || !out[0].StartedAt.Equal(in.StartedAt) {
		t.Fatalf("session header mismatch: %+v", out[0])
	}
}

func TestDecodeSessionsArrayRejectsBadEntry(t *testing.T) {
	doc := `[{"sessionId":"s1","studentName":"A","interactions":[]},
	         {"sessionId":"s2","studentName":"B","interactions":[{"id":"x","attempts":-1}]}]`
	if _, err := DecodeSessions(strings.NewReader(doc)); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSessionScoreAndSkipped(t *testing.T) {
	s := Session{Attempts: []Attempt{
		{InteractionID: "a", Correct: true},
		{InteractionID: "b", Skipped: true},
		{InteractionID: "c", Skipped: true, Correct: true},
	}}
	if got := s.Score().String(); got != "2/3" {
		t.Fatalf("score = %s", got)
	}
	if got := s.Skipped(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("skipped = %v", got)
	}
}

func TestParseTimecode(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"", 0, false},
		{"75", 75, false},
		{"1:30", 90, false},
		{"2:", 120, false},
		{"0:07.5", 7.5, false},
		{"1:75", 0, true},
		{"abc", 0, true},
		{"-3", 0, true},
		{"0:NaN", 0, true},
		{"NaN", 0, true},
		{"0:Inf", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTimecode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseTimecode(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseTimecode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if got := FormatTimecode(125.9); got != "2:05" {
		t.Fatalf("FormatTimecode = %s", got)
	}
}

func TestYouTubeID(t *testing.T) {
	tests := map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ": "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ":                "dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ":   "dQw4w9WgXcQ",
		"https://example.com/watch?v=nope":            "",
		"not a url":                                   "",
	}
	for in, want := range tests {
		if got := YouTubeID(in); got != want {
			t.Errorf("YouTubeID(%q) = %q, want %q", in, got, want)
		}
	}
}
