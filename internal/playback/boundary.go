// Package playback drives one learner session: it turns clock samples into
// presented interactions, evaluates submissions, records the outcome and
// pauses and resumes the clock around every active interaction.
package playback

import (
	"context"

	"github.com/ashureev/cuepoint/internal/domain"
	"github.com/ashureev/cuepoint/internal/evaluate"
)

// Clock is the playback position source.
type Clock interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Seek(ctx context.Context, t float64) error
	// CurrentTime returns the last known position in seconds.
	CurrentTime() float64
}

// Handle identifies one presentation of an interaction.
type Handle string

// Presenter renders interactions and captures learner input. Views never
// carry answers.
type Presenter interface {
	Present(ctx context.Context, view domain.View) (Handle, error)
	ReadResponse(ctx context.Context, h Handle) (domain.Response, error)
	Feedback(ctx context.Context, h Handle, result evaluate.Result) error
	Dismiss(ctx context.Context, h Handle) error
}

// Recorder is the attempt sink. *ledger.Ledger implements it.
type Recorder interface {
	RecordAttempt(ctx context.Context, sessionID, interactionID string, delta domain.Delta) (*domain.Attempt, error)
	Skipped(ctx context.Context, sessionID string) ([]string, error)
}
