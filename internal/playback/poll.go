package playback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/cuepoint/internal/domain"
)

// DefaultPollInterval is the sampling period for clocks without native
// progress notifications.
const DefaultPollInterval = 500 * time.Millisecond

// Sampler consumes position samples. *Engine implements it.
type Sampler interface {
	Sample(ctx context.Context, t float64) (*domain.Interaction, error)
}

// Poll samples clock.CurrentTime every interval into s until ctx is done.
func Poll(ctx context.Context, clock Clock, s Sampler, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sample(ctx, clock.CurrentTime()); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("position sample failed", "error", err)
			}
		}
	}
}
