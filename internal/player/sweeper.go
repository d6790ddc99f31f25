package player

import (
	"context"
	"log/slog"
	"time"
)

// StartIdleSweeper runs a background goroutine that periodically closes live
// playback sessions idle for longer than ttl. Closing abandons only the
// presentation; recorded attempts stay in the ledger.
func StartIdleSweeper(ctx context.Context, sm *SessionManager, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Idle sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepIdle(sm, time.Now(), ttl)
			case <-ctx.Done():
				slog.Info("Idle sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepIdle(sm *SessionManager, now time.Time, ttl time.Duration) int {
	ids := sm.idle(now, ttl)
	if len(ids) == 0 {
		return 0
	}
	slog.Info("Idle sweeper found idle sessions", "count", len(ids))
	for _, id := range ids {
		sm.CloseSession(id)
	}
	return len(ids)
}
