// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// IsSQLiteBusyError checks if the error is a SQLITE_BUSY error.
func IsSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError checks if the error is a "database is locked" error.
func IsSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflictError reports either form of SQLite lock contention.
func IsSQLiteConflictError(err error) bool {
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}

// RetryPolicy bounds RetryOnConflict.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy is 3 tries with 100ms, 200ms backoff between them.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond}

// RetryOnConflict runs fn until it succeeds, fails with a non-conflict error,
// or the policy is exhausted. Backoff doubles each attempt.
func RetryOnConflict(ctx context.Context, p RetryPolicy, op string, fn func() error) error {
	if p.MaxRetries < 1 {
		p.MaxRetries = 1
	}
	var err error
	for i := 0; i < p.MaxRetries; i++ {
		err = fn()
		if err == nil || !IsSQLiteConflictError(err) || i == p.MaxRetries-1 {
			return err
		}
		delay := p.BaseDelay * time.Duration(1<<i)
		slog.Debug("sqlite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
