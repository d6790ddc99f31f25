package shared

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsSQLiteConflictError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY: database busy"), true},
		{errors.New("database is locked (5)"), true},
		{errors.New("no such table"), false},
	}
	for _, tt := range tests {
		if got := IsSQLiteConflictError(tt.err); got != tt.want {
			t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRetryOnConflict(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := RetryOnConflict(context.Background(), p, "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d, want success on third call", err, calls)
	}

	calls = 0
	permanent := errors.New("constraint failed")
	err = RetryOnConflict(context.Background(), p, "test", func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("non-conflict error retried: err=%v calls=%d", err, calls)
	}

	calls = 0
	err = RetryOnConflict(context.Background(), p, "test", func() error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	if err == nil || calls != 3 {
		t.Fatalf("exhausted policy: err=%v calls=%d", err, calls)
	}
}
