package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_AcquireRelease(t *testing.T) {
	l := NewLimiter(2)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if l.InUse() != 2 {
		t.Fatalf("expected 2 slots in use, got %d", l.InUse())
	}

	// Third acquire must block until a release.
	blocked, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := l.Acquire(blocked); err == nil {
		t.Fatal("acquire beyond capacity did not block")
	}

	l.Release()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestLimiter_MinimumCapacity(t *testing.T) {
	if got := NewLimiter(0).Cap(); got != 1 {
		t.Fatalf("zero limit should clamp to 1, got %d", got)
	}
	if got := NewLimiter(-3).Cap(); got != 1 {
		t.Fatalf("negative limit should clamp to 1, got %d", got)
	}
}

func TestLimiter_AcquireHonoursContext(t *testing.T) {
	l := NewLimiter(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Acquire(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
