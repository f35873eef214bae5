package scheduler

import "context"

// Limiter is the one piece of state shared across all in-flight jobs: a
// counting semaphore bounding how many jobs are submitted-or-polling at
// once. It is passed into the scheduler at construction — no ambient state.
type Limiter struct {
	slots chan struct{}
}

func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{slots: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot. Must be called exactly once per successful Acquire;
// callers defer it so no exit path leaks a slot.
func (l *Limiter) Release() {
	<-l.slots
}

// InUse reports how many slots are currently held.
func (l *Limiter) InUse() int {
	return len(l.slots)
}

// Cap reports the configured limit.
func (l *Limiter) Cap() int {
	return cap(l.slots)
}
