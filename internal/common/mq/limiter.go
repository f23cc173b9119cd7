package mq

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// FetchLimiter gates reads from the broker. A subscription acquires before it
// fetches a message and releases once the handler returns, so a message is never
// pulled off a partition while no judge slot can take it.
type FetchLimiter interface {
	Acquire(ctx context.Context) error
	Release()
}

// SlotLimiter is a FetchLimiter sized to the judge pool. Sharing one across
// the contest and practice subscriptions caps their combined in-flight work.
type SlotLimiter struct {
	sem  *semaphore.Weighted
	held atomic.Int64
}

// NewSlotLimiter creates a limiter with slots judge slots, at least one.
func NewSlotLimiter(slots int) *SlotLimiter {
	if slots <= 0 {
		slots = 1
	}
	return &SlotLimiter{sem: semaphore.NewWeighted(int64(slots))}
}

// Acquire waits for a free slot or for ctx to end.
func (l *SlotLimiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.held.Add(1)
	return nil
}

// Release frees a slot. Unmatched calls are ignored.
func (l *SlotLimiter) Release() {
	if l.held.Add(-1) < 0 {
		l.held.Add(1)
		return
	}
	l.sem.Release(1)
}

// InFlight returns the number of messages currently holding a slot.
func (l *SlotLimiter) InFlight() int {
	return int(l.held.Load())
}
