package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds how many invocations run at once across all connections.
// Callers beyond the bound wait until a slot frees or their context ends.
type Limiter struct {
	next     Invoker
	sem      *semaphore.Weighted
	size     int
	inFlight atomic.Int64
}

// NewLimiter wraps next with a bound of n concurrent calls (minimum 1).
func NewLimiter(next Invoker, n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{
		next: next,
		sem:  semaphore.NewWeighted(int64(n)),
		size: n,
	}
}

// Invoke implements Invoker.
func (l *Limiter) Invoke(ctx context.Context, selector string, payload json.RawMessage) (json.RawMessage, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a backend slot: %w", err)
	}
	defer l.sem.Release(1)

	l.inFlight.Add(1)
	defer l.inFlight.Add(-1)

	return l.next.Invoke(ctx, selector, payload)
}

// Size is the configured bound.
func (l *Limiter) Size() int {
	return l.size
}

// InFlight is the number of invocations currently running.
func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}
