// Package rksync provides the counting semaphore the scheduler and
// state-entry runtime synchronize on.
package rksync

import "context"

// unboundedCapacity is the token buffer size backing every Semaphore.
// Go channels of zero-size elements (struct{}) cost no memory for the
// buffer itself regardless of capacity, so a generous fixed capacity
// gives POSIX-style "post may run ahead of wait" semantics without the
// bookkeeping a truly unbounded counter would need. It plays the same
// role as SEM_VALUE_MAX on a POSIX semaphore: a ceiling no real
// schedule gets near, not a tuning knob.
const unboundedCapacity = 1 << 20

// Semaphore is a counting semaphore with non-negative count. Wait
// blocks until a matching Post has happened (or ctx is canceled); Post
// never blocks. FIFO ordering between waiters is not guaranteed,
// matching spec.md §4.2.
type Semaphore struct {
	tokens chan struct{}
}

// NewSemaphore creates a semaphore initialized to the given count.
func NewSemaphore(initial int) *Semaphore {
	s := &Semaphore{tokens: make(chan struct{}, unboundedCapacity)}
	for i := 0; i < initial; i++ {
		s.tokens <- struct{}{}
	}
	return s
}

// Wait blocks until a token is available or ctx is done. A channel
// receive has no EINTR-equivalent to retry around, so this is already
// uninterruptible by anything short of ctx cancellation.
func (s *Semaphore) Wait(ctx context.Context) error {
	select {
	case <-s.tokens:
		return nil
	default:
	}
	select {
	case <-s.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post makes one token available without blocking.
func (s *Semaphore) Post() {
	select {
	case s.tokens <- struct{}{}:
	default:
		// Capacity exhausted: sem_post would return ERANGE here too.
	}
}
