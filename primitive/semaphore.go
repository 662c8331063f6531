package primitive

import (
	"context"
	"math"
	"sync"

	"github.com/caffeineduck/gorux/errno"
)

// SemValueMax is the largest value a semaphore can hold.
const SemValueMax = math.MaxInt32

// Semaphore is a counting semaphore.
type Semaphore struct {
	mu     sync.Mutex
	value  uint32
	closed bool
	wake   notifier
}

// NewSemaphore creates a semaphore holding initial.
func NewSemaphore(initial uint32) (*Semaphore, error) {
	if initial > SemValueMax {
		return nil, errno.EINVAL
	}
	return &Semaphore{value: initial}, nil
}

// Wait decrements the semaphore, blocking while it is zero.
func (s *Semaphore) Wait(ctx context.Context, d Deadline) error {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return errno.EINVAL
		}
		if s.value > 0 {
			s.value--
			s.mu.Unlock()
			return nil
		}
		ch := s.wake.wait()
		s.mu.Unlock()

		if err := d.await(ctx, ch); err != nil {
			return err
		}
	}
}

// TryWait decrements the semaphore or returns EAGAIN.
func (s *Semaphore) TryWait() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errno.EINVAL
	}
	if s.value == 0 {
		return errno.EAGAIN
	}
	s.value--
	return nil
}

// Post increments the semaphore and wakes waiters.
func (s *Semaphore) Post() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errno.EINVAL
	}
	if s.value >= SemValueMax {
		return errno.EOVERFLOW
	}
	s.value++
	s.wake.broadcast()
	return nil
}

// Value returns the current count.
func (s *Semaphore) Value() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Close marks the semaphore destroyed and wakes waiters.
func (s *Semaphore) Close() {
	s.mu.Lock()
	s.closed = true
	s.wake.broadcast()
	s.mu.Unlock()
}
