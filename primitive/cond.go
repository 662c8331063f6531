package primitive

import (
	"context"
	"sync"

	"github.com/caffeineduck/gorux/errno"
)

// Cond is a condition variable used together with a Mutex.
type Cond struct {
	mu      sync.Mutex
	waiters []chan struct{}
	closed  bool
}

// NewCond creates a condition variable with no waiters.
func NewCond() *Cond {
	return &Cond{}
}

// Wait atomically releases m, blocks until signalled or d passes, and
// reacquires m (with its previous recursion depth) before returning.
func (c *Cond) Wait(ctx context.Context, m *Mutex, owner uint32, d Deadline) error {
	ch := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errno.EINVAL
	}
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	depth, err := m.release(owner)
	if err != nil {
		c.remove(ch)
		return err
	}

	werr := d.await(ctx, ch)
	if werr != nil && !c.remove(ch) {
		// A signal raced with the timeout and already dequeued us.
		werr = nil
	}

	if err := m.reacquire(ctx, owner, depth); err != nil {
		return err
	}
	return werr
}

// Signal wakes one waiter.
func (c *Cond) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.waiters) == 0 {
		return
	}
	close(c.waiters[0])
	c.waiters = c.waiters[1:]
}

// Broadcast wakes every waiter.
func (c *Cond) Broadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.waiters {
		close(ch)
	}
	c.waiters = nil
}

// Waiters returns the number of blocked callers.
func (c *Cond) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *Cond) remove(ch chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, w := range c.waiters {
		if w == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Close wakes all waiters and rejects new ones.
func (c *Cond) Close() {
	c.mu.Lock()
	c.closed = true
	for _, ch := range c.waiters {
		close(ch)
	}
	c.waiters = nil
	c.mu.Unlock()
}
