package primitive

import (
	"context"
	"sync"

	"github.com/caffeineduck/gorux/errno"
)

// MutexKind selects relock behavior for the owning thread.
type MutexKind uint8

const (
	// MutexNormal reports EDEADLK when the owner locks again.
	MutexNormal MutexKind = iota
	// MutexRecursive counts nested locks by the owner.
	MutexRecursive
)

// Mutex is an owner-tracked lock with timed and try variants.
type Mutex struct {
	kind MutexKind

	mu     sync.Mutex
	held   bool
	owner  uint32
	depth  int
	closed bool
	wake   notifier
}

// NewMutex creates an unlocked mutex.
func NewMutex(kind MutexKind) *Mutex {
	return &Mutex{kind: kind}
}

// Kind returns the mutex kind.
func (m *Mutex) Kind() MutexKind {
	return m.kind
}

// Lock acquires the mutex for owner, waiting until d.
func (m *Mutex) Lock(ctx context.Context, owner uint32, d Deadline) error {
	for {
		m.mu.Lock()
		acquired, err := m.tryLocked(owner)
		if err != nil || acquired {
			m.mu.Unlock()
			return err
		}
		ch := m.wake.wait()
		m.mu.Unlock()

		if err := d.await(ctx, ch); err != nil {
			return err
		}
	}
}

// TryLock acquires the mutex without blocking, or returns EBUSY.
func (m *Mutex) TryLock(owner uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acquired, err := m.tryLocked(owner)
	if err != nil {
		return err
	}
	if !acquired {
		return errno.EBUSY
	}
	return nil
}

func (m *Mutex) tryLocked(owner uint32) (bool, error) {
	if m.closed {
		return false, errno.EINVAL
	}
	if !m.held {
		m.held = true
		m.owner = owner
		m.depth = 1
		return true, nil
	}
	if m.owner != owner {
		return false, nil
	}
	if m.kind == MutexRecursive {
		m.depth++
		return true, nil
	}
	return false, errno.EDEADLK
}

// Unlock releases one level of ownership. Only the owner may unlock.
func (m *Mutex) Unlock(owner uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.held || m.owner != owner {
		return errno.EPERM
	}
	m.depth--
	if m.depth == 0 {
		m.held = false
		m.wake.broadcast()
	}
	return nil
}

// release drops every level held by owner and returns the depth so that
// reacquire can restore it after a condition wait.
func (m *Mutex) release(owner uint32) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.held || m.owner != owner {
		return 0, errno.EPERM
	}
	depth := m.depth
	m.held = false
	m.depth = 0
	m.wake.broadcast()
	return depth, nil
}

func (m *Mutex) reacquire(ctx context.Context, owner uint32, depth int) error {
	if err := m.Lock(ctx, owner, NoDeadline); err != nil {
		return err
	}
	m.mu.Lock()
	m.depth = depth
	m.mu.Unlock()
	return nil
}

// Close marks the mutex destroyed and wakes waiters, which fail with EINVAL.
func (m *Mutex) Close() {
	m.mu.Lock()
	m.closed = true
	m.wake.broadcast()
	m.mu.Unlock()
}
