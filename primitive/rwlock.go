package primitive

import (
	"context"
	"sync"

	"github.com/caffeineduck/gorux/errno"
)

// RWLock allows many readers or a single writer. Readers are preferred,
// matching the default glibc policy.
type RWLock struct {
	mu      sync.Mutex
	readers map[uint32]int
	writer  bool
	wowner  uint32
	closed  bool
	wake    notifier
}

// NewRWLock creates an unlocked read-write lock.
func NewRWLock() *RWLock {
	return &RWLock{readers: make(map[uint32]int)}
}

// RLock acquires a shared lock for owner.
func (l *RWLock) RLock(ctx context.Context, owner uint32, d Deadline) error {
	return l.acquire(ctx, d, func() (bool, error) { return l.tryRLocked(owner) })
}

// Lock acquires the exclusive lock for owner.
func (l *RWLock) Lock(ctx context.Context, owner uint32, d Deadline) error {
	return l.acquire(ctx, d, func() (bool, error) { return l.tryLocked(owner) })
}

// TryRLock acquires a shared lock or returns EBUSY.
func (l *RWLock) TryRLock(owner uint32) error {
	return l.try(func() (bool, error) { return l.tryRLocked(owner) })
}

// TryLock acquires the exclusive lock or returns EBUSY.
func (l *RWLock) TryLock(owner uint32) error {
	return l.try(func() (bool, error) { return l.tryLocked(owner) })
}

func (l *RWLock) acquire(ctx context.Context, d Deadline, attempt func() (bool, error)) error {
	for {
		l.mu.Lock()
		acquired, err := attempt()
		if err != nil || acquired {
			l.mu.Unlock()
			return err
		}
		ch := l.wake.wait()
		l.mu.Unlock()

		if err := d.await(ctx, ch); err != nil {
			return err
		}
	}
}

func (l *RWLock) try(attempt func() (bool, error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acquired, err := attempt()
	if err != nil {
		return err
	}
	if !acquired {
		return errno.EBUSY
	}
	return nil
}

func (l *RWLock) tryRLocked(owner uint32) (bool, error) {
	if l.closed {
		return false, errno.EINVAL
	}
	if l.writer {
		if l.wowner == owner {
			return false, errno.EDEADLK
		}
		return false, nil
	}
	l.readers[owner]++
	return true, nil
}

func (l *RWLock) tryLocked(owner uint32) (bool, error) {
	if l.closed {
		return false, errno.EINVAL
	}
	if l.writer && l.wowner == owner || l.readers[owner] > 0 {
		return false, errno.EDEADLK
	}
	if l.writer || len(l.readers) > 0 {
		return false, nil
	}
	l.writer = true
	l.wowner = owner
	return true, nil
}

// Unlock releases whichever mode owner holds.
func (l *RWLock) Unlock(owner uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.writer && l.wowner == owner:
		l.writer = false
	case l.readers[owner] > 0:
		l.readers[owner]--
		if l.readers[owner] == 0 {
			delete(l.readers, owner)
		}
	default:
		return errno.EPERM
	}
	l.wake.broadcast()
	return nil
}

// Close marks the lock destroyed and wakes waiters.
func (l *RWLock) Close() {
	l.mu.Lock()
	l.closed = true
	l.wake.broadcast()
	l.mu.Unlock()
}
