package pthread

import (
	"context"

	"github.com/caffeineduck/gorux/errno"
	"github.com/caffeineduck/gorux/handle"
	"github.com/caffeineduck/gorux/primitive"
)

// Synchronization objects live in per-kind handle tables. The guest holds
// the handle in its own pthread object; a zero word means a statically
// initialized object that the first lock or wait creates. Unlock, destroy
// and the mutex argument of a condition wait never create.

func (m *Manager) owner(ctx context.Context) uint32 {
	return m.Self(ctx)
}

func newMutex() (*primitive.Mutex, error) {
	return primitive.NewMutex(primitive.MutexNormal), nil
}

// MutexInit creates a mutex of the given kind and stores its handle in s.
func (m *Manager) MutexInit(s handle.Slot, kind primitive.MutexKind) error {
	s.Store(0)
	_, err := m.mutexes.Resolve(s, func() (*primitive.Mutex, error) {
		return primitive.NewMutex(kind), nil
	})
	return err
}

// MutexLock locks the mutex in s, waiting until d.
func (m *Manager) MutexLock(ctx context.Context, s handle.Slot, d primitive.Deadline) error {
	mu, err := m.mutexes.Resolve(s, newMutex)
	if err != nil {
		return err
	}
	return mu.Lock(ctx, m.owner(ctx), d)
}

// MutexTryLock locks the mutex in s or fails with EBUSY.
func (m *Manager) MutexTryLock(ctx context.Context, s handle.Slot) error {
	mu, err := m.mutexes.Resolve(s, newMutex)
	if err != nil {
		return err
	}
	return mu.TryLock(m.owner(ctx))
}

// MutexUnlock unlocks mutex h.
func (m *Manager) MutexUnlock(ctx context.Context, h uint32) error {
	mu, ok := m.mutexes.Get(h)
	if !ok {
		return errno.EINVAL
	}
	return mu.Unlock(m.owner(ctx))
}

// MutexDestroy releases mutex h.
func (m *Manager) MutexDestroy(h uint32) error {
	return m.mutexes.Destroy(h)
}

func newCond() (*primitive.Cond, error) {
	return primitive.NewCond(), nil
}

// CondInit creates a condition variable and stores its handle in s.
func (m *Manager) CondInit(s handle.Slot) error {
	s.Store(0)
	_, err := m.conds.Resolve(s, newCond)
	return err
}

// CondWait waits on the condition in s with the mutex mh held.
func (m *Manager) CondWait(ctx context.Context, s handle.Slot, mh uint32, d primitive.Deadline) error {
	c, err := m.conds.Resolve(s, newCond)
	if err != nil {
		return err
	}
	mu, ok := m.mutexes.Get(mh)
	if !ok {
		return errno.EINVAL
	}
	return c.Wait(ctx, mu, m.owner(ctx), d)
}

// CondSignal wakes one waiter on the condition in s.
func (m *Manager) CondSignal(s handle.Slot) error {
	c, err := m.conds.Resolve(s, newCond)
	if err != nil {
		return err
	}
	c.Signal()
	return nil
}

// CondBroadcast wakes every waiter on the condition in s.
func (m *Manager) CondBroadcast(s handle.Slot) error {
	c, err := m.conds.Resolve(s, newCond)
	if err != nil {
		return err
	}
	c.Broadcast()
	return nil
}

// CondDestroy releases condition h.
func (m *Manager) CondDestroy(h uint32) error {
	return m.conds.Destroy(h)
}

func newRWLock() (*primitive.RWLock, error) {
	return primitive.NewRWLock(), nil
}

// RWLockInit creates a read-write lock and stores its handle in s.
func (m *Manager) RWLockInit(s handle.Slot) error {
	s.Store(0)
	_, err := m.rwlocks.Resolve(s, newRWLock)
	return err
}

// RWLockRead takes a shared lock on s, waiting until d.
func (m *Manager) RWLockRead(ctx context.Context, s handle.Slot, d primitive.Deadline) error {
	l, err := m.rwlocks.Resolve(s, newRWLock)
	if err != nil {
		return err
	}
	return l.RLock(ctx, m.owner(ctx), d)
}

// RWLockTryRead takes a shared lock on s or fails with EBUSY.
func (m *Manager) RWLockTryRead(ctx context.Context, s handle.Slot) error {
	l, err := m.rwlocks.Resolve(s, newRWLock)
	if err != nil {
		return err
	}
	return l.TryRLock(m.owner(ctx))
}

// RWLockWrite takes the exclusive lock on s, waiting until d.
func (m *Manager) RWLockWrite(ctx context.Context, s handle.Slot, d primitive.Deadline) error {
	l, err := m.rwlocks.Resolve(s, newRWLock)
	if err != nil {
		return err
	}
	return l.Lock(ctx, m.owner(ctx), d)
}

// RWLockTryWrite takes the exclusive lock on s or fails with EBUSY.
func (m *Manager) RWLockTryWrite(ctx context.Context, s handle.Slot) error {
	l, err := m.rwlocks.Resolve(s, newRWLock)
	if err != nil {
		return err
	}
	return l.TryLock(m.owner(ctx))
}

// RWLockUnlock releases whichever mode the caller holds on lock h.
func (m *Manager) RWLockUnlock(ctx context.Context, h uint32) error {
	l, ok := m.rwlocks.Get(h)
	if !ok {
		return errno.EINVAL
	}
	return l.Unlock(m.owner(ctx))
}

// RWLockDestroy releases lock h.
func (m *Manager) RWLockDestroy(h uint32) error {
	return m.rwlocks.Destroy(h)
}

// SemInit creates a semaphore holding value and stores its handle in s.
func (m *Manager) SemInit(s handle.Slot, value uint32) error {
	s.Store(0)
	_, err := m.sems.Resolve(s, func() (*primitive.Semaphore, error) {
		return primitive.NewSemaphore(value)
	})
	return err
}

// SemWait decrements semaphore h, waiting until d.
func (m *Manager) SemWait(ctx context.Context, h uint32, d primitive.Deadline) error {
	sem, ok := m.sems.Get(h)
	if !ok {
		return errno.EINVAL
	}
	return sem.Wait(ctx, d)
}

// SemTryWait decrements semaphore h or fails with EAGAIN.
func (m *Manager) SemTryWait(h uint32) error {
	sem, ok := m.sems.Get(h)
	if !ok {
		return errno.EINVAL
	}
	return sem.TryWait()
}

// SemPost increments semaphore h.
func (m *Manager) SemPost(h uint32) error {
	sem, ok := m.sems.Get(h)
	if !ok {
		return errno.EINVAL
	}
	return sem.Post()
}

// SemValue returns the count of semaphore h.
func (m *Manager) SemValue(h uint32) (uint32, error) {
	sem, ok := m.sems.Get(h)
	if !ok {
		return 0, errno.EINVAL
	}
	return sem.Value(), nil
}

// SemDestroy releases semaphore h.
func (m *Manager) SemDestroy(h uint32) error {
	return m.sems.Destroy(h)
}
