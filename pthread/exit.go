package pthread

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/caffeineduck/gorux/errno"
)

// Join waits for thread h to finish and returns its exit value. Any number
// of callers may join the same thread; exactly one of them joins the host
// thread and all of them receive the same value.
func (m *Manager) Join(ctx context.Context, h uint32) (uint32, error) {
	t, err := m.lookup(h)
	if err != nil {
		return 0, err
	}
	if self := ThreadFrom(ctx); self == t {
		return 0, fmt.Errorf("join self: %w", errno.EDEADLK)
	}
	return m.join(ctx, t, false)
}

// join runs the wait-count protocol. Teardown joins with internal set,
// which also drains detached threads and ignores ctx. Any other join gives
// up with ECANCELED once ctx is done, so joiners cancelled by teardown
// cannot keep each other alive.
func (m *Manager) join(ctx context.Context, t *Thread, internal bool) (uint32, error) {
	t.exitMu.Lock()
	if t.detached && !internal {
		t.exitMu.Unlock()
		return 0, fmt.Errorf("join detached thread %d: %w", t.handle, errno.EINVAL)
	}
	if t.waitCount >= 0 {
		t.waitCount++
		if !internal {
			stop := context.AfterFunc(ctx, func() {
				t.exitMu.Lock()
				t.exitCond.Broadcast()
				t.exitMu.Unlock()
			})
			defer stop()
		}
		for !t.finished {
			if !internal && ctx.Err() != nil {
				t.waitCount--
				t.exitMu.Unlock()
				return 0, fmt.Errorf("join thread %d: %w", t.handle, errno.ECANCELED)
			}
			t.exitCond.Wait()
		}
		t.waitCount--
		if t.waitCount == 0 {
			t.host.Join()
			t.waitCount = -1
			m.counters.hostJoins.Add(1)
		}
	}
	ret := t.retval
	t.exitMu.Unlock()

	if m.remove(t) {
		m.counters.joined.Add(1)
		m.observe(EventJoined, t.handle, 0)
		m.log.Debug("thread joined", zap.Uint32("thread", t.handle), zap.Uint32("retval", ret))
	}
	return ret, nil
}

// Detach marks thread h detached. A thread that already finished is reaped
// immediately; otherwise it erases itself when it exits.
func (m *Manager) Detach(_ context.Context, h uint32) error {
	t, err := m.lookup(h)
	if err != nil {
		return err
	}

	t.exitMu.Lock()
	if t.detached {
		t.exitMu.Unlock()
		return fmt.Errorf("detach thread %d: %w", h, errno.EINVAL)
	}
	t.detached = true
	reap := t.finished && t.waitCount < 0
	t.exitMu.Unlock()

	m.counters.detached.Add(1)
	m.observe(EventDetached, h, 0)
	if reap {
		m.remove(t)
	}
	return nil
}

// Exit terminates the calling thread with value. It does not return for a
// managed thread. On the main thread it records a fault and returns a fatal
// error, which the host function layer turns into a trap.
func (m *Manager) Exit(ctx context.Context, value uint32) error {
	t := ThreadFrom(ctx)
	if t == nil {
		return errNotManaged
	}
	if t.handle == MainHandle {
		t.gctx.SetFault(errMainExit.Error())
		return errMainExit
	}

	t.exitMu.Lock()
	t.retval = value
	t.exitMu.Unlock()
	t.exiting.Store(true)

	t.gctx.Exit(ctx)
	return nil
}

// propagateFault copies msg into every other thread that has no fault yet
// and cancels it, so the whole program unwinds after one thread faulted.
func (m *Manager) propagateFault(from *Thread, msg string) {
	m.mu.Lock()
	siblings := make([]*Thread, 0, len(m.threads))
	for _, t := range m.threads {
		if t != from {
			siblings = append(siblings, t)
		}
	}
	m.mu.Unlock()

	for _, t := range siblings {
		if t.gctx.Fault() != "" {
			continue
		}
		t.inherited.Store(true)
		t.gctx.SetFault(msg)
		m.cancelThread(t)
	}
	m.log.Debug("fault propagated",
		zap.Uint32("thread", from.handle),
		zap.Int("siblings", len(siblings)),
	)
}
