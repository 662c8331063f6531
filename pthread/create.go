package pthread

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/caffeineduck/gorux/errno"
	"github.com/caffeineduck/gorux/guest"
)

// CreateRequest describes a pthread_create call.
type CreateRequest struct {
	// Entry is the guest function table index of the start routine.
	Entry uint32
	// Arg is passed to Entry.
	Arg uint32
	// StackSize is the requested stack size; 0 selects the default.
	StackSize uint32
	// StackAddr is the base of a caller-owned stack, or 0 to have the
	// manager allocate one from the guest heap.
	StackAddr uint32
	// Detached starts the thread detached.
	Detached bool
}

// Create starts a thread running the guest function req.Entry(req.Arg) and
// returns its handle.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (uint32, error) {
	parent := ThreadFrom(ctx)
	if parent == nil {
		return 0, errNotManaged
	}

	size := req.StackSize
	if size == 0 {
		size = m.cfg.stackSize
	}
	if req.StackAddr != 0 {
		if size < MinStackSize {
			return 0, fmt.Errorf("stack of %d bytes: %w", size, errno.EINVAL)
		}
		if !guest.Validate(parent.gctx.Memory(), req.StackAddr, size) {
			return 0, fmt.Errorf("stack region %#x+%d: %w", req.StackAddr, size, errno.EFAULT)
		}
	} else if size < MinStackSize {
		size = MinStackSize
	}

	entry, arg := req.Entry, req.Arg
	return m.start(ctx, parent, size, req.StackAddr, req.Detached, func(ctx context.Context, t *Thread) error {
		ret, err := t.gctx.CallIndirect(ctx, entry, arg)
		if err == nil {
			t.exitMu.Lock()
			t.retval = ret
			t.exitMu.Unlock()
		}
		return err
	})
}

// Spawn starts a joinable thread through the guest's thread entry export,
// as wasi-threads thread-spawn does. The stack size follows the caller's
// own stack configuration.
func (m *Manager) Spawn(ctx context.Context, arg uint32) (uint32, error) {
	parent := ThreadFrom(ctx)
	if parent == nil {
		return 0, errNotManaged
	}

	size := parent.gctx.StackSize()
	if size == 0 {
		size = m.cfg.stackSize
	}
	if size < MinStackSize {
		size = MinStackSize
	}

	return m.start(ctx, parent, size, 0, false, func(ctx context.Context, t *Thread) error {
		return t.gctx.CallStart(ctx, t.handle, arg)
	})
}

type entryFunc func(ctx context.Context, t *Thread) error

// start runs the shared creation sequence. Any failure unwinds everything
// acquired so far, so a failed create leaves no reachable state behind.
func (m *Manager) start(ctx context.Context, parent *Thread, size, addr uint32, detached bool, entry entryFunc) (uint32, error) {
	if m.isClosed() {
		return 0, errClosed
	}

	gctx, err := parent.gctx.Spawn(ctx)
	if err != nil {
		m.log.Warn("spawn execution context failed", zap.Error(err))
		return 0, fmt.Errorf("spawn execution context: %w: %w", errno.EAGAIN, err)
	}

	st, err := m.acquireStack(ctx, parent.gctx, addr, size)
	if err != nil {
		gctx.Close(ctx)
		return 0, err
	}

	undo := func() {
		m.releaseStack(ctx, parent.gctx, st)
		gctx.Close(ctx)
	}

	if err := gctx.SetStackTop(st.top); err != nil {
		undo()
		return 0, fmt.Errorf("install stack: %w", err)
	}

	t := newThread(gctx, st, detached)
	if err := m.register(t); err != nil {
		undo()
		return 0, err
	}

	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	tctx = withThread(tctx, m, t)
	t.cancel = cancel

	m.hostThreads.Add(1)
	host, err := m.cfg.launcher.Launch(func() { m.bootstrap(tctx, t, entry) })
	if err != nil {
		m.hostThreads.Done()
		cancel()
		m.remove(t)
		t.abandon()
		undo()
		m.log.Warn("launch host thread failed", zap.Error(err))
		return 0, fmt.Errorf("launch host thread: %w: %w", errno.EAGAIN, err)
	}

	t.exitMu.Lock()
	t.host = host
	t.exitMu.Unlock()

	m.counters.created.Add(1)
	m.observe(EventCreated, t.handle, 0)
	close(t.ready)

	m.log.Debug("thread created",
		zap.Uint32("thread", t.handle),
		zap.Uint32("parent", parent.handle),
		zap.Uint32("stack_size", st.size),
		zap.Bool("detached", detached),
	)
	return t.handle, nil
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// acquireStack returns the stack for a new thread. A caller-supplied region
// stays owned by the caller. Otherwise size+16 bytes come from the guest
// heap and the top is rounded down to 16 bytes. A size that cannot fit in
// guest memory is rejected before anything is allocated.
func (m *Manager) acquireStack(ctx context.Context, gctx guest.Context, addr, size uint32) (stack, error) {
	if addr != 0 {
		top := (addr + size) &^ 15
		return stack{addr: addr, top: top, size: top - addr}, nil
	}

	if need := uint64(size) + 16; need > uint64(gctx.Memory().Size()) {
		return stack{}, fmt.Errorf("stack of %d bytes exceeds guest memory: %w", size, errno.EINVAL)
	}
	raw, err := gctx.Malloc(ctx, size+16)
	if err != nil {
		return stack{}, fmt.Errorf("allocate stack: %w", err)
	}
	if raw == 0 {
		return stack{}, fmt.Errorf("allocate %d byte stack: %w", size, errno.ENOMEM)
	}
	top := (raw + size + 16) &^ 15
	return stack{addr: raw, top: top, size: top - raw, owned: true}, nil
}

func (m *Manager) releaseStack(ctx context.Context, gctx guest.Context, st stack) {
	if !st.owned {
		return
	}
	if err := gctx.Free(ctx, st.addr); err != nil {
		m.log.Warn("free thread stack failed", zap.Uint32("addr", st.addr), zap.Error(err))
	}
}

type outcome uint8

const (
	outcomeClean outcome = iota
	outcomeCancelled
	outcomeFaulted
)

// bootstrap is the body of every host thread.
func (m *Manager) bootstrap(ctx context.Context, t *Thread, entry entryFunc) {
	defer m.hostThreads.Done()
	<-t.ready

	t.started = time.Now()
	t.tid.Store(int32(currentTID()))
	if name := t.Name(); name != "" {
		setOSName(name)
	}

	err := entry(ctx, t)

	switch m.classify(ctx, t, err) {
	case outcomeClean:
		m.runDestructors(ctx, t)
	case outcomeFaulted:
		m.counters.faulted.Add(1)
		m.observe(EventFaulted, t.handle, 0)
		m.propagateFault(t, t.gctx.Fault())
	}

	cleanup := context.WithoutCancel(ctx)
	m.releaseStack(cleanup, t.gctx, t.stack)
	m.finish(t)

	if err := t.gctx.Close(cleanup); err != nil {
		m.log.Debug("close execution context failed", zap.Uint32("thread", t.handle), zap.Error(err))
	}
}

// classify decides how the entry call ended. A fault that was copied in
// from a sibling counts as a cancellation so it is not propagated back.
func (m *Manager) classify(ctx context.Context, t *Thread, err error) outcome {
	fault := t.gctx.Fault()
	switch {
	case fault == "" && (err == nil || t.exiting.Load()):
		return outcomeClean
	case t.inherited.Load():
		return outcomeCancelled
	case fault == "" && ctx.Err() != nil:
		return outcomeCancelled
	}

	if fault == "" {
		fault = err.Error()
		t.gctx.SetFault(fault)
	}
	m.log.Warn("thread faulted", zap.Uint32("thread", t.handle), zap.String("fault", fault))
	return outcomeFaulted
}

// finish publishes the thread's exit. With no joiner waiting the host
// thread is detached here and the thread becomes terminal; a detached
// thread is also erased from the registry at this point. Otherwise the
// waiters are woken and the last of them performs the host join.
func (m *Manager) finish(t *Thread) {
	elapsed := time.Since(t.started)

	t.exitMu.Lock()
	t.finished = true
	erase := false
	if t.waitCount == 0 {
		t.host.Detach()
		t.waitCount = -1
		erase = t.detached
	} else {
		t.exitCond.Broadcast()
	}
	t.exitMu.Unlock()

	m.counters.exited.Add(1)
	m.observe(EventExited, t.handle, elapsed)
	if erase {
		m.remove(t)
	}
}

// abandon releases anyone who found t in the registry before its launch
// failed.
func (t *Thread) abandon() {
	t.exitMu.Lock()
	t.host = noHost{}
	t.finished = true
	t.exitCond.Broadcast()
	t.exitMu.Unlock()
}

type noHost struct{}

func (noHost) Join()   {}
func (noHost) Detach() {}
