package pthread

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caffeineduck/gorux/guest"
)

// stack describes a thread's auxiliary stack inside guest memory.
type stack struct {
	addr  uint32
	top   uint32
	size  uint32
	owned bool
}

// Thread is one logical guest thread.
type Thread struct {
	handle  uint32
	gctx    guest.Context
	stack   stack
	cancel  context.CancelFunc
	ready   chan struct{}
	started time.Time

	// tls is touched only from the thread's own host thread.
	tls [MaxKeys]uint32

	tid       atomic.Int32
	exiting   atomic.Bool
	inherited atomic.Bool
	cancelled atomic.Bool

	nameMu sync.Mutex
	name   string

	// exitMu guards the join/detach protocol. waitCount is -1 once the
	// thread is terminal, 0 while nobody waits and N with N blocked joiners.
	exitMu    sync.Mutex
	exitCond  *sync.Cond
	host      HostThread
	waitCount int32
	detached  bool
	finished  bool
	retval    uint32
}

func newThread(gctx guest.Context, st stack, detached bool) *Thread {
	t := &Thread{
		gctx:     gctx,
		stack:    st,
		detached: detached,
		ready:    make(chan struct{}),
	}
	t.exitCond = sync.NewCond(&t.exitMu)
	return t
}

// Handle returns the guest-visible thread handle.
func (t *Thread) Handle() uint32 {
	return t.handle
}

// Guest returns the thread's execution context.
func (t *Thread) Guest() guest.Context {
	return t.gctx
}

// TID returns the host OS thread id, or 0 before the thread started or on
// platforms without thread ids.
func (t *Thread) TID() int {
	return int(t.tid.Load())
}

// Name returns the name set with SetName.
func (t *Thread) Name() string {
	t.nameMu.Lock()
	defer t.nameMu.Unlock()
	return t.name
}

type ctxKey int

const (
	managerKey ctxKey = iota
	threadKey
)

// ManagerFrom returns the Manager bound to ctx, or nil.
func ManagerFrom(ctx context.Context) *Manager {
	m, _ := ctx.Value(managerKey).(*Manager)
	return m
}

// ThreadFrom returns the calling thread bound to ctx, or nil.
func ThreadFrom(ctx context.Context) *Thread {
	t, _ := ctx.Value(threadKey).(*Thread)
	return t
}

func withThread(ctx context.Context, m *Manager, t *Thread) context.Context {
	ctx = context.WithValue(ctx, managerKey, m)
	return context.WithValue(ctx, threadKey, t)
}
