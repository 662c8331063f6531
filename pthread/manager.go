package pthread

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/caffeineduck/gorux/guest"
	"github.com/caffeineduck/gorux/handle"
	"github.com/caffeineduck/gorux/primitive"
)

// Manager owns the threads and synchronization objects of one guest
// program instance.
type Manager struct {
	cfg config
	log *zap.Logger

	mu      sync.Mutex
	threads map[uint32]*Thread
	next    uint32
	closed  bool
	main    *Thread

	keysMu sync.Mutex
	keys   [MaxKeys]tlsKey

	mutexes *handle.Table[*primitive.Mutex]
	conds   *handle.Table[*primitive.Cond]
	rwlocks *handle.Table[*primitive.RWLock]
	sems    *handle.Table[*primitive.Semaphore]

	hostThreads sync.WaitGroup
	counters    counters
}

type counters struct {
	created, exited, joined, detached atomic.Uint64
	cancelled, faulted, hostJoins     atomic.Uint64
}

// New creates a Manager whose main thread runs on mainCtx.
func New(mainCtx guest.Context, opts ...Option) *Manager {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	log := cfg.logger
	if log == nil {
		log = Logger()
	}

	main := newThread(mainCtx, stack{}, true)
	main.handle = MainHandle
	main.waitCount = -1
	main.started = time.Now()
	close(main.ready)

	return &Manager{
		cfg:     cfg,
		log:     log,
		threads: map[uint32]*Thread{MainHandle: main},
		main:    main,
		mutexes: handle.NewTable((*primitive.Mutex).Close),
		conds:   handle.NewTable((*primitive.Cond).Close),
		rwlocks: handle.NewTable((*primitive.RWLock).Close),
		sems:    handle.NewTable((*primitive.Semaphore).Close),
	}
}

// Attach binds the manager and its main thread to ctx. It must be called on
// the host thread that will run the main guest code.
func (m *Manager) Attach(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	m.main.cancel = cancel
	m.main.tid.Store(int32(currentTID()))
	return withThread(ctx, m, m.main)
}

// Main returns the main thread.
func (m *Manager) Main() *Thread {
	return m.main
}

// Self returns the handle of the calling thread.
func (m *Manager) Self(ctx context.Context) uint32 {
	if t := ThreadFrom(ctx); t != nil {
		return t.handle
	}
	return MainHandle
}

// Thread returns the registered thread with handle h.
func (m *Manager) Thread(h uint32) (*Thread, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[h]
	return t, ok
}

// Len returns the number of registered threads, including main.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.threads)
}

// Stats returns a snapshot of the lifecycle counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Live:      m.Len() - 1,
		Created:   m.counters.created.Load(),
		Exited:    m.counters.exited.Load(),
		Joined:    m.counters.joined.Load(),
		Detached:  m.counters.detached.Load(),
		Cancelled: m.counters.cancelled.Load(),
		Faulted:   m.counters.faulted.Load(),
		HostJoins: m.counters.hostJoins.Load(),
	}
}

// register assigns a handle to t and inserts it into the registry.
func (m *Manager) register(t *Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errClosed
	}
	if len(m.threads)-1 >= m.cfg.maxThreads {
		return errTooManyThreads
	}
	for {
		m.next++
		if m.next == MainHandle {
			continue
		}
		if _, used := m.threads[m.next]; !used {
			break
		}
	}
	t.handle = m.next
	m.threads[t.handle] = t
	return nil
}

// remove erases t from the registry. It reports whether this call did the
// erase, so concurrent reapers agree on a single owner.
func (m *Manager) remove(t *Thread) bool {
	if t.handle == MainHandle {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.threads[t.handle]; ok && cur == t {
		delete(m.threads, t.handle)
		return true
	}
	return false
}

func (m *Manager) lookup(h uint32) (*Thread, error) {
	t, ok := m.Thread(h)
	if !ok {
		return nil, errNoThread
	}
	return t, nil
}

func (m *Manager) observe(ev Event, h uint32, d time.Duration) {
	if m.cfg.observer != nil {
		m.cfg.observer.ThreadEvent(ev, h, d)
	}
}

// Close tears the instance down: every non-main thread is cancelled and
// joined until only the main thread remains, then every launched host
// thread is awaited and the handle tables are released. Close is
// idempotent.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	for {
		victims := m.others()
		if len(victims) == 0 {
			break
		}
		m.log.Debug("cancelling threads", zap.Int("count", len(victims)))
		for _, t := range victims {
			m.cancelThread(t)
		}
		for _, t := range victims {
			m.join(ctx, t, true)
		}
	}

	m.hostThreads.Wait()

	m.mutexes.Close()
	m.conds.Close()
	m.rwlocks.Close()
	m.sems.Close()

	if m.main.cancel != nil {
		m.main.cancel()
	}
	return nil
}

// others returns every registered thread except main.
func (m *Manager) others() []*Thread {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Thread, 0, len(m.threads))
	for h, t := range m.threads {
		if h != MainHandle {
			out = append(out, t)
		}
	}
	return out
}

// cancelThread raises t's cooperative cancel flag once.
func (m *Manager) cancelThread(t *Thread) {
	if t.cancel == nil || !t.cancelled.CompareAndSwap(false, true) {
		return
	}
	t.cancel()
	m.counters.cancelled.Add(1)
	m.observe(EventCancelled, t.handle, 0)
}
