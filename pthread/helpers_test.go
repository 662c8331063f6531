package pthread_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caffeineduck/gorux/guest"
	"github.com/caffeineduck/gorux/guest/guesttest"
	"github.com/caffeineduck/gorux/pthread"
)

// countingLauncher runs bodies on goroutines and counts host joins.
type countingLauncher struct {
	launched atomic.Int32
	joins    atomic.Int32
	refuse   atomic.Bool
}

type countedThread struct {
	l    *countingLauncher
	done chan struct{}
}

func (l *countingLauncher) Launch(fn func()) (pthread.HostThread, error) {
	if l.refuse.Load() {
		return nil, errors.New("launch refused")
	}
	l.launched.Add(1)
	h := &countedThread{l: l, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		fn()
	}()
	return h, nil
}

func (h *countedThread) Join() {
	h.l.joins.Add(1)
	<-h.done
}

func (h *countedThread) Detach() {}

type harness struct {
	inst     *guesttest.Instance
	mgr      *pthread.Manager
	ctx      context.Context
	launcher *countingLauncher
}

func newHarness(t *testing.T, opts ...pthread.Option) *harness {
	t.Helper()

	inst := guesttest.NewInstance()
	l := &countingLauncher{}
	mgr := pthread.New(inst.Main(), append([]pthread.Option{pthread.WithLauncher(l)}, opts...)...)
	ctx := mgr.Attach(context.Background())
	t.Cleanup(func() { mgr.Close(context.Background()) })

	return &harness{inst: inst, mgr: mgr, ctx: ctx, launcher: l}
}

// blocker registers a guest function that blocks until release is closed
// and then returns ret.
func (h *harness) blocker(release <-chan struct{}, ret uint32) uint32 {
	return h.inst.Register(func(ctx context.Context, _ []uint32) (uint32, error) {
		select {
		case <-release:
			return ret, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})
}

func (h *harness) create(t *testing.T, req pthread.CreateRequest) uint32 {
	t.Helper()
	th, err := h.mgr.Create(h.ctx, req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return th
}

// memSlot stores a handle in guest memory.
type memSlot struct {
	mem guest.Memory
	ptr uint32
}

func (s memSlot) Load() uint32 {
	v, _ := s.mem.ReadUint32Le(s.ptr)
	return v
}

func (s memSlot) Store(h uint32) {
	s.mem.WriteUint32Le(s.ptr, h)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
