package pthread_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/caffeineduck/gorux/errno"
	"github.com/caffeineduck/gorux/pthread"
)

type destructorLog struct {
	mu     sync.Mutex
	values []uint32
}

func (d *destructorLog) record(_ context.Context, args []uint32) (uint32, error) {
	d.mu.Lock()
	d.values = append(d.values, args[0])
	d.mu.Unlock()
	return 0, nil
}

func (d *destructorLog) get() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.values...)
}

func TestDestructorRunsOnCleanExit(t *testing.T) {
	h := newHarness(t)
	var log destructorLog
	key, err := h.mgr.KeyCreate(h.inst.Register(log.record))
	if err != nil {
		t.Fatalf("KeyCreate failed: %v", err)
	}
	unused, _ := h.mgr.KeyCreate(h.inst.Register(log.record))

	fn := h.inst.Register(func(ctx context.Context, _ []uint32) (uint32, error) {
		m := pthread.ManagerFrom(ctx)
		if err := m.SetSpecific(ctx, key, 77); err != nil {
			return 0, err
		}
		v, err := m.GetSpecific(ctx, key)
		if v != 77 || err != nil {
			return 0, errors.New("value not stored")
		}
		v, _ = m.GetSpecific(ctx, unused)
		return v, nil
	})

	th := h.create(t, pthread.CreateRequest{Entry: fn})
	if ret, err := h.mgr.Join(h.ctx, th); err != nil || ret != 0 {
		t.Fatalf("Join = %d, %v; fresh slot should read 0", ret, err)
	}

	got := log.get()
	if len(got) != 1 || got[0] != 77 {
		t.Errorf("expected one destructor call with 77, got %v", got)
	}
}

func TestDestructorRunsAfterExit(t *testing.T) {
	h := newHarness(t)
	var log destructorLog
	key, _ := h.mgr.KeyCreate(h.inst.Register(log.record))

	fn := h.inst.Register(func(ctx context.Context, _ []uint32) (uint32, error) {
		m := pthread.ManagerFrom(ctx)
		m.SetSpecific(ctx, key, 9)
		m.Exit(ctx, 1)
		return 0, nil
	})

	th := h.create(t, pthread.CreateRequest{Entry: fn})
	h.mgr.Join(h.ctx, th)

	if got := log.get(); len(got) != 1 || got[0] != 9 {
		t.Errorf("expected one destructor call with 9, got %v", got)
	}
}

func TestNoDestructorOnFault(t *testing.T) {
	h := newHarness(t)
	var log destructorLog
	key, _ := h.mgr.KeyCreate(h.inst.Register(log.record))

	fn := h.inst.Register(func(ctx context.Context, _ []uint32) (uint32, error) {
		pthread.ManagerFrom(ctx).SetSpecific(ctx, key, 5)
		return 0, errors.New("integer divide by zero")
	})

	th := h.create(t, pthread.CreateRequest{Entry: fn})
	h.mgr.Join(h.ctx, th)

	if got := log.get(); len(got) != 0 {
		t.Errorf("expected no destructor calls after fault, got %v", got)
	}
}

func TestKeyTable(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < pthread.MaxKeys; i++ {
		if _, err := h.mgr.KeyCreate(0); err != nil {
			t.Fatalf("KeyCreate %d failed: %v", i, err)
		}
	}
	if _, err := h.mgr.KeyCreate(0); !errors.Is(err, errno.EAGAIN) {
		t.Fatalf("full table: expected EAGAIN, got %v", err)
	}

	if err := h.mgr.KeyDelete(5); err != nil {
		t.Fatalf("KeyDelete failed: %v", err)
	}
	if err := h.mgr.KeyDelete(5); !errors.Is(err, errno.EINVAL) {
		t.Errorf("double delete: expected EINVAL, got %v", err)
	}
	if k, err := h.mgr.KeyCreate(0); err != nil || k != 5 {
		t.Errorf("expected freed slot 5 reused, got %d, %v", k, err)
	}

	if err := h.mgr.SetSpecific(h.ctx, pthread.MaxKeys, 1); !errors.Is(err, errno.EINVAL) {
		t.Errorf("out of range key: expected EINVAL, got %v", err)
	}
	if _, err := h.mgr.GetSpecific(context.Background(), 0); !errno.IsFatal(err) {
		t.Errorf("unmanaged caller: expected fatal error, got %v", err)
	}
}
