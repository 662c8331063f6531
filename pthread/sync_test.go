package pthread_test

import (
	"context"
	"errors"
	"testing"

	"github.com/caffeineduck/gorux/errno"
	"github.com/caffeineduck/gorux/handle"
	"github.com/caffeineduck/gorux/primitive"
	"github.com/caffeineduck/gorux/pthread"
)

func TestStaticMutexAcrossThreads(t *testing.T) {
	h := newHarness(t)
	mem := h.inst.Memory()
	const (
		mutexWord   = 1024
		counterWord = 1028
		rounds      = 200
	)
	slot := memSlot{mem: mem, ptr: mutexWord}

	worker := h.inst.Register(func(ctx context.Context, _ []uint32) (uint32, error) {
		m := pthread.ManagerFrom(ctx)
		for i := 0; i < rounds; i++ {
			if err := m.MutexLock(ctx, slot, primitive.NoDeadline); err != nil {
				return 0, err
			}
			v, _ := mem.ReadUint32Le(counterWord)
			mem.WriteUint32Le(counterWord, v+1)
			if err := m.MutexUnlock(ctx, slot.Load()); err != nil {
				return 0, err
			}
		}
		return 0, nil
	})

	var threads []uint32
	for i := 0; i < 3; i++ {
		threads = append(threads, h.create(t, pthread.CreateRequest{Entry: worker}))
	}
	for _, th := range threads {
		if _, err := h.mgr.Join(h.ctx, th); err != nil {
			t.Fatalf("Join failed: %v", err)
		}
	}

	if v, _ := mem.ReadUint32Le(counterWord); v != 3*rounds {
		t.Errorf("expected counter %d, got %d", 3*rounds, v)
	}
}

func TestMutexOwnershipIsPerThread(t *testing.T) {
	h := newHarness(t)
	var mh uint32
	if err := h.mgr.MutexInit(handle.Ptr(&mh), primitive.MutexNormal); err != nil {
		t.Fatalf("MutexInit failed: %v", err)
	}
	if err := h.mgr.MutexLock(h.ctx, handle.Ptr(&mh), primitive.NoDeadline); err != nil {
		t.Fatalf("MutexLock failed: %v", err)
	}

	foreign := h.inst.Register(func(ctx context.Context, _ []uint32) (uint32, error) {
		m := pthread.ManagerFrom(ctx)
		if err := m.MutexTryLock(ctx, handle.Ptr(&mh)); !errors.Is(err, errno.EBUSY) {
			return 1, nil
		}
		return uint32(errno.Of(m.MutexUnlock(ctx, mh))), nil
	})
	th := h.create(t, pthread.CreateRequest{Entry: foreign})
	ret, _ := h.mgr.Join(h.ctx, th)
	if errno.Errno(ret) != errno.EPERM {
		t.Errorf("foreign unlock: expected EPERM, got %v", errno.Errno(ret))
	}

	if err := h.mgr.MutexUnlock(h.ctx, mh); err != nil {
		t.Errorf("owner unlock failed: %v", err)
	}
	if err := h.mgr.MutexDestroy(mh); err != nil {
		t.Errorf("MutexDestroy failed: %v", err)
	}
	if err := h.mgr.MutexUnlock(h.ctx, mh); !errors.Is(err, errno.EINVAL) {
		t.Errorf("unlock destroyed: expected EINVAL, got %v", err)
	}
}

func TestUnlockPathsDoNotCreate(t *testing.T) {
	h := newHarness(t)

	if err := h.mgr.MutexUnlock(h.ctx, 0); !errors.Is(err, errno.EINVAL) {
		t.Errorf("mutex: expected EINVAL, got %v", err)
	}
	if err := h.mgr.RWLockUnlock(h.ctx, 0); !errors.Is(err, errno.EINVAL) {
		t.Errorf("rwlock: expected EINVAL, got %v", err)
	}
	if err := h.mgr.SemPost(0); !errors.Is(err, errno.EINVAL) {
		t.Errorf("semaphore: expected EINVAL, got %v", err)
	}
	var c uint32
	if err := h.mgr.CondWait(h.ctx, handle.Ptr(&c), 0, primitive.NoDeadline); !errors.Is(err, errno.EINVAL) {
		t.Errorf("cond without mutex: expected EINVAL, got %v", err)
	}
	if err := h.mgr.MutexDestroy(0); err != nil {
		t.Errorf("destroy of zero handle should be a no-op, got %v", err)
	}
}

func TestCondHandshake(t *testing.T) {
	h := newHarness(t)
	var mh, ch uint32
	mutex, cond := handle.Ptr(&mh), handle.Ptr(&ch)
	h.mgr.MutexInit(mutex, primitive.MutexNormal)
	h.mgr.CondInit(cond)

	mem := h.inst.Memory()
	const flag = 2048

	waiter := h.inst.Register(func(ctx context.Context, _ []uint32) (uint32, error) {
		m := pthread.ManagerFrom(ctx)
		m.MutexLock(ctx, mutex, primitive.NoDeadline)
		defer m.MutexUnlock(ctx, mh)
		for {
			if v, _ := mem.ReadUint32Le(flag); v != 0 {
				return v, nil
			}
			if err := m.CondWait(ctx, cond, mh, primitive.NoDeadline); err != nil {
				return 0, err
			}
		}
	})
	th := h.create(t, pthread.CreateRequest{Entry: waiter})

	h.mgr.MutexLock(h.ctx, mutex, primitive.NoDeadline)
	mem.WriteUint32Le(flag, 11)
	h.mgr.CondBroadcast(cond)
	h.mgr.MutexUnlock(h.ctx, mh)

	ret, err := h.mgr.Join(h.ctx, th)
	if err != nil || ret != 11 {
		t.Errorf("Join = %d, %v; want 11, nil", ret, err)
	}
}

func TestRWLockAndSemaphore(t *testing.T) {
	h := newHarness(t)

	var lh uint32
	lock := handle.Ptr(&lh)
	if err := h.mgr.RWLockRead(h.ctx, lock, primitive.NoDeadline); err != nil {
		t.Fatalf("RWLockRead failed: %v", err)
	}
	if lh == 0 {
		t.Fatal("static rwlock not created on first use")
	}
	if err := h.mgr.RWLockTryWrite(h.ctx, lock); !errors.Is(err, errno.EDEADLK) {
		t.Errorf("upgrade: expected EDEADLK, got %v", err)
	}
	h.mgr.RWLockUnlock(h.ctx, lh)
	if err := h.mgr.RWLockWrite(h.ctx, lock, primitive.DeadlineAfter(0)); err != nil {
		t.Errorf("RWLockWrite failed: %v", err)
	}
	h.mgr.RWLockUnlock(h.ctx, lh)
	if err := h.mgr.RWLockDestroy(lh); err != nil {
		t.Errorf("RWLockDestroy failed: %v", err)
	}

	var sh uint32
	if err := h.mgr.SemInit(handle.Ptr(&sh), 2); err != nil {
		t.Fatalf("SemInit failed: %v", err)
	}
	h.mgr.SemWait(h.ctx, sh, primitive.NoDeadline)
	h.mgr.SemTryWait(sh)
	if err := h.mgr.SemTryWait(sh); !errors.Is(err, errno.EAGAIN) {
		t.Errorf("expected EAGAIN, got %v", err)
	}
	if err := h.mgr.SemWait(h.ctx, sh, primitive.DeadlineAfter(1000)); !errors.Is(err, errno.ETIMEDOUT) {
		t.Errorf("expected ETIMEDOUT, got %v", err)
	}
	h.mgr.SemPost(sh)
	if v, _ := h.mgr.SemValue(sh); v != 1 {
		t.Errorf("expected value 1, got %d", v)
	}
}

func TestPrimitivesRejectedAfterClose(t *testing.T) {
	h := newHarness(t)
	var sh uint32
	h.mgr.SemInit(handle.Ptr(&sh), 0)
	h.mgr.Close(context.Background())

	if err := h.mgr.SemPost(sh); !errors.Is(err, errno.EINVAL) {
		t.Errorf("expected EINVAL after close, got %v", err)
	}
}
