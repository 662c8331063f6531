package primitive

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caffeineduck/gorux/errno"
)

const (
	ownerA uint32 = 1
	ownerB uint32 = 2
)

func TestDeadlineAfter(t *testing.T) {
	if d := DeadlineAfter(Forever); !d.forever {
		t.Error("max duration should wait forever")
	}
	if d := DeadlineAfter(0); !d.poll {
		t.Error("zero duration should poll")
	}
	d := DeadlineAfter(1500)
	if d.forever || d.poll {
		t.Fatal("finite duration treated as sentinel")
	}
	if until := time.Until(d.at); until <= 0 || until > 2*time.Millisecond {
		t.Errorf("deadline %v out of range", until)
	}
}

func TestMutexNormal(t *testing.T) {
	m := NewMutex(MutexNormal)
	ctx := context.Background()

	if err := m.Lock(ctx, ownerA, NoDeadline); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if err := m.Lock(ctx, ownerA, NoDeadline); !errors.Is(err, errno.EDEADLK) {
		t.Errorf("relock: expected EDEADLK, got %v", err)
	}
	if err := m.TryLock(ownerB); !errors.Is(err, errno.EBUSY) {
		t.Errorf("trylock: expected EBUSY, got %v", err)
	}
	if err := m.Unlock(ownerB); !errors.Is(err, errno.EPERM) {
		t.Errorf("foreign unlock: expected EPERM, got %v", err)
	}
	if err := m.Unlock(ownerA); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if err := m.TryLock(ownerB); err != nil {
		t.Errorf("trylock after unlock failed: %v", err)
	}
}

func TestMutexRecursive(t *testing.T) {
	m := NewMutex(MutexRecursive)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := m.Lock(ctx, ownerA, NoDeadline); err != nil {
			t.Fatalf("Lock %d failed: %v", i, err)
		}
	}
	for i := 0; i < 2; i++ {
		m.Unlock(ownerA)
	}
	if err := m.TryLock(ownerB); !errors.Is(err, errno.EBUSY) {
		t.Errorf("expected mutex still held, got %v", err)
	}
	m.Unlock(ownerA)
	if err := m.TryLock(ownerB); err != nil {
		t.Errorf("expected mutex free, got %v", err)
	}
}

func TestMutexTimedLock(t *testing.T) {
	m := NewMutex(MutexNormal)
	ctx := context.Background()
	m.Lock(ctx, ownerA, NoDeadline)

	start := time.Now()
	err := m.Lock(ctx, ownerB, DeadlineAfter(20_000))
	if !errors.Is(err, errno.ETIMEDOUT) {
		t.Fatalf("expected ETIMEDOUT, got %v", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("timed lock returned too early")
	}

	if err := m.Lock(ctx, ownerB, DeadlineAfter(0)); !errors.Is(err, errno.ETIMEDOUT) {
		t.Errorf("zero timeout: expected ETIMEDOUT, got %v", err)
	}
}

func TestMutexHandoff(t *testing.T) {
	m := NewMutex(MutexNormal)
	ctx := context.Background()
	m.Lock(ctx, ownerA, NoDeadline)

	done := make(chan error, 1)
	go func() { done <- m.Lock(ctx, ownerB, NoDeadline) }()

	time.Sleep(10 * time.Millisecond)
	m.Unlock(ownerA)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waiter failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by unlock")
	}
}

func TestMutexCancel(t *testing.T) {
	m := NewMutex(MutexNormal)
	m.Lock(context.Background(), ownerA, NoDeadline)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Lock(ctx, ownerB, NoDeadline) }()

	cancel()
	if err := <-done; !errors.Is(err, errno.ECANCELED) {
		t.Errorf("expected ECANCELED, got %v", err)
	}
}

func TestMutexMutualExclusion(t *testing.T) {
	m := NewMutex(MutexNormal)
	ctx := context.Background()

	var inside, violations int32
	var wg sync.WaitGroup
	for i := uint32(1); i <= 8; i++ {
		wg.Add(1)
		go func(owner uint32) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Lock(ctx, owner, NoDeadline)
				if atomic.AddInt32(&inside, 1) != 1 {
					atomic.AddInt32(&violations, 1)
				}
				atomic.AddInt32(&inside, -1)
				m.Unlock(owner)
			}
		}(i)
	}
	wg.Wait()

	if violations != 0 {
		t.Errorf("%d mutual exclusion violations", violations)
	}
}

func TestCondSignal(t *testing.T) {
	m := NewMutex(MutexNormal)
	c := NewCond()
	ctx := context.Background()

	ready := false
	done := make(chan error, 1)
	go func() {
		m.Lock(ctx, ownerB, NoDeadline)
		var err error
		for !ready && err == nil {
			err = c.Wait(ctx, m, ownerB, NoDeadline)
		}
		m.Unlock(ownerB)
		done <- err
	}()

	for c.Waiters() == 0 {
		time.Sleep(time.Millisecond)
	}
	m.Lock(ctx, ownerA, NoDeadline)
	ready = true
	c.Signal()
	m.Unlock(ownerA)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not signalled")
	}
}

func TestCondBroadcast(t *testing.T) {
	m := NewMutex(MutexNormal)
	c := NewCond()
	ctx := context.Background()

	const n = 4
	var wg sync.WaitGroup
	for i := uint32(1); i <= n; i++ {
		wg.Add(1)
		go func(owner uint32) {
			defer wg.Done()
			m.Lock(ctx, owner, NoDeadline)
			c.Wait(ctx, m, owner, NoDeadline)
			m.Unlock(owner)
		}(i)
	}

	for c.Waiters() < n {
		time.Sleep(time.Millisecond)
	}
	c.Broadcast()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast did not wake all waiters")
	}
}

func TestCondTimedWaitReacquires(t *testing.T) {
	m := NewMutex(MutexRecursive)
	c := NewCond()
	ctx := context.Background()

	m.Lock(ctx, ownerA, NoDeadline)
	m.Lock(ctx, ownerA, NoDeadline)

	err := c.Wait(ctx, m, ownerA, DeadlineAfter(5_000))
	if !errors.Is(err, errno.ETIMEDOUT) {
		t.Fatalf("expected ETIMEDOUT, got %v", err)
	}
	if c.Waiters() != 0 {
		t.Error("timed out waiter left in queue")
	}

	// Depth 2 must be restored.
	m.Unlock(ownerA)
	if err := m.TryLock(ownerB); !errors.Is(err, errno.EBUSY) {
		t.Errorf("expected recursion depth restored, got %v", err)
	}
	m.Unlock(ownerA)
}

func TestCondWaitWithoutMutex(t *testing.T) {
	m := NewMutex(MutexNormal)
	c := NewCond()

	err := c.Wait(context.Background(), m, ownerA, NoDeadline)
	if !errors.Is(err, errno.EPERM) {
		t.Errorf("expected EPERM, got %v", err)
	}
	if c.Waiters() != 0 {
		t.Error("failed wait left a waiter")
	}
}

func TestRWLock(t *testing.T) {
	l := NewRWLock()
	ctx := context.Background()

	if err := l.RLock(ctx, ownerA, NoDeadline); err != nil {
		t.Fatalf("RLock failed: %v", err)
	}
	if err := l.RLock(ctx, ownerB, NoDeadline); err != nil {
		t.Fatalf("second reader failed: %v", err)
	}
	if err := l.TryLock(3); !errors.Is(err, errno.EBUSY) {
		t.Errorf("writer with readers: expected EBUSY, got %v", err)
	}
	if err := l.Lock(ctx, ownerA, NoDeadline); !errors.Is(err, errno.EDEADLK) {
		t.Errorf("upgrade: expected EDEADLK, got %v", err)
	}

	l.Unlock(ownerA)
	l.Unlock(ownerB)

	if err := l.Lock(ctx, 3, DeadlineAfter(0)); err != nil {
		t.Fatalf("writer on free lock failed: %v", err)
	}
	if err := l.TryRLock(ownerA); !errors.Is(err, errno.EBUSY) {
		t.Errorf("reader with writer: expected EBUSY, got %v", err)
	}
	if err := l.RLock(ctx, ownerA, DeadlineAfter(1_000)); !errors.Is(err, errno.ETIMEDOUT) {
		t.Errorf("timed reader: expected ETIMEDOUT, got %v", err)
	}
	if err := l.Unlock(ownerA); !errors.Is(err, errno.EPERM) {
		t.Errorf("foreign unlock: expected EPERM, got %v", err)
	}
	if err := l.Unlock(3); err != nil {
		t.Errorf("writer unlock failed: %v", err)
	}
}

func TestSemaphore(t *testing.T) {
	s, err := NewSemaphore(1)
	if err != nil {
		t.Fatalf("NewSemaphore failed: %v", err)
	}
	ctx := context.Background()

	if err := s.Wait(ctx, NoDeadline); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if err := s.TryWait(); !errors.Is(err, errno.EAGAIN) {
		t.Errorf("expected EAGAIN, got %v", err)
	}
	if err := s.Wait(ctx, DeadlineAfter(0)); !errors.Is(err, errno.ETIMEDOUT) {
		t.Errorf("zero timeout: expected ETIMEDOUT, got %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Wait(ctx, NoDeadline) }()
	time.Sleep(5 * time.Millisecond)
	s.Post()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waiter failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("post did not wake waiter")
	}
	if s.Value() != 0 {
		t.Errorf("expected value 0, got %d", s.Value())
	}
}

func TestSemaphoreLimits(t *testing.T) {
	if _, err := NewSemaphore(SemValueMax + 1); !errors.Is(err, errno.EINVAL) {
		t.Errorf("expected EINVAL, got %v", err)
	}
	s, _ := NewSemaphore(SemValueMax)
	if err := s.Post(); !errors.Is(err, errno.EOVERFLOW) {
		t.Errorf("expected EOVERFLOW, got %v", err)
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	s, _ := NewSemaphore(0)
	done := make(chan error, 1)
	go func() { done <- s.Wait(context.Background(), NoDeadline) }()

	time.Sleep(5 * time.Millisecond)
	s.Close()

	if err := <-done; !errors.Is(err, errno.EINVAL) {
		t.Errorf("expected EINVAL after close, got %v", err)
	}
}
