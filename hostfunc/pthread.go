package hostfunc

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/caffeineduck/gorux/errno"
	"github.com/caffeineduck/gorux/guest"
	"github.com/caffeineduck/gorux/handle"
	"github.com/caffeineduck/gorux/primitive"
	"github.com/caffeineduck/gorux/pthread"
)

// maxNameRead bounds how much of a guest name string is read.
const maxNameRead = 256

func registerPthread(r *Registry) {
	op := func(id OpID, name, sig string, fn func(ctx context.Context, m *pthread.Manager, mem guest.Memory, args []uint64) (uint32, error)) Op {
		return Op{ID: id, Module: ModulePthread, Name: name, Sig: sig, Func: managed(fn)}
	}

	r.mustRegister(
		op(OpMutexInit, "pthread_mutex_init", "**", mutexInit),
		op(OpMutexLock, "pthread_mutex_lock", "*", slotOp(func(ctx context.Context, m *pthread.Manager, s wordSlot) error {
			return m.MutexLock(ctx, s, primitive.NoDeadline)
		})),
		op(OpMutexTryLock, "pthread_mutex_trylock", "*", slotOp(func(ctx context.Context, m *pthread.Manager, s wordSlot) error {
			return m.MutexTryLock(ctx, s)
		})),
		op(OpMutexTimedLock, "pthread_mutex_timedlock", "*I", timedSlotOp(func(ctx context.Context, m *pthread.Manager, s handle.Slot, d primitive.Deadline) error {
			return m.MutexLock(ctx, s, d)
		})),
		op(OpMutexUnlock, "pthread_mutex_unlock", "*", slotOp(func(ctx context.Context, m *pthread.Manager, s wordSlot) error {
			return m.MutexUnlock(ctx, s.Load())
		})),
		op(OpMutexDestroy, "pthread_mutex_destroy", "*", destroyOp((*pthread.Manager).MutexDestroy)),

		op(OpCondInit, "pthread_cond_init", "**", slotOp(func(_ context.Context, m *pthread.Manager, s wordSlot) error {
			return m.CondInit(s)
		})),
		op(OpCondDestroy, "pthread_cond_destroy", "*", destroyOp((*pthread.Manager).CondDestroy)),
		op(OpCondWait, "pthread_cond_wait", "**", condWait(false)),
		op(OpCondTimedWait, "pthread_cond_timedwait", "**I", condWait(true)),
		op(OpCondBroadcast, "pthread_cond_broadcast", "*", slotOp(func(_ context.Context, m *pthread.Manager, s wordSlot) error {
			return m.CondBroadcast(s)
		})),
		op(OpCondSignal, "pthread_cond_signal", "*", slotOp(func(_ context.Context, m *pthread.Manager, s wordSlot) error {
			return m.CondSignal(s)
		})),

		op(OpRWLockInit, "pthread_rwlock_init", "**", slotOp(func(_ context.Context, m *pthread.Manager, s wordSlot) error {
			return m.RWLockInit(s)
		})),
		op(OpRWLockDestroy, "pthread_rwlock_destroy", "*", destroyOp((*pthread.Manager).RWLockDestroy)),
		op(OpRWLockRdLock, "pthread_rwlock_rdlock", "*", slotOp(func(ctx context.Context, m *pthread.Manager, s wordSlot) error {
			return m.RWLockRead(ctx, s, primitive.NoDeadline)
		})),
		op(OpRWLockTryRdLock, "pthread_rwlock_tryrdlock", "*", slotOp(func(ctx context.Context, m *pthread.Manager, s wordSlot) error {
			return m.RWLockTryRead(ctx, s)
		})),
		op(OpRWLockTimedRdLock, "pthread_rwlock_timedrdlock", "*I", timedSlotOp(func(ctx context.Context, m *pthread.Manager, s handle.Slot, d primitive.Deadline) error {
			return m.RWLockRead(ctx, s, d)
		})),
		op(OpRWLockWrLock, "pthread_rwlock_wrlock", "*", slotOp(func(ctx context.Context, m *pthread.Manager, s wordSlot) error {
			return m.RWLockWrite(ctx, s, primitive.NoDeadline)
		})),
		op(OpRWLockTryWrLock, "pthread_rwlock_trywrlock", "*", slotOp(func(ctx context.Context, m *pthread.Manager, s wordSlot) error {
			return m.RWLockTryWrite(ctx, s)
		})),
		op(OpRWLockTimedWrLock, "pthread_rwlock_timedwrlock", "*I", timedSlotOp(func(ctx context.Context, m *pthread.Manager, s handle.Slot, d primitive.Deadline) error {
			return m.RWLockWrite(ctx, s, d)
		})),
		op(OpRWLockUnlock, "pthread_rwlock_unlock", "*", slotOp(func(ctx context.Context, m *pthread.Manager, s wordSlot) error {
			return m.RWLockUnlock(ctx, s.Load())
		})),

		op(OpSemInit, "sem_init", "*ii", semInit),
		op(OpSemWait, "sem_wait", "*", slotOp(func(ctx context.Context, m *pthread.Manager, s wordSlot) error {
			return m.SemWait(ctx, s.Load(), primitive.NoDeadline)
		})),
		op(OpSemTryWait, "sem_trywait", "*", slotOp(func(_ context.Context, m *pthread.Manager, s wordSlot) error {
			return m.SemTryWait(s.Load())
		})),
		op(OpSemTimedWait, "sem_timedwait", "*I", timedSlotOp(func(ctx context.Context, m *pthread.Manager, s handle.Slot, d primitive.Deadline) error {
			return m.SemWait(ctx, s.Load(), d)
		})),
		op(OpSemPost, "sem_post", "*", slotOp(func(_ context.Context, m *pthread.Manager, s wordSlot) error {
			return m.SemPost(s.Load())
		})),
		op(OpSemGetValue, "sem_getvalue", "**", semGetValue),
		op(OpSemDestroy, "sem_destroy", "*", destroyOp((*pthread.Manager).SemDestroy)),

		op(OpThreadCreate, "pthread_create", "*", threadCreate),
		op(OpThreadSelf, "pthread_self", "", func(ctx context.Context, m *pthread.Manager, _ guest.Memory, _ []uint64) (uint32, error) {
			return m.Self(ctx), nil
		}),
		op(OpThreadExit, "pthread_exit", "i", func(ctx context.Context, m *pthread.Manager, _ guest.Memory, args []uint64) (uint32, error) {
			return 0, m.Exit(ctx, uint32(args[0]))
		}),
		op(OpThreadJoin, "pthread_join", "i*", threadJoin),
		op(OpThreadDetach, "pthread_detach", "i", func(ctx context.Context, m *pthread.Manager, _ guest.Memory, args []uint64) (uint32, error) {
			return 0, m.Detach(ctx, uint32(args[0]))
		}),

		op(OpKeyCreate, "pthread_key_create", "*i", keyCreate),
		op(OpKeyDelete, "pthread_key_delete", "i", func(_ context.Context, m *pthread.Manager, _ guest.Memory, args []uint64) (uint32, error) {
			return 0, m.KeyDelete(uint32(args[0]))
		}),
		op(OpSetSpecific, "pthread_setspecific", "ii", func(ctx context.Context, m *pthread.Manager, _ guest.Memory, args []uint64) (uint32, error) {
			return 0, m.SetSpecific(ctx, uint32(args[0]), uint32(args[1]))
		}),
		op(OpGetSpecific, "pthread_getspecific", "i", getSpecific),

		op(OpSetName, "pthread_setname_np", "*", setName),
		op(OpGetName, "pthread_getname_np", "*i", getName),
	)

	// wasi-threads reports failure as a negative errno instead of a code.
	r.mustRegister(Op{
		ID:     OpThreadSpawn,
		Module: ModuleWasi,
		Name:   "thread-spawn",
		Sig:    "i",
		Func: managed(func(ctx context.Context, m *pthread.Manager, _ guest.Memory, args []uint64) (uint32, error) {
			h, err := m.Spawn(ctx, uint32(args[0]))
			if err != nil {
				if errno.IsFatal(err) {
					return 0, err
				}
				return uint32(-int32(errno.Of(err))), nil
			}
			return h, nil
		}),
	})
}

type managedFunc = func(ctx context.Context, m *pthread.Manager, mem guest.Memory, args []uint64) (uint32, error)

// slotOp adapts an operation whose first argument is a handle word.
func slotOp(fn func(ctx context.Context, m *pthread.Manager, s wordSlot) error) managedFunc {
	return func(ctx context.Context, m *pthread.Manager, mem guest.Memory, args []uint64) (uint32, error) {
		s, err := slotArg(mem, args, 0)
		if err != nil {
			return 0, err
		}
		return 0, fn(ctx, m, s)
	}
}

// timedSlotOp is slotOp with a trailing microsecond timeout.
func timedSlotOp(fn func(ctx context.Context, m *pthread.Manager, s handle.Slot, d primitive.Deadline) error) managedFunc {
	return func(ctx context.Context, m *pthread.Manager, mem guest.Memory, args []uint64) (uint32, error) {
		s, err := slotArg(mem, args, 0)
		if err != nil {
			return 0, err
		}
		return 0, fn(ctx, m, s, primitive.DeadlineAfter(args[1]))
	}
}

// destroyOp destroys the handle in the first argument and clears the word.
func destroyOp(fn func(m *pthread.Manager, h uint32) error) managedFunc {
	return slotOp(func(_ context.Context, m *pthread.Manager, s wordSlot) error {
		if err := fn(m, s.Load()); err != nil {
			return err
		}
		s.Store(0)
		return nil
	})
}

func mutexInit(_ context.Context, m *pthread.Manager, mem guest.Memory, args []uint64) (uint32, error) {
	s, err := slotArg(mem, args, 0)
	if err != nil {
		return 0, err
	}
	kind := primitive.MutexNormal
	if attr := uint32(args[1]); attr != 0 {
		bits, ok := mem.ReadUint32Le(attr)
		if !ok {
			return 0, errno.EFAULT
		}
		if bits&MutexAttrRecursive != 0 {
			kind = primitive.MutexRecursive
		}
	}
	return 0, m.MutexInit(s, kind)
}

func condWait(timed bool) managedFunc {
	return func(ctx context.Context, m *pthread.Manager, mem guest.Memory, args []uint64) (uint32, error) {
		c, err := slotArg(mem, args, 0)
		if err != nil {
			return 0, err
		}
		mu, err := slotArg(mem, args, 1)
		if err != nil {
			return 0, err
		}
		d := primitive.NoDeadline
		if timed {
			d = primitive.DeadlineAfter(args[2])
		}
		return 0, m.CondWait(ctx, c, mu.Load(), d)
	}
}

func semInit(_ context.Context, m *pthread.Manager, mem guest.Memory, args []uint64) (uint32, error) {
	s, err := slotArg(mem, args, 0)
	if err != nil {
		return 0, err
	}
	if pshared := uint32(args[1]); pshared != 0 {
		return 0, fmt.Errorf("process-shared semaphore: %w", errno.ENOTSUP)
	}
	return 0, m.SemInit(s, uint32(args[2]))
}

func semGetValue(_ context.Context, m *pthread.Manager, mem guest.Memory, args []uint64) (uint32, error) {
	s, err := slotArg(mem, args, 0)
	if err != nil {
		return 0, err
	}
	out, err := ptrArg(mem, args, 1, 4)
	if err != nil {
		return 0, err
	}
	v, err := m.SemValue(s.Load())
	if err != nil {
		return 0, err
	}
	mem.WriteUint32Le(out, v)
	return 0, nil
}

func threadCreate(ctx context.Context, m *pthread.Manager, mem guest.Memory, args []uint64) (uint32, error) {
	p, err := ptrArg(mem, args, 0, CreateReqSize)
	if err != nil {
		return 0, err
	}
	raw, _ := mem.Read(p, CreateReqSize)
	field := func(off int) uint32 {
		return binary.LittleEndian.Uint32(raw[off:])
	}

	h, err := m.Create(ctx, pthread.CreateRequest{
		Entry:     field(createReqEntry),
		Arg:       field(createReqArg),
		StackSize: field(createReqStackSize),
		StackAddr: field(createReqStackAddr),
		Detached:  field(createReqFlags)&CreateDetached != 0,
	})
	if err != nil {
		return 0, err
	}
	mem.WriteUint32Le(p+createReqHandle, h)
	return 0, nil
}

func threadJoin(ctx context.Context, m *pthread.Manager, mem guest.Memory, args []uint64) (uint32, error) {
	out := uint32(args[1])
	if out != 0 && !guest.Validate(mem, out, 4) {
		return 0, errno.EFAULT
	}
	ret, err := m.Join(ctx, uint32(args[0]))
	if err != nil {
		return 0, err
	}
	if out != 0 {
		mem.WriteUint32Le(out, ret)
	}
	return 0, nil
}

func keyCreate(_ context.Context, m *pthread.Manager, mem guest.Memory, args []uint64) (uint32, error) {
	out, err := ptrArg(mem, args, 0, 4)
	if err != nil {
		return 0, err
	}
	key, err := m.KeyCreate(uint32(args[1]))
	if err != nil {
		return 0, err
	}
	mem.WriteUint32Le(out, key)
	return 0, nil
}

// getSpecific returns the value itself, so errors read as a zero value.
func getSpecific(ctx context.Context, m *pthread.Manager, _ guest.Memory, args []uint64) (uint32, error) {
	v, err := m.GetSpecific(ctx, uint32(args[0]))
	if err != nil && errno.IsFatal(err) {
		return 0, err
	}
	return v, nil
}

func setName(ctx context.Context, m *pthread.Manager, mem guest.Memory, args []uint64) (uint32, error) {
	name, ok := guest.ReadString(mem, uint32(args[0]), maxNameRead)
	if !ok || args[0] == 0 {
		return 0, errno.EFAULT
	}
	return 0, m.SetName(ctx, m.Self(ctx), name)
}

func getName(ctx context.Context, m *pthread.Manager, mem guest.Memory, args []uint64) (uint32, error) {
	size := uint32(args[1])
	buf, err := ptrArg(mem, args, 0, size)
	if err != nil {
		return 0, err
	}
	name, err := m.Name(m.Self(ctx))
	if err != nil {
		return 0, err
	}
	if uint32(len(name)) >= size {
		return 0, errno.ERANGE
	}
	guest.WriteString(mem, buf, size, name)
	return 0, nil
}
