package hostfunc

import (
	"context"

	"github.com/caffeineduck/gorux/errno"
	"github.com/caffeineduck/gorux/guest"
	"github.com/caffeineduck/gorux/pthread"
)

// Import modules.
const (
	ModulePthread = "pthread_ext"
	ModuleWamrExt = "wamr_ext"
	ModuleWasi    = "wasi"
)

// Operation ids. 1 and 100-130 keep the numbering of the wamr_ext syscall
// ABI; the rest extend it.
const (
	OpSysctl OpID = 1

	OpMutexInit      OpID = 100
	OpMutexTimedLock OpID = 101
	OpMutexUnlock    OpID = 102
	OpMutexDestroy   OpID = 103
	OpMutexLock      OpID = 104
	OpMutexTryLock   OpID = 105

	OpCondInit      OpID = 110
	OpCondTimedWait OpID = 111
	OpCondBroadcast OpID = 112
	OpCondSignal    OpID = 113
	OpCondDestroy   OpID = 114
	OpCondWait      OpID = 115

	OpRWLockInit        OpID = 120
	OpRWLockTimedRdLock OpID = 121
	OpRWLockTimedWrLock OpID = 122
	OpRWLockUnlock      OpID = 123
	OpRWLockDestroy     OpID = 124
	OpRWLockRdLock      OpID = 125
	OpRWLockTryRdLock   OpID = 126
	OpRWLockWrLock      OpID = 127
	OpRWLockTryWrLock   OpID = 128

	OpSetName OpID = 130
	OpGetName OpID = 131

	OpSemInit      OpID = 140
	OpSemWait      OpID = 141
	OpSemTryWait   OpID = 142
	OpSemTimedWait OpID = 143
	OpSemPost      OpID = 144
	OpSemGetValue  OpID = 145
	OpSemDestroy   OpID = 146

	OpThreadCreate OpID = 150
	OpThreadSelf   OpID = 151
	OpThreadExit   OpID = 152
	OpThreadJoin   OpID = 153
	OpThreadDetach OpID = 154
	OpThreadSpawn  OpID = 155

	OpKeyCreate   OpID = 160
	OpKeyDelete   OpID = 161
	OpSetSpecific OpID = 162
	OpGetSpecific OpID = 163
)

// Guest struct layouts. All fields are little-endian u32.
const (
	// thread_create_req {entry, arg, stack_size, stack_addr, flags, ret_handle}
	CreateReqSize      = 24
	createReqEntry     = 0
	createReqArg       = 4
	createReqStackSize = 8
	createReqStackAddr = 12
	createReqFlags     = 16
	createReqHandle    = 20

	// CreateDetached is bit 0 of thread_create_req.flags.
	CreateDetached = 1 << 0
	// MutexAttrRecursive is bit 0 of the mutex attribute word.
	MutexAttrRecursive = 1 << 0

	// SyscallArgSize is the size of one wamr_ext_syscall argument slot.
	SyscallArgSize = 16
)

var errNoManager = errno.Fatal("no thread manager bound to context")

// managed adapts a function that needs the calling context's Manager.
func managed(fn func(ctx context.Context, m *pthread.Manager, mem guest.Memory, args []uint64) (uint32, error)) Func {
	return func(ctx context.Context, mem guest.Memory, args []uint64) (uint32, error) {
		m := pthread.ManagerFrom(ctx)
		if m == nil {
			return 0, errNoManager
		}
		return fn(ctx, m, mem, args)
	}
}

// wordSlot is a handle stored in a guest word.
type wordSlot struct {
	mem guest.Memory
	ptr uint32
}

func (s wordSlot) Load() uint32 {
	v, _ := s.mem.ReadUint32Le(s.ptr)
	return v
}

func (s wordSlot) Store(h uint32) {
	s.mem.WriteUint32Le(s.ptr, h)
}

// ptrArg returns args[i] as a pointer to size valid bytes.
func ptrArg(mem guest.Memory, args []uint64, i int, size uint32) (uint32, error) {
	p := uint32(args[i])
	if p == 0 || !guest.Validate(mem, p, size) {
		return 0, errno.EFAULT
	}
	return p, nil
}

// slotArg returns args[i] as a handle word.
func slotArg(mem guest.Memory, args []uint64, i int) (wordSlot, error) {
	p, err := ptrArg(mem, args, i, 4)
	if err != nil {
		return wordSlot{}, err
	}
	return wordSlot{mem: mem, ptr: p}, nil
}
