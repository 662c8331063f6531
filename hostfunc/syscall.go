package hostfunc

import (
	"context"
	"fmt"

	"github.com/caffeineduck/gorux/errno"
	"github.com/caffeineduck/gorux/guest"
)

// SyscallOp returns the wamr_ext_syscall(id, argc, argv) dispatcher over r.
// argv points to argc 16-byte slots, each holding one argument in its low
// bytes.
func SyscallOp(r *Registry) Op {
	return Op{
		Module: ModuleWamrExt,
		Name:   "wamr_ext_syscall",
		Sig:    "ii*",
		Func: func(ctx context.Context, mem guest.Memory, args []uint64) (uint32, error) {
			return r.Syscall(ctx, mem, OpID(args[0]), uint32(args[1]), uint32(args[2]))
		},
	}
}

// Syscall dispatches op id with arguments unpacked from argv.
func (r *Registry) Syscall(ctx context.Context, mem guest.Memory, id OpID, argc, argv uint32) (uint32, error) {
	op, ok := r.Lookup(id)
	if !ok {
		return 0, fmt.Errorf("syscall %d: %w", id, errno.ENOSYS)
	}
	if int(argc) != len(op.Sig) {
		return 0, fmt.Errorf("syscall %s: %d arguments, want %d: %w", op.Name, argc, len(op.Sig), errno.EINVAL)
	}
	if argc > 0 && (argv == 0 || !guest.Validate(mem, argv, argc*SyscallArgSize)) {
		return 0, errno.EFAULT
	}

	args := make([]uint64, argc)
	for i, kind := range op.Sig {
		slot := argv + uint32(i)*SyscallArgSize
		if kind == 'I' {
			args[i], _ = mem.ReadUint64Le(slot)
		} else {
			v, _ := mem.ReadUint32Le(slot)
			args[i] = uint64(v)
		}
	}
	return Call(ctx, mem, op, args)
}
