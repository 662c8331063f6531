package hostfunc

import (
	"context"
	"encoding/binary"
	"os"
	"runtime"

	"github.com/tetratelabs/wazero/api"

	"github.com/caffeineduck/gorux/errno"
	"github.com/caffeineduck/gorux/guest"
	"github.com/caffeineduck/gorux/pthread"
)

const (
	wasmPageSize = 65536
	maxWasmPages = 65536
	maxSysctlKey = 64
)

func registerSysctl(r *Registry) {
	r.mustRegister(Op{
		ID:     OpSysctl,
		Module: ModuleWamrExt,
		Name:   "wamr_ext_sysctl",
		Sig:    "***",
		Func:   sysctl,
	})
}

// sysctl answers wamr_ext_sysctl(name, buf, len). *len holds the buffer
// size on entry and the value width on success.
func sysctl(ctx context.Context, mem guest.Memory, args []uint64) (uint32, error) {
	lenPtr, err := ptrArg(mem, args, 2, 4)
	if err != nil {
		return 0, err
	}
	size, _ := mem.ReadUint32Le(lenPtr)
	if size == 0 {
		return 0, errno.ERANGE
	}
	buf, err := ptrArg(mem, args, 1, size)
	if err != nil {
		return 0, err
	}
	name, ok := guest.ReadString(mem, uint32(args[0]), maxSysctlKey)
	if !ok || args[0] == 0 {
		return 0, errno.EFAULT
	}

	var value []byte
	switch name {
	case "sysinfo.tid":
		value = binary.LittleEndian.AppendUint32(nil, uint32(threadID(ctx)))
	case "sysinfo.pid":
		value = binary.LittleEndian.AppendUint32(nil, uint32(os.Getpid()))
	case "sysinfo.cpu_count":
		value = binary.LittleEndian.AppendUint32(nil, uint32(runtime.NumCPU()))
	case "sysinfo.vm_mem_total":
		value = binary.LittleEndian.AppendUint64(nil, memoryLimit(mem))
	case "sysinfo.vm_mem_avail":
		value = binary.LittleEndian.AppendUint64(nil, memoryLimit(mem)-uint64(mem.Size()))
	default:
		return 0, errno.EINVAL
	}

	if size < uint32(len(value)) {
		return 0, errno.ERANGE
	}
	mem.Write(buf, value)
	mem.WriteUint32Le(lenPtr, uint32(len(value)))
	return 0, nil
}

func threadID(ctx context.Context) int {
	if t := pthread.ThreadFrom(ctx); t != nil {
		if tid := t.TID(); tid != 0 {
			return tid
		}
	}
	return os.Getpid()
}

// memoryLimit is the largest size the memory may grow to.
func memoryLimit(mem guest.Memory) uint64 {
	if d, ok := mem.(interface{ Definition() api.MemoryDefinition }); ok {
		if max, bounded := d.Definition().Max(); bounded {
			return uint64(max) * wasmPageSize
		}
		return maxWasmPages * wasmPageSize
	}
	return uint64(mem.Size())
}
