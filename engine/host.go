package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/caffeineduck/gorux/errno"
	"github.com/caffeineduck/gorux/hostfunc"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

var errNoMemory = errno.Fatal("guest has no linear memory")

// instantiateHost registers every op of r, plus the syscall dispatcher, as
// host modules grouped by import module name.
func instantiateHost(ctx context.Context, rt wazero.Runtime, r *hostfunc.Registry) error {
	byModule := make(map[string][]hostfunc.Op)
	for _, op := range append(r.List(), hostfunc.SyscallOp(r)) {
		byModule[op.Module] = append(byModule[op.Module], op)
	}

	names := make([]string, 0, len(byModule))
	for name := range byModule {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		b := rt.NewHostModuleBuilder(name)
		for _, op := range byModule[name] {
			b.NewFunctionBuilder().
				WithGoModuleFunction(hostFunc(op), paramTypes(op.Sig), []api.ValueType{api.ValueTypeI32}).
				WithName(op.Name).
				Export(op.Name)
		}
		if _, err := b.Instantiate(ctx); err != nil {
			return fmt.Errorf("instantiate host module %s: %w", name, err)
		}
	}
	return nil
}

// paramTypes maps signature letters to wasm types: 'I' is i64, everything
// else a 32-bit word.
func paramTypes(sig string) []api.ValueType {
	types := make([]api.ValueType, len(sig))
	for i, c := range sig {
		if c == 'I' {
			types[i] = api.ValueTypeI64
		} else {
			types[i] = api.ValueTypeI32
		}
	}
	return types
}

// hostFunc adapts op to wazero. Fatal errors trap the calling thread by
// panicking, which wazero turns into an error from the guest call.
func hostFunc(op hostfunc.Op) api.GoModuleFunc {
	n := len(op.Sig)
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		mem := mod.Memory()
		if mem == nil {
			panic(errNoMemory)
		}
		args := make([]uint64, n)
		copy(args, stack[:n])

		ret, err := hostfunc.Call(ctx, mem, op, args)
		if err != nil {
			panic(err)
		}
		stack[0] = uint64(ret)
	}
}
