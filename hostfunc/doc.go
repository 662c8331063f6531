// Package hostfunc defines the guest ABI of the threading extension.
//
// Every operation the guest can import is an [Op]: a stable numeric
// [OpID], an import module and name, a parameter signature and a Go
// implementation. A [Registry] holds the table and is built once at
// startup:
//
//	registry := hostfunc.Builtin()
//	for _, op := range registry.List() {
//	    fmt.Println(op.ID, op.Module, op.Name, op.Sig)
//	}
//
// Signatures use one letter per parameter: '*' is a guest pointer, 'i' a
// 32-bit and 'I' a 64-bit integer. Every operation returns an i32 holding
// a WASI errno, or a value for the few calls such as pthread_self that
// return one directly.
//
// # Dispatch
//
// Operations are reachable two ways. The engine exports each one under its
// module and name, and [SyscallOp] builds wamr_ext_syscall(id, argc, argv),
// which looks the op up by id and unpacks its arguments from 16-byte slots.
//
// # Errors
//
// An operation reports ordinary failures as errno values; [Call] folds
// them into the result. Fatal errors, such as pthread_exit on the main
// thread, are returned so the engine can trap the calling guest.
//
// Operations locate the calling thread's manager through the
// context.Context they run with; see the pthread package.
package hostfunc
