// Package engine runs threaded guest modules on wazero.
//
// A guest built for threads imports its linear memory as a shared memory.
// Load synthesizes a small module exporting that memory, registers the
// pthread_ext, wamr_ext and wasi thread-spawn host modules from a
// hostfunc.Registry, and compiles the guest. Every guest thread is then a
// separate anonymous instance of the same compiled module importing the
// same memory. Context adapts one such instance to guest.Context so the
// pthread manager can drive it.
//
//	inst, err := engine.Load(ctx, wasm, wazero.NewModuleConfig().WithName(""))
//	if err != nil {
//	    return err
//	}
//	defer inst.Close(ctx)
//
//	main, err := inst.Main(ctx)
//	if err != nil {
//	    return err
//	}
//	mgr := pthread.New(main)
//	err = main.Start(mgr.Attach(ctx))
//	mgr.Close(ctx)
//
// Guests provide malloc and free, dynCall_ii and dynCall_vi helpers for
// indirect calls, an exported mutable __stack_pointer, and
// wasi_thread_start when they use wasi thread-spawn.
package engine
