// Package pthread manages the guest threads of one program instance.
//
// A Manager owns the thread registry, the synchronization-primitive handle
// tables and the TLS key table. Every guest thread runs on its own locked
// host OS thread and shares the instance's linear memory. Host functions
// recover the calling thread and its Manager from the context.Context they
// are invoked with:
//
//	mgr := pthread.New(mainCtx, pthread.WithMaxThreads(8))
//	ctx = mgr.Attach(ctx)
//	defer mgr.Close(ctx)
//
//	// inside a host function
//	m := pthread.ManagerFrom(ctx)
//	h, err := m.Create(ctx, pthread.CreateRequest{Entry: fn, Arg: arg})
//
// Close cancels every running thread and joins it before releasing the
// handle tables, so no host thread outlives its instance.
package pthread
