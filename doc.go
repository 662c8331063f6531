// Package gorux runs WebAssembly guests that use POSIX threads.
//
// # Overview
//
// gorux hosts guests built against a pthread-style ABI on wazero. Every
// guest thread is a separate instance of the compiled module sharing one
// linear memory, driven by its own goroutine. Mutexes, condition
// variables, read-write locks, semaphores and thread-local keys live on the
// host behind 32-bit handles stored in guest memory.
//
// # Basic Usage
//
//	exec, _ := executor.New()
//	defer exec.Close()
//
//	prog, _ := executor.ReadProgram("threads.wasm")
//	result := exec.Run(ctx, prog,
//	    executor.WithMaxThreads(8),
//	    executor.WithStackSize(128<<10))
//	fmt.Println(result.ExitCode, result.Threads.Created)
//
// # Guest ABI
//
// Host functions are exported under the pthread_ext module, plus the
// wasi thread-spawn import and a numeric syscall dispatcher. Run
// "gorux ops" to list them.
//
// See the [executor], [pthread], [hostfunc] and [engine] packages for
// detailed API documentation.
package gorux
