// Package executor runs threaded WebAssembly programs.
//
// # Overview
//
// The executor compiles guest modules, caches the compiled code and runs
// each program in a fresh wazero runtime with its own shared memory and
// pthread.Manager. The program's _start runs on a locked OS thread; every
// thread it creates runs on its own locked OS thread. When _start returns
// or the program calls proc_exit, remaining threads are cancelled and
// joined before Run returns.
//
// # Basic Usage
//
//	exec, err := executor.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	prog, err := executor.ReadProgram("worker.wasm")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result := exec.Run(ctx, prog,
//	    executor.WithTimeout(10*time.Second),
//	    executor.WithMaxThreads(8),
//	)
//	fmt.Print(result.Output)
//	os.Exit(int(result.ExitCode))
//
// # Limits
//
// WithMemoryLimit caps linear memory for every program. Per run,
// WithMaxThreads caps live threads and WithStackSize sets the default
// stack of created threads. A fault in any thread stops the whole program
// and is reported in Result.Error.
package executor
