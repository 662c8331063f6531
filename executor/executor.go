package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/caffeineduck/gorux/engine"
	"github.com/caffeineduck/gorux/hostfunc"
	"github.com/caffeineduck/gorux/pthread"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("executor closed")

// Program is a guest module to run.
type Program struct {
	// Name is passed to the guest as argv[0].
	Name string
	Wasm []byte
}

// ReadProgram loads a program from a .wasm file.
func ReadProgram(path string) (Program, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return Program{}, fmt.Errorf("read program: %w", err)
	}
	return Program{Name: filepath.Base(path), Wasm: wasm}, nil
}

// Result holds the output and metadata from a run.
type Result struct {
	Output   string
	Duration time.Duration
	// Error reports failures other than a normal exit: load errors,
	// timeouts, traps and thread faults.
	Error error
	// ExitCode is the status passed to proc_exit, 0 when _start returned.
	ExitCode uint32
	// Threads summarizes the thread activity of the run.
	Threads pthread.Stats
}

// Executor compiles and runs threaded guest programs. Each run gets its own
// runtime and shared memory; compiled code is shared through the
// compilation cache.
type Executor struct {
	cache            wazero.CompilationCache
	registry         *hostfunc.Registry
	memoryLimitPages uint32
	log              *zap.Logger
	mu               sync.RWMutex
	closed           bool
}

// New creates an Executor.
func New(opts ...ExecutorOption) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()

	cache := wazero.NewCompilationCache()
	if cfg.diskCache {
		cacheDir := cfg.cacheDir
		if cacheDir == "" {
			cacheDir = defaultCacheDir()
		}
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	registry := cfg.registry
	if registry == nil {
		registry = hostfunc.Builtin()
	}
	log := cfg.logger
	if log == nil {
		log = Logger()
	}

	e := &Executor{
		cache:            cache,
		registry:         registry,
		memoryLimitPages: cfg.memoryLimitPages,
		log:              log,
	}

	for _, prog := range cfg.precompile {
		if err := engine.Precompile(ctx, prog.Wasm, e.engineOptions()...); err != nil {
			e.Close()
			return nil, fmt.Errorf("precompile %s: %w", prog.Name, err)
		}
	}

	return e, nil
}

func (e *Executor) engineOptions() []engine.Option {
	return []engine.Option{
		engine.WithCache(e.cache),
		engine.WithMemoryLimit(e.memoryLimitPages),
		engine.WithRegistry(e.registry),
		engine.WithLogger(e.log),
	}
}

// Run executes prog's _start on a locked OS thread. Threads the program
// starts are cancelled and joined before Run returns.
func (e *Executor) Run(ctx context.Context, prog Program, opts ...Option) Result {
	start := time.Now()

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return Result{Error: ErrClosed}
	}

	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	var stdout, stderr syncBuffer
	moduleConfig := wazero.NewModuleConfig().
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithArgs(append([]string{prog.Name}, cfg.args...)...).
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep()
	if cfg.stdin != nil {
		moduleConfig = moduleConfig.WithStdin(cfg.stdin)
	}
	for _, kv := range cfg.env {
		moduleConfig = moduleConfig.WithEnv(kv[0], kv[1])
	}

	inst, err := engine.Load(ctx, prog.Wasm, moduleConfig, e.engineOptions()...)
	if err != nil {
		return Result{Error: fmt.Errorf("load %s: %w", prog.Name, err), Duration: time.Since(start)}
	}
	defer inst.Close(context.Background())

	main, err := inst.Main(ctx)
	if err != nil {
		return Result{Error: fmt.Errorf("load %s: %w", prog.Name, err), Duration: time.Since(start)}
	}

	mgr := pthread.New(main, cfg.threadOptions(e.log)...)

	errCh := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		errCh <- main.Start(mgr.Attach(ctx))
	}()
	err = <-errCh

	if cerr := mgr.Close(context.Background()); cerr != nil {
		e.log.Warn("thread teardown failed", zap.Error(cerr))
	}

	result := Result{
		Output:   stdout.String() + stderr.String(),
		Duration: time.Since(start),
		Threads:  mgr.Stats(),
	}
	result.ExitCode, result.Error = exitStatus(ctx, cfg, main.Fault(), err)
	if result.Error != nil {
		e.log.Debug("run failed", zap.String("program", prog.Name), zap.Error(result.Error))
	}
	return result
}

// exitStatus interprets how _start ended. A fault propagated from a thread
// wins over the cancellation it caused on the main thread.
func exitStatus(ctx context.Context, cfg runConfig, fault string, err error) (uint32, error) {
	if fault != "" {
		return 0, fmt.Errorf("thread fault: %s", fault)
	}
	if err == nil {
		return 0, nil
	}

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		switch code := exitErr.ExitCode(); code {
		case sys.ExitCodeDeadlineExceeded:
			return code, fmt.Errorf("timeout after %v", cfg.timeout)
		case sys.ExitCodeContextCanceled:
			return code, fmt.Errorf("execution cancelled: %w", context.Canceled)
		default:
			return code, nil
		}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return 0, fmt.Errorf("timeout after %v", cfg.timeout)
	}
	return 0, fmt.Errorf("execution failed: %w", err)
}

// Close releases all resources held by the Executor.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	return e.cache.Close(context.Background())
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "gorux")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "gorux")
	}
	return filepath.Join(os.TempDir(), "gorux-cache")
}

// syncBuffer collects output written concurrently by guest threads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
