package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/caffeineduck/gorux/hostfunc"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

// Features enabled for every guest: the 2.0 core set plus threads, which
// adds shared memories and atomics.
const Features = api.CoreFeaturesV2 | experimental.CoreFeaturesThreads

// Instance is one guest program loaded into its own runtime. The runtime
// owns the shared memory, so concurrent programs never see each other's
// env module.
type Instance struct {
	rt       wazero.Runtime
	compiled wazero.CompiledModule
	modCfg   wazero.ModuleConfig
	memory   api.Memory
	log      *zap.Logger

	mu     sync.Mutex
	main   *Context
	live   int
	closed bool
}

// Load compiles wasm and prepares everything it imports. modCfg is used for
// the main instance and every thread instance; its name is ignored so the
// instances stay anonymous.
func Load(ctx context.Context, wasm []byte, modCfg wazero.ModuleConfig, opts ...Option) (*Instance, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.registry == nil {
		cfg.registry = hostfunc.Builtin()
	}
	log := cfg.logger
	if log == nil {
		log = Logger()
	}

	rt := wazero.NewRuntimeWithConfig(ctx, runtimeConfig(cfg))
	inst := &Instance{rt: rt, modCfg: modCfg.WithName(""), log: log}
	if err := inst.load(ctx, wasm, cfg); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	return inst, nil
}

func runtimeConfig(cfg config) wazero.RuntimeConfig {
	rc := wazero.NewRuntimeConfig().
		WithCoreFeatures(Features).
		WithCloseOnContextDone(true)
	if cfg.cache != nil {
		rc = rc.WithCompilationCache(cfg.cache)
	}
	if cfg.memoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.memoryLimitPages)
	}
	return rc
}

// Precompile compiles wasm into the cache given by WithCache so later
// loads skip compilation. Without a cache it only validates the module.
func Precompile(ctx context.Context, wasm []byte, opts ...Option) error {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeConfig(cfg))
	defer rt.Close(ctx)

	if _, err := rt.CompileModule(ctx, wasm); err != nil {
		return fmt.Errorf("compile guest: %w", err)
	}
	return nil
}

func (i *Instance) load(ctx context.Context, wasm []byte, cfg config) error {
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, i.rt); err != nil {
		return fmt.Errorf("instantiate WASI: %w", err)
	}
	if err := instantiateHost(ctx, i.rt, cfg.registry); err != nil {
		return err
	}

	compiled, err := i.rt.CompileModule(ctx, wasm)
	if err != nil {
		return fmt.Errorf("compile guest: %w", err)
	}
	i.compiled = compiled

	imp, ok, err := findMemoryImport(compiled, cfg.memoryLimitPages)
	if err != nil {
		return err
	}
	if !ok {
		i.log.Debug("guest defines its own memory; threads are unavailable")
		return nil
	}

	env, err := i.rt.InstantiateWithConfig(ctx,
		sharedMemoryModule(imp.name, imp.min, imp.max),
		wazero.NewModuleConfig().WithName(imp.module))
	if err != nil {
		return fmt.Errorf("instantiate shared memory %s.%s: %w", imp.module, imp.name, err)
	}
	if i.memory, err = exportedMemory(env, imp.name); err != nil {
		return err
	}

	i.log.Debug("shared memory ready",
		zap.String("module", imp.module),
		zap.String("name", imp.name),
		zap.Uint32("min_pages", imp.min),
		zap.Uint32("max_pages", imp.max),
	)
	return nil
}

// Shared reports whether the guest imports a shared memory and can
// therefore run threads.
func (i *Instance) Shared() bool {
	return i.memory != nil
}

// Main instantiates the main guest instance without running _start. It
// returns the same Context on every call.
func (i *Instance) Main(ctx context.Context) (*Context, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil, errClosed
	}
	if i.main != nil {
		return i.main, nil
	}

	mod, err := i.rt.InstantiateModule(ctx, i.compiled, i.modCfg.WithStartFunctions())
	if err != nil {
		return nil, fmt.Errorf("instantiate guest: %w", err)
	}
	i.main = &Context{inst: i, mod: mod, main: true, stackSize: mainStackSize(mod)}
	return i.main, nil
}

// spawn instantiates a fresh thread instance sharing the memory.
func (i *Instance) spawn(ctx context.Context, stackSize uint32) (*Context, error) {
	if i.memory == nil {
		return nil, ErrNotShared
	}

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil, errClosed
	}
	i.live++
	i.mu.Unlock()

	mod, err := i.rt.InstantiateModule(ctx, i.compiled, i.modCfg.WithStartFunctions())
	if err != nil {
		i.release()
		return nil, fmt.Errorf("instantiate thread: %w", err)
	}
	return &Context{inst: i, mod: mod, stackSize: stackSize}, nil
}

func (i *Instance) release() {
	i.mu.Lock()
	i.live--
	i.mu.Unlock()
}

// Threads reports how many thread instances are open.
func (i *Instance) Threads() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.live
}

// Close tears down the runtime and every instance in it.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.mu.Unlock()

	return i.rt.Close(ctx)
}

var errClosed = errors.New("engine instance closed")

// mainStackSize derives the main stack size from the __stack_low and
// __stack_high exports when the guest was linked with them.
func mainStackSize(mod api.Module) uint32 {
	low, high := mod.ExportedGlobal("__stack_low"), mod.ExportedGlobal("__stack_high")
	if low == nil || high == nil {
		return 0
	}
	l, h := uint32(low.Get()), uint32(high.Get())
	if h <= l {
		return 0
	}
	return h - l
}
