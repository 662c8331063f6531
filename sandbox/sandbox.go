// Package sandbox runs a single threaded guest without managing an
// executor. Each call compiles the module from scratch; callers running
// many programs should hold an executor.Executor instead.
package sandbox

import (
	"context"
	"time"

	"github.com/caffeineduck/gorux/executor"
	"github.com/caffeineduck/gorux/pthread"
)

type Config struct {
	Timeout     time.Duration
	MemoryLimit uint32
	MaxThreads  int
	StackSize   uint32
	Args        []string
}

func DefaultConfig() Config {
	return Config{
		Timeout:     30 * time.Second,
		MemoryLimit: executor.MemoryLimit256MB,
		MaxThreads:  pthread.DefaultMaxThreads,
		StackSize:   pthread.DefaultStackSize,
	}
}

// Run executes wasm once with cfg. Zero fields fall back to DefaultConfig.
func Run(ctx context.Context, wasm []byte, cfg Config) executor.Result {
	cfg = withDefaults(cfg)

	exec, err := executor.New(executor.WithMemoryLimit(cfg.MemoryLimit))
	if err != nil {
		return executor.Result{Error: err}
	}
	defer exec.Close()

	opts := []executor.Option{
		executor.WithTimeout(cfg.Timeout),
		executor.WithMaxThreads(cfg.MaxThreads),
		executor.WithStackSize(cfg.StackSize),
	}
	if len(cfg.Args) > 0 {
		opts = append(opts, executor.WithArgs(cfg.Args...))
	}
	return exec.Run(ctx, executor.Program{Name: "sandbox", Wasm: wasm}, opts...)
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MemoryLimit == 0 {
		cfg.MemoryLimit = def.MemoryLimit
	}
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = def.MaxThreads
	}
	if cfg.StackSize == 0 {
		cfg.StackSize = def.StackSize
	}
	return cfg
}
