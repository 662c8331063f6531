package engine

import (
	"github.com/caffeineduck/gorux/hostfunc"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
)

// Option configures Load.
type Option func(*config)

type config struct {
	cache            wazero.CompilationCache
	memoryLimitPages uint32
	registry         *hostfunc.Registry
	logger           *zap.Logger
}

func defaultConfig() config {
	return config{}
}

// WithCache shares a compilation cache between loads. Compiled guests are
// reused across runtimes through it.
func WithCache(c wazero.CompilationCache) Option {
	return func(cfg *config) {
		cfg.cache = c
	}
}

// WithMemoryLimit caps linear memory at pages (64KiB each). 0 keeps the
// wazero default of 4GiB.
func WithMemoryLimit(pages uint32) Option {
	return func(cfg *config) {
		cfg.memoryLimitPages = pages
	}
}

// WithRegistry sets the host functions exposed to the guest. Defaults to
// hostfunc.Builtin().
func WithRegistry(r *hostfunc.Registry) Option {
	return func(cfg *config) {
		cfg.registry = r
	}
}

// WithLogger sets the logger used by the loaded instance.
func WithLogger(l *zap.Logger) Option {
	return func(cfg *config) {
		cfg.logger = l
	}
}
