package executor

import (
	"io"
	"time"

	"github.com/caffeineduck/gorux/hostfunc"
	"github.com/caffeineduck/gorux/pthread"
	"go.uber.org/zap"
)

// Option configures a single run.
type Option func(*runConfig)

type runConfig struct {
	timeout    time.Duration
	args       []string
	env        [][2]string
	stdin      io.Reader
	maxThreads int
	stackSize  uint32
	observer   pthread.Observer
}

func defaultRunConfig() runConfig {
	return runConfig{
		timeout: 30 * time.Second,
	}
}

func (c runConfig) threadOptions(log *zap.Logger) []pthread.Option {
	opts := []pthread.Option{pthread.WithLogger(log)}
	if c.maxThreads > 0 {
		opts = append(opts, pthread.WithMaxThreads(c.maxThreads))
	}
	if c.stackSize > 0 {
		opts = append(opts, pthread.WithStackSize(c.stackSize))
	}
	if c.observer != nil {
		opts = append(opts, pthread.WithObserver(c.observer))
	}
	return opts
}

// WithTimeout sets the maximum execution time. 0 disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(c *runConfig) {
		c.timeout = d
	}
}

// WithArgs sets the arguments following argv[0].
func WithArgs(args ...string) Option {
	return func(c *runConfig) {
		c.args = args
	}
}

// WithEnv adds an environment variable.
func WithEnv(key, value string) Option {
	return func(c *runConfig) {
		c.env = append(c.env, [2]string{key, value})
	}
}

// WithStdin sets the guest's standard input.
func WithStdin(r io.Reader) Option {
	return func(c *runConfig) {
		c.stdin = r
	}
}

// WithMaxThreads caps the number of live guest threads besides main.
func WithMaxThreads(n int) Option {
	return func(c *runConfig) {
		c.maxThreads = n
	}
}

// WithStackSize sets the default stack size of threads the guest creates.
func WithStackSize(bytes uint32) Option {
	return func(c *runConfig) {
		c.stackSize = bytes
	}
}

// WithObserver receives thread lifecycle events of the run.
func WithObserver(o pthread.Observer) Option {
	return func(c *runConfig) {
		c.observer = o
	}
}

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	diskCache        bool
	cacheDir         string
	precompile       []Program
	memoryLimitPages uint32 // 0 = wazero default (4GB)
	registry         *hostfunc.Registry
	logger           *zap.Logger
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{}
}

// WithDiskCache enables persistent compilation cache for faster CLI startup.
// Optionally provide a custom directory; otherwise uses ~/.cache/gorux or XDG_CACHE_HOME/gorux.
//
// Examples:
//
//	executor.New(executor.WithDiskCache())             // default dir
//	executor.New(executor.WithDiskCache("/tmp/cache")) // custom dir
func WithDiskCache(dir ...string) ExecutorOption {
	return func(c *executorConfig) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithPrecompile compiles the given programs at Executor creation time.
// This moves the compilation cost to startup rather than first execution.
func WithPrecompile(progs ...Program) ExecutorOption {
	return func(c *executorConfig) {
		c.precompile = progs
	}
}

// WithMemoryLimit sets the maximum memory available to WASM modules.
// Each page is 64KB. Examples:
//   - WithMemoryLimit(16) = 1MB max
//   - WithMemoryLimit(256) = 16MB max
//   - WithMemoryLimit(1024) = 64MB max
//
// Default is 0 (no limit, up to 4GB). A shared memory whose declared
// maximum exceeds the limit is capped to it.
func WithMemoryLimit(pages uint32) ExecutorOption {
	return func(c *executorConfig) {
		c.memoryLimitPages = pages
	}
}

// WithRegistry replaces the host functions offered to guests. Defaults to
// hostfunc.Builtin().
func WithRegistry(r *hostfunc.Registry) ExecutorOption {
	return func(c *executorConfig) {
		c.registry = r
	}
}

// WithLogger sets the logger for the executor and the thread managers it
// creates.
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(c *executorConfig) {
		c.logger = l
	}
}

// Memory limit constants for convenience.
const (
	MemoryLimit1MB   uint32 = 16    // 1 MB
	MemoryLimit16MB  uint32 = 256   // 16 MB
	MemoryLimit64MB  uint32 = 1024  // 64 MB
	MemoryLimit256MB uint32 = 4096  // 256 MB
	MemoryLimit1GB   uint32 = 16384 // 1 GB
)
