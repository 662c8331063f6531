package pthread

import "go.uber.org/zap"

const (
	// MainHandle is the reserved handle of the instance's initial thread.
	MainHandle uint32 = 0
	// MaxKeys is the number of TLS keys per instance.
	MaxKeys = 128
	// MinStackSize is the smallest auxiliary stack a thread may use.
	MinStackSize uint32 = 2048
	// DefaultStackSize is used when neither the request nor the calling
	// context provides a stack size.
	DefaultStackSize uint32 = 64 << 10
	// DefaultMaxThreads bounds concurrently registered threads.
	DefaultMaxThreads = 4
	// MaxThreadsLimit is the largest accepted WithMaxThreads value.
	MaxThreadsLimit = 30
)

// Option configures a Manager.
type Option func(*config)

type config struct {
	maxThreads int
	stackSize  uint32
	launcher   Launcher
	observer   Observer
	logger     *zap.Logger
}

func defaultConfig() config {
	return config{
		maxThreads: DefaultMaxThreads,
		stackSize:  DefaultStackSize,
		launcher:   osLauncher{},
	}
}

// WithMaxThreads limits the number of non-main threads that may exist at
// once. Creation beyond the limit fails with EAGAIN. Values above
// MaxThreadsLimit are clamped; values below 1 keep the default.
func WithMaxThreads(n int) Option {
	return func(c *config) {
		switch {
		case n > MaxThreadsLimit:
			c.maxThreads = MaxThreadsLimit
		case n > 0:
			c.maxThreads = n
		}
	}
}

// WithStackSize sets the fallback stack size for new threads.
func WithStackSize(size uint32) Option {
	return func(c *config) {
		if size >= MinStackSize {
			c.stackSize = size
		}
	}
}

// WithLauncher replaces the host thread launcher.
func WithLauncher(l Launcher) Option {
	return func(c *config) {
		c.launcher = l
	}
}

// WithObserver installs a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(c *config) {
		c.observer = o
	}
}

// WithLogger sets the logger for this manager.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}
