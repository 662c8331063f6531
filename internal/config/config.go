// Package config loads gorux CLI settings.
// Configuration is resolved from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (GORUX_*)
// 3. The file named by --config or GORUX_CONFIG, else ./gorux.yaml
// 4. Defaults
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/caffeineduck/gorux/pthread"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "gorux.yaml"

// Config holds the run settings of the CLI.
type Config struct {
	// Timeout bounds a whole run. 0 disables it.
	Timeout time.Duration `yaml:"timeout"`

	// Memory is the linear memory limit: 1mb, 16mb, 64mb, 256mb or 1gb.
	Memory string `yaml:"memory"`

	// Cache enables the on-disk compilation cache.
	Cache bool `yaml:"cache"`

	// CacheDir overrides the cache location.
	CacheDir string `yaml:"cache_dir"`

	// MaxThreads caps live guest threads besides main.
	MaxThreads int `yaml:"max_threads"`

	// StackSize is the default stack of created threads, in bytes.
	StackSize uint32 `yaml:"stack_size"`

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel is a zap level name.
	LogLevel string `yaml:"log_level"`

	// Env is passed to the guest.
	Env map[string]string `yaml:"env"`
}

// Default returns the default configuration. Thread limits match the
// pthread package defaults.
func Default() *Config {
	return &Config{
		Timeout:    30 * time.Second,
		Memory:     "256mb",
		Cache:      true,
		MaxThreads: pthread.DefaultMaxThreads,
		StackSize:  pthread.DefaultStackSize,
		LogLevel:   "warn",
	}
}

// Load returns the defaults overlaid with the config file and the
// environment. An explicit path must exist; the implicit ./gorux.yaml is
// optional.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		if env := strings.TrimSpace(os.Getenv("GORUX_CONFIG")); env != "" {
			path, explicit = env, true
		} else {
			path = DefaultFile
		}
	}

	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("GORUX_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GORUX_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v := os.Getenv("GORUX_MEMORY"); v != "" {
		c.Memory = v
	}
	if v := os.Getenv("GORUX_NO_CACHE"); v == "true" || v == "1" {
		c.Cache = false
	}
	if v := os.Getenv("GORUX_MAX_THREADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GORUX_MAX_THREADS: %w", err)
		}
		c.MaxThreads = n
	}
	if v := os.Getenv("GORUX_STACK_SIZE"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("GORUX_STACK_SIZE: %w", err)
		}
		c.StackSize = uint32(n)
	}
	if v := os.Getenv("GORUX_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("GORUX_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate checks ranges the runtime would otherwise clamp silently.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.MaxThreads < 1 || c.MaxThreads > pthread.MaxThreadsLimit {
		return fmt.Errorf("max_threads must be between 1 and %d", pthread.MaxThreadsLimit)
	}
	if c.StackSize != 0 && c.StackSize < pthread.MinStackSize {
		return fmt.Errorf("stack_size must be at least %d", pthread.MinStackSize)
	}
	if _, ok := MemoryPages(c.Memory); !ok {
		return fmt.Errorf("unknown memory limit %q", c.Memory)
	}
	return nil
}

var memoryLimits = map[string]uint32{
	"1mb":   16,
	"16mb":  256,
	"64mb":  1024,
	"256mb": 4096,
	"1gb":   16384,
	"4gb":   0,
}

// MemoryPages converts a memory limit name to 64KiB pages. 0 means the
// runtime maximum.
func MemoryPages(s string) (uint32, bool) {
	pages, ok := memoryLimits[strings.ToLower(strings.TrimSpace(s))]
	return pages, ok
}
