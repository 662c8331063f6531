package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caffeineduck/gorux/executor"
	"github.com/caffeineduck/gorux/internal/config"
	"github.com/caffeineduck/gorux/metrics"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run module.wasm [args...]",
		Short: "Run a program",
		Long: `Run a WebAssembly program and exit with its status.

Arguments after the module path are passed to the guest:
  gorux run --max-threads 8 worker.wasm -n 100`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRun,
	}
	cmd.Flags().SetInterspersed(false)
	addExecFlags(cmd)
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

// addExecFlags registers the flags shared by run and serve.
func addExecFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("timeout", 0, "Execution timeout (default 30s)")
	cmd.Flags().String("memory", "", "Memory limit: 1mb, 16mb, 64mb, 256mb, 1gb, 4gb")
	cmd.Flags().Int("max-threads", 0, "Max live threads besides main (default 4)")
	cmd.Flags().Uint32("stack-size", 0, "Default thread stack size in bytes")
	cmd.Flags().StringSlice("env", nil, "Guest environment KEY=VALUE (repeatable)")
	cmd.Flags().Bool("no-cache", false, "Disable the compilation cache")
}

func newExecutor(cfg *config.Config, log *zap.Logger) (*executor.Executor, error) {
	execOpts := []executor.ExecutorOption{executor.WithLogger(log)}
	if cfg.Cache {
		execOpts = append(execOpts, executor.WithDiskCache(cfg.CacheDir))
	}
	if pages, _ := config.MemoryPages(cfg.Memory); pages > 0 {
		execOpts = append(execOpts, executor.WithMemoryLimit(pages))
	}
	return executor.New(execOpts...)
}

// resolveConfig loads the config file and applies flags that were set.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("memory") {
		cfg.Memory, _ = flags.GetString("memory")
	}
	if flags.Changed("max-threads") {
		cfg.MaxThreads, _ = flags.GetInt("max-threads")
	}
	if flags.Changed("stack-size") {
		cfg.StackSize, _ = flags.GetUint32("stack-size")
	}
	if noCache, _ := flags.GetBool("no-cache"); noCache {
		cfg.Cache = false
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	env, _ := flags.GetStringSlice("env")
	for _, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --env %q (expected KEY=VALUE)", kv)
		}
		if cfg.Env == nil {
			cfg.Env = make(map[string]string)
		}
		cfg.Env[key] = value
	}

	return cfg, cfg.Validate()
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	prog, err := executor.ReadProgram(args[0])
	if err != nil {
		return err
	}

	exec, err := newExecutor(cfg, log)
	if err != nil {
		return err
	}
	defer exec.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	runOpts := []executor.Option{
		executor.WithTimeout(cfg.Timeout),
		executor.WithArgs(args[1:]...),
		executor.WithStdin(os.Stdin),
		executor.WithMaxThreads(cfg.MaxThreads),
		executor.WithStackSize(cfg.StackSize),
	}
	for k, v := range cfg.Env {
		runOpts = append(runOpts, executor.WithEnv(k, v))
	}

	if cfg.MetricsAddr != "" {
		collector := metrics.New()
		reg := prometheus.NewRegistry()
		if err := collector.Register(reg); err != nil {
			return err
		}
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, reg, log); err != nil {
				log.Warn("metrics server failed", zap.Error(err))
			}
		}()
		runOpts = append(runOpts, executor.WithObserver(collector))
	}

	result := exec.Run(ctx, prog, runOpts...)
	fmt.Fprint(cmd.OutOrStdout(), result.Output)

	log.Debug("run finished",
		zap.Duration("duration", result.Duration),
		zap.Uint32("exit_code", result.ExitCode),
		zap.Uint64("threads_created", result.Threads.Created),
		zap.Uint64("threads_faulted", result.Threads.Faulted),
	)

	if result.Error != nil {
		return result.Error
	}
	if result.ExitCode != 0 {
		return &exitError{code: result.ExitCode}
	}
	return nil
}
