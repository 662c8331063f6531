package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/caffeineduck/gorux/engine"
	"github.com/caffeineduck/gorux/executor"
	"github.com/caffeineduck/gorux/hostfunc"
)

// exitError carries a guest exit status out of a command.
type exitError struct {
	code uint32
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gorux",
		Short: "Run threaded WebAssembly programs",
		Long: `gorux - Run WebAssembly programs that use POSIX threads.

Guests built against the pthread_ext ABI or wasi-threads get real host
threads, mutexes, condition variables, read-write locks, semaphores and
thread-local keys. Every run is isolated in its own runtime; a fault in
any thread stops the whole program.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Config file (default ./gorux.yaml or $GORUX_CONFIG)")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(newRunCmd(), newServeCmd(), newOpsCmd())
	return root
}

// Execute runs the CLI and exits with the guest's status.
func Execute() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(int(ee.code))
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// newLogger builds a console logger at level and installs it in the
// packages that log without a manager.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	hostfunc.SetLogger(log.Named("hostfunc"))
	engine.SetLogger(log.Named("engine"))
	executor.SetLogger(log.Named("executor"))
	return log, nil
}
