package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/caffeineduck/gorux/engine/enginetest"
)

const (
	req = 1024
	out = 2048
)

func TestRunCreateJoin(t *testing.T) {
	p := enginetest.NewProgram()
	entry := p.Entry(enginetest.LocalGet(0), enginetest.I32Const(1), enginetest.I32Add)
	p.Start(
		enginetest.CreateThread(req, entry, 9), enginetest.Drop,
		enginetest.JoinThread(req, out), enginetest.Drop,
		enginetest.ExitWithWord(out),
	)

	result := Run(context.Background(), p.Build(), DefaultConfig())
	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if result.ExitCode != 10 {
		t.Errorf("expected exit code 10, got %d", result.ExitCode)
	}
	if result.Threads.Created != 1 {
		t.Errorf("expected 1 created thread, got %d", result.Threads.Created)
	}
}

func TestRunZeroConfig(t *testing.T) {
	p := enginetest.NewProgram()
	p.Start()

	result := Run(context.Background(), p.Build(), Config{})
	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
}

func TestRunTimeout(t *testing.T) {
	p := enginetest.NewProgram()
	p.Start(enginetest.Spin)

	result := Run(context.Background(), p.Build(), Config{Timeout: 100 * time.Millisecond})
	if result.Error == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(result.Error.Error(), "timeout") {
		t.Errorf("expected timeout error, got %v", result.Error)
	}
}

func TestRunInvalidModule(t *testing.T) {
	result := Run(context.Background(), []byte("not wasm"), DefaultConfig())
	if result.Error == nil {
		t.Fatal("expected error for invalid module")
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := withDefaults(Config{MaxThreads: 2})
	def := DefaultConfig()
	if cfg.MaxThreads != 2 {
		t.Errorf("expected MaxThreads 2, got %d", cfg.MaxThreads)
	}
	if cfg.Timeout != def.Timeout || cfg.StackSize != def.StackSize || cfg.MemoryLimit != def.MemoryLimit {
		t.Errorf("expected defaults to fill zero fields, got %+v", cfg)
	}
}
