package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/caffeineduck/gorux/engine"
	et "github.com/caffeineduck/gorux/engine/enginetest"
	"github.com/caffeineduck/gorux/pthread"
	"github.com/tetratelabs/wazero"
)

const (
	reqAddr   = 1024
	outAddr   = 2048
	spawnAddr = 3000
)

type harness struct {
	inst *engine.Instance
	main *engine.Context
	mgr  *pthread.Manager
	ctx  context.Context
}

func load(t *testing.T, wasm []byte, opts ...pthread.Option) *harness {
	t.Helper()
	ctx := context.Background()

	inst, err := engine.Load(ctx, wasm, wazero.NewModuleConfig())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	t.Cleanup(func() { inst.Close(ctx) })

	main, err := inst.Main(ctx)
	if err != nil {
		t.Fatalf("Main failed: %v", err)
	}
	mgr := pthread.New(main, opts...)
	t.Cleanup(func() { mgr.Close(ctx) })
	return &harness{inst: inst, main: main, mgr: mgr, ctx: mgr.Attach(ctx)}
}

func (h *harness) word(t *testing.T, addr uint32) uint32 {
	t.Helper()
	v, ok := h.main.Memory().ReadUint32Le(addr)
	if !ok {
		t.Fatalf("read %#x out of range", addr)
	}
	return v
}

// =============================================================================
// Loading
// =============================================================================

func TestLoadSharesImportedMemory(t *testing.T) {
	p := et.NewProgram()
	p.Start()
	h := load(t, p.Build())

	if !h.inst.Shared() {
		t.Fatal("expected shared memory")
	}
	if got, want := h.main.Memory().Size(), uint32(et.MemoryMinPages*65536); got != want {
		t.Errorf("memory size = %d, want %d", got, want)
	}
	if h.main.Memory() != h.main.Module().Memory() {
		t.Error("main instance does not use the synthesized memory")
	}
}

func TestLoadRespectsMemoryLimit(t *testing.T) {
	p := et.NewProgram()
	p.Start()

	_, err := engine.Load(context.Background(), p.Build(), wazero.NewModuleConfig(),
		engine.WithMemoryLimit(et.MemoryMinPages-1))
	if err == nil {
		t.Fatal("expected error when the limit is below the minimum")
	}
}

func TestUnsharedGuestCannotSpawn(t *testing.T) {
	b := et.NewBuilder()
	b.Func("_start", et.Sig(nil))
	ctx := context.Background()

	inst, err := engine.Load(ctx, b.Build(), wazero.NewModuleConfig())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer inst.Close(ctx)

	main, err := inst.Main(ctx)
	if err != nil {
		t.Fatalf("Main failed: %v", err)
	}
	if _, err := main.Spawn(ctx); !errors.Is(err, engine.ErrNotShared) {
		t.Errorf("expected ErrNotShared, got %v", err)
	}
	if err := main.Start(ctx); err != nil {
		t.Errorf("Start failed: %v", err)
	}
}

// =============================================================================
// Threads through the guest ABI
// =============================================================================

func TestGuestCreateJoin(t *testing.T) {
	p := et.NewProgram()
	entry := p.Entry(et.LocalGet(0), et.I32Const(1), et.I32Add)
	p.Start(
		et.CreateThread(reqAddr, entry, 41), et.Drop,
		et.JoinThread(reqAddr, outAddr), et.Drop,
	)
	h := load(t, p.Build())

	if err := h.main.Start(h.ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := h.word(t, outAddr); got != 42 {
		t.Errorf("expected exit value 42, got %d", got)
	}
	st := h.mgr.Stats()
	if st.Created != 1 || st.Joined != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
	if n := h.inst.Threads(); n != 0 {
		t.Errorf("%d thread instances still open", n)
	}
}

func TestGuestThreadSpawn(t *testing.T) {
	p := et.NewProgram()
	p.Start(
		et.I32Const(spawnAddr+4), et.I32Const(spawnAddr), et.Call(et.FnSpawn), et.I32Store(0),
		et.I32Const(spawnAddr+4), et.I32Load(0), et.I32Const(0), et.Call(et.FnJoin), et.Drop,
	)
	h := load(t, p.Build())

	if err := h.main.Start(h.ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	handle := h.word(t, spawnAddr+4)
	if int32(handle) <= 0 {
		t.Fatalf("thread-spawn returned %d", int32(handle))
	}
	if got := h.word(t, spawnAddr); got != handle {
		t.Errorf("wasi_thread_start saw handle %d, want %d", got, handle)
	}
}

func TestGuestPthreadExit(t *testing.T) {
	p := et.NewProgram()
	entry := p.Entry(et.I32Const(7), et.Call(et.FnExit))
	p.Start(
		et.CreateThread(reqAddr, entry, 0), et.Drop,
		et.JoinThread(reqAddr, outAddr), et.Drop,
	)
	h := load(t, p.Build())

	if err := h.main.Start(h.ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := h.word(t, outAddr); got != 7 {
		t.Errorf("expected exit value 7, got %d", got)
	}
	if st := h.mgr.Stats(); st.Faulted != 0 {
		t.Errorf("pthread_exit counted as fault: %+v", st)
	}
}

func TestGuestTrapFaultsMain(t *testing.T) {
	p := et.NewProgram()
	entry := p.Entry(et.Unreachable)
	p.Start(
		et.CreateThread(reqAddr, entry, 0), et.Drop,
		et.JoinThread(reqAddr, outAddr), et.Drop,
	)
	h := load(t, p.Build())

	h.main.Start(h.ctx)
	if h.main.Fault() == "" {
		t.Error("expected the fault to reach the main thread")
	}
	if st := h.mgr.Stats(); st.Faulted != 1 {
		t.Errorf("expected one faulted thread, got %+v", st)
	}
}

func TestCloseCancelsSpinningThread(t *testing.T) {
	p := et.NewProgram()
	entry := p.Entry(et.Spin, et.Unreachable)
	p.Start(et.CreateThread(reqAddr, entry, 0), et.Drop)
	h := load(t, p.Build())

	if err := h.main.Start(h.ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		h.mgr.Close(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not return while a thread was spinning")
	}

	st := h.mgr.Stats()
	if st.Cancelled != 1 || st.Faulted != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
	if n := h.inst.Threads(); n != 0 {
		t.Errorf("%d thread instances still open", n)
	}
}

func TestPrecompileRejectsInvalidModule(t *testing.T) {
	ctx := context.Background()
	cache := wazero.NewCompilationCache()
	defer cache.Close(ctx)

	p := et.NewProgram()
	p.Start()
	if err := engine.Precompile(ctx, p.Build(), engine.WithCache(cache)); err != nil {
		t.Fatalf("Precompile failed: %v", err)
	}
	if err := engine.Precompile(ctx, []byte("not wasm"), engine.WithCache(cache)); err == nil {
		t.Error("expected error for invalid module")
	}
}
