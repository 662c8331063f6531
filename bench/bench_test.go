// Package bench measures thread and primitive overhead in gorux.
//
// Run with: go test -v -run=Test ./bench/
// Benchmarks: go test -bench=. -benchtime=3x ./bench/
package bench

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/caffeineduck/gorux/engine/enginetest"
	"github.com/caffeineduck/gorux/executor"
	"github.com/caffeineduck/gorux/primitive"
)

// =============================================================================
// GUEST PROGRAMS
// =============================================================================

const (
	reqAddr = 1024
	outAddr = 2048
)

func emptyProgram() executor.Program {
	p := enginetest.NewProgram()
	p.Start()
	return executor.Program{Name: "empty", Wasm: p.Build()}
}

func createJoinProgram() executor.Program {
	p := enginetest.NewProgram()
	entry := p.Entry(enginetest.LocalGet(0), enginetest.I32Const(1), enginetest.I32Add)
	p.Start(
		enginetest.CreateThread(reqAddr, entry, 41), enginetest.Drop,
		enginetest.JoinThread(reqAddr, outAddr), enginetest.Drop,
		enginetest.ExitWithWord(outAddr),
	)
	return executor.Program{Name: "create-join", Wasm: p.Build()}
}

// --- Executor: cold start (new executor each time) ---

func BenchmarkExecutor_ColdStart(b *testing.B) {
	prog := emptyProgram()
	for i := 0; i < b.N; i++ {
		exec, _ := executor.New()
		exec.Run(context.Background(), prog)
		exec.Close()
	}
}

// --- Executor: warm start (reuse executor) ---

func BenchmarkExecutor_WarmStart(b *testing.B) {
	exec, _ := executor.New()
	defer exec.Close()
	prog := emptyProgram()

	exec.Run(context.Background(), prog) // warmup

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		exec.Run(context.Background(), prog)
	}
}

func BenchmarkExecutor_CreateJoin(b *testing.B) {
	exec, _ := executor.New()
	defer exec.Close()
	prog := createJoinProgram()

	exec.Run(context.Background(), prog) // warmup

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		result := exec.Run(context.Background(), prog)
		if result.ExitCode != 42 {
			b.Fatalf("expected exit code 42, got %d (%v)", result.ExitCode, result.Error)
		}
	}
}

// --- Primitives ---

func BenchmarkMutex_Uncontended(b *testing.B) {
	m := primitive.NewMutex(primitive.MutexNormal)
	ctx := context.Background()
	for i := 0; i < b.N; i++ {
		m.Lock(ctx, 1, primitive.NoDeadline)
		m.Unlock(1)
	}
}

func BenchmarkMutex_Contended(b *testing.B) {
	m := primitive.NewMutex(primitive.MutexNormal)
	ctx := context.Background()
	var owner uint32
	var ownerMu sync.Mutex

	b.RunParallel(func(pb *testing.PB) {
		ownerMu.Lock()
		owner++
		id := owner
		ownerMu.Unlock()

		for pb.Next() {
			m.Lock(ctx, id, primitive.NoDeadline)
			m.Unlock(id)
		}
	})
}

func BenchmarkSemaphore_PostWait(b *testing.B) {
	s, _ := primitive.NewSemaphore(0)
	ctx := context.Background()
	for i := 0; i < b.N; i++ {
		s.Post()
		s.Wait(ctx, primitive.NoDeadline)
	}
}

// --- Native Go baseline ---

func BenchmarkNative_SyncMutex(b *testing.B) {
	var m sync.Mutex
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Lock()
			m.Unlock()
		}
	})
}

// =============================================================================
// COMPARISON
// =============================================================================

func TestThreadOverhead(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping comparison in short mode")
	}

	exec, err := executor.New()
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}
	defer exec.Close()

	const iterations = 20
	empty, threaded := emptyProgram(), createJoinProgram()
	exec.Run(context.Background(), empty)
	exec.Run(context.Background(), threaded)

	measure := func(prog executor.Program) time.Duration {
		var total time.Duration
		for i := 0; i < iterations; i++ {
			result := exec.Run(context.Background(), prog)
			if result.Error != nil {
				t.Fatalf("%s failed: %v", prog.Name, result.Error)
			}
			total += result.Duration
		}
		return total / iterations
	}

	base := measure(empty)
	withThread := measure(threaded)

	fmt.Println()
	fmt.Println("=== Thread Overhead ===")
	fmt.Printf("empty program:       %s\n", formatDuration(base))
	fmt.Printf("create + join:       %s\n", formatDuration(withThread))
	fmt.Printf("per-thread overhead: %s\n", formatDuration(withThread-base))
	fmt.Println()
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d > time.Second {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}

// =============================================================================
// MEMORY BENCHMARK
// =============================================================================

func TestMemoryUsage(t *testing.T) {
	var m runtime.MemStats

	runtime.GC()
	runtime.ReadMemStats(&m)
	before := m.Alloc

	exec, _ := executor.New()
	prog := createJoinProgram()

	for i := 0; i < 5; i++ {
		exec.Run(context.Background(), prog)
	}

	runtime.ReadMemStats(&m)
	after := m.Alloc

	exec.Close()

	runtime.GC()
	runtime.ReadMemStats(&m)
	afterGC := m.Alloc

	t.Logf("Memory before: %d MB", before/1024/1024)
	t.Logf("Memory after 5 runs: %d MB", after/1024/1024)
	t.Logf("Memory after GC: %d MB", afterGC/1024/1024)
}

// =============================================================================
// DISK CACHE BENCHMARK (simulates CLI usage)
// =============================================================================

func TestDiskCacheBenefit(t *testing.T) {
	cacheDir, _ := os.MkdirTemp("", "gorux-bench-cache")
	defer os.RemoveAll(cacheDir)

	prog := createJoinProgram()
	var times []time.Duration

	// Each iteration creates a new executor, like separate CLI invocations.
	for i := 0; i < 5; i++ {
		start := time.Now()

		exec, _ := executor.New(executor.WithDiskCache(cacheDir))
		exec.Run(context.Background(), prog)
		exec.Close()

		times = append(times, time.Since(start))
	}

	fmt.Println()
	fmt.Println("=== Disk Cache Benefit (simulated CLI calls) ===")
	for i, d := range times {
		label := "cached"
		if i == 0 {
			label = "compile"
		}
		fmt.Printf("Call %d (%s): %v\n", i+1, label, d)
	}
	fmt.Printf("Speedup: %.1fx faster after first call\n", float64(times[0])/float64(times[1]))
	fmt.Println()
}
