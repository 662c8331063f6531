// Package guesttest provides a deterministic in-process stand-in for a guest
// instance. Guest functions are plain Go closures registered in a function
// table, the heap is a bump allocator with exact free-space accounting and
// Exit unwinds with a panic recovered at the call boundary.
package guesttest

import (
	"context"
	"errors"
	"sync"

	"github.com/caffeineduck/gorux/guest"
)

// ErrExited is returned by a call whose guest code invoked Exit.
var ErrExited = errors.New("guest exited")

// ErrSpawn is the default error returned by Spawn when spawning is disabled.
var ErrSpawn = errors.New("spawn disabled")

// Func is a function stored in the fake guest function table.
type Func func(ctx context.Context, args []uint32) (uint32, error)

// StartFunc is the fake thread entry export.
type StartFunc func(ctx context.Context, handle, arg uint32) error

const (
	// DefaultMemorySize is the linear memory size used by NewInstance.
	DefaultMemorySize = 1 << 20
	// DefaultHeapBase is where the fake heap starts.
	DefaultHeapBase = 64 << 10
	// DefaultStackSize is the auxiliary stack size reported by contexts.
	DefaultStackSize = 16 << 10
)

// Instance is a fake guest instance shared by all of its contexts.
type Instance struct {
	mem *Memory

	mu         sync.Mutex
	heapNext   uint32
	heapEnd    uint32
	blocks     map[uint32]uint32
	used       uint32
	funcs      []Func
	start      StartFunc
	stackSize  uint32
	failMalloc bool
	spawnErr   error
	live       int
	spawned    int
	main       *Context
}

// NewInstance creates an instance with DefaultMemorySize bytes of memory
// and a heap covering everything above DefaultHeapBase.
func NewInstance() *Instance {
	inst := &Instance{
		mem:       NewMemory(DefaultMemorySize),
		heapNext:  DefaultHeapBase,
		heapEnd:   DefaultMemorySize,
		blocks:    make(map[uint32]uint32),
		funcs:     []Func{nil},
		stackSize: DefaultStackSize,
	}
	inst.main = &Context{inst: inst, main: true}
	return inst
}

// Main returns the context of the instance's initial thread.
func (i *Instance) Main() *Context {
	return i.main
}

// Memory returns the shared memory.
func (i *Instance) Memory() *Memory {
	return i.mem
}

// Register stores fn in the function table and returns its index.
// Index 0 is never used.
func (i *Instance) Register(fn Func) uint32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.funcs = append(i.funcs, fn)
	return uint32(len(i.funcs) - 1)
}

// SetStart installs the thread entry export used by CallStart.
func (i *Instance) SetStart(fn StartFunc) {
	i.mu.Lock()
	i.start = fn
	i.mu.Unlock()
}

// SetStackSize changes the stack size reported by every context.
func (i *Instance) SetStackSize(n uint32) {
	i.mu.Lock()
	i.stackSize = n
	i.mu.Unlock()
}

// FailMalloc makes subsequent allocations return 0.
func (i *Instance) FailMalloc(fail bool) {
	i.mu.Lock()
	i.failMalloc = fail
	i.mu.Unlock()
}

// FailSpawn makes subsequent Spawn calls return err. A nil err re-enables
// spawning.
func (i *Instance) FailSpawn(err error) {
	i.mu.Lock()
	i.spawnErr = err
	i.mu.Unlock()
}

// HeapFree returns the number of heap bytes not currently allocated.
func (i *Instance) HeapFree() uint32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.heapEnd - DefaultHeapBase - i.used
}

// LiveContexts returns the number of spawned contexts not yet closed.
func (i *Instance) LiveContexts() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.live
}

// Spawned returns the total number of contexts ever spawned.
func (i *Instance) Spawned() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.spawned
}

func (i *Instance) malloc(size uint32) uint32 {
	i.mu.Lock()
	defer i.mu.Unlock()

	size = (size + 7) &^ 7
	if i.failMalloc || size == 0 || uint64(i.heapNext)+uint64(size) > uint64(i.heapEnd) {
		return 0
	}
	ptr := i.heapNext
	i.heapNext += size
	i.blocks[ptr] = size
	i.used += size
	return ptr
}

func (i *Instance) free(ptr uint32) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	size, ok := i.blocks[ptr]
	if !ok {
		return errors.New("free of unallocated pointer")
	}
	delete(i.blocks, ptr)
	i.used -= size
	return nil
}

// Context implements guest.Context for an Instance.
type Context struct {
	inst *Instance
	main bool

	mu       sync.Mutex
	fault    string
	stackTop uint32
	closed   bool
}

var _ guest.Context = (*Context)(nil)

type exitSignal struct{}

func (c *Context) Memory() guest.Memory {
	return c.inst.mem
}

func (c *Context) Malloc(_ context.Context, size uint32) (uint32, error) {
	return c.inst.malloc(size), nil
}

func (c *Context) Free(_ context.Context, ptr uint32) error {
	return c.inst.free(ptr)
}

func (c *Context) CallIndirect(ctx context.Context, fn uint32, args ...uint32) (uint32, error) {
	c.inst.mu.Lock()
	var f Func
	if int(fn) < len(c.inst.funcs) {
		f = c.inst.funcs[fn]
	}
	c.inst.mu.Unlock()

	if f == nil {
		return 0, errors.New("indirect call to undefined element")
	}
	return c.call(ctx, func() (uint32, error) { return f(ctx, args) })
}

func (c *Context) CallIndirectVoid(ctx context.Context, fn uint32, args ...uint32) error {
	_, err := c.CallIndirect(ctx, fn, args...)
	return err
}

func (c *Context) CallStart(ctx context.Context, handle, arg uint32) error {
	c.inst.mu.Lock()
	start := c.inst.start
	c.inst.mu.Unlock()

	if start == nil {
		return errors.New("thread start export not found")
	}
	_, err := c.call(ctx, func() (uint32, error) { return 0, start(ctx, handle, arg) })
	return err
}

// call mirrors a runtime that refuses to enter guest code once the calling
// context is done.
func (c *Context) call(ctx context.Context, fn func() (uint32, error)) (res uint32, err error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(exitSignal); !ok {
				panic(r)
			}
			res, err = 0, ErrExited
		}
	}()
	return fn()
}

func (c *Context) Spawn(_ context.Context) (guest.Context, error) {
	c.inst.mu.Lock()
	defer c.inst.mu.Unlock()

	if c.inst.spawnErr != nil {
		return nil, c.inst.spawnErr
	}
	c.inst.live++
	c.inst.spawned++
	return &Context{inst: c.inst}, nil
}

func (c *Context) SetStackTop(top uint32) error {
	c.mu.Lock()
	c.stackTop = top
	c.mu.Unlock()
	return nil
}

// StackTop returns the value installed by SetStackTop.
func (c *Context) StackTop() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stackTop
}

func (c *Context) StackSize() uint32 {
	c.inst.mu.Lock()
	defer c.inst.mu.Unlock()
	return c.inst.stackSize
}

func (c *Context) Fault() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fault
}

func (c *Context) SetFault(msg string) {
	c.mu.Lock()
	c.fault = msg
	c.mu.Unlock()
}

func (c *Context) Exit(context.Context) {
	panic(exitSignal{})
}

func (c *Context) Close(context.Context) error {
	if c.main {
		return nil
	}
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()

	if !already {
		c.inst.mu.Lock()
		c.inst.live--
		c.inst.mu.Unlock()
	}
	return nil
}
