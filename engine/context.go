package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/caffeineduck/gorux/guest"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
)

// Context is one guest instance driven as a guest.Context.
type Context struct {
	inst      *Instance
	mod       api.Module
	main      bool
	stackSize uint32

	faultMu sync.Mutex
	fault   string
}

var _ guest.Context = (*Context)(nil)

// Module returns the underlying wazero module.
func (c *Context) Module() api.Module {
	return c.mod
}

// Start runs the guest's _start export.
func (c *Context) Start(ctx context.Context) error {
	_, err := c.call(ctx, "_start")
	return err
}

func (c *Context) Memory() guest.Memory {
	if c.inst.memory != nil {
		return c.inst.memory
	}
	return c.mod.Memory()
}

func (c *Context) call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := c.mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("guest does not export %s", name)
	}
	return fn.Call(ctx, params...)
}

func (c *Context) Malloc(ctx context.Context, size uint32) (uint32, error) {
	res, err := c.call(ctx, "malloc", uint64(size))
	if err != nil {
		return 0, err
	}
	return uint32(res[0]), nil
}

func (c *Context) Free(ctx context.Context, ptr uint32) error {
	_, err := c.call(ctx, "free", uint64(ptr))
	return err
}

// CallIndirect goes through the guest's dynCall_i<args> helper, which
// performs the call_indirect with the right type.
func (c *Context) CallIndirect(ctx context.Context, fn uint32, args ...uint32) (uint32, error) {
	res, err := c.call(ctx, "dynCall_i"+strings.Repeat("i", len(args)), indirectParams(fn, args)...)
	if err != nil {
		return 0, err
	}
	return uint32(res[0]), nil
}

func (c *Context) CallIndirectVoid(ctx context.Context, fn uint32, args ...uint32) error {
	_, err := c.call(ctx, "dynCall_v"+strings.Repeat("i", len(args)), indirectParams(fn, args)...)
	return err
}

func indirectParams(fn uint32, args []uint32) []uint64 {
	params := make([]uint64, 0, len(args)+1)
	params = append(params, uint64(fn))
	for _, a := range args {
		params = append(params, uint64(a))
	}
	return params
}

func (c *Context) CallStart(ctx context.Context, handle, arg uint32) error {
	_, err := c.call(ctx, "wasi_thread_start", uint64(handle), uint64(arg))
	return err
}

func (c *Context) Spawn(ctx context.Context) (guest.Context, error) {
	return c.inst.spawn(ctx, c.stackSize)
}

// SetStackTop writes the exported __stack_pointer. Guests that keep it
// private set up their own stack in the thread entry.
func (c *Context) SetStackTop(top uint32) error {
	g := c.mod.ExportedGlobal("__stack_pointer")
	if g == nil {
		c.inst.log.Debug("guest does not export __stack_pointer")
		return nil
	}
	mg, ok := g.(api.MutableGlobal)
	if !ok {
		return fmt.Errorf("__stack_pointer is immutable")
	}
	mg.Set(uint64(top))
	return nil
}

func (c *Context) StackSize() uint32 {
	return c.stackSize
}

func (c *Context) Fault() string {
	c.faultMu.Lock()
	defer c.faultMu.Unlock()
	return c.fault
}

func (c *Context) SetFault(msg string) {
	c.faultMu.Lock()
	c.fault = msg
	c.faultMu.Unlock()
}

// Exit unwinds to the outermost guest call with a zero exit status. The
// module stays open so destructors can still run on it.
func (c *Context) Exit(context.Context) {
	panic(sys.NewExitError(0))
}

func (c *Context) Close(ctx context.Context) error {
	if c.main {
		return nil
	}
	defer c.inst.release()
	if err := c.mod.Close(ctx); err != nil {
		c.inst.log.Debug("close thread instance", zap.Error(err))
		return err
	}
	return nil
}
