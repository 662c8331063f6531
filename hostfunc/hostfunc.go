package hostfunc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/caffeineduck/gorux/errno"
	"github.com/caffeineduck/gorux/guest"
)

// OpID is the stable numeric id of an operation, used by the syscall
// dispatcher.
type OpID uint32

// Func implements an operation. args holds one raw value per letter of the
// op's Sig. A returned error is converted to the guest errno unless it is
// fatal, in which case the call traps.
type Func func(ctx context.Context, mem guest.Memory, args []uint64) (uint32, error)

// Op is one guest-callable operation.
type Op struct {
	ID     OpID
	Module string
	Name   string
	// Sig lists parameter kinds: '*' guest pointer, 'i' 32-bit and 'I'
	// 64-bit integer. Every op returns a single i32.
	Sig  string
	Func Func
}

// Registry maps op ids and import names to operations.
type Registry struct {
	mu     sync.RWMutex
	byID   map[OpID]Op
	byName map[string]Op
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[OpID]Op),
		byName: make(map[string]Op),
	}
}

// Builtin returns a registry holding every pthread and sysctl operation.
func Builtin() *Registry {
	r := NewRegistry()
	registerPthread(r)
	registerSysctl(r)
	return r
}

// Register adds op. Ids and names must be unique.
func (r *Registry) Register(op Op) error {
	for _, c := range op.Sig {
		if c != '*' && c != 'i' && c != 'I' {
			return fmt.Errorf("register %s: invalid signature %q", op.Name, op.Sig)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byID[op.ID]; dup {
		return fmt.Errorf("register %s: id %d already in use", op.Name, op.ID)
	}
	if _, dup := r.byName[op.Name]; dup {
		return fmt.Errorf("register %s: name already in use", op.Name)
	}
	r.byID[op.ID] = op
	r.byName[op.Name] = op
	return nil
}

func (r *Registry) mustRegister(ops ...Op) {
	for _, op := range ops {
		if err := r.Register(op); err != nil {
			panic(err)
		}
	}
}

// Get returns the op with the given import name.
func (r *Registry) Get(name string) (Op, bool) {
	r.mu.RLock()
	op, ok := r.byName[name]
	r.mu.RUnlock()
	return op, ok
}

// Lookup returns the op with the given id.
func (r *Registry) Lookup(id OpID) (Op, bool) {
	r.mu.RLock()
	op, ok := r.byID[id]
	r.mu.RUnlock()
	return op, ok
}

// List returns every op ordered by id.
func (r *Registry) List() []Op {
	r.mu.RLock()
	ops := make([]Op, 0, len(r.byID))
	for _, op := range r.byID {
		ops = append(ops, op)
	}
	r.mu.RUnlock()

	sort.Slice(ops, func(i, j int) bool { return ops[i].ID < ops[j].ID })
	return ops
}

// Call runs op and folds its error into the i32 result. Only fatal errors
// are returned; the caller must turn them into a trap.
func Call(ctx context.Context, mem guest.Memory, op Op, args []uint64) (uint32, error) {
	ret, err := op.Func(ctx, mem, args)
	if err == nil {
		return ret, nil
	}
	if errno.IsFatal(err) {
		Logger().Debug("fatal guest call", zap.String("op", op.Name), zap.Error(err))
		return 0, err
	}
	return uint32(errno.Of(err)), nil
}
