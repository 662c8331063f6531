// Package guest describes what the threading extension needs from the
// runtime hosting a guest program: access to linear memory, a guest heap,
// indirect calls and a way to start another execution context inside the
// same instance.
//
// The engine package implements these interfaces on top of wazero and
// guesttest provides an in-memory fake for tests.
package guest

import "context"

// Memory is the guest linear memory shared by every thread of an instance.
// The method set is a subset of wazero's api.Memory so that a wazero
// memory satisfies it directly. Offsets are little-endian guest addresses
// and every accessor reports false when the range is out of bounds.
type Memory interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
	ReadUint32Le(offset uint32) (uint32, bool)
	WriteUint32Le(offset, v uint32) bool
	ReadUint64Le(offset uint32) (uint64, bool)
	WriteUint64Le(offset uint32, v uint64) bool
}

// Context is one guest execution context. Each guest thread owns exactly
// one; all of them share the Memory of the instance they were spawned from.
type Context interface {
	// Memory returns the shared linear memory.
	Memory() Memory

	// Malloc allocates size bytes from the guest heap and returns 0 when
	// the heap is exhausted.
	Malloc(ctx context.Context, size uint32) (uint32, error)
	// Free returns a block obtained from Malloc.
	Free(ctx context.Context, ptr uint32) error

	// CallIndirect calls the function at index fn of the guest function
	// table and returns its i32 result.
	CallIndirect(ctx context.Context, fn uint32, args ...uint32) (uint32, error)
	// CallIndirectVoid is CallIndirect for functions returning nothing.
	CallIndirectVoid(ctx context.Context, fn uint32, args ...uint32) error
	// CallStart runs the well-known thread entry export with the thread
	// handle and its start argument.
	CallStart(ctx context.Context, handle, arg uint32) error

	// Spawn creates a fresh execution context in the same instance.
	Spawn(ctx context.Context) (Context, error)
	// SetStackTop installs the top of this context's auxiliary stack.
	SetStackTop(top uint32) error
	// StackSize reports the auxiliary stack size this context was
	// configured with, or 0 when unknown.
	StackSize() uint32

	// Fault returns the recorded fault text, or "" when none.
	Fault() string
	// SetFault records fault text on this context.
	SetFault(msg string)

	// Exit unwinds the guest code currently running on this context back
	// to the call that entered it. It never returns.
	Exit(ctx context.Context)

	// Close releases the context. Closing the main context is a no-op.
	Close(ctx context.Context) error
}

// Validate reports whether [ptr, ptr+size) lies inside mem.
func Validate(mem Memory, ptr, size uint32) bool {
	return uint64(ptr)+uint64(size) <= uint64(mem.Size())
}

// ReadString reads a NUL-terminated string of at most max bytes.
// A string without terminator within max bytes is truncated at max.
func ReadString(mem Memory, ptr, max uint32) (string, bool) {
	if avail := mem.Size(); ptr >= avail {
		return "", false
	} else if avail-ptr < max {
		max = avail - ptr
	}
	buf, ok := mem.Read(ptr, max)
	if !ok {
		return "", false
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), true
		}
	}
	return string(buf), true
}

// WriteString writes s followed by a NUL terminator, truncating s so the
// result fits in size bytes.
func WriteString(mem Memory, ptr, size uint32, s string) bool {
	if size == 0 {
		return Validate(mem, ptr, 0)
	}
	if uint32(len(s)) > size-1 {
		s = s[:size-1]
	}
	b := make([]byte, len(s)+1)
	copy(b, s)
	return mem.Write(ptr, b)
}
