package enginetest

// Function indices of the imports every Program declares.
const (
	FnProcExit uint32 = iota
	FnCreate
	FnJoin
	FnSelf
	FnExit
	FnSpawn
	FnMutexLock
	FnMutexUnlock
)

// Memory layout of a Program.
const (
	MemoryMinPages = 16
	MemoryMaxPages = 64
	StackTop       = 64 << 10
	HeapBase       = 256 << 10
)

// Program is a Builder preloaded with the imports and exports the engine
// relies on: a bump malloc, a no-op free, dynCall helpers, the
// wasi_thread_start entry and an exported __stack_pointer.
type Program struct {
	*Builder
	entryType uint32
}

// NewProgram returns a Program ready for Entry and Start definitions.
func NewProgram() *Program {
	b := NewBuilder()
	i32 := Params(I32)
	i32i32 := Params(I32, I32)

	b.ImportFunc("wasi_snapshot_preview1", "proc_exit", Sig(i32))
	b.ImportFunc("pthread_ext", "pthread_create", Sig(i32, I32))
	b.ImportFunc("pthread_ext", "pthread_join", Sig(i32i32, I32))
	b.ImportFunc("pthread_ext", "pthread_self", Sig(nil, I32))
	b.ImportFunc("pthread_ext", "pthread_exit", Sig(i32, I32))
	b.ImportFunc("wasi", "thread-spawn", Sig(i32, I32))
	b.ImportFunc("pthread_ext", "pthread_mutex_lock", Sig(i32, I32))
	b.ImportFunc("pthread_ext", "pthread_mutex_unlock", Sig(i32, I32))
	b.ImportSharedMemory("env", "memory", MemoryMinPages, MemoryMaxPages)

	b.Global("__stack_pointer", StackTop)
	heap := b.Global("", HeapBase)

	entryType := b.TypeIndex(Sig(i32, I32))
	voidType := b.TypeIndex(Sig(i32))

	b.Func("malloc", Sig(i32, I32),
		GlobalGet(heap), GlobalGet(heap), LocalGet(0), I32Add, GlobalSet(heap))
	b.Func("free", Sig(i32))
	b.Func("dynCall_ii", Sig(i32i32, I32),
		LocalGet(1), LocalGet(0), CallIndirect(entryType))
	b.Func("dynCall_vi", Sig(i32i32),
		LocalGet(1), LocalGet(0), CallIndirect(voidType))
	// The spawned thread records its handle at the address passed as arg.
	b.Func("wasi_thread_start", Sig(i32i32),
		LocalGet(1), LocalGet(0), I32Store(0))

	return &Program{Builder: b, entryType: entryType}
}

// Entry defines a thread entry taking and returning an i32 and returns its
// table index, usable as a pthread_create start routine.
func (p *Program) Entry(body ...[]byte) uint32 {
	return p.Elem(p.Func("", Sig(Params(I32), I32), body...))
}

// Destructor defines a (i32) -> () function and returns its table index.
func (p *Program) Destructor(body ...[]byte) uint32 {
	return p.Elem(p.Func("", Sig(Params(I32)), body...))
}

// Start defines the exported _start function.
func (p *Program) Start(body ...[]byte) {
	p.Func("_start", Sig(nil), body...)
}

// CreateThread fills the 24-byte create request at req and calls
// pthread_create, leaving the return code on the stack.
func CreateThread(req uint32, entry uint32, arg int32) []byte {
	return join(
		I32Const(int32(req)), I32Const(int32(entry)), I32Store(0),
		I32Const(int32(req)), I32Const(arg), I32Store(4),
		I32Const(int32(req)), Call(FnCreate),
	)
}

// JoinThread joins the handle stored in the request at req, writing the
// exit value to out and leaving the return code on the stack.
func JoinThread(req, out uint32) []byte {
	return join(I32Const(int32(req)), I32Load(20), I32Const(int32(out)), Call(FnJoin))
}

// ExitWithWord calls proc_exit with the word stored at addr.
func ExitWithWord(addr uint32) []byte {
	return join(I32Const(int32(addr)), I32Load(0), Call(FnProcExit))
}

func join(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
