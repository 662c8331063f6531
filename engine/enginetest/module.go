// Package enginetest assembles small threaded guest modules for tests.
//
// Modules are built in memory so engine and executor tests do not depend
// on a C toolchain:
//
//	b := enginetest.NewBuilder()
//	b.ImportSharedMemory("env", "memory", 2, 16)
//	self := b.ImportFunc("pthread_ext", "pthread_self", enginetest.Sig(nil, enginetest.I32))
//	b.Func("get_self", enginetest.Sig(nil, enginetest.I32), enginetest.Call(self))
//	wasm := b.Build()
package enginetest

import (
	"bytes"

	"github.com/caffeineduck/gorux/internal/wasmbin"
	"github.com/tetratelabs/wazero/api"
)

// I32 and I64 are the value types used by guest signatures.
const (
	I32 = api.ValueTypeI32
	I64 = api.ValueTypeI64
)

// FuncType is a function signature.
type FuncType struct {
	Params, Results []api.ValueType
}

// Sig builds a FuncType. Pass nil for no parameters.
func Sig(params []api.ValueType, results ...api.ValueType) FuncType {
	return FuncType{Params: params, Results: results}
}

// Params is shorthand for a parameter list.
func Params(ts ...api.ValueType) []api.ValueType { return ts }

func (t FuncType) encode() []byte {
	out := []byte{0x60}
	out = wasmbin.AppendULEB128(out, uint32(len(t.Params)))
	out = append(out, t.Params...)
	out = wasmbin.AppendULEB128(out, uint32(len(t.Results)))
	return append(out, t.Results...)
}

type funcImport struct {
	module, name string
	typ          uint32
}

type function struct {
	export string
	typ    uint32
	locals []api.ValueType
	body   []byte
}

type global struct {
	export string
	init   int32
}

// Builder accumulates module contents. All imports must be added before the
// first Func call because imported functions take the low indices.
type Builder struct {
	types   [][]byte
	imports []funcImport
	memory  *memoryImport
	funcs   []function
	globals []global
	elems   []uint32
}

type memoryImport struct {
	module, name string
	min, max     uint32
}

// NewBuilder returns an empty module builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// TypeIndex returns the index of t, adding it when new.
func (b *Builder) TypeIndex(t FuncType) uint32 {
	enc := t.encode()
	for i, existing := range b.types {
		if bytes.Equal(existing, enc) {
			return uint32(i)
		}
	}
	b.types = append(b.types, enc)
	return uint32(len(b.types) - 1)
}

// ImportSharedMemory imports a shared memory of min..max pages.
func (b *Builder) ImportSharedMemory(module, name string, min, max uint32) {
	b.memory = &memoryImport{module: module, name: name, min: min, max: max}
}

// ImportFunc imports a host function and returns its function index.
func (b *Builder) ImportFunc(module, name string, t FuncType) uint32 {
	if len(b.funcs) > 0 {
		panic("enginetest: ImportFunc after Func")
	}
	b.imports = append(b.imports, funcImport{module: module, name: name, typ: b.TypeIndex(t)})
	return uint32(len(b.imports) - 1)
}

// Func defines a function and returns its index. body is the instruction
// sequence without the final end. An empty export name keeps it private.
func (b *Builder) Func(export string, t FuncType, body ...[]byte) uint32 {
	return b.FuncWithLocals(export, t, nil, body...)
}

// FuncWithLocals is Func with extra locals following the parameters.
func (b *Builder) FuncWithLocals(export string, t FuncType, locals []api.ValueType, body ...[]byte) uint32 {
	b.funcs = append(b.funcs, function{
		export: export,
		typ:    b.TypeIndex(t),
		locals: locals,
		body:   bytes.Join(body, nil),
	})
	return uint32(len(b.imports) + len(b.funcs) - 1)
}

// Global defines a mutable i32 global and returns its index. A non-empty
// export name exports it.
func (b *Builder) Global(export string, init int32) uint32 {
	b.globals = append(b.globals, global{export: export, init: init})
	return uint32(len(b.globals) - 1)
}

// Elem places fn in the function table and returns its table index.
// Index 0 stays empty so that a null function pointer traps.
func (b *Builder) Elem(fn uint32) uint32 {
	b.elems = append(b.elems, fn)
	return uint32(len(b.elems))
}

// Build encodes the module.
func (b *Builder) Build() []byte {
	out := append([]byte(nil), wasmbin.Header...)

	var types []byte
	for _, t := range b.types {
		types = append(types, t...)
	}
	out = wasmbin.AppendSection(out, wasmbin.SectionType, wasmbin.Vec(len(b.types), types))

	var imports []byte
	n := 0
	for _, imp := range b.imports {
		imports = wasmbin.AppendName(imports, imp.module)
		imports = wasmbin.AppendName(imports, imp.name)
		imports = append(imports, wasmbin.KindFunc)
		imports = wasmbin.AppendULEB128(imports, imp.typ)
		n++
	}
	if m := b.memory; m != nil {
		imports = wasmbin.AppendName(imports, m.module)
		imports = wasmbin.AppendName(imports, m.name)
		imports = append(imports, wasmbin.KindMemory)
		imports = wasmbin.AppendLimits(imports, wasmbin.LimitsSharedMax, m.min, m.max)
		n++
	}
	out = wasmbin.AppendSection(out, wasmbin.SectionImport, wasmbin.Vec(n, imports))

	var funcs []byte
	for _, f := range b.funcs {
		funcs = wasmbin.AppendULEB128(funcs, f.typ)
	}
	out = wasmbin.AppendSection(out, wasmbin.SectionFunction, wasmbin.Vec(len(b.funcs), funcs))

	if len(b.elems) > 0 {
		table := []byte{0x70}
		table = wasmbin.AppendLimits(table, wasmbin.LimitsMin, uint32(len(b.elems)+1), 0)
		out = wasmbin.AppendSection(out, wasmbin.SectionTable, wasmbin.Vec(1, table))
	}

	var globals []byte
	for _, g := range b.globals {
		globals = append(globals, byte(I32), 0x01)
		globals = append(globals, I32Const(g.init)...)
		globals = append(globals, 0x0b)
	}
	out = wasmbin.AppendSection(out, wasmbin.SectionGlobal, wasmbin.Vec(len(b.globals), globals))

	var exports []byte
	n = 0
	for i, f := range b.funcs {
		if f.export == "" {
			continue
		}
		exports = wasmbin.AppendName(exports, f.export)
		exports = append(exports, wasmbin.KindFunc)
		exports = wasmbin.AppendULEB128(exports, uint32(len(b.imports)+i))
		n++
	}
	for i, g := range b.globals {
		if g.export == "" {
			continue
		}
		exports = wasmbin.AppendName(exports, g.export)
		exports = append(exports, wasmbin.KindGlobal)
		exports = wasmbin.AppendULEB128(exports, uint32(i))
		n++
	}
	out = wasmbin.AppendSection(out, wasmbin.SectionExport, wasmbin.Vec(n, exports))

	if len(b.elems) > 0 {
		elem := []byte{0x00}
		elem = append(elem, I32Const(1)...)
		elem = append(elem, 0x0b)
		elem = wasmbin.AppendULEB128(elem, uint32(len(b.elems)))
		for _, fn := range b.elems {
			elem = wasmbin.AppendULEB128(elem, fn)
		}
		out = wasmbin.AppendSection(out, wasmbin.SectionElement, wasmbin.Vec(1, elem))
	}

	var code []byte
	for _, f := range b.funcs {
		var body []byte
		if len(f.locals) == 0 {
			body = append(body, 0x00)
		} else {
			body = wasmbin.AppendULEB128(body, uint32(len(f.locals)))
			for _, l := range f.locals {
				body = append(body, 0x01, byte(l))
			}
		}
		body = append(body, f.body...)
		body = append(body, 0x0b)
		code = wasmbin.AppendULEB128(code, uint32(len(body)))
		code = append(code, body...)
	}
	out = wasmbin.AppendSection(out, wasmbin.SectionCode, wasmbin.Vec(len(b.funcs), code))

	return out
}
