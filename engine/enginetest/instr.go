package enginetest

import "github.com/caffeineduck/gorux/internal/wasmbin"

// Instruction encoders. Memory accesses use natural alignment.

func I32Const(v int32) []byte {
	return wasmbin.AppendSLEB128([]byte{0x41}, int64(v))
}

func I64Const(v int64) []byte {
	return wasmbin.AppendSLEB128([]byte{0x42}, v)
}

func Call(fn uint32) []byte {
	return wasmbin.AppendULEB128([]byte{0x10}, fn)
}

// CallIndirect calls through table 0 with the given type index.
func CallIndirect(typ uint32) []byte {
	return append(wasmbin.AppendULEB128([]byte{0x11}, typ), 0x00)
}

func LocalGet(i uint32) []byte {
	return wasmbin.AppendULEB128([]byte{0x20}, i)
}

func LocalSet(i uint32) []byte {
	return wasmbin.AppendULEB128([]byte{0x21}, i)
}

func GlobalGet(i uint32) []byte {
	return wasmbin.AppendULEB128([]byte{0x23}, i)
}

func GlobalSet(i uint32) []byte {
	return wasmbin.AppendULEB128([]byte{0x24}, i)
}

func I32Load(offset uint32) []byte {
	return wasmbin.AppendULEB128([]byte{0x28, 0x02}, offset)
}

func I32Store(offset uint32) []byte {
	return wasmbin.AppendULEB128([]byte{0x36, 0x02}, offset)
}

var (
	I32Add      = []byte{0x6a}
	Drop        = []byte{0x1a}
	Unreachable = []byte{0x00}
	// Spin loops forever.
	Spin = []byte{0x03, 0x40, 0x0c, 0x00, 0x0b}
)
