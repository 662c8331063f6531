// Package wasmbin encodes the small subset of the WebAssembly binary format
// needed to synthesize modules at runtime.
package wasmbin

// Header is the module preamble: magic number and version 1.
var Header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// Section ids.
const (
	SectionType     byte = 0x01
	SectionImport   byte = 0x02
	SectionFunction byte = 0x03
	SectionTable    byte = 0x04
	SectionMemory   byte = 0x05
	SectionGlobal   byte = 0x06
	SectionExport   byte = 0x07
	SectionElement  byte = 0x09
	SectionCode     byte = 0x0a
)

// External kinds used by imports and exports.
const (
	KindFunc   byte = 0x00
	KindTable  byte = 0x01
	KindMemory byte = 0x02
	KindGlobal byte = 0x03
)

// Limits flags. Shared memories must declare a maximum.
const (
	LimitsMin       byte = 0x00
	LimitsMinMax    byte = 0x01
	LimitsSharedMax byte = 0x03
)

// AppendULEB128 appends v in unsigned LEB128.
func AppendULEB128(dst []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			return dst
		}
	}
}

// AppendSLEB128 appends v in signed LEB128.
func AppendSLEB128(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// AppendName appends a length-prefixed UTF-8 name.
func AppendName(dst []byte, s string) []byte {
	dst = AppendULEB128(dst, uint32(len(s)))
	return append(dst, s...)
}

// AppendLimits appends a limits record. max is ignored for LimitsMin.
func AppendLimits(dst []byte, flag byte, min, max uint32) []byte {
	dst = append(dst, flag)
	dst = AppendULEB128(dst, min)
	if flag != LimitsMin {
		dst = AppendULEB128(dst, max)
	}
	return dst
}

// AppendSection appends a section with its size prefix. Empty payloads are
// skipped.
func AppendSection(dst []byte, id byte, payload []byte) []byte {
	if len(payload) == 0 {
		return dst
	}
	dst = append(dst, id)
	dst = AppendULEB128(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// Vec prefixes count entries that are already encoded back to back.
func Vec(count int, entries []byte) []byte {
	if count == 0 {
		return nil
	}
	out := AppendULEB128(nil, uint32(count))
	return append(out, entries...)
}
