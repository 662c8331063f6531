package guesttest

import (
	"encoding/binary"
	"sync"
)

// Memory is a bounds-checked byte slice implementing guest.Memory.
type Memory struct {
	mu  sync.Mutex
	buf []byte
}

// NewMemory allocates size bytes of zeroed memory.
func NewMemory(size uint32) *Memory {
	return &Memory{buf: make([]byte, size)}
}

func (m *Memory) Size() uint32 {
	return uint32(len(m.buf))
}

func (m *Memory) inRange(offset, n uint32) bool {
	return uint64(offset)+uint64(n) <= uint64(len(m.buf))
}

// Read returns a copy of the requested range.
func (m *Memory) Read(offset, byteCount uint32) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inRange(offset, byteCount) {
		return nil, false
	}
	out := make([]byte, byteCount)
	copy(out, m.buf[offset:])
	return out, true
}

func (m *Memory) Write(offset uint32, v []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inRange(offset, uint32(len(v))) {
		return false
	}
	copy(m.buf[offset:], v)
	return true
}

func (m *Memory) ReadUint32Le(offset uint32) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inRange(offset, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.buf[offset:]), true
}

func (m *Memory) WriteUint32Le(offset, v uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inRange(offset, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.buf[offset:], v)
	return true
}

func (m *Memory) ReadUint64Le(offset uint32) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inRange(offset, 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.buf[offset:]), true
}

func (m *Memory) WriteUint64Le(offset uint32, v uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inRange(offset, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.buf[offset:], v)
	return true
}
