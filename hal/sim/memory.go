package sim

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Memory is a little-endian RAM region implementing hal.MMIO.
//
// Views created by Slice share storage with their parent, so a write through
// the host's mapping is visible to the simulated coprocessor and vice versa.
type Memory struct {
	mu   *sync.Mutex
	data []byte
}

// NewMemory allocates a zeroed region of size bytes.
func NewMemory(size uint64) *Memory {
	return &Memory{mu: new(sync.Mutex), data: make([]byte, size)}
}

// Slice returns a view of [offset, offset+size) sharing storage with m.
func (m *Memory) Slice(offset, size uint64) *Memory {
	m.bounds(offset, size)
	return &Memory{mu: m.mu, data: m.data[offset : offset+size : offset+size]}
}

func (m *Memory) bounds(offset, width uint64) {
	if offset+width < offset || offset+width > uint64(len(m.data)) {
		panic(fmt.Sprintf("sim: access at 0x%x+%d beyond region of 0x%x bytes",
			offset, width, len(m.data)))
	}
}

// Read32 implements hal.MMIO.
func (m *Memory) Read32(offset uint64) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bounds(offset, 4)
	return binary.LittleEndian.Uint32(m.data[offset:])
}

// Write32 implements hal.MMIO.
func (m *Memory) Write32(offset uint64, value uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bounds(offset, 4)
	binary.LittleEndian.PutUint32(m.data[offset:], value)
}

// Read64 implements hal.MMIO.
func (m *Memory) Read64(offset uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bounds(offset, 8)
	return binary.LittleEndian.Uint64(m.data[offset:])
}

// Write64 implements hal.MMIO.
func (m *Memory) Write64(offset uint64, value uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bounds(offset, 8)
	binary.LittleEndian.PutUint64(m.data[offset:], value)
}

// Size implements hal.MMIO.
func (m *Memory) Size() uint64 {
	return uint64(len(m.data))
}

// Load copies n bytes starting at offset. It is the coprocessor-side view of
// the region and has no alignment requirement.
func (m *Memory) Load(offset uint64, n int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bounds(offset, uint64(n))
	out := make([]byte, n)
	copy(out, m.data[offset:])
	return out
}

// Store copies b into the region starting at offset.
func (m *Memory) Store(offset uint64, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bounds(offset, uint64(len(b)))
	copy(m.data[offset:], b)
}
