//go:build linux

package devmem

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ardnew/softmbox/hal"
	"github.com/ardnew/softmbox/pkg"
)

// Mem maps physical memory through a /dev/mem style character device.
type Mem struct {
	file *os.File

	mu      sync.Mutex
	regions []*Region
}

// Open opens the memory device at path (usually DefaultPath).
func Open(path string) (*Mem, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("devmem: %w", err)
	}
	pkg.LogDebug(pkg.ComponentHAL, "opened memory device", "path", path)
	return &Mem{file: f}, nil
}

// Map implements hal.Mapper. The mapping is page aligned internally; the
// returned region starts exactly at phys.
func (m *Mem) Map(phys, size uint64) (hal.MMIO, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: zero-length mapping", pkg.ErrInvalidParameter)
	}
	page := uint64(os.Getpagesize())
	aligned := phys &^ (page - 1)
	length := (phys - aligned + size + page - 1) &^ (page - 1)

	data, err := unix.Mmap(int(m.file.Fd()), int64(aligned), int(length),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("devmem: mmap 0x%x+0x%x: %w", aligned, length, err)
	}

	r := &Region{mapping: data, data: data[phys-aligned : phys-aligned+size]}
	m.mu.Lock()
	m.regions = append(m.regions, r)
	m.mu.Unlock()

	pkg.LogDebug(pkg.ComponentHAL, "mapped physical range",
		"phys", fmt.Sprintf("0x%x", phys), "size", size)
	return r, nil
}

// Close unmaps every region and closes the device.
func (m *Mem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for _, r := range m.regions {
		if err := unix.Munmap(r.mapping); err != nil && first == nil {
			first = err
		}
	}
	m.regions = nil
	if err := m.file.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// Region is a mapped physical range. Accesses are single loads and stores of
// the requested width; they are never split or merged.
type Region struct {
	mapping []byte
	data    []byte
}

func (r *Region) addr(offset, width uint64) unsafe.Pointer {
	if offset%width != 0 || offset+width > uint64(len(r.data)) {
		panic(fmt.Sprintf("devmem: bad %d-byte access at 0x%x in region of 0x%x bytes",
			width, offset, len(r.data)))
	}
	return unsafe.Pointer(&r.data[offset])
}

// Read32 implements hal.MMIO.
func (r *Region) Read32(offset uint64) uint32 {
	return atomic.LoadUint32((*uint32)(r.addr(offset, 4)))
}

// Write32 implements hal.MMIO.
func (r *Region) Write32(offset uint64, value uint32) {
	atomic.StoreUint32((*uint32)(r.addr(offset, 4)), value)
}

// Read64 implements hal.MMIO.
func (r *Region) Read64(offset uint64) uint64 {
	return atomic.LoadUint64((*uint64)(r.addr(offset, 8)))
}

// Write64 implements hal.MMIO.
func (r *Region) Write64(offset uint64, value uint64) {
	atomic.StoreUint64((*uint64)(r.addr(offset, 8)), value)
}

// Size implements hal.MMIO.
func (r *Region) Size() uint64 {
	return uint64(len(r.data))
}
