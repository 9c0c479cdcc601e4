//go:build !linux

package devmem

import (
	"fmt"

	"github.com/ardnew/softmbox/hal"
	"github.com/ardnew/softmbox/pkg"
)

// Mem is unavailable on this platform.
type Mem struct{}

// Open always fails on platforms without /dev/mem.
func Open(path string) (*Mem, error) {
	return nil, fmt.Errorf("devmem: %w on this platform", pkg.ErrNotSupported)
}

// Map implements hal.Mapper.
func (m *Mem) Map(phys, size uint64) (hal.MMIO, error) {
	return nil, pkg.ErrNotSupported
}

// Close is a no-op.
func (m *Mem) Close() error { return nil }
