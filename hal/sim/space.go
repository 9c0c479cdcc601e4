package sim

import (
	"fmt"
	"sort"

	"github.com/ardnew/softmbox/hal"
	"github.com/ardnew/softmbox/pkg"
)

type region struct {
	base uint64
	dev  hal.MMIO
}

// Space is a simulated physical address space implementing hal.Mapper.
type Space struct {
	regions []region
}

// NewSpace returns an empty address space.
func NewSpace() *Space {
	return &Space{}
}

// Attach places dev at physical address base. Regions must not overlap.
func (s *Space) Attach(base uint64, dev hal.MMIO) error {
	end := base + dev.Size()
	for _, r := range s.regions {
		if base < r.base+r.dev.Size() && r.base < end {
			return fmt.Errorf("%w: region 0x%x+0x%x overlaps 0x%x+0x%x",
				pkg.ErrInvalidParameter, base, dev.Size(), r.base, r.dev.Size())
		}
	}
	s.regions = append(s.regions, region{base: base, dev: dev})
	sort.Slice(s.regions, func(i, j int) bool { return s.regions[i].base < s.regions[j].base })
	return nil
}

// Map implements hal.Mapper.
func (s *Space) Map(phys, size uint64) (hal.MMIO, error) {
	for _, r := range s.regions {
		if phys < r.base || phys+size > r.base+r.dev.Size() {
			continue
		}
		if mem, ok := r.dev.(*Memory); ok {
			return mem.Slice(phys-r.base, size), nil
		}
		return hal.Sub(r.dev, phys-r.base, size)
	}
	return nil, fmt.Errorf("%w: nothing mapped at 0x%x+0x%x", pkg.ErrOutOfRange, phys, size)
}
