package arena

import (
	"fmt"
	"sync"

	"github.com/ardnew/softmbox/pkg"
)

// Carver decides where a reservation lives. It runs at most once per key.
type Carver func() (base, size uint64, err error)

// Static places a reservation at a fixed device address.
func Static(base, size uint64) Carver {
	return func() (uint64, uint64, error) {
		return base, size, nil
	}
}

// Top places a reservation at the top of a memory region ending at top,
// aligned down to align (a power of two, or 0 for none).
func Top(top, size, align uint64) Carver {
	return func() (uint64, uint64, error) {
		if size > top {
			return 0, 0, fmt.Errorf("%w: 0x%x bytes below 0x%x", pkg.ErrInvalidParameter, size, top)
		}
		base := top - size
		if align != 0 {
			if align&(align-1) != 0 {
				return 0, 0, fmt.Errorf("%w: alignment 0x%x", pkg.ErrInvalidParameter, align)
			}
			base &^= align - 1
		}
		return base, size, nil
	}
}

// Registry hands every driver that shares a reservation the same handle.
//
// The first Reserve for a key carves the region; later calls return the
// existing reservation untouched, so a second probe never re-carves memory
// the coprocessor already owns.
type Registry struct {
	mu           sync.Mutex
	reservations map[string]*Reservation
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{reservations: make(map[string]*Reservation)}
}

// Reserve returns the reservation for key, carving it on first use.
// The boolean reports whether this call created it.
func (g *Registry) Reserve(key string, carve Carver) (*Reservation, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.reservations[key]; ok {
		return r, false, nil
	}

	base, size, err := carve()
	if err != nil {
		return nil, false, fmt.Errorf("reserve %q: %w", key, err)
	}
	r, err := New(key, base, size)
	if err != nil {
		return nil, false, err
	}
	g.reservations[key] = r

	pkg.LogInfo(pkg.ComponentArena, "reservation created",
		"name", key, "base", fmt.Sprintf("0x%x", base), "size", size)
	return r, true, nil
}

// Lookup returns the reservation for key if one exists.
func (g *Registry) Lookup(key string) (*Reservation, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.reservations[key]
	return r, ok
}
