package arena

import (
	"fmt"

	"github.com/ardnew/softmbox/pkg"
)

// PageSize is the granule in which the coprocessor requests buffers.
const PageSize = 4096

// Reservation is a contiguous physical region handed out front to back.
//
// Allocations only ever advance the cursor; nothing is freed for the lifetime
// of the process. A Reservation is owned by one bootstrap flow at a time and
// is not safe for concurrent Allocate calls.
type Reservation struct {
	name   string
	base   uint64
	limit  uint64
	cursor uint64
}

// New creates a reservation of size bytes at physical address base.
func New(name string, base, size uint64) (*Reservation, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: empty reservation %q", pkg.ErrInvalidParameter, name)
	}
	if base+size < base {
		return nil, fmt.Errorf("%w: reservation %q wraps the address space", pkg.ErrInvalidParameter, name)
	}
	return &Reservation{name: name, base: base, limit: size}, nil
}

// Allocate grants size bytes and returns their physical address.
// If the grant would pass the end of the reservation it fails with
// pkg.ErrOutOfMemory and the cursor does not move.
func (r *Reservation) Allocate(size uint64) (uint64, error) {
	if size > r.limit-r.cursor {
		pkg.LogWarn(pkg.ComponentArena, "reservation exhausted",
			"name", r.name, "request", size, "used", r.cursor, "limit", r.limit)
		return 0, fmt.Errorf("%w: %q has 0x%x of 0x%x bytes free, need 0x%x",
			pkg.ErrOutOfMemory, r.name, r.limit-r.cursor, r.limit, size)
	}
	addr := r.base + r.cursor
	r.cursor += size
	pkg.LogDebug(pkg.ComponentArena, "allocated",
		"name", r.name, "addr", fmt.Sprintf("0x%x", addr), "size", size)
	return addr, nil
}

// AllocatePages grants n pages.
func (r *Reservation) AllocatePages(n uint64) (uint64, error) {
	return r.Allocate(n * PageSize)
}

// Name returns the registry key of the reservation.
func (r *Reservation) Name() string { return r.name }

// Base returns the physical address of the first byte.
func (r *Reservation) Base() uint64 { return r.base }

// Size returns the total size in bytes.
func (r *Reservation) Size() uint64 { return r.limit }

// Used returns the number of bytes granted so far.
func (r *Reservation) Used() uint64 { return r.cursor }

// Remaining returns the number of bytes still available.
func (r *Reservation) Remaining() uint64 { return r.limit - r.cursor }

// Next returns the physical address the next allocation will start at.
func (r *Reservation) Next() uint64 { return r.base + r.cursor }

// Since returns the window granted after mark, a value previously returned
// by Next. A consumer snapshots Next before letting a coprocessor boot and
// calls Since afterwards to learn exactly which memory that boot claimed.
func (r *Reservation) Since(mark uint64) (start, size uint64) {
	if mark < r.base || mark > r.Next() {
		mark = r.base
	}
	return mark, r.Next() - mark
}
