package hal

import (
	"fmt"
	"time"

	"github.com/ardnew/softmbox/pkg"
)

// MMIO is a memory-mapped device region addressed by byte offset.
//
// Accesses must be naturally aligned. Implementations may panic on an
// out-of-range offset, the same way a bus fault would stop the CPU; callers
// validate offsets against Size where the offset is not a constant.
type MMIO interface {
	// Read32 reads the 32-bit register at offset.
	Read32(offset uint64) uint32

	// Write32 writes the 32-bit register at offset.
	Write32(offset uint64, value uint32)

	// Read64 reads the 64-bit register at offset.
	Read64(offset uint64) uint64

	// Write64 writes the 64-bit register at offset.
	Write64(offset uint64, value uint64)

	// Size returns the length of the region in bytes.
	Size() uint64
}

// Mapper maps physical address ranges into MMIO regions.
type Mapper interface {
	// Map returns an MMIO view of [phys, phys+size).
	Map(phys, size uint64) (MMIO, error)
}

// Sub returns a view of m covering [offset, offset+size).
func Sub(m MMIO, offset, size uint64) (MMIO, error) {
	if offset+size < offset || offset+size > m.Size() {
		return nil, fmt.Errorf("%w: window 0x%x+0x%x exceeds region of 0x%x bytes",
			pkg.ErrOutOfRange, offset, size, m.Size())
	}
	if offset == 0 && size == m.Size() {
		return m, nil
	}
	return &window{parent: m, offset: offset, size: size}, nil
}

type window struct {
	parent MMIO
	offset uint64
	size   uint64
}

func (w *window) check(offset, width uint64) {
	if offset+width > w.size {
		panic(fmt.Sprintf("hal: access at 0x%x beyond window of 0x%x bytes", offset, w.size))
	}
}

func (w *window) Read32(offset uint64) uint32 {
	w.check(offset, 4)
	return w.parent.Read32(w.offset + offset)
}

func (w *window) Write32(offset uint64, value uint32) {
	w.check(offset, 4)
	w.parent.Write32(w.offset+offset, value)
}

func (w *window) Read64(offset uint64) uint64 {
	w.check(offset, 8)
	return w.parent.Read64(w.offset + offset)
}

func (w *window) Write64(offset uint64, value uint64) {
	w.check(offset, 8)
	w.parent.Write64(w.offset+offset, value)
}

func (w *window) Size() uint64 { return w.size }

// Poll is a bounded busy-wait: at most Retries checks spaced Delay apart.
//
// There is no cancellation; once started a poll runs until its condition
// holds or its budget is spent.
type Poll struct {
	Retries int           // Maximum number of checks
	Delay   time.Duration // Spacing between checks
}

// spinLimit is the longest delay spun rather than slept.
const spinLimit = time.Millisecond

// DefaultPoll is 500000 checks at 1µs spacing (about half a second).
var DefaultPoll = Poll{Retries: 500000, Delay: time.Microsecond}

// Budget returns the worst-case duration of the poll.
func (p Poll) Budget() time.Duration {
	return time.Duration(p.Retries) * p.Delay
}

// Wait blocks for one poll interval. Short intervals spin, matching a
// udelay-style busy wait; longer ones yield to the scheduler.
func (p Poll) Wait() {
	switch {
	case p.Delay <= 0:
		return
	case p.Delay >= spinLimit:
		time.Sleep(p.Delay)
	default:
		for start := time.Now(); time.Since(start) < p.Delay; {
		}
	}
}

// Until checks cond up to Retries times and reports whether it held.
// It returns the number of checks performed.
func (p Poll) Until(cond func() bool) (int, bool) {
	for i := 0; i < p.Retries; i++ {
		if cond() {
			return i + 1, true
		}
		p.Wait()
	}
	return p.Retries, false
}
