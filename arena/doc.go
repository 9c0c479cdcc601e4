// Package arena implements the memory arbiter that satisfies coprocessor
// buffer requests.
//
// A [Reservation] is one contiguous physical region consumed front to back:
// every grant returns base+cursor and advances the cursor. There is no free.
// When a grant would pass the end of the region it fails with
// [pkg.ErrOutOfMemory], which is fatal to the bootstrap asking for it.
//
// Several drivers must agree on the same region: the mailbox bootstrap hands
// out buffers from it, and the storage coprocessor later opens a DMA window
// over exactly what was handed out. Rather than sharing globals, drivers are
// given a [Registry] and ask it for the reservation by name:
//
//	reg := arena.NewRegistry()
//	res, _, err := reg.Reserve("mbox", arena.Top(ramTop, 64<<10, 64<<10))
//
// Reserve is idempotent per name, so probing a second client never carves a
// second region.
package arena
