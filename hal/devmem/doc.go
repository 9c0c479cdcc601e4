// Package devmem implements [hal.Mapper] over the Linux physical memory
// device, so the mailbox stack can drive real coprocessor registers from a
// user-space process running on the host CPU.
//
// Mappings are created with mmap(2) on /dev/mem opened O_SYNC, which yields
// uncached device memory on arm64. Register accesses are single aligned
// loads and stores of the requested width.
//
//	mem, err := devmem.Open(devmem.DefaultPath)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mem.Close()
//
//	regs, err := mem.Map(0x23e400000, 0x10000)
//
// On other platforms [Open] returns [pkg.ErrNotSupported].
package devmem

// DefaultPath is the Linux physical memory device.
const DefaultPath = "/dev/mem"
