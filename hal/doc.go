// Package hal defines the hardware abstraction used to reach the coprocessor.
//
// Everything above this package talks to hardware through two interfaces:
//
//   - [MMIO]: a memory-mapped register region with 32- and 64-bit accessors
//   - [Mapper]: turns a physical address range into an [MMIO] region
//
// The mailbox FIFO registers, the command layer's shared SRAM window, and the
// storage coprocessor's DMA filter registers are all [MMIO] regions. Backends:
//
//   - [github.com/ardnew/softmbox/hal/devmem]: Linux /dev/mem mappings
//   - [github.com/ardnew/softmbox/hal/sim]: an in-memory model for tests and
//     the simulator backend of mboxctl
//
// # Polling
//
// The coprocessor is never interrupt driven. Every wait is a [Poll]: a
// bounded number of status checks separated by a fixed delay. The budget is
// configuration, not a constant, so tests run with zero delay:
//
//	p := hal.Poll{Retries: 16}
//	if _, ok := p.Until(func() bool { return regs.Read32(0x8114)&emptyBit == 0 }); !ok {
//	    return pkg.ErrTimeout
//	}
package hal
