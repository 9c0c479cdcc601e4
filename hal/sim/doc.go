// Package sim provides an in-memory model of the coprocessor hardware.
//
// It is intended for testing and for the simulator backend of mboxctl:
//
//   - [Mailbox]: the mailbox register block with both FIFOs and the CPU run bit
//   - [Memory]: RAM or SRAM reachable by both sides
//   - [Space]: a physical address space implementing [hal.Mapper]
//
// The model knows registers, not protocols. Coprocessor firmware behavior is
// layered on top with [Mailbox.Handle], [Mailbox.OnStart] and [Mailbox.Post]
// (see package mailboxsim for the bootstrap firmware).
//
// # Example
//
//	mbox := sim.NewMailbox()
//	mbox.Handle(func(w sim.Word) {
//	    mbox.Post(w.W0, w.W1) // echo
//	})
//	regs := hal.MMIO(mbox)
package sim
