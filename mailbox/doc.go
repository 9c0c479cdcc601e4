// Package mailbox implements the coprocessor mailbox transport and the
// bootstrap handshake that brings a coprocessor from reset to ready.
//
// # Wire Format
//
// A [Message] is two 64-bit words. The message type lives in bits 52-59 of
// word 0 and the channel (endpoint) tag in the low byte of word 1. Each
// message kind has its own type with a Parse function and a Message method,
// so no bit packing happens outside message.go.
//
// # Transport
//
// [Transport] sends and receives over the hardware FIFO pair. Many channels
// share the FIFO; a receiver filters by tag and drops everything else. Every
// wait is bounded by a [hal.Poll] budget.
//
// # Bootstrap
//
// [Bootstrap] is an explicit state machine:
//
//	IDLE -> WAIT_HELLO -> SEND_HELLO -> WAIT_EPMAP <-> SEND_EPACK
//	     -> SEND_EPSTART -> WAIT_PWROK <-> GRANT_BUFFER
//	     -> SEND_PWRACK -> DONE
//
// Any unexpected message moves it to FAILED with an error matching
// [pkg.ErrProtocolViolation]. Buffer requests arriving in WAIT_PWROK are
// served from an [arena.Reservation].
//
// # Example
//
//	t := mailbox.NewTransport(regs, mailbox.Config{Name: "smc"})
//	res, err := mailbox.NewBootstrap(t, reservation).Run()
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.Endpoints)
package mailbox
