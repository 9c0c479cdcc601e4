package mailbox

import (
	"fmt"

	"github.com/ardnew/softmbox/pkg"
)

// State is a bootstrap state.
type State uint8

// Bootstrap states, in the order a successful run visits them.
const (
	StateIdle         State = iota // start or wake the coprocessor
	StateWaitHello                 // expect hello on endpoint 0
	StateSendHello                 // echo the hello subtype
	StateWaitEPMap                 // expect one endpoint map block
	StateSendEPAck                 // acknowledge the block
	StateSendEPStart               // start every discovered endpoint
	StateWaitPowerOK               // expect power-ok, serving buffer requests
	StateGrantBuffer               // answer one buffer request
	StateSendPowerAck              // acknowledge power-ok
	StateDone                      // endpoints and window available
	StateFailed                    // terminal fault recorded
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateWaitHello:
		return "WAIT_HELLO"
	case StateSendHello:
		return "SEND_HELLO"
	case StateWaitEPMap:
		return "WAIT_EPMAP"
	case StateSendEPAck:
		return "SEND_EPACK"
	case StateSendEPStart:
		return "SEND_EPSTART"
	case StateWaitPowerOK:
		return "WAIT_PWROK"
	case StateGrantBuffer:
		return "GRANT_BUFFER"
	case StateSendPowerAck:
		return "SEND_PWRACK"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// ProtocolError reports a message the bootstrap did not expect.
type ProtocolError struct {
	State    State
	Endpoint uint8
	Type     Type
	Reason   string
}

// Error implements error.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v: %s: got %s on endpoint %d", pkg.ErrProtocolViolation, e.Reason, e.Type, e.Endpoint)
}

// Unwrap returns pkg.ErrProtocolViolation.
func (e *ProtocolError) Unwrap() error {
	return pkg.ErrProtocolViolation
}

func unexpected(s State, m Message, reason string) error {
	return &ProtocolError{State: s, Endpoint: m.Endpoint(), Type: m.Type(), Reason: reason}
}
