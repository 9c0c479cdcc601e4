package pkg

import "errors"

// Mailbox and coprocessor errors.
var (
	// ErrTimeout indicates a polling budget was exhausted.
	ErrTimeout = errors.New("mailbox timeout")

	// ErrBusy indicates the outbound FIFO never drained.
	ErrBusy = errors.New("mailbox busy")

	// ErrProtocolViolation indicates an unexpected endpoint or message type.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrOutOfMemory indicates an allocation would exceed its reservation.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrNak indicates the remote rejected a command (e.g. key not found).
	ErrNak = errors.New("negative acknowledgment")

	// ErrShortData indicates the remote returned fewer bytes than expected.
	ErrShortData = errors.New("short data")

	// ErrNotReady indicates the coprocessor has not completed bootstrap.
	ErrNotReady = errors.New("coprocessor not ready")

	// ErrAlreadyRunning indicates a one-shot sequence was started twice.
	ErrAlreadyRunning = errors.New("already running")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrOutOfRange indicates an address or offset outside a mapped region.
	ErrOutOfRange = errors.New("out of range")
)

// Fault classifies an error into one of the distinct outcomes callers act on.
type Fault int

// Fault values.
const (
	FaultNone              Fault = iota // No error
	FaultOther                          // Error outside the mailbox taxonomy
	FaultTimeout                        // Polling budget exhausted
	FaultBusy                           // Outbound FIFO stuck full
	FaultProtocolViolation              // Unexpected endpoint or message type
	FaultOutOfMemory                    // Reservation exhausted
	FaultNak                            // Remote negative acknowledgment
	FaultShortData                      // Remote returned too few bytes
)

// FaultOf returns the fault class of err. Busy takes precedence over timeout
// since a stuck outbound FIFO is reported as both.
func FaultOf(err error) Fault {
	switch {
	case err == nil:
		return FaultNone
	case errors.Is(err, ErrBusy):
		return FaultBusy
	case errors.Is(err, ErrTimeout):
		return FaultTimeout
	case errors.Is(err, ErrProtocolViolation):
		return FaultProtocolViolation
	case errors.Is(err, ErrOutOfMemory):
		return FaultOutOfMemory
	case errors.Is(err, ErrNak):
		return FaultNak
	case errors.Is(err, ErrShortData):
		return FaultShortData
	default:
		return FaultOther
	}
}

// String returns a string representation of the fault.
func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultOther:
		return "other"
	case FaultTimeout:
		return "timeout"
	case FaultBusy:
		return "busy"
	case FaultProtocolViolation:
		return "protocol-violation"
	case FaultOutOfMemory:
		return "out-of-memory"
	case FaultNak:
		return "nak"
	case FaultShortData:
		return "short-data"
	default:
		return "unknown"
	}
}

// Error returns the sentinel error for the fault.
func (f Fault) Error() error {
	switch f {
	case FaultNone:
		return nil
	case FaultTimeout:
		return ErrTimeout
	case FaultBusy:
		return ErrBusy
	case FaultProtocolViolation:
		return ErrProtocolViolation
	case FaultOutOfMemory:
		return ErrOutOfMemory
	case FaultNak:
		return ErrNak
	case FaultShortData:
		return ErrShortData
	default:
		return ErrNotSupported
	}
}
