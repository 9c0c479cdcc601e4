package mailbox

import "fmt"

// Mailbox register offsets from the block's base address.
const (
	RegCPUCtrl = 0x0044 // coprocessor control
	RegA2IStat = 0x8110 // host-to-coprocessor FIFO status
	RegI2AStat = 0x8114 // coprocessor-to-host FIFO status
	RegA2IMsg0 = 0x8800 // outbound word 0
	RegA2IMsg1 = 0x8808 // outbound word 1 (write pushes)
	RegI2AMsg0 = 0x8830 // inbound word 0
	RegI2AMsg1 = 0x8838 // inbound word 1 (read pops)
)

// Register bits.
const (
	CPUCtrlRun = 1 << 4  // coprocessor running
	StatFull   = 1 << 16 // FIFO full
	StatEmpty  = 1 << 17 // FIFO empty
)

// RegionSize is the size of the mailbox register block.
const RegionSize = 0x10000

// Well-known endpoints.
const (
	EndpointControl  uint8 = 0 // management endpoint driving bootstrap
	EndpointCrashLog uint8 = 1 // requests a crash log buffer during bootstrap
	EndpointIOReport uint8 = 4 // requests an I/O report buffer during bootstrap
)

// MaxEndpoints is the number of addressable endpoints (and channels).
const MaxEndpoints = 256

// IsBufferEndpoint reports whether messages from ep during bootstrap are
// buffer allocation requests.
func IsBufferEndpoint(ep uint8) bool {
	return ep == EndpointCrashLog || ep == EndpointIOReport
}

// Type is the message type carried in bits 52-59 of word 0.
type Type uint8

// Control-endpoint message types.
const (
	TypeHello       Type = 0x1 // coprocessor announces itself
	TypeHelloAck    Type = 0x2 // host echoes the hello subtype
	TypeStartEP     Type = 0x5 // host starts one endpoint
	TypeIdleRequest Type = 0x6 // host asks a running coprocessor to restart the handshake
	TypePowerOK     Type = 0x7 // coprocessor reports it is powered
	TypeEPMap       Type = 0x8 // endpoint bitmap block, and the host's ack of it
	TypePowerAck    Type = 0xb // host acknowledges power state
)

// String returns a human-readable type name.
func (t Type) String() string {
	switch t {
	case TypeHello:
		return "hello"
	case TypeHelloAck:
		return "hello-ack"
	case TypeStartEP:
		return "start-ep"
	case TypeIdleRequest:
		return "idle-request"
	case TypePowerOK:
		return "power-ok"
	case TypeEPMap:
		return "epmap"
	case TypePowerAck:
		return "power-ack"
	default:
		return fmt.Sprintf("type-0x%x", uint8(t))
	}
}
