package mailbox

import (
	"fmt"

	"github.com/ardnew/softmbox/pkg"
)

// Message is one mailbox transfer: exactly two 64-bit words.
//
// The transport treats messages as opaque. The low byte of W1 is the channel
// (endpoint) tag; the rest of the layout depends on the message kind and is
// decoded only by the kind types in this file.
type Message struct {
	W0 uint64
	W1 uint64
}

// Word 0 field layout.
const (
	typeShift = 52
	typeMask  = 0xff

	low32Mask = 0xffffffff

	epmapBlockShift = 32
	epmapBlockMask  = 0x7
	epmapLastBit    = 1 << 51
	epmapMoreBit    = 1 << 0

	startEPShift = 32
	startEPFlags = 0x2

	helloAckFlags   = 1 << 32
	idleRequestBits = 0x220

	bufferRequestType = 0x1
	bufferPagesShift  = 44
	bufferPagesMask   = 0xff
	bufferAddrMask    = 1<<44 - 1

	channelMask = 0xff
)

// MaxEPMapBlocks is the number of 32-endpoint blocks in a full endpoint map.
const MaxEPMapBlocks = MaxEndpoints / 32

// Type returns the message type field.
func (m Message) Type() Type {
	return Type((m.W0 >> typeShift) & typeMask)
}

// Channel returns the channel tag in the low byte of W1.
func (m Message) Channel() uint8 {
	return uint8(m.W1 & channelMask)
}

// Endpoint returns the endpoint the message belongs to. Endpoints and
// channels share the same tag.
func (m Message) Endpoint() uint8 {
	return m.Channel()
}

// String formats the message for logs.
func (m Message) String() string {
	return fmt.Sprintf("ep=%d type=%s w0=0x%016x w1=0x%016x", m.Endpoint(), m.Type(), m.W0, m.W1)
}

func control(t Type, payload uint64) Message {
	return Message{W0: uint64(t)<<typeShift | payload}
}

// Hello is the coprocessor's first message after it starts.
type Hello struct {
	Subtype uint32 // protocol version range offered by the coprocessor
}

// ParseHello decodes a hello message.
func ParseHello(m Message) Hello {
	return Hello{Subtype: uint32(m.W0 & low32Mask)}
}

// Message encodes the hello as the coprocessor sends it.
func (h Hello) Message() Message {
	return control(TypeHello, uint64(h.Subtype))
}

// HelloAck echoes the hello subtype back to the coprocessor.
type HelloAck struct {
	Subtype uint32
}

// ParseHelloAck decodes a hello acknowledgment.
func ParseHelloAck(m Message) HelloAck {
	return HelloAck{Subtype: uint32(m.W0 & low32Mask)}
}

// Message encodes the acknowledgment.
func (h HelloAck) Message() Message {
	return control(TypeHelloAck, helloAckFlags|uint64(h.Subtype))
}

// EPMap is one 32-endpoint block of the coprocessor's endpoint bitmap.
type EPMap struct {
	Bitmap uint32 // bit i set: endpoint 32*Block+i exists
	Block  uint8  // block index, 0-7
	Last   bool   // no further blocks follow
}

// ParseEPMap decodes an endpoint map block.
func ParseEPMap(m Message) EPMap {
	return EPMap{
		Bitmap: uint32(m.W0 & low32Mask),
		Block:  uint8((m.W0 >> epmapBlockShift) & epmapBlockMask),
		Last:   m.W0&epmapLastBit != 0,
	}
}

// Message encodes the block as the coprocessor sends it.
func (e EPMap) Message() Message {
	w := uint64(e.Bitmap) | uint64(e.Block&epmapBlockMask)<<epmapBlockShift
	if e.Last {
		w |= epmapLastBit
	}
	return control(TypeEPMap, w)
}

// Endpoints appends the endpoint IDs present in the block to dst in
// ascending order and returns the extended slice.
func (e EPMap) Endpoints(dst []uint8) []uint8 {
	base := 32 * int(e.Block&epmapBlockMask)
	for bit := 0; bit < 32; bit++ {
		if e.Bitmap&(1<<bit) != 0 {
			dst = append(dst, uint8(base+bit))
		}
	}
	return dst
}

// Ack returns the acknowledgment for the block.
func (e EPMap) Ack() EPAck {
	return EPAck{Block: e.Block & epmapBlockMask, Last: e.Last}
}

// EPAck acknowledges one endpoint map block, echoing its block index and
// last marker.
type EPAck struct {
	Block uint8
	Last  bool
}

// ParseEPAck decodes an endpoint map acknowledgment.
func ParseEPAck(m Message) EPAck {
	return EPAck{
		Block: uint8((m.W0 >> epmapBlockShift) & epmapBlockMask),
		Last:  m.W0&epmapLastBit != 0,
	}
}

// Message encodes the acknowledgment. The low "more" bit is set for block 0,
// as the boot firmware this protocol was taken from does.
func (a EPAck) Message() Message {
	w := uint64(a.Block&epmapBlockMask) << epmapBlockShift
	if a.Last {
		w |= epmapLastBit
	}
	if a.Block&epmapBlockMask == 0 {
		w |= epmapMoreBit
	}
	return control(TypeEPMap, w)
}

// StartEP asks the coprocessor to start one endpoint.
type StartEP struct {
	Endpoint uint8
}

// ParseStartEP decodes a start request.
func ParseStartEP(m Message) StartEP {
	return StartEP{Endpoint: uint8(m.W0 >> startEPShift)}
}

// Message encodes the request.
func (s StartEP) Message() Message {
	return control(TypeStartEP, uint64(s.Endpoint)<<startEPShift|startEPFlags)
}

// IdleRequest asks an already running coprocessor to restart the handshake.
type IdleRequest struct{}

// Message encodes the request.
func (IdleRequest) Message() Message {
	return control(TypeIdleRequest, idleRequestBits)
}

// PowerOK reports the coprocessor reached its operating power state.
type PowerOK struct {
	State uint32
}

// ParsePowerOK decodes a power report.
func ParsePowerOK(m Message) PowerOK {
	return PowerOK{State: uint32(m.W0 & low32Mask)}
}

// Message encodes the report as the coprocessor sends it.
func (p PowerOK) Message() Message {
	return control(TypePowerOK, uint64(p.State))
}

// PowerAck acknowledges the power report, echoing its low 32 bits.
type PowerAck struct {
	State uint32
}

// ParsePowerAck decodes a power acknowledgment.
func ParsePowerAck(m Message) PowerAck {
	return PowerAck{State: uint32(m.W0 & low32Mask)}
}

// Message encodes the acknowledgment.
func (p PowerAck) Message() Message {
	return control(TypePowerAck, uint64(p.State))
}

// BufferRequest asks the host for shared memory during bootstrap. The grant
// is the request echoed back with the low 44 bits of word 0 replaced by the
// physical address of the buffer.
type BufferRequest struct {
	Endpoint uint8
	Pages    uint8
	Addr     uint64 // zero in a request, the buffer address in a grant

	raw Message
}

// ParseBufferRequest decodes a buffer request (or grant).
func ParseBufferRequest(m Message) BufferRequest {
	return BufferRequest{
		Endpoint: m.Endpoint(),
		Pages:    uint8((m.W0 >> bufferPagesShift) & bufferPagesMask),
		Addr:     m.W0 & bufferAddrMask,
		raw:      m,
	}
}

// Message encodes the request as the coprocessor sends it.
func (b BufferRequest) Message() Message {
	if b.raw != (Message{}) {
		return b.raw
	}
	return Message{
		W0: bufferRequestType<<typeShift | uint64(b.Pages)<<bufferPagesShift | b.Addr&bufferAddrMask,
		W1: uint64(b.Endpoint),
	}
}

// Size returns the requested size in bytes.
func (b BufferRequest) Size() uint64 {
	return uint64(b.Pages) * 4096
}

// Grant returns the reply granting the buffer at addr.
func (b BufferRequest) Grant(addr uint64) (Message, error) {
	if addr&^bufferAddrMask != 0 {
		return Message{}, fmt.Errorf("%w: buffer address 0x%x does not fit in 44 bits",
			pkg.ErrInvalidParameter, addr)
	}
	m := b.Message()
	m.W0 = m.W0&^bufferAddrMask | addr
	return m, nil
}
