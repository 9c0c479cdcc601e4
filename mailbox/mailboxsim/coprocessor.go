// Package mailboxsim is a simulated coprocessor firmware speaking the
// mailbox bootstrap protocol over a [sim.Mailbox].
//
// It plays the coprocessor side of the handshake: hello on start, the
// endpoint map one block per acknowledgment, buffer requests once every
// endpoint is started, then power-ok. After the power acknowledgment it
// dispatches application messages to per-endpoint handlers.
//
//	mb := sim.NewMailbox()
//	cop := mailboxsim.New(mb, mailboxsim.Config{Endpoints: []uint8{0, 0x20}})
//	cop.Handle(0x20, func(m mailbox.Message) (mailbox.Message, bool) {
//	    return m, true // echo
//	})
package mailboxsim

import (
	"fmt"
	"sync"

	"github.com/ardnew/softmbox/hal/sim"
	"github.com/ardnew/softmbox/mailbox"
	"github.com/ardnew/softmbox/pkg"
)

// Handler answers one application message. Returning false sends no reply.
type Handler func(msg mailbox.Message) (reply mailbox.Message, ok bool)

// Buffer is a buffer the firmware requests during bootstrap.
type Buffer struct {
	Endpoint uint8 // mailbox.EndpointCrashLog or mailbox.EndpointIOReport
	Pages    uint8
}

// Config describes the firmware.
type Config struct {
	// Endpoints the firmware declares, in any order. Endpoint 0 is the
	// control endpoint and is normally included.
	Endpoints []uint8

	// Subtype is offered in the hello message.
	Subtype uint32

	// Buffers are requested in order after every endpoint is started.
	Buffers []Buffer

	// PowerState is reported in power-ok. Zero selects 0x20.
	PowerState uint32

	// Running leaves the run bit set, as if an earlier boot stage had
	// already started the coprocessor.
	Running bool

	// OnReady is called when the host acknowledges power, with the
	// handshake complete.
	OnReady func()
}

type phase int

const (
	phaseOff phase = iota
	phaseHello
	phaseEPMap
	phaseStart
	phaseBuffers
	phasePower
	phaseReady
)

// Coprocessor is the simulated firmware.
type Coprocessor struct {
	mb  *sim.Mailbox
	cfg Config

	mu       sync.Mutex
	phase    phase
	blocks   []mailbox.EPMap
	block    int
	pending  []uint8
	started  []uint8
	buffer   int
	grants   []mailbox.BufferRequest
	faults   []error
	boots    int
	handlers map[uint8]Handler
}

// New installs the firmware on mb.
func New(mb *sim.Mailbox, cfg Config) *Coprocessor {
	if cfg.PowerState == 0 {
		cfg.PowerState = 0x20
	}
	c := &Coprocessor{
		mb:       mb,
		cfg:      cfg,
		blocks:   epmapBlocks(cfg.Endpoints),
		handlers: make(map[uint8]Handler),
	}
	mb.Handle(c.receive)
	mb.OnStart(c.boot)
	if cfg.Running {
		mb.SetRunning(true)
	}
	return c
}

// epmapBlocks splits endpoints into bitmap blocks 0 through the highest block
// in use, marking the final one last.
func epmapBlocks(endpoints []uint8) []mailbox.EPMap {
	var bitmaps [mailbox.MaxEPMapBlocks]uint32
	top := 0
	for _, ep := range endpoints {
		b := int(ep) / 32
		bitmaps[b] |= 1 << (ep % 32)
		if b > top {
			top = b
		}
	}
	blocks := make([]mailbox.EPMap, top+1)
	for i := range blocks {
		blocks[i] = mailbox.EPMap{Bitmap: bitmaps[i], Block: uint8(i), Last: i == top}
	}
	return blocks
}

// Handle installs the handler for application messages on ep.
func (c *Coprocessor) Handle(ep uint8, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[ep] = h
}

// Post sends msg to the host on ep, outside any handshake.
func (c *Coprocessor) Post(ep uint8, msg mailbox.Message) {
	c.mb.Post(msg.W0, msg.W1&^0xff|uint64(ep))
}

// Ready reports whether the handshake completed.
func (c *Coprocessor) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == phaseReady
}

// Started returns the endpoints the host started, in order.
func (c *Coprocessor) Started() []uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint8(nil), c.started...)
}

// Grants returns the buffer grants received, in order.
func (c *Coprocessor) Grants() []mailbox.BufferRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mailbox.BufferRequest(nil), c.grants...)
}

// Boots returns how many times the handshake was started.
func (c *Coprocessor) Boots() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boots
}

// Faults returns every host message the firmware did not expect.
func (c *Coprocessor) Faults() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.faults...)
}

func (c *Coprocessor) boot() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restart()
}

// restart begins the handshake. c.mu must be held.
func (c *Coprocessor) restart() {
	c.phase = phaseHello
	c.block = 0
	c.pending = c.pending[:0]
	for _, b := range c.blocks {
		for _, ep := range b.Endpoints(nil) {
			if ep != mailbox.EndpointControl {
				c.pending = append(c.pending, ep)
			}
		}
	}
	c.started = nil
	c.buffer = 0
	c.grants = nil
	c.boots++
	c.Post(mailbox.EndpointControl, mailbox.Hello{Subtype: c.cfg.Subtype}.Message())
	pkg.LogDebug(pkg.ComponentHAL, "coprocessor boot", "boots", c.boots)
}

func (c *Coprocessor) fault(m mailbox.Message, reason string) {
	err := fmt.Errorf("%w: %s: %v", pkg.ErrProtocolViolation, reason, m)
	c.faults = append(c.faults, err)
	pkg.LogWarn(pkg.ComponentHAL, "coprocessor fault", "error", err)
}

func (c *Coprocessor) receive(w sim.Word) {
	m := mailbox.Message{W0: w.W0, W1: w.W1}

	c.mu.Lock()
	if m.Channel() == mailbox.EndpointControl && m.Type() == mailbox.TypeIdleRequest {
		c.restart()
		c.mu.Unlock()
		return
	}
	if c.phase == phaseReady {
		h := c.handlers[m.Channel()]
		c.mu.Unlock()
		if h == nil {
			return
		}
		if reply, ok := h(m); ok {
			c.Post(m.Channel(), reply)
		}
		return
	}
	defer c.mu.Unlock()

	switch c.phase {
	case phaseHello:
		c.helloAck(m)
	case phaseEPMap:
		c.epack(m)
	case phaseStart:
		c.startEP(m)
	case phaseBuffers:
		c.grant(m)
	case phasePower:
		c.powerAck(m)
	default:
		c.fault(m, "coprocessor not started")
	}
}

func (c *Coprocessor) helloAck(m mailbox.Message) {
	if m.Channel() != mailbox.EndpointControl || m.Type() != mailbox.TypeHelloAck {
		c.fault(m, "expected hello-ack")
		return
	}
	if got := mailbox.ParseHelloAck(m).Subtype; got != c.cfg.Subtype {
		c.fault(m, fmt.Sprintf("hello-ack subtype %d, offered %d", got, c.cfg.Subtype))
		return
	}
	c.phase = phaseEPMap
	c.Post(mailbox.EndpointControl, c.blocks[0].Message())
}

func (c *Coprocessor) epack(m mailbox.Message) {
	if m.Channel() != mailbox.EndpointControl || m.Type() != mailbox.TypeEPMap {
		c.fault(m, "expected epack")
		return
	}
	cur := c.blocks[c.block]
	if ack := mailbox.ParseEPAck(m); ack.Block != cur.Block || ack.Last != cur.Last {
		c.fault(m, fmt.Sprintf("epack for block %d, sent block %d", ack.Block, cur.Block))
		return
	}
	c.block++
	if c.block < len(c.blocks) {
		c.Post(mailbox.EndpointControl, c.blocks[c.block].Message())
		return
	}
	c.phase = phaseStart
	if len(c.pending) == 0 {
		c.requestBuffers()
	}
}

func (c *Coprocessor) startEP(m mailbox.Message) {
	if m.Channel() != mailbox.EndpointControl || m.Type() != mailbox.TypeStartEP {
		c.fault(m, "expected start-ep")
		return
	}
	ep := mailbox.ParseStartEP(m).Endpoint
	if len(c.pending) == 0 || c.pending[0] != ep {
		c.fault(m, fmt.Sprintf("endpoint %d started out of order", ep))
		return
	}
	c.pending = c.pending[1:]
	c.started = append(c.started, ep)
	if len(c.pending) == 0 {
		c.requestBuffers()
	}
}

// requestBuffers posts the next buffer request, or power-ok once every
// buffer is granted.
func (c *Coprocessor) requestBuffers() {
	if c.buffer < len(c.cfg.Buffers) {
		c.phase = phaseBuffers
		b := c.cfg.Buffers[c.buffer]
		c.Post(b.Endpoint, mailbox.BufferRequest{Endpoint: b.Endpoint, Pages: b.Pages}.Message())
		return
	}
	c.phase = phasePower
	c.Post(mailbox.EndpointControl, mailbox.PowerOK{State: c.cfg.PowerState}.Message())
}

func (c *Coprocessor) grant(m mailbox.Message) {
	want := c.cfg.Buffers[c.buffer]
	g := mailbox.ParseBufferRequest(m)
	if g.Endpoint != want.Endpoint || g.Pages != want.Pages {
		c.fault(m, fmt.Sprintf("grant for endpoint %d, requested on %d", g.Endpoint, want.Endpoint))
		return
	}
	c.grants = append(c.grants, g)
	c.buffer++
	c.requestBuffers()
}

func (c *Coprocessor) powerAck(m mailbox.Message) {
	if m.Channel() != mailbox.EndpointControl || m.Type() != mailbox.TypePowerAck {
		c.fault(m, "expected power-ack")
		return
	}
	if got := mailbox.ParsePowerAck(m).State; got != c.cfg.PowerState {
		c.fault(m, fmt.Sprintf("power-ack state 0x%x, reported 0x%x", got, c.cfg.PowerState))
		return
	}
	c.phase = phaseReady
	if c.cfg.OnReady != nil {
		c.cfg.OnReady()
	}
}
