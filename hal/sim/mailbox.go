package sim

import (
	"sync"
)

// Mailbox register map. These mirror the hardware block the simulator models.
const (
	RegCPUCtrl = 0x0044 // coprocessor control (R/W, 32-bit)
	RegA2IStat = 0x8110 // host-to-coprocessor FIFO status (R, 32-bit)
	RegI2AStat = 0x8114 // coprocessor-to-host FIFO status (R, 32-bit)
	RegA2IMsg0 = 0x8800 // outbound word 0 (W, 64-bit)
	RegA2IMsg1 = 0x8808 // outbound word 1, push on write (W, 64-bit)
	RegI2AMsg0 = 0x8830 // inbound word 0 (R, 64-bit)
	RegI2AMsg1 = 0x8838 // inbound word 1, pop on read (R, 64-bit)

	CPUCtrlRun = 1 << 4  // coprocessor running
	StatFull   = 1 << 16 // FIFO full
	StatEmpty  = 1 << 17 // FIFO empty

	// MailboxSize is the size of the register block.
	MailboxSize = 0x10000

	// DefaultDepth is the FIFO depth in messages.
	DefaultDepth = 8
)

// Word is a raw two-word mailbox message.
type Word struct {
	W0, W1 uint64
}

// Mailbox models the coprocessor mailbox register block.
//
// The model is reactive: the coprocessor side runs inside the host's register
// write that triggers it. A host write to RegA2IMsg1 pushes a message into the
// outbound FIFO and, unless the mailbox is stalled, immediately hands it to
// the handler installed with Handle. Setting the run bit in RegCPUCtrl calls
// the handler installed with OnStart. Handlers answer with Post.
type Mailbox struct {
	mu      sync.Mutex
	cpuCtrl uint32
	depth   int
	latch   uint64
	out     []Word
	in      []Word
	sent    []Word
	stalled bool

	handler func(Word)
	onStart func()
}

// NewMailbox returns a mailbox with FIFOs of DefaultDepth.
func NewMailbox() *Mailbox {
	return &Mailbox{depth: DefaultDepth}
}

// SetDepth sets the FIFO depth in messages.
func (m *Mailbox) SetDepth(depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depth = depth
}

// SetRunning sets the run bit without invoking OnStart, modelling a
// coprocessor left running by an earlier boot stage.
func (m *Mailbox) SetRunning(running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if running {
		m.cpuCtrl |= CPUCtrlRun
	} else {
		m.cpuCtrl &^= CPUCtrlRun
	}
}

// SetStalled stops (or resumes) the coprocessor draining the outbound FIFO.
// Resuming delivers every queued message in order.
func (m *Mailbox) SetStalled(stalled bool) {
	m.mu.Lock()
	m.stalled = stalled
	m.mu.Unlock()
	if !stalled {
		m.drain()
	}
}

// Handle installs the coprocessor-side handler for outbound messages.
func (m *Mailbox) Handle(fn func(Word)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

// OnStart installs the callback for the run bit going from clear to set.
func (m *Mailbox) OnStart(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStart = fn
}

// Post queues a message for the host. Messages beyond the FIFO depth are
// still queued; a real coprocessor would block, which the model cannot.
func (m *Mailbox) Post(w0, w1 uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.in = append(m.in, Word{W0: w0, W1: w1})
}

// Sent returns every message the host has written, in order.
func (m *Mailbox) Sent() []Word {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Word(nil), m.sent...)
}

// Pending returns the number of messages waiting for the host.
func (m *Mailbox) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.in)
}

// Running reports whether the run bit is set.
func (m *Mailbox) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cpuCtrl&CPUCtrlRun != 0
}

func (m *Mailbox) drain() {
	for {
		m.mu.Lock()
		if m.stalled || len(m.out) == 0 || m.handler == nil {
			m.mu.Unlock()
			return
		}
		w := m.out[0]
		m.out = m.out[1:]
		fn := m.handler
		m.mu.Unlock()
		fn(w)
	}
}

func status(n, depth int) uint32 {
	var s uint32
	if n == 0 {
		s |= StatEmpty
	}
	if n >= depth {
		s |= StatFull
	}
	return s
}

// Read32 implements hal.MMIO.
func (m *Mailbox) Read32(offset uint64) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch offset {
	case RegCPUCtrl:
		return m.cpuCtrl
	case RegA2IStat:
		return status(len(m.out), m.depth)
	case RegI2AStat:
		return status(len(m.in), m.depth)
	}
	return 0
}

// Write32 implements hal.MMIO.
func (m *Mailbox) Write32(offset uint64, value uint32) {
	if offset != RegCPUCtrl {
		return
	}
	m.mu.Lock()
	started := m.cpuCtrl&CPUCtrlRun == 0 && value&CPUCtrlRun != 0
	m.cpuCtrl = value
	fn := m.onStart
	m.mu.Unlock()
	if started && fn != nil {
		fn()
	}
}

// Read64 implements hal.MMIO.
func (m *Mailbox) Read64(offset uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.in) == 0 {
		return 0
	}
	switch offset {
	case RegI2AMsg0:
		return m.in[0].W0
	case RegI2AMsg1:
		w := m.in[0]
		m.in = m.in[1:]
		return w.W1
	}
	return 0
}

// Write64 implements hal.MMIO.
func (m *Mailbox) Write64(offset uint64, value uint64) {
	m.mu.Lock()
	switch offset {
	case RegA2IMsg0:
		m.latch = value
		m.mu.Unlock()
		return
	case RegA2IMsg1:
		w := Word{W0: m.latch, W1: value}
		m.out = append(m.out, w)
		m.sent = append(m.sent, w)
		m.mu.Unlock()
		m.drain()
		return
	}
	m.mu.Unlock()
}

// Size implements hal.MMIO.
func (m *Mailbox) Size() uint64 {
	return MailboxSize
}
