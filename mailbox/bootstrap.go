package mailbox

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ardnew/softmbox/arena"
	"github.com/ardnew/softmbox/pkg"
)

// Grant records one buffer handed to the coprocessor during bootstrap.
type Grant struct {
	Endpoint uint8
	Addr     uint64
	Size     uint64
}

// Result is what a completed bootstrap hands to command layers.
type Result struct {
	RunID   uuid.UUID
	Subtype uint32

	// Endpoints lists every endpoint the coprocessor declared, in discovery
	// order, including the control endpoint.
	Endpoints []uint8

	// Grants lists the buffers granted, in request order.
	Grants []Grant

	// WindowBase and WindowSize span every byte granted during this run.
	WindowBase uint64
	WindowSize uint64
}

// HasEndpoint reports whether ep was discovered.
func (r *Result) HasEndpoint(ep uint8) bool {
	for _, e := range r.Endpoints {
		if e == ep {
			return true
		}
	}
	return false
}

// Bootstrap drives a coprocessor from reset to ready over a Transport.
//
// The handshake is a one-shot sequence: a fault leaves the machine in
// StateFailed and it is never retried, since the coprocessor's state after a
// partial handshake is undefined. Construct a new Bootstrap to try again.
type Bootstrap struct {
	t   *Transport
	res *arena.Reservation
	id  uuid.UUID
	log *slog.Logger

	state State
	err   error

	mark      uint64
	subtype   uint32
	block     EPMap
	seen      uint8 // bit i set: epmap block i received
	maps      int
	endpoints []uint8
	request   BufferRequest
	powerOK   PowerOK
	grants    []Grant
	result    *Result
}

// NewBootstrap returns a bootstrap in StateIdle. Buffer requests are served
// from res; a nil res fails the first request with pkg.ErrOutOfMemory.
func NewBootstrap(t *Transport, res *arena.Reservation) *Bootstrap {
	id := uuid.New()
	return &Bootstrap{
		t:     t,
		res:   res,
		id:    id,
		log:   pkg.Logger(pkg.ComponentBootstrap, "mailbox", t.Name(), "run", id.String()),
		state: StateIdle,
	}
}

// RunID returns the identifier attached to every log record of this run.
func (b *Bootstrap) RunID() uuid.UUID { return b.id }

// State returns the current state.
func (b *Bootstrap) State() State { return b.state }

// Err returns the fault that stopped the machine, or nil.
func (b *Bootstrap) Err() error { return b.err }

// Result returns the outcome of a completed run, or pkg.ErrNotReady before
// the machine reaches StateDone.
func (b *Bootstrap) Result() (*Result, error) {
	if b.state != StateDone {
		return nil, fmt.Errorf("%w: bootstrap is in %s", pkg.ErrNotReady, b.state)
	}
	return b.result, nil
}

// Endpoints returns the discovered endpoints of a completed run.
func (b *Bootstrap) Endpoints() ([]uint8, error) {
	r, err := b.Result()
	if err != nil {
		return nil, err
	}
	return r.Endpoints, nil
}

// Step performs exactly one transition and returns the new state.
//
// Stepping a finished machine does nothing: it returns pkg.ErrAlreadyRunning
// after success and the recorded fault after failure.
func (b *Bootstrap) Step() (State, error) {
	switch b.state {
	case StateDone:
		return b.state, fmt.Errorf("%w: bootstrap already completed", pkg.ErrAlreadyRunning)
	case StateFailed:
		return b.state, b.err
	}

	from := b.state
	next, err := b.transition()
	if err != nil {
		return b.fail(from, err)
	}

	b.log.Debug("transition", "from", from, "to", next)
	b.state = next
	if next == StateDone {
		b.t.metrics.Bootstraps.WithLabelValues("ok").Inc()
		b.log.Info("bootstrap complete",
			"subtype", b.subtype, "endpoints", b.endpoints, "grants", len(b.grants),
			"window", fmt.Sprintf("0x%x+0x%x", b.result.WindowBase, b.result.WindowSize))
	}
	return next, nil
}

// Run steps the machine until it finishes and returns the result.
func (b *Bootstrap) Run() (*Result, error) {
	if b.state.Terminal() {
		_, err := b.Step()
		return nil, err
	}
	for !b.state.Terminal() {
		if _, err := b.Step(); err != nil {
			return nil, err
		}
	}
	return b.result, nil
}

func (b *Bootstrap) fail(from State, err error) (State, error) {
	b.err = fmt.Errorf("%s: %w", from, err)
	b.state = StateFailed
	fault := pkg.FaultOf(err)
	b.t.metrics.Bootstraps.WithLabelValues(fault.String()).Inc()
	b.log.Error("bootstrap failed", "state", from, "fault", fault, "error", err)
	return b.state, b.err
}

func (b *Bootstrap) transition() (State, error) {
	switch b.state {
	case StateIdle:
		return b.idle()
	case StateWaitHello:
		return b.waitHello()
	case StateSendHello:
		return b.sendHello()
	case StateWaitEPMap:
		return b.waitEPMap()
	case StateSendEPAck:
		return b.sendEPAck()
	case StateSendEPStart:
		return b.sendEPStart()
	case StateWaitPowerOK:
		return b.waitPowerOK()
	case StateGrantBuffer:
		return b.grantBuffer()
	case StateSendPowerAck:
		return b.sendPowerAck()
	default:
		return StateFailed, fmt.Errorf("%w: no transition from %s", pkg.ErrInvalidParameter, b.state)
	}
}

func (b *Bootstrap) idle() (State, error) {
	if b.res != nil {
		b.mark = b.res.Next()
	}
	if b.t.Running() {
		b.log.Debug("coprocessor already running, requesting idle")
		if err := b.t.Send(EndpointControl, IdleRequest{}.Message()); err != nil {
			return StateFailed, err
		}
		return StateWaitHello, nil
	}
	b.t.Start()
	return StateWaitHello, nil
}

func (b *Bootstrap) waitHello() (State, error) {
	m, err := b.t.ReceiveAny()
	if err != nil {
		return StateFailed, err
	}
	if m.Endpoint() != EndpointControl || m.Type() != TypeHello {
		return StateFailed, unexpected(StateWaitHello, m, "expected hello on endpoint 0")
	}
	b.subtype = ParseHello(m).Subtype
	b.log.Debug("hello", "subtype", b.subtype)
	return StateSendHello, nil
}

func (b *Bootstrap) sendHello() (State, error) {
	if err := b.t.Send(EndpointControl, HelloAck{Subtype: b.subtype}.Message()); err != nil {
		return StateFailed, err
	}
	return StateWaitEPMap, nil
}

func (b *Bootstrap) waitEPMap() (State, error) {
	m, err := b.t.ReceiveAny()
	if err != nil {
		return StateFailed, err
	}
	if m.Endpoint() != EndpointControl || m.Type() != TypeEPMap {
		return StateFailed, unexpected(StateWaitEPMap, m, "expected endpoint map on endpoint 0")
	}
	if b.maps == MaxEPMapBlocks {
		return StateFailed, unexpected(StateWaitEPMap, m, "endpoint map longer than 8 blocks")
	}

	e := ParseEPMap(m)
	if b.seen&(1<<e.Block) != 0 {
		return StateFailed, unexpected(StateWaitEPMap, m,
			fmt.Sprintf("endpoint map block %d repeated", e.Block))
	}
	b.seen |= 1 << e.Block
	b.maps++
	b.block = e
	b.endpoints = e.Endpoints(b.endpoints)

	b.log.Debug("endpoint map", "block", e.Block, "bitmap", fmt.Sprintf("0x%08x", e.Bitmap), "last", e.Last)
	return StateSendEPAck, nil
}

func (b *Bootstrap) sendEPAck() (State, error) {
	if err := b.t.Send(EndpointControl, b.block.Ack().Message()); err != nil {
		return StateFailed, err
	}
	if b.block.Last {
		return StateSendEPStart, nil
	}
	return StateWaitEPMap, nil
}

func (b *Bootstrap) sendEPStart() (State, error) {
	for _, ep := range b.endpoints {
		if ep == EndpointControl {
			continue
		}
		if err := b.t.Send(EndpointControl, StartEP{Endpoint: ep}.Message()); err != nil {
			return StateFailed, fmt.Errorf("start endpoint %d: %w", ep, err)
		}
		b.log.Debug("started endpoint", "endpoint", ep)
	}
	return StateWaitPowerOK, nil
}

func (b *Bootstrap) waitPowerOK() (State, error) {
	m, err := b.t.ReceiveAny()
	if err != nil {
		return StateFailed, err
	}
	switch {
	case IsBufferEndpoint(m.Endpoint()):
		b.request = ParseBufferRequest(m)
		return StateGrantBuffer, nil
	case m.Endpoint() == EndpointControl && m.Type() == TypePowerOK:
		b.powerOK = ParsePowerOK(m)
		return StateSendPowerAck, nil
	}
	return StateFailed, unexpected(StateWaitPowerOK, m, "expected power-ok or buffer request")
}

func (b *Bootstrap) grantBuffer() (State, error) {
	req := b.request
	if b.res == nil {
		return StateFailed, fmt.Errorf("%w: no reservation for %d-page buffer on endpoint %d",
			pkg.ErrOutOfMemory, req.Pages, req.Endpoint)
	}
	addr, err := b.res.Allocate(req.Size())
	if err != nil {
		return StateFailed, fmt.Errorf("buffer for endpoint %d: %w", req.Endpoint, err)
	}
	grant, err := req.Grant(addr)
	if err != nil {
		return StateFailed, err
	}
	if err := b.t.Send(req.Endpoint, grant); err != nil {
		return StateFailed, err
	}

	b.grants = append(b.grants, Grant{Endpoint: req.Endpoint, Addr: addr, Size: req.Size()})
	b.t.metrics.BufferBytes.Add(float64(req.Size()))
	b.log.Debug("granted buffer", "endpoint", req.Endpoint,
		"addr", fmt.Sprintf("0x%x", addr), "size", req.Size())
	return StateWaitPowerOK, nil
}

func (b *Bootstrap) sendPowerAck() (State, error) {
	if err := b.t.Send(EndpointControl, PowerAck{State: b.powerOK.State}.Message()); err != nil {
		return StateFailed, err
	}

	r := &Result{
		RunID:     b.id,
		Subtype:   b.subtype,
		Endpoints: append([]uint8(nil), b.endpoints...),
		Grants:    append([]Grant(nil), b.grants...),
	}
	if b.res != nil {
		r.WindowBase, r.WindowSize = b.res.Since(b.mark)
	}
	b.result = r
	return StateDone, nil
}
