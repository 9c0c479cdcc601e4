package mailbox

import (
	"fmt"

	"github.com/ardnew/softmbox/hal"
	"github.com/ardnew/softmbox/pkg"
)

// Config configures a Transport.
type Config struct {
	// Name identifies the mailbox in logs and metrics.
	Name string

	// Poll bounds every send and receive. The zero value selects
	// hal.DefaultPoll.
	Poll hal.Poll

	// Metrics receives traffic counts. Nil creates unregistered collectors.
	Metrics *Metrics
}

// Transport moves messages through the mailbox FIFO pair.
//
// Many logical channels share the one physical FIFO. Send stamps the
// channel into the low byte of word 1; Receive filters on it. The transport
// keeps no backlog: a message read by a receiver expecting another channel
// is dropped. That is only safe because exactly one conversation is active
// at a time, and a Transport must not be used from more than one goroutine.
type Transport struct {
	regs    hal.MMIO
	name    string
	poll    hal.Poll
	metrics *Metrics
}

// NewTransport returns a transport over the mailbox registers in regs.
func NewTransport(regs hal.MMIO, cfg Config) *Transport {
	if cfg.Poll.Retries <= 0 {
		cfg.Poll = hal.DefaultPoll
	}
	if cfg.Name == "" {
		cfg.Name = "mailbox"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil, cfg.Name)
	}
	return &Transport{
		regs:    regs,
		name:    cfg.Name,
		poll:    cfg.Poll,
		metrics: cfg.Metrics,
	}
}

// Name returns the mailbox name.
func (t *Transport) Name() string { return t.name }

// Metrics returns the transport's collectors.
func (t *Transport) Metrics() *Metrics { return t.metrics }

// Poll returns the polling budget used for each operation.
func (t *Transport) Poll() hal.Poll { return t.poll }

// Running reports whether the coprocessor's run bit is set.
func (t *Transport) Running() bool {
	return t.regs.Read32(RegCPUCtrl)&CPUCtrlRun != 0
}

// Start sets the coprocessor's run bit.
func (t *Transport) Start() {
	t.regs.Write32(RegCPUCtrl, t.regs.Read32(RegCPUCtrl)|CPUCtrlRun)
	pkg.LogDebug(pkg.ComponentMailbox, "coprocessor started", "mailbox", t.name)
}

// Send waits for room in the outbound FIFO and writes msg tagged with
// channel. If the FIFO stays full for the whole poll budget Send fails with
// an error matching both pkg.ErrBusy and pkg.ErrTimeout.
func (t *Transport) Send(channel uint8, msg Message) error {
	_, ok := t.poll.Until(func() bool {
		return t.regs.Read32(RegA2IStat)&StatFull == 0
	})
	if !ok {
		t.metrics.Timeouts.Inc()
		pkg.LogWarn(pkg.ComponentMailbox, "outbound FIFO stuck full",
			"mailbox", t.name, "channel", channel, "polls", t.poll.Retries)
		return fmt.Errorf("%w: %w: send on channel %d after %d polls",
			pkg.ErrBusy, pkg.ErrTimeout, channel, t.poll.Retries)
	}

	msg.W1 = msg.W1&^channelMask | uint64(channel)
	t.regs.Write64(RegA2IMsg0, msg.W0)
	t.regs.Write64(RegA2IMsg1, msg.W1)
	t.metrics.MessagesSent.Inc()

	pkg.LogDebug(pkg.ComponentMailbox, "sent", "mailbox", t.name, "message", msg)
	return nil
}

// Receive returns the next inbound message tagged with channel, discarding
// any message with a different tag.
//
// The poll budget covers the whole call: every status check of an empty
// FIFO and every discarded message each consume one retry, so foreign
// traffic cannot extend the wait past the budget.
func (t *Transport) Receive(channel uint8) (Message, error) {
	return t.receive(int(channel))
}

// ReceiveAny returns the next inbound message whatever its tag. The
// bootstrap uses it because it must see, and verify, the endpoint itself.
func (t *Transport) ReceiveAny() (Message, error) {
	return t.receive(-1)
}

func (t *Transport) receive(want int) (Message, error) {
	for i := 0; i < t.poll.Retries; i++ {
		if t.regs.Read32(RegI2AStat)&StatEmpty != 0 {
			t.poll.Wait()
			continue
		}

		msg := Message{
			W0: t.regs.Read64(RegI2AMsg0),
			W1: t.regs.Read64(RegI2AMsg1),
		}
		if want >= 0 && int(msg.Channel()) != want {
			t.metrics.MessagesDropped.Inc()
			pkg.LogDebug(pkg.ComponentMailbox, "dropped message for another channel",
				"mailbox", t.name, "want", want, "message", msg)
			continue
		}

		t.metrics.MessagesReceived.Inc()
		pkg.LogDebug(pkg.ComponentMailbox, "received", "mailbox", t.name, "message", msg)
		return msg, nil
	}

	t.metrics.Timeouts.Inc()
	pkg.LogWarn(pkg.ComponentMailbox, "receive timed out",
		"mailbox", t.name, "channel", want, "polls", t.poll.Retries)
	if want < 0 {
		return Message{}, fmt.Errorf("%w: receive after %d polls", pkg.ErrTimeout, t.poll.Retries)
	}
	return Message{}, fmt.Errorf("%w: receive on channel %d after %d polls",
		pkg.ErrTimeout, want, t.poll.Retries)
}

// Drain discards every message waiting in the inbound FIFO and returns how
// many were discarded.
func (t *Transport) Drain() int {
	n := 0
	for n < t.poll.Retries && t.regs.Read32(RegI2AStat)&StatEmpty == 0 {
		t.regs.Read64(RegI2AMsg0)
		t.regs.Read64(RegI2AMsg1)
		t.metrics.MessagesDropped.Inc()
		n++
	}
	if n > 0 {
		pkg.LogDebug(pkg.ComponentMailbox, "drained inbound FIFO", "mailbox", t.name, "count", n)
	}
	return n
}
