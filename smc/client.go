package smc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"github.com/ardnew/softmbox/hal"
	"github.com/ardnew/softmbox/mailbox"
	"github.com/ardnew/softmbox/pkg"
)

// Client issues SMC commands over a bootstrapped mailbox.
//
// Payloads travel through a shared SRAM window: the input is written before
// the request is sent and the output is read after the matching reply
// arrives. One command is outstanding at a time; a Client must not be used
// from more than one goroutine.
type Client struct {
	t       *mailbox.Transport
	window  hal.MMIO
	channel uint8
	seq     uint8
}

// New returns a client using window as the shared SRAM and channel for
// ReadKey and WriteKey.
func New(t *mailbox.Transport, window hal.MMIO, channel uint8) *Client {
	return &Client{t: t, window: window, channel: channel}
}

// Open asks the SMC on channel where its SRAM window is and maps size bytes
// of it through m.
func Open(t *mailbox.Transport, m hal.Mapper, channel uint8, size uint64) (*Client, error) {
	if size == 0 {
		size = DefaultWindowSize
	}
	c := New(t, nil, channel)
	_, reply, err := c.exchange(channel, Request{Command: CmdGetSRAMAddr})
	if err != nil {
		return nil, fmt.Errorf("get SRAM address: %w", err)
	}

	addr := reply.W0
	window, err := m.Map(addr, size)
	if err != nil {
		return nil, fmt.Errorf("map SRAM window 0x%x+0x%x: %w", addr, size, err)
	}
	c.window = window

	pkg.LogInfo(pkg.ComponentSMC, "opened", "channel", channel,
		"sram", fmt.Sprintf("0x%x", addr), "size", size)
	return c, nil
}

// Channel returns the channel used by ReadKey and WriteKey.
func (c *Client) Channel() uint8 { return c.channel }

// Window returns the shared SRAM window.
func (c *Client) Window() hal.MMIO { return c.window }

func (c *Client) nextSeq() uint8 {
	s := c.seq
	c.seq = (c.seq + 1) % NumSeq
	return s
}

// exchange stamps the next sequence tag on req, sends it and waits for the
// reply on the same channel.
func (c *Client) exchange(channel uint8, req Request) (Request, mailbox.Message, error) {
	req.Seq = c.nextSeq()
	if err := c.t.Send(channel, req.Message()); err != nil {
		return req, mailbox.Message{}, err
	}
	reply, err := c.t.Receive(channel)
	if err != nil {
		return req, mailbox.Message{}, err
	}
	return req, reply, nil
}

// Call runs one command on channel. The input is copied into the shared
// window, and the request advertises max(len(in), outCap) bytes. When
// outCap is positive the first outCap bytes of the window are returned.
//
// Failures are distinguishable: pkg.ErrTimeout when no reply arrives,
// pkg.ErrNak when the SMC rejects the command, pkg.ErrShortData when it
// returns fewer than outCap bytes, and pkg.ErrProtocolViolation when the
// reply carries another request's sequence tag.
func (c *Client) Call(channel uint8, cmd Command, key Key, in []byte, outCap int) ([]byte, error) {
	size := len(in)
	if outCap > size {
		size = outCap
	}
	if outCap < 0 || size > sizeMask {
		return nil, fmt.Errorf("%w: %s transfer of %d bytes", pkg.ErrInvalidParameter, cmd, size)
	}
	if c.window == nil || wordSpan(size) > c.window.Size() {
		return nil, fmt.Errorf("%w: %s transfer of %d bytes exceeds the shared window",
			pkg.ErrInvalidParameter, cmd, size)
	}

	if len(in) > 0 {
		WriteWindow(c.window, in)
	}

	req, msg, err := c.exchange(channel, Request{Command: cmd, Key: key, Size: uint16(size)})
	if err != nil {
		pkg.LogWarn(pkg.ComponentSMC, "command failed", "request", req, "error", err)
		return nil, fmt.Errorf("%s %s: %w", cmd, key, err)
	}

	reply := ParseReply(msg)
	pkg.LogDebug(pkg.ComponentSMC, "reply", "request", req, "result", reply.Result, "size", reply.Size)

	switch {
	case reply.Seq != req.Seq:
		return nil, fmt.Errorf("%w: %s %s: reply sequence %d, sent %d",
			pkg.ErrProtocolViolation, cmd, key, reply.Seq, req.Seq)
	case reply.Result == ResultKeyNotFound:
		return nil, fmt.Errorf("%w: %s %s: key not found", pkg.ErrNak, cmd, key)
	case reply.Result != ResultOK:
		return nil, fmt.Errorf("%w: %s %s: result 0x%02x", pkg.ErrNak, cmd, key, reply.Result)
	}

	if outCap == 0 {
		return nil, nil
	}
	if int(reply.Size) < outCap {
		return nil, fmt.Errorf("%w: %s %s: got %d bytes, want %d",
			pkg.ErrShortData, cmd, key, reply.Size, outCap)
	}
	out := make([]byte, outCap)
	ReadWindow(c.window, out)
	return out, nil
}

// ReadKey reads n bytes of key.
func (c *Client) ReadKey(key Key, n int) ([]byte, error) {
	return c.Call(c.channel, CmdReadKey, key, nil, n)
}

// WriteKey writes data to key.
func (c *Client) WriteKey(key Key, data []byte) error {
	_, err := c.Call(c.channel, CmdWriteKey, key, data, 0)
	return err
}

// RetryPolicy bounds CallRetry.
type RetryPolicy struct {
	Attempts int           // total calls, at least 1
	Min      time.Duration // first backoff
	Max      time.Duration // backoff ceiling
	Factor   float64       // growth per attempt
}

// DefaultRetryPolicy makes three attempts backing off from 1ms.
var DefaultRetryPolicy = RetryPolicy{
	Attempts: 3,
	Min:      time.Millisecond,
	Max:      50 * time.Millisecond,
	Factor:   2,
}

// retryable reports whether err leaves the SMC in a state where the same
// command may be sent again.
func retryable(err error) bool {
	return errors.Is(err, pkg.ErrTimeout)
}

// CallRetry is Call retried with exponential backoff while it times out.
// Other failures, and the last timeout, are returned as is. Replies that
// arrive late are drained before each retry so they cannot be mistaken for
// the answer to the next request.
func (c *Client) CallRetry(ctx context.Context, p RetryPolicy, channel uint8, cmd Command, key Key, in []byte, outCap int) ([]byte, error) {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	b := &backoff.Backoff{
		Min:    p.Min,
		Max:    p.Max,
		Factor: p.Factor,
		Jitter: false,
	}

	var err error
	for attempt := 1; ; attempt++ {
		var out []byte
		out, err = c.Call(channel, cmd, key, in, outCap)
		if err == nil || !retryable(err) || attempt == p.Attempts {
			return out, err
		}

		d := b.Duration()
		pkg.LogInfo(pkg.ComponentSMC, "retrying", "command", cmd, "key", key,
			"attempt", attempt, "backoff", d, "error", err)

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w (after %d attempts: %v)", ctx.Err(), attempt, err)
		case <-t.C:
		}
		c.t.Drain()
	}
}
