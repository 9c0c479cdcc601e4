package smc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/softmbox/hal"
	"github.com/ardnew/softmbox/hal/sim"
	"github.com/ardnew/softmbox/mailbox"
	"github.com/ardnew/softmbox/mailbox/mailboxsim"
	"github.com/ardnew/softmbox/pkg"
)

// =============================================================================
// Test Helpers
// =============================================================================

type harness struct {
	tr     *mailbox.Transport
	cop    *mailboxsim.Coprocessor
	sram   *sim.Memory
	client *Client
}

// newHarness bootstraps a simulated coprocessor exposing Endpoint and returns
// a client whose window is a plain simulated SRAM.
func newHarness(t *testing.T, h mailboxsim.Handler) *harness {
	t.Helper()
	mb := sim.NewMailbox()
	cop := mailboxsim.New(mb, mailboxsim.Config{Endpoints: []uint8{0, Endpoint}})
	tr := mailbox.NewTransport(mb, mailbox.Config{Name: t.Name(), Poll: hal.Poll{Retries: 16}})
	if _, err := mailbox.NewBootstrap(tr, nil).Run(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	cop.Handle(Endpoint, h)

	sram := sim.NewMemory(0x100)
	return &harness{tr: tr, cop: cop, sram: sram, client: New(tr, sram, Endpoint)}
}

// echo answers every request successfully, leaving the window untouched so
// the output equals the input.
func echo(seen *[]Request) mailboxsim.Handler {
	return func(m mailbox.Message) (mailbox.Message, bool) {
		req := ParseRequest(m)
		if seen != nil {
			*seen = append(*seen, req)
		}
		return Reply{Result: ResultOK, Seq: req.Seq, Size: req.Size}.Message(), true
	}
}

func reply(r Reply) mailboxsim.Handler {
	return func(m mailbox.Message) (mailbox.Message, bool) {
		r := r
		r.Seq = ParseRequest(m).Seq
		return r.Message(), true
	}
}

// =============================================================================
// Codec Tests
// =============================================================================

func TestRequest_Message(t *testing.T) {
	req := Request{Command: CmdWriteKey, Key: MustParseKey("gP01"), Size: 4, Seq: 3}
	want := uint64(0x11) | uint64(0x67503031)<<32 | 4<<16 | 3<<12
	if got := req.Message().W0; got != want {
		t.Errorf("W0 = 0x%016x, want 0x%016x", got, want)
	}
	if got := ParseRequest(req.Message()); got != req {
		t.Errorf("ParseRequest() = %+v, want %+v", got, req)
	}
}

func TestReply_Parse(t *testing.T) {
	r := ParseReply(mailbox.Message{W0: 0x0004_7084})
	want := Reply{Result: ResultKeyNotFound, Seq: 7, Size: 4}
	if r != want {
		t.Errorf("ParseReply() = %+v, want %+v", r, want)
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in      string
		want    Key
		wantErr bool
	}{
		{"gP01", 0x67503031, false},
		{"#KEY", 0x234b4559, false},
		{"abc", 0, true},
		{"abcde", 0, true},
		{"ab\x00c", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKey(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, pkg.ErrInvalidParameter) {
					t.Errorf("error = %v, want ErrInvalidParameter", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseKey() = 0x%08x, want 0x%08x", uint32(got), uint32(tt.want))
			}
			if got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

// =============================================================================
// Window Tests
// =============================================================================

func TestWindow_PartialWord(t *testing.T) {
	mem := sim.NewMemory(16)
	mem.Write32(4, 0xaabbccdd)

	WriteWindow(mem, []byte{1, 2, 3, 4, 5, 6})
	if got := mem.Read32(4); got != 0xaabb0605 {
		t.Errorf("tail word = 0x%08x, want 0xaabb0605", got)
	}

	out := make([]byte, 6)
	ReadWindow(mem, out)
	if diff := cmp.Diff([]byte{1, 2, 3, 4, 5, 6}, out); diff != "" {
		t.Errorf("ReadWindow() mismatch (-want +got):\n%s", diff)
	}
}

// =============================================================================
// Call Tests
// =============================================================================

func TestCall_Echo(t *testing.T) {
	var seen []Request
	h := newHarness(t, echo(&seen))

	in := []byte{0xde, 0xad, 0xbe, 0xef}
	out, err := h.client.Call(Endpoint, CmdReadKey, MustParseKey("TEST"), in, 4)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if len(seen) != 1 || seen[0].Size != 4 || seen[0].Seq != 0 {
		t.Errorf("requests = %+v, want one 4-byte request with seq 0", seen)
	}
}

func TestCall_SequenceWraps(t *testing.T) {
	var seen []Request
	h := newHarness(t, echo(&seen))

	for i := 0; i < NumSeq+2; i++ {
		if _, err := h.client.Call(Endpoint, CmdWriteKey, 0, []byte{1}, 0); err != nil {
			t.Fatalf("Call() #%d error = %v", i, err)
		}
	}
	for i, req := range seen {
		if want := uint8(i % NumSeq); req.Seq != want {
			t.Errorf("request %d seq = %d, want %d", i, req.Seq, want)
		}
	}
}

func TestCall_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		handler mailboxsim.Handler
		outCap  int
		want    error
	}{
		{"not found", reply(Reply{Result: ResultKeyNotFound}), 4, pkg.ErrNak},
		{"error result", reply(Reply{Result: ResultError}), 4, pkg.ErrNak},
		{"short", reply(Reply{Result: ResultOK, Size: 2}), 4, pkg.ErrShortData},
		{"no reply", func(mailbox.Message) (mailbox.Message, bool) { return mailbox.Message{}, false }, 4, pkg.ErrTimeout},
		{
			"wrong sequence",
			func(m mailbox.Message) (mailbox.Message, bool) {
				return Reply{Seq: ParseRequest(m).Seq + 1, Size: 4}.Message(), true
			},
			4,
			pkg.ErrProtocolViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.handler)
			_, err := h.client.Call(Endpoint, CmdReadKey, MustParseKey("TEST"), nil, tt.outCap)
			if !errors.Is(err, tt.want) {
				t.Errorf("Call() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCall_FaultsAreDistinct(t *testing.T) {
	faults := map[pkg.Fault]bool{}
	for _, h := range []mailboxsim.Handler{
		reply(Reply{Result: ResultKeyNotFound}),
		reply(Reply{Size: 1}),
		func(mailbox.Message) (mailbox.Message, bool) { return mailbox.Message{}, false },
	} {
		_, err := newHarness(t, h).client.Call(Endpoint, CmdReadKey, 0, nil, 4)
		faults[pkg.FaultOf(err)] = true
	}
	if len(faults) != 3 {
		t.Errorf("faults = %v, want timeout, nak and short-data", faults)
	}
}

func TestCall_InvalidSizes(t *testing.T) {
	h := newHarness(t, echo(nil))

	if _, err := h.client.Call(Endpoint, CmdWriteKey, 0, make([]byte, 0x101), 0); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("oversized input error = %v, want ErrInvalidParameter", err)
	}
	if _, err := h.client.Call(Endpoint, CmdReadKey, 0, nil, -1); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("negative outCap error = %v, want ErrInvalidParameter", err)
	}
}

func TestCall_ChannelFiltering(t *testing.T) {
	h := newHarness(t, echo(nil))

	// Stray traffic on another channel is dropped, not mistaken for the reply.
	h.cop.Post(0x30, mailbox.Message{W0: uint64(ResultKeyNotFound)})
	if _, err := h.client.Call(Endpoint, CmdReadKey, 0, []byte{1, 2, 3, 4}, 4); err != nil {
		t.Errorf("Call() error = %v", err)
	}
}

// =============================================================================
// Open and Retry Tests
// =============================================================================

func TestOpen(t *testing.T) {
	mb := sim.NewMailbox()
	cop := mailboxsim.New(mb, mailboxsim.Config{Endpoints: []uint8{0, Endpoint}})
	tr := mailbox.NewTransport(mb, mailbox.Config{Poll: hal.Poll{Retries: 16}})
	if _, err := mailbox.NewBootstrap(tr, nil).Run(); err != nil {
		t.Fatal(err)
	}

	const sramAddr = 0x2_3400_0000
	sram := sim.NewMemory(DefaultWindowSize)
	space := sim.NewSpace()
	if err := space.Attach(sramAddr, sram); err != nil {
		t.Fatal(err)
	}

	var seen []Request
	cop.Handle(Endpoint, func(m mailbox.Message) (mailbox.Message, bool) {
		req := ParseRequest(m)
		seen = append(seen, req)
		if req.Command == CmdGetSRAMAddr {
			return mailbox.Message{W0: sramAddr}, true
		}
		return Reply{Seq: req.Seq, Size: req.Size}.Message(), true
	})

	c, err := Open(tr, space, Endpoint, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if c.Window().Size() != DefaultWindowSize {
		t.Errorf("window size = 0x%x", c.Window().Size())
	}
	if err := c.WriteKey(MustParseKey("gP01"), []byte{1, 0, 0, 0}); err != nil {
		t.Fatalf("WriteKey() error = %v", err)
	}
	if got := sram.Read32(0); got != 1 {
		t.Errorf("sram word 0 = 0x%x, want 1", got)
	}
	if len(seen) != 2 || seen[0].Command != CmdGetSRAMAddr || seen[1].Seq != 1 {
		t.Errorf("requests = %+v", seen)
	}
}

func TestOpen_Unmapped(t *testing.T) {
	h := newHarness(t, func(mailbox.Message) (mailbox.Message, bool) {
		return mailbox.Message{W0: 0x5000}, true
	})
	if _, err := Open(h.tr, sim.NewSpace(), Endpoint, 0); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("Open() error = %v, want ErrOutOfRange", err)
	}
}

func TestCallRetry(t *testing.T) {
	calls := 0
	h := newHarness(t, func(m mailbox.Message) (mailbox.Message, bool) {
		calls++
		if calls < 3 {
			return mailbox.Message{}, false
		}
		req := ParseRequest(m)
		return Reply{Seq: req.Seq, Size: req.Size}.Message(), true
	})

	p := RetryPolicy{Attempts: 3, Min: time.Microsecond, Max: time.Millisecond, Factor: 2}
	if _, err := h.client.CallRetry(context.Background(), p, Endpoint, CmdReadKey, 0, nil, 4); err != nil {
		t.Fatalf("CallRetry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestCallRetry_GivesUp(t *testing.T) {
	calls := 0
	h := newHarness(t, func(mailbox.Message) (mailbox.Message, bool) {
		calls++
		return mailbox.Message{}, false
	})

	p := RetryPolicy{Attempts: 2, Min: time.Microsecond, Max: time.Microsecond, Factor: 1}
	_, err := h.client.CallRetry(context.Background(), p, Endpoint, CmdReadKey, 0, nil, 4)
	if !errors.Is(err, pkg.ErrTimeout) {
		t.Errorf("CallRetry() error = %v, want ErrTimeout", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestCallRetry_NakNotRetried(t *testing.T) {
	calls := 0
	h := newHarness(t, func(m mailbox.Message) (mailbox.Message, bool) {
		calls++
		return Reply{Result: ResultKeyNotFound, Seq: ParseRequest(m).Seq}.Message(), true
	})

	_, err := h.client.CallRetry(context.Background(), DefaultRetryPolicy, Endpoint, CmdReadKey, 0, nil, 4)
	if !errors.Is(err, pkg.ErrNak) || calls != 1 {
		t.Errorf("CallRetry() error = %v after %d calls, want one ErrNak", err, calls)
	}
}

func TestCallRetry_Canceled(t *testing.T) {
	h := newHarness(t, func(mailbox.Message) (mailbox.Message, bool) {
		return mailbox.Message{}, false
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := RetryPolicy{Attempts: 5, Min: time.Hour, Max: time.Hour, Factor: 1}
	_, err := h.client.CallRetry(ctx, p, Endpoint, CmdReadKey, 0, nil, 4)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("CallRetry() error = %v, want context.Canceled", err)
	}
}
