package mailbox

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/softmbox/pkg"
)

// =============================================================================
// Encoding Tests
// =============================================================================

func TestMessage_Encoding(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want uint64
	}{
		{"hello-ack", HelloAck{Subtype: 0xc}.Message(), 0x002000010000000c},
		{"start-ep", StartEP{Endpoint: 0x20}.Message(), 0x0050002000000002},
		{"idle-request", IdleRequest{}.Message(), 0x0060000000000220},
		{"power-ack", PowerAck{State: 0x20}.Message(), 0x00b0000000000020},
		{"epack block 0", EPAck{Block: 0}.Message(), 0x0080000000000001},
		{"epack block 1", EPAck{Block: 1}.Message(), 0x0080000100000000},
		{"epack last", EPAck{Block: 2, Last: true}.Message(), 0x0088000200000000},
		{"epmap", EPMap{Bitmap: 0x29, Block: 1, Last: true}.Message(), 0x0088000100000029},
		{"hello", Hello{Subtype: 0xb}.Message(), 0x001000000000000b},
		{"power-ok", PowerOK{State: 0x20}.Message(), 0x0070000000000020},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.msg.W0 != tt.want {
				t.Errorf("W0 = 0x%016x, want 0x%016x", tt.msg.W0, tt.want)
			}
		})
	}
}

func TestMessage_TypeAndChannel(t *testing.T) {
	m := Message{W0: 0x0070000000000020, W1: 0xabcd05}
	if m.Type() != TypePowerOK {
		t.Errorf("Type() = %v, want power-ok", m.Type())
	}
	if m.Channel() != 5 || m.Endpoint() != 5 {
		t.Errorf("Channel() = %d, Endpoint() = %d, want 5", m.Channel(), m.Endpoint())
	}
}

func TestMessage_RoundTrip(t *testing.T) {
	if got := ParseHello(Hello{Subtype: 0xdeadbeef}.Message()); got.Subtype != 0xdeadbeef {
		t.Errorf("hello subtype = 0x%x", got.Subtype)
	}
	if got := ParseHelloAck(HelloAck{Subtype: 12}.Message()); got.Subtype != 12 {
		t.Errorf("hello-ack subtype = %d", got.Subtype)
	}
	if got := ParseStartEP(StartEP{Endpoint: 0xff}.Message()); got.Endpoint != 0xff {
		t.Errorf("start-ep endpoint = %d", got.Endpoint)
	}
	e := EPMap{Bitmap: 0x80000001, Block: 7, Last: true}
	if got := ParseEPMap(e.Message()); got != e {
		t.Errorf("ParseEPMap() = %+v, want %+v", got, e)
	}
	a := EPAck{Block: 3, Last: true}
	if got := ParseEPAck(a.Message()); got != a {
		t.Errorf("ParseEPAck() = %+v, want %+v", got, a)
	}
	if got := ParsePowerAck(PowerAck{State: 0x20}.Message()); got.State != 0x20 {
		t.Errorf("power-ack state = 0x%x", got.State)
	}
}

func TestType_String(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{TypeHello, "hello"},
		{TypeEPMap, "epmap"},
		{TypePowerAck, "power-ack"},
		{Type(0x42), "type-0x42"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("Type(%d).String() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

// =============================================================================
// Endpoint Map Tests
// =============================================================================

func manualEndpoints(block uint8, bitmap uint32) []uint8 {
	var eps []uint8
	for bit := 0; bit < 32; bit++ {
		if bitmap>>bit&1 == 1 {
			eps = append(eps, 32*block+uint8(bit))
		}
	}
	return eps
}

func TestEPMap_EndpointsEveryBit(t *testing.T) {
	for block := uint8(0); block < MaxEPMapBlocks; block++ {
		for bit := 0; bit < 32; bit++ {
			e := ParseEPMap(EPMap{Bitmap: 1 << bit, Block: block}.Message())
			got := e.Endpoints(nil)
			want := []uint8{32*block + uint8(bit)}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("block %d bit %d mismatch (-want +got):\n%s", block, bit, diff)
			}
		}
	}
}

func TestEPMap_EndpointsPatterns(t *testing.T) {
	patterns := []uint32{0, 0xffffffff, 0xaaaaaaaa, 0x55555555, 0x80000001, 0x29, 0x0f0f0f0f}
	for block := uint8(0); block < MaxEPMapBlocks; block++ {
		for _, p := range patterns {
			got := ParseEPMap(EPMap{Bitmap: p, Block: block}.Message()).Endpoints(nil)
			want := manualEndpoints(block, p)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("block %d bitmap 0x%08x mismatch (-want +got):\n%s", block, p, diff)
			}
		}
	}
}

func TestEPMap_EndpointsAcrossBlocks(t *testing.T) {
	// Blocks are appended in arrival order, not sorted.
	blocks := []EPMap{
		{Bitmap: 0x29, Block: 0},
		{Bitmap: 0x80000000, Block: 7},
		{Bitmap: 0x3, Block: 2, Last: true},
	}
	var got []uint8
	for _, b := range blocks {
		got = ParseEPMap(b.Message()).Endpoints(got)
	}
	want := []uint8{0, 3, 5, 255, 64, 65}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Endpoints() mismatch (-want +got):\n%s", diff)
	}
}

func TestEPMap_Ack(t *testing.T) {
	a := EPMap{Bitmap: 0xff, Block: 4, Last: true}.Ack()
	if a.Block != 4 || !a.Last {
		t.Errorf("Ack() = %+v, want block 4 last", a)
	}
}

// =============================================================================
// Buffer Request Tests
// =============================================================================

func TestBufferRequest_Grant(t *testing.T) {
	req := Message{W0: 0x0010000000000000 | 4<<44, W1: 0x1234500 | uint64(EndpointIOReport)}
	b := ParseBufferRequest(req)

	if b.Endpoint != EndpointIOReport {
		t.Errorf("Endpoint = %d, want %d", b.Endpoint, EndpointIOReport)
	}
	if b.Pages != 4 || b.Size() != 0x4000 {
		t.Errorf("Pages = %d, Size() = 0x%x, want 4 pages", b.Pages, b.Size())
	}

	grant, err := b.Grant(0x8_0000_2000)
	if err != nil {
		t.Fatalf("Grant() error = %v", err)
	}
	if want := req.W0&^(1<<44-1) | 0x8_0000_2000; grant.W0 != want {
		t.Errorf("grant W0 = 0x%016x, want 0x%016x", grant.W0, want)
	}
	if grant.W1 != req.W1 {
		t.Errorf("grant W1 = 0x%x, want echo 0x%x", grant.W1, req.W1)
	}
	if got := ParseBufferRequest(grant).Addr; got != 0x8_0000_2000 {
		t.Errorf("granted Addr = 0x%x", got)
	}
}

func TestBufferRequest_GrantTooWide(t *testing.T) {
	b := BufferRequest{Endpoint: EndpointCrashLog, Pages: 1}
	if _, err := b.Grant(1 << 44); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Grant(1<<44) error = %v, want ErrInvalidParameter", err)
	}
}

func TestIsBufferEndpoint(t *testing.T) {
	for ep := 0; ep < MaxEndpoints; ep++ {
		want := ep == 1 || ep == 4
		if got := IsBufferEndpoint(uint8(ep)); got != want {
			t.Errorf("IsBufferEndpoint(%d) = %v, want %v", ep, got, want)
		}
	}
}
