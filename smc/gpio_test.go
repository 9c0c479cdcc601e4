package smc_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/softmbox/hal"
	"github.com/ardnew/softmbox/hal/sim"
	"github.com/ardnew/softmbox/mailbox"
	"github.com/ardnew/softmbox/mailbox/mailboxsim"
	"github.com/ardnew/softmbox/pkg"
	"github.com/ardnew/softmbox/smc"
	"github.com/ardnew/softmbox/smc/smcsim"
)

const sramAddr = 0x2_3400_0000

func openSMC(t *testing.T) (*smc.Client, *smcsim.Server) {
	t.Helper()
	mb := sim.NewMailbox()
	cop := mailboxsim.New(mb, mailboxsim.Config{Endpoints: []uint8{0, smc.Endpoint}})
	tr := mailbox.NewTransport(mb, mailbox.Config{Name: "smc", Poll: hal.Poll{Retries: 16}})
	if _, err := mailbox.NewBootstrap(tr, nil).Run(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	sram := sim.NewMemory(smc.DefaultWindowSize)
	space := sim.NewSpace()
	if err := space.Attach(sramAddr, sram); err != nil {
		t.Fatal(err)
	}
	srv := smcsim.New(sram, sramAddr)
	srv.Install(cop, smc.Endpoint)

	c, err := smc.Open(tr, space, smc.Endpoint, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return c, srv
}

// =============================================================================
// Key Store Tests
// =============================================================================

func TestClient_ReadWriteKey(t *testing.T) {
	c, srv := openSMC(t)
	key := smc.MustParseKey("CLKH")

	if err := c.WriteKey(key, []byte{1, 2, 3, 4, 5, 6, 7}); err != nil {
		t.Fatalf("WriteKey() error = %v", err)
	}
	if v, _ := srv.Get(key); !cmp.Equal(v, []byte{1, 2, 3, 4, 5, 6, 7}) {
		t.Errorf("stored value = % x", v)
	}

	got, err := c.ReadKey(key, 7)
	if err != nil {
		t.Fatalf("ReadKey() error = %v", err)
	}
	if diff := cmp.Diff([]byte{1, 2, 3, 4, 5, 6, 7}, got); diff != "" {
		t.Errorf("ReadKey() mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_ReadKeyErrors(t *testing.T) {
	c, srv := openSMC(t)
	srv.Set(smc.MustParseKey("SHRT"), []byte{1, 2})

	if _, err := c.ReadKey(smc.MustParseKey("NONE"), 4); !errors.Is(err, pkg.ErrNak) {
		t.Errorf("missing key error = %v, want ErrNak", err)
	}
	if _, err := c.ReadKey(smc.MustParseKey("SHRT"), 4); !errors.Is(err, pkg.ErrShortData) {
		t.Errorf("short key error = %v, want ErrShortData", err)
	}
}

func TestClient_SkewedSequence(t *testing.T) {
	c, srv := openSMC(t)
	srv.SkewSeq(1)
	if err := c.WriteKey(smc.MustParseKey("TEST"), []byte{0}); !errors.Is(err, pkg.ErrProtocolViolation) {
		t.Errorf("WriteKey() error = %v, want ErrProtocolViolation", err)
	}
}

// =============================================================================
// GPIO Tests
// =============================================================================

func TestGPIOKey(t *testing.T) {
	tests := []struct {
		pin  int
		want string
	}{
		{0, "gP00"},
		{1, "gP01"},
		{0xb, "gP0b"},
		{0x10, "gP10"},
		{0x1f, "gP1f"},
	}
	for _, tt := range tests {
		if got := smc.GPIOKey(tt.pin).String(); got != tt.want {
			t.Errorf("GPIOKey(%d) = %q, want %q", tt.pin, got, tt.want)
		}
	}
}

func TestGPIO_Set(t *testing.T) {
	c, srv := openSMC(t)
	g := smc.NewGPIO(c, map[int]uint32{1: 0x00010000, 0x13: 0x00020000})

	tests := []struct {
		pin  int
		high bool
		want []byte
	}{
		{1, true, []byte{0x01, 0x00, 0x01, 0x00}},
		{1, false, []byte{0x00, 0x00, 0x01, 0x00}},
		{0x13, true, []byte{0x01, 0x00, 0x02, 0x00}},
	}
	for _, tt := range tests {
		if err := g.Set(tt.pin, tt.high); err != nil {
			t.Fatalf("Set(%d, %v) error = %v", tt.pin, tt.high, err)
		}
		got, ok := srv.Get(smc.GPIOKey(tt.pin))
		if !ok {
			t.Fatalf("key %s not written", smc.GPIOKey(tt.pin))
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Set(%d, %v) data mismatch (-want +got):\n%s", tt.pin, tt.high, diff)
		}
	}

	if err := g.DirectionOutput(1, true); err != nil {
		t.Errorf("DirectionOutput() error = %v", err)
	}
}

func TestGPIO_Errors(t *testing.T) {
	c, _ := openSMC(t)
	g := smc.NewGPIO(c, map[int]uint32{1: 0})

	if err := g.Set(2, true); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Set(no mask) error = %v, want ErrInvalidParameter", err)
	}
	if err := g.Set(smc.GPIOCount, true); !errors.Is(err, pkg.ErrOutOfRange) {
		t.Errorf("Set(out of range) error = %v, want ErrOutOfRange", err)
	}
	if _, err := g.Get(1); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("Get() error = %v, want ErrNotSupported", err)
	}
	if err := g.DirectionInput(1); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("DirectionInput() error = %v, want ErrNotSupported", err)
	}
	if _, err := g.Direction(1); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("Direction() error = %v, want ErrNotSupported", err)
	}
}
