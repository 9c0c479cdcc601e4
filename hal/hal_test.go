package hal

import (
	"errors"
	"testing"
	"time"

	"github.com/ardnew/softmbox/pkg"
)

// regFile is a sparse register file for exercising windows.
type regFile struct {
	size uint64
	regs map[uint64]uint64
}

var _ MMIO = (*regFile)(nil)

func newRegFile(size uint64) *regFile {
	return &regFile{size: size, regs: make(map[uint64]uint64)}
}

func (r *regFile) Read32(offset uint64) uint32         { return uint32(r.regs[offset]) }
func (r *regFile) Write32(offset uint64, value uint32) { r.regs[offset] = uint64(value) }
func (r *regFile) Read64(offset uint64) uint64         { return r.regs[offset] }
func (r *regFile) Write64(offset uint64, value uint64) { r.regs[offset] = value }
func (r *regFile) Size() uint64                        { return r.size }

// =============================================================================
// Sub Tests
// =============================================================================

func TestSub_Bounds(t *testing.T) {
	parent := newRegFile(0x1000)

	tests := []struct {
		name    string
		offset  uint64
		size    uint64
		wantErr bool
	}{
		{"inside", 0x100, 0x100, false},
		{"ends at region end", 0xf00, 0x100, false},
		{"empty at end", 0x1000, 0, false},
		{"past end", 0xf00, 0x101, true},
		{"offset past end", 0x1001, 0, true},
		{"overflow", 0x10, ^uint64(0), true},
		{"overflow at max offset", ^uint64(0), 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := Sub(parent, tt.offset, tt.size)
			if tt.wantErr {
				if !errors.Is(err, pkg.ErrOutOfRange) {
					t.Errorf("Sub(0x%x, 0x%x) error = %v, want ErrOutOfRange", tt.offset, tt.size, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Sub(0x%x, 0x%x) error = %v", tt.offset, tt.size, err)
			}
			if w.Size() != tt.size {
				t.Errorf("Size() = 0x%x, want 0x%x", w.Size(), tt.size)
			}
		})
	}
}

func TestSub_WholeRegion(t *testing.T) {
	parent := newRegFile(0x100)
	w, err := Sub(parent, 0, 0x100)
	if err != nil {
		t.Fatalf("Sub() error = %v", err)
	}
	if w != MMIO(parent) {
		t.Error("Sub() of the whole region did not return the region itself")
	}
}

func TestSub_OffsetsAccesses(t *testing.T) {
	parent := newRegFile(0x1000)
	w, err := Sub(parent, 0x800, 0x100)
	if err != nil {
		t.Fatalf("Sub() error = %v", err)
	}

	w.Write32(0x10, 0xdeadbeef)
	w.Write64(0x18, 0x0123456789abcdef)

	if got := parent.Read32(0x810); got != 0xdeadbeef {
		t.Errorf("parent Read32(0x810) = 0x%x, want 0xdeadbeef", got)
	}
	if got := parent.Read64(0x818); got != 0x0123456789abcdef {
		t.Errorf("parent Read64(0x818) = 0x%x", got)
	}
	if got := w.Read64(0x18); got != 0x0123456789abcdef {
		t.Errorf("Read64(0x18) = 0x%x", got)
	}
}

func TestSub_AccessBeyondWindowPanics(t *testing.T) {
	w, err := Sub(newRegFile(0x1000), 0x800, 0x10)
	if err != nil {
		t.Fatalf("Sub() error = %v", err)
	}

	tests := []struct {
		name string
		fn   func()
	}{
		{"Read32", func() { w.Read32(0x10) }},
		{"Write32", func() { w.Write32(0xd, 0) }},
		{"Read64", func() { w.Read64(0x9) }},
		{"Write64", func() { w.Write64(0x10, 0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("%s beyond window did not panic", tt.name)
				}
			}()
			tt.fn()
		})
	}

	// The last word of the window is reachable.
	w.Write64(0x8, 1)
	w.Read32(0xc)
}

// =============================================================================
// Poll Tests
// =============================================================================

func TestPoll_Until(t *testing.T) {
	tests := []struct {
		name      string
		retries   int
		holdsAt   int // check on which cond first holds; 0 never
		wantCount int
		wantOK    bool
	}{
		{"first check", 5, 1, 1, true},
		{"third check", 5, 3, 3, true},
		{"last check", 5, 5, 5, true},
		{"never", 5, 0, 5, false},
		{"after budget", 5, 6, 5, false},
		{"no budget", 0, 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			cond := func() bool {
				calls++
				return tt.holdsAt != 0 && calls >= tt.holdsAt
			}

			n, ok := Poll{Retries: tt.retries}.Until(cond)
			if n != tt.wantCount || ok != tt.wantOK {
				t.Errorf("Until() = %d, %v, want %d, %v", n, ok, tt.wantCount, tt.wantOK)
			}
			if calls != tt.wantCount {
				t.Errorf("cond called %d times, want %d", calls, tt.wantCount)
			}
		})
	}
}

func TestPoll_Budget(t *testing.T) {
	tests := []struct {
		poll Poll
		want time.Duration
	}{
		{DefaultPoll, 500 * time.Millisecond},
		{Poll{Retries: 5000, Delay: 100 * time.Microsecond}, 500 * time.Millisecond},
		{Poll{Retries: 64}, 0},
		{Poll{}, 0},
	}
	for _, tt := range tests {
		if got := tt.poll.Budget(); got != tt.want {
			t.Errorf("%+v.Budget() = %v, want %v", tt.poll, got, tt.want)
		}
	}
}

func TestPoll_WaitSpacesChecks(t *testing.T) {
	p := Poll{Retries: 3, Delay: 2 * time.Millisecond}
	start := time.Now()
	if _, ok := p.Until(func() bool { return false }); ok {
		t.Fatal("Until() held for a false condition")
	}
	if elapsed := time.Since(start); elapsed < p.Budget() {
		t.Errorf("Until() returned after %v, want at least %v", elapsed, p.Budget())
	}
}
