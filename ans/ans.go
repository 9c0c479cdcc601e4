package ans

import (
	"errors"
	"fmt"
	"time"

	"github.com/ardnew/softmbox/arena"
	"github.com/ardnew/softmbox/hal"
	"github.com/ardnew/softmbox/mailbox"
	"github.com/ardnew/softmbox/pkg"
)

// Controller registers.
const (
	RegBootStatus = 0x1300 // firmware boot status
	BootStatusOK  = 0xde71ce55
	RegMaxQueue   = 0x1210 // queue depths, admin<<16 | io

	// RegsSize covers every controller register Probe touches.
	RegsSize = 0x40000
)

// SART (DMA address filter) registers.
const (
	SARTSlots      = 16
	SARTEnableMask = 0xff000000 // slot in use when any of these bits are set
	SARTSize       = 0x80       // size of the SART register block
)

// SARTSizeReg returns the offset of slot id's size register.
func SARTSizeReg(id int) uint64 { return uint64(4 * id) }

// SARTAddrReg returns the offset of slot id's address register.
func SARTAddrReg(id int) uint64 { return 0x40 + uint64(4*id) }

// QueueDepth is programmed for both the admin and I/O queues.
const QueueDepth = 64

// DefaultBootPoll waits up to half a second for the firmware, checking every
// 100µs.
var DefaultBootPoll = hal.Poll{Retries: 5000, Delay: 100 * time.Microsecond}

// ErrNoSARTSlot is returned when all SART slots are in use.
var ErrNoSARTSlot = errors.New("no free SART slot")

// Config configures Probe.
type Config struct {
	Regs    hal.MMIO          // controller registers
	SART    hal.MMIO          // SART registers
	Mailbox *mailbox.Transport // storage coprocessor mailbox

	// Arena holds the reservation shared with other mailbox clients, found
	// or created under ReservationKey by Carve.
	Arena          *arena.Registry
	ReservationKey string
	Carve          arena.Carver

	// BootPoll bounds the firmware boot wait. The zero value selects
	// DefaultBootPoll.
	BootPoll hal.Poll
}

// Window is a physical range the coprocessor may reach by DMA.
type Window struct {
	Base uint64
	Size uint64
}

// Controller is a booted storage coprocessor.
type Controller struct {
	regs   hal.MMIO
	slot   int
	window Window
	boot   *mailbox.Result
}

// Regs returns the controller registers, ready for the NVMe layer.
func (c *Controller) Regs() hal.MMIO { return c.regs }

// SARTSlot returns the SART slot covering the DMA window.
func (c *Controller) SARTSlot() int { return c.slot }

// Window returns the DMA window opened for the coprocessor.
func (c *Controller) Window() Window { return c.window }

// Bootstrap returns the mailbox bootstrap outcome.
func (c *Controller) Bootstrap() *mailbox.Result { return c.boot }

// Probe boots the storage coprocessor.
//
// It bootstraps the coprocessor's mailbox, serving its buffer requests from
// the shared reservation, then opens a SART window over exactly the memory
// granted during that bootstrap, waits for the firmware to report it booted,
// and applies the controller's fixed configuration.
func Probe(cfg Config) (*Controller, error) {
	if cfg.Regs == nil || cfg.SART == nil || cfg.Mailbox == nil || cfg.Arena == nil {
		return nil, fmt.Errorf("%w: incomplete storage controller configuration", pkg.ErrInvalidParameter)
	}
	if cfg.BootPoll.Retries <= 0 {
		cfg.BootPoll = DefaultBootPoll
	}

	res, err := reservation(cfg)
	if err != nil {
		return nil, err
	}

	mark := res.Next()
	boot, err := mailbox.NewBootstrap(cfg.Mailbox, res).Run()
	if err != nil {
		return nil, fmt.Errorf("mailbox: %w", err)
	}

	base, size := res.Since(mark)
	slot, err := openSART(cfg.SART, base, size)
	if err != nil {
		return nil, err
	}

	if _, ok := cfg.BootPoll.Until(func() bool {
		return cfg.Regs.Read32(RegBootStatus) == BootStatusOK
	}); !ok {
		pkg.LogError(pkg.ComponentANS, "firmware did not boot",
			"status", fmt.Sprintf("0x%08x", cfg.Regs.Read32(RegBootStatus)), "budget", cfg.BootPoll.Budget())
		return nil, fmt.Errorf("%w: firmware did not boot within %v", pkg.ErrTimeout, cfg.BootPoll.Budget())
	}

	configure(cfg.Regs)

	pkg.LogInfo(pkg.ComponentANS, "storage coprocessor ready", "sart", slot,
		"window", fmt.Sprintf("0x%x+0x%x", base, size), "endpoints", boot.Endpoints)
	return &Controller{
		regs:   cfg.Regs,
		slot:   slot,
		window: Window{Base: base, Size: size},
		boot:   boot,
	}, nil
}

// reservation finds the shared reservation, carving it if this is its first
// client. Without a Carver another client must have created it already.
func reservation(cfg Config) (*arena.Reservation, error) {
	if cfg.Carve == nil {
		res, ok := cfg.Arena.Lookup(cfg.ReservationKey)
		if !ok {
			return nil, fmt.Errorf("%w: no reservation %q", pkg.ErrNotReady, cfg.ReservationKey)
		}
		return res, nil
	}
	res, created, err := cfg.Arena.Reserve(cfg.ReservationKey, cfg.Carve)
	if err != nil {
		return nil, err
	}
	pkg.LogDebug(pkg.ComponentANS, "reservation", "key", res.Name(), "created", created,
		"base", fmt.Sprintf("0x%x", res.Base()), "used", res.Used())
	return res, nil
}

// openSART programs the first free SART slot to admit [base, base+size).
func openSART(sart hal.MMIO, base, size uint64) (int, error) {
	for id := 0; id < SARTSlots; id++ {
		if sart.Read32(SARTSizeReg(id))&SARTEnableMask != 0 {
			continue
		}
		sart.Write32(SARTAddrReg(id), uint32(base>>12))
		sart.Write32(SARTSizeReg(id), SARTEnableMask|uint32(size>>12))
		pkg.LogDebug(pkg.ComponentANS, "opened SART window", "slot", id,
			"base", fmt.Sprintf("0x%x", base), "size", size)
		return id, nil
	}
	pkg.LogError(pkg.ComponentANS, "no free SART slot", "slots", SARTSlots)
	return -1, fmt.Errorf("%w: %w", pkg.ErrOutOfMemory, ErrNoSARTSlot)
}

// fixedWrites are applied after boot in order.
var fixedWrites = []struct {
	off uint64
	val uint32
}{
	{0x24118, 0x102},
	{0x24108, 0x102},
	{0x24420, 0x102},
	{0x24414, 0x102},
	{0x2441c, 0x10002},
	{0x24418, 0x10002},
	{0x24144, 0x10002},
	{0x24524, 0x10002},
	{0x24508, 0x102},
	{0x24504, 0x10002},
}

func configure(regs hal.MMIO) {
	regs.Write32(RegMaxQueue, QueueDepth<<16|QueueDepth)

	regs.Write32(0x24004, regs.Read32(0x24004)|0x1000)
	regs.Write32(0x24908, 1)
	regs.Write32(0x24008, regs.Read32(0x24008)&^0x800)

	for _, w := range fixedWrites {
		regs.Write32(w.off, w.val)
	}
}
