package main

import (
	"fmt"

	"github.com/ardnew/softmbox/ans"
	"github.com/ardnew/softmbox/config"
	"github.com/ardnew/softmbox/hal"
	"github.com/ardnew/softmbox/hal/devmem"
	"github.com/ardnew/softmbox/hal/sim"
	"github.com/ardnew/softmbox/mailbox"
	"github.com/ardnew/softmbox/mailbox/mailboxsim"
	"github.com/ardnew/softmbox/smc"
	"github.com/ardnew/softmbox/smc/smcsim"
)

// simSMCSRAM is where the simulated SMC keeps its shared window.
const simSMCSRAM = 0x2_3400_0000

// board is the physical address space the tool works in.
type board struct {
	hal.Mapper
	close func() error
}

func (b *board) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

func openBoard(cfg *config.Config) (*board, error) {
	switch cfg.Backend {
	case config.BackendDevMem:
		m, err := devmem.Open(cfg.DevMem)
		if err != nil {
			return nil, err
		}
		return &board{Mapper: m, close: m.Close}, nil
	case config.BackendSim:
		s, err := newSimBoard(cfg)
		if err != nil {
			return nil, err
		}
		return &board{Mapper: s}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// newSimBoard lays out simulated coprocessors at the configured addresses.
func newSimBoard(cfg *config.Config) (*sim.Space, error) {
	space := sim.NewSpace()

	base, size, err := cfg.Reservation.Carver()()
	if err != nil {
		return nil, err
	}
	if err := space.Attach(base, sim.NewMemory(size)); err != nil {
		return nil, err
	}

	if cfg.SMC.Enabled {
		mb := sim.NewMailbox()
		cop := mailboxsim.New(mb, mailboxsim.Config{
			Endpoints: []uint8{0, mailbox.EndpointCrashLog, mailbox.EndpointIOReport, cfg.SMC.Channel},
			Subtype:   12,
			Buffers:   []mailboxsim.Buffer{{Endpoint: mailbox.EndpointIOReport, Pages: 1}},
		})
		sram := sim.NewMemory(cfg.SMC.WindowSize)
		srv := smcsim.New(sram, simSMCSRAM)
		srv.Set(smc.MustParseKey("#KEY"), []byte{0, 0, 0, 0})
		srv.Install(cop, cfg.SMC.Channel)

		if err := space.Attach(cfg.SMC.Mailbox, mb); err != nil {
			return nil, err
		}
		if err := space.Attach(simSMCSRAM, sram); err != nil {
			return nil, err
		}
	}

	if cfg.ANS.Enabled {
		regs := sim.NewMemory(ans.RegsSize)
		mb := sim.NewMailbox()
		mailboxsim.New(mb, mailboxsim.Config{
			Endpoints: []uint8{0, mailbox.EndpointCrashLog, mailbox.EndpointIOReport},
			Subtype:   12,
			Buffers: []mailboxsim.Buffer{
				{Endpoint: mailbox.EndpointCrashLog, Pages: 2},
				{Endpoint: mailbox.EndpointIOReport, Pages: 2},
			},
			OnReady: func() { regs.Write32(ans.RegBootStatus, ans.BootStatusOK) },
		})

		if err := space.Attach(cfg.ANS.Mailbox, mb); err != nil {
			return nil, err
		}
		if err := space.Attach(cfg.ANS.Regs, regs); err != nil {
			return nil, err
		}
		if err := space.Attach(cfg.ANS.SART, sim.NewMemory(ans.SARTSize)); err != nil {
			return nil, err
		}
	}

	return space, nil
}
