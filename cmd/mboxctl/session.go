package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ardnew/softmbox/ans"
	"github.com/ardnew/softmbox/arena"
	"github.com/ardnew/softmbox/config"
	"github.com/ardnew/softmbox/hal"
	"github.com/ardnew/softmbox/mailbox"
	"github.com/ardnew/softmbox/pkg"
	"github.com/ardnew/softmbox/smc"
)

// session holds every coprocessor brought up by one invocation.
type session struct {
	key     string
	arena   *arena.Registry
	smcBoot *mailbox.Result
	smc     *smc.Client
	gpio    *smc.GPIO
	ans     *ans.Controller
}

func transport(m hal.Mapper, phys uint64, name string, cfg *config.Config, reg prometheus.Registerer) (*mailbox.Transport, error) {
	regs, err := m.Map(phys, mailbox.RegionSize)
	if err != nil {
		return nil, fmt.Errorf("map %s mailbox: %w", name, err)
	}
	return mailbox.NewTransport(regs, mailbox.Config{
		Name:    name,
		Poll:    cfg.MailboxPoll(),
		Metrics: mailbox.NewMetrics(reg, name),
	}), nil
}

// bringUp bootstraps the SMC and then boots the storage coprocessor. Both
// share one reservation: the storage coprocessor's DMA window covers only
// what its own bootstrap was granted.
func bringUp(b *board, cfg *config.Config, reg prometheus.Registerer) (*session, error) {
	s := &session{key: cfg.Reservation.Key, arena: arena.NewRegistry()}

	if cfg.SMC.Enabled {
		t, err := transport(b, cfg.SMC.Mailbox, "smc", cfg, reg)
		if err != nil {
			return nil, err
		}
		res, _, err := s.arena.Reserve(cfg.Reservation.Key, cfg.Reservation.Carver())
		if err != nil {
			return nil, err
		}
		if s.smcBoot, err = mailbox.NewBootstrap(t, res).Run(); err != nil {
			return nil, fmt.Errorf("smc: %w", err)
		}
		if !s.smcBoot.HasEndpoint(cfg.SMC.Channel) {
			return nil, fmt.Errorf("%w: smc firmware has no endpoint 0x%x", pkg.ErrNotSupported, cfg.SMC.Channel)
		}
		if s.smc, err = smc.Open(t, b, cfg.SMC.Channel, cfg.SMC.WindowSize); err != nil {
			return nil, fmt.Errorf("smc: %w", err)
		}
		s.gpio = smc.NewGPIO(s.smc, cfg.SMC.GPIOMasks)
	}

	if cfg.ANS.Enabled {
		t, err := transport(b, cfg.ANS.Mailbox, "ans", cfg, reg)
		if err != nil {
			return nil, err
		}
		regs, err := b.Map(cfg.ANS.Regs, ans.RegsSize)
		if err != nil {
			return nil, fmt.Errorf("map ans registers: %w", err)
		}
		sart, err := b.Map(cfg.ANS.SART, ans.SARTSize)
		if err != nil {
			return nil, fmt.Errorf("map sart: %w", err)
		}
		s.ans, err = ans.Probe(ans.Config{
			Regs:           regs,
			SART:           sart,
			Mailbox:        t,
			Arena:          s.arena,
			ReservationKey: cfg.Reservation.Key,
			Carve:          cfg.Reservation.Carver(),
			BootPoll:       cfg.ANS.BootPoll(),
		})
		if err != nil {
			return nil, fmt.Errorf("ans: %w", err)
		}
	}

	return s, nil
}
