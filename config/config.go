package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ardnew/softmbox/arena"
	"github.com/ardnew/softmbox/hal"
	"github.com/ardnew/softmbox/hal/devmem"
	"github.com/ardnew/softmbox/pkg"
	"github.com/ardnew/softmbox/smc"
)

// Backends.
const (
	BackendSim    = "sim"
	BackendDevMem = "devmem"
)

// Config is the complete mboxctl configuration.
type Config struct {
	Backend     string            `yaml:"backend"` // sim or devmem
	DevMem      string            `yaml:"devmem"`  // path of the physical memory device
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Poll        PollConfig        `yaml:"poll"`
	Reservation ReservationConfig `yaml:"reservation"`
	SMC         SMCConfig         `yaml:"smc"`
	ANS         ANSConfig         `yaml:"ans"`
}

// LogConfig selects log output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // listen address; empty disables
	Path string `yaml:"path"`
}

// PollConfig bounds every mailbox send and receive.
type PollConfig struct {
	Retries int           `yaml:"retries"`
	Delay   time.Duration `yaml:"delay"`
}

// ReservationConfig places the memory shared with the coprocessors. A
// non-zero Base is used as is; otherwise the region is carved below Top.
type ReservationConfig struct {
	Key   string `yaml:"key"`
	Base  uint64 `yaml:"base"`
	Top   uint64 `yaml:"top"`
	Size  uint64 `yaml:"size"`
	Align uint64 `yaml:"align"`
}

// SMCConfig describes the system management coprocessor.
type SMCConfig struct {
	Enabled    bool           `yaml:"enabled"`
	Mailbox    uint64         `yaml:"mailbox"` // mailbox register block
	Channel    uint8          `yaml:"channel"`
	WindowSize uint64         `yaml:"window_size"`
	GPIOMasks  map[int]uint32 `yaml:"gpio_masks"` // pin -> mask
}

// ANSConfig describes the storage coprocessor.
type ANSConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Mailbox     uint64        `yaml:"mailbox"`
	Regs        uint64        `yaml:"regs"`
	SART        uint64        `yaml:"sart"`
	BootRetries int           `yaml:"boot_retries"`
	BootDelay   time.Duration `yaml:"boot_delay"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Backend: BackendSim,
		DevMem:  devmem.DefaultPath,
		Log:     LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Path: "/metrics"},
		Poll: PollConfig{
			Retries: hal.DefaultPoll.Retries,
			Delay:   hal.DefaultPoll.Delay,
		},
		Reservation: ReservationConfig{
			Key:   "mbox",
			Top:   0x10_0000_0000,
			Size:  64 << 10,
			Align: 64 << 10,
		},
		SMC: SMCConfig{
			Enabled:    true,
			Mailbox:    0x2_3e40_0000,
			Channel:    smc.Endpoint,
			WindowSize: smc.DefaultWindowSize,
			GPIOMasks:  map[int]uint32{},
		},
		ANS: ANSConfig{
			Enabled:     true,
			Mailbox:     0x2_7740_8000,
			Regs:        0x2_7bcc_0000,
			SART:        0x2_7bc5_0000,
			BootRetries: 5000,
			BootDelay:   100 * time.Microsecond,
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the tool cannot use.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendSim, BackendDevMem:
	default:
		errs = append(errs, fmt.Errorf("%w: backend %q", pkg.ErrInvalidParameter, c.Backend))
	}
	if _, err := pkg.ParseLogLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := pkg.ParseLogFormat(c.Log.Format); err != nil {
		errs = append(errs, err)
	}
	if c.Poll.Retries <= 0 {
		errs = append(errs, fmt.Errorf("%w: poll retries %d", pkg.ErrInvalidParameter, c.Poll.Retries))
	}
	if c.Poll.Delay < 0 {
		errs = append(errs, fmt.Errorf("%w: poll delay %v", pkg.ErrInvalidParameter, c.Poll.Delay))
	}
	if c.Reservation.Size == 0 {
		errs = append(errs, fmt.Errorf("%w: empty reservation", pkg.ErrInvalidParameter))
	}
	if c.Reservation.Base == 0 && c.Reservation.Top == 0 {
		errs = append(errs, fmt.Errorf("%w: reservation needs a base or a top", pkg.ErrInvalidParameter))
	}
	for pin := range c.SMC.GPIOMasks {
		if pin < 0 || pin >= smc.GPIOCount {
			errs = append(errs, fmt.Errorf("%w: gpio %d", pkg.ErrOutOfRange, pin))
		}
	}
	if c.ANS.BootRetries <= 0 {
		errs = append(errs, fmt.Errorf("%w: ans boot retries %d", pkg.ErrInvalidParameter, c.ANS.BootRetries))
	}
	return errors.Join(errs...)
}

// MailboxPoll returns the poll budget for mailbox operations.
func (c *Config) MailboxPoll() hal.Poll {
	return hal.Poll{Retries: c.Poll.Retries, Delay: c.Poll.Delay}
}

// BootPoll returns the poll budget for the storage firmware boot.
func (c *ANSConfig) BootPoll() hal.Poll {
	return hal.Poll{Retries: c.BootRetries, Delay: c.BootDelay}
}

// Carver returns how the reservation is placed.
func (r *ReservationConfig) Carver() arena.Carver {
	if r.Base != 0 {
		return arena.Static(r.Base, r.Size)
	}
	return arena.Top(r.Top, r.Size, r.Align)
}
