// Command mboxctl bootstraps coprocessor mailboxes and talks to the SMC.
//
// Usage:
//
//	mboxctl [flags] probe
//	mboxctl [flags] read-key KEY N
//	mboxctl [flags] write-key KEY HEX
//	mboxctl [flags] gpio PIN on|off
//	mboxctl [flags] serve
//
// The sim backend (the default) runs against simulated firmware; devmem
// drives real hardware through /dev/mem.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/softmbox/config"
	"github.com/ardnew/softmbox/pkg"
	"github.com/ardnew/softmbox/pkg/prof"
	"github.com/ardnew/softmbox/smc"
)

const component = pkg.ComponentCLI

var (
	errUsage      = errors.New("usage")
	errNoSMC      = errors.New("smc disabled in configuration")
	errNoMetrics  = errors.New("serve needs a metrics address")
	shutdownGrace = 2 * time.Second
)

type options struct {
	config      string
	verbose     bool
	json        bool
	backend     string
	metricsAddr string
	profile     prof.Options
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		pkg.LogError(component, "failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	var opts options
	fs := pflag.NewFlagSet("mboxctl", pflag.ContinueOnError)
	fs.StringVarP(&opts.config, "config", "c", "", "YAML configuration file")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	fs.BoolVar(&opts.json, "json", false, "log as JSON")
	fs.StringVar(&opts.backend, "backend", "", "override backend (sim or devmem)")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.StringVar(&opts.profile.CPU, "cpu-profile", "", "write a CPU profile (profile builds only)")
	fs.StringVar(&opts.profile.Heap, "heap-profile", "", "write a heap profile on exit (profile builds only)")
	fs.BoolVar(&opts.profile.Contention, "contention", false, "sample block and mutex contention (profile builds only)")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: mboxctl [flags] probe|read-key|write-key|gpio|serve [args]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(&opts)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	cmd := fs.Args()
	if len(cmd) == 0 {
		fs.Usage()
		return errUsage
	}
	if cmd[0] == "serve" && cfg.Metrics.Addr == "" {
		return errNoMetrics
	}

	stopProfile, err := prof.Start(opts.profile)
	if err != nil {
		return err
	}
	defer func() {
		if err := stopProfile(); err != nil {
			pkg.LogWarn(component, "failed to write profile", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics, reg) })
	}
	g.Go(func() error {
		// One-shot commands end the metrics server with them.
		if cmd[0] != "serve" {
			defer cancel()
		}
		return execute(gctx, cfg, reg, cmd, out)
	})
	return g.Wait()
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.config != "" {
		var err error
		if cfg, err = config.Load(opts.config); err != nil {
			return nil, err
		}
	}
	if opts.backend != "" {
		cfg.Backend = opts.backend
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
	if opts.json {
		cfg.Log.Format = "json"
	}
	return cfg, cfg.Validate()
}

func setupLogging(cfg *config.Config) error {
	level, err := pkg.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	format, err := pkg.ParseLogFormat(cfg.Log.Format)
	if err != nil {
		return err
	}
	pkg.SetLogFormat(format)
	pkg.SetLogLevel(level)
	return nil
}

func serveMetrics(ctx context.Context, mc config.MetricsConfig, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle(mc.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	prof.Mount(mux)
	srv := &http.Server{Addr: mc.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	pkg.LogInfo(component, "serving metrics", "addr", mc.Addr, "path", mc.Path)

	select {
	case err := <-errc:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func execute(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, cmd []string, out io.Writer) error {
	b, err := openBoard(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	s, err := bringUp(b, cfg, reg)
	if err != nil {
		return err
	}

	switch cmd[0] {
	case "probe":
		return report(s, out)

	case "read-key":
		if len(cmd) != 3 || s.smc == nil {
			return usageOrNoSMC(s)
		}
		key, err := smc.ParseKey(cmd[1])
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(cmd[2])
		if err != nil {
			return fmt.Errorf("%w: size %q", errUsage, cmd[2])
		}
		data, err := s.smc.CallRetry(ctx, smc.DefaultRetryPolicy, s.smc.Channel(), smc.CmdReadKey, key, nil, n)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s = %s\n", key, hex.EncodeToString(data))
		return nil

	case "write-key":
		if len(cmd) != 3 || s.smc == nil {
			return usageOrNoSMC(s)
		}
		key, err := smc.ParseKey(cmd[1])
		if err != nil {
			return err
		}
		data, err := hex.DecodeString(cmd[2])
		if err != nil {
			return fmt.Errorf("%w: value %q", errUsage, cmd[2])
		}
		_, err = s.smc.CallRetry(ctx, smc.DefaultRetryPolicy, s.smc.Channel(), smc.CmdWriteKey, key, data, 0)
		return err

	case "gpio":
		if len(cmd) != 3 || s.gpio == nil {
			return usageOrNoSMC(s)
		}
		pin, err := strconv.Atoi(cmd[1])
		if err != nil {
			return fmt.Errorf("%w: pin %q", errUsage, cmd[1])
		}
		var high bool
		switch cmd[2] {
		case "on", "1", "high":
			high = true
		case "off", "0", "low":
		default:
			return fmt.Errorf("%w: level %q", errUsage, cmd[2])
		}
		return s.gpio.DirectionOutput(pin, high)

	case "serve":
		if err := report(s, out); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd[0])
}

func usageOrNoSMC(s *session) error {
	if s.smc == nil {
		return errNoSMC
	}
	return errUsage
}

func report(s *session, out io.Writer) error {
	if s.smcBoot != nil {
		r := s.smcBoot
		fmt.Fprintf(out, "smc: run %s subtype %d endpoints %v window 0x%x+0x%x\n",
			r.RunID, r.Subtype, r.Endpoints, r.WindowBase, r.WindowSize)
	}
	if s.ans != nil {
		w := s.ans.Window()
		fmt.Fprintf(out, "ans: run %s sart slot %d window 0x%x+0x%x\n",
			s.ans.Bootstrap().RunID, s.ans.SARTSlot(), w.Base, w.Size)
	}
	if res, ok := s.arena.Lookup(s.key); ok {
		pkg.LogDebug(component, "reservation", "name", res.Name(), "used", res.Used(), "remaining", res.Remaining())
		fmt.Fprintf(out, "reservation: 0x%x used 0x%x of 0x%x\n", res.Base(), res.Used(), res.Size())
	}
	return nil
}
