//go:build profile

package prof

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	rpprof "runtime/pprof"
	"sync"
)

// Enabled reports whether profiling is compiled in.
const Enabled = true

var (
	// ErrActive is returned by Start while an earlier run is still profiling.
	ErrActive = errors.New("profile already active")

	// ErrUnknownProfile is returned for a snapshot name the runtime does not
	// know.
	ErrUnknownProfile = errors.New("unknown profile")
)

var (
	mu     sync.Mutex
	active bool
)

// Start begins profiling a run. The returned stop ends the CPU profile,
// writes the heap snapshot, and restores contention sampling. It is safe to
// call more than once.
func Start(opts Options) (stop func() error, err error) {
	mu.Lock()
	defer mu.Unlock()
	if active {
		return nil, ErrActive
	}

	var cpu *os.File
	if opts.CPU != "" {
		if cpu, err = os.Create(opts.CPU); err != nil {
			return nil, err
		}
		if err = rpprof.StartCPUProfile(cpu); err != nil {
			cpu.Close()
			return nil, err
		}
	}
	if opts.Contention {
		runtime.SetBlockProfileRate(1)
		runtime.SetMutexProfileFraction(1)
	}
	active = true

	var once sync.Once
	stop = func() error {
		var errs []error
		once.Do(func() {
			mu.Lock()
			defer mu.Unlock()
			if cpu != nil {
				rpprof.StopCPUProfile()
				errs = append(errs, cpu.Close())
			}
			if opts.Heap != "" {
				errs = append(errs, writeFile("heap", opts.Heap))
			}
			if opts.Contention {
				runtime.SetBlockProfileRate(0)
				runtime.SetMutexProfileFraction(0)
			}
			active = false
		})
		return errors.Join(errs...)
	}
	return stop, nil
}

// Active reports whether a run is being profiled.
func Active() bool {
	mu.Lock()
	defer mu.Unlock()
	return active
}

// Snapshot writes the named runtime profile (heap, goroutine, block, mutex,
// ...) to w. Debug 0 is the binary format read by go tool pprof; debug 1 is
// text.
func Snapshot(name string, w io.Writer, debug int) error {
	p := rpprof.Lookup(name)
	if p == nil {
		return fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p.WriteTo(w, debug)
}

func writeFile(name, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if name == "heap" {
		runtime.GC()
	}
	if err := Snapshot(name, f, 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Mount registers the pprof handlers under /debug/pprof/ on mux.
func Mount(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
