// Package prof profiles mboxctl runs.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./cmd/mboxctl
//
// Without it [Enabled] is false, [Mount] registers nothing, and [Start]
// rejects any requested profile with [pkg.ErrNotSupported] so a flag asking
// for one is never silently ignored.
//
// A run profiles itself with Start and the returned stop function:
//
//	stop, err := prof.Start(prof.Options{CPU: "cpu.prof", Heap: "heap.prof"})
//	if err != nil {
//		return err
//	}
//	defer stop()
//
// A long-running serve exposes the live profiles next to its metrics:
//
//	mux := http.NewServeMux()
//	prof.Mount(mux) // /debug/pprof/
//
// Bootstrap spends most of its time spinning on FIFO status bits, so the
// block and mutex profiles are usually the interesting ones. Options.Contention
// turns on their sampling for the duration of the run.
package prof
