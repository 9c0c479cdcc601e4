// Package pkg provides shared utilities for the softmbox coprocessor stack.
//
// This package contains common functionality used by the mailbox transport,
// the bootstrap state machine, the memory arbiter, and the command layers:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for the mailbox fault taxonomy
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentBootstrap, "endpoint map", "block", 0, "bitmap", 0x29)
//
// # Errors
//
// Every fault is a distinct sentinel, wrapped with context where it occurs:
//
//	if errors.Is(err, pkg.ErrTimeout) {
//	    // Recoverable inside a command call; fatal during bootstrap
//	}
//
// [FaultOf] maps an arbitrary error onto the taxonomy for callers that
// switch on outcome rather than test sentinels one at a time.
package pkg
