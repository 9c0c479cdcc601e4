//go:build profile

package prof

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestStart_WritesProfiles(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		CPU:        filepath.Join(dir, "cpu.prof"),
		Heap:       filepath.Join(dir, "heap.prof"),
		Contention: true,
	}

	stop, err := Start(opts)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !Active() {
		t.Error("Active() = false while profiling")
	}
	if _, err := Start(opts); !errors.Is(err, ErrActive) {
		t.Errorf("second Start() error = %v, want ErrActive", err)
	}

	if err := stop(); err != nil {
		t.Fatalf("stop() error = %v", err)
	}
	if err := stop(); err != nil {
		t.Errorf("second stop() error = %v", err)
	}
	if Active() {
		t.Error("Active() = true after stop")
	}

	for _, path := range []string{opts.CPU, opts.Heap} {
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("Stat(%s) error = %v", path, err)
		} else if info.Size() == 0 {
			t.Errorf("%s is empty", path)
		}
	}
}

func TestStart_InvalidPath(t *testing.T) {
	if _, err := Start(Options{CPU: "/nonexistent/directory/cpu.prof"}); err == nil {
		t.Fatal("Start() succeeded with an unwritable path")
	}
	if Active() {
		t.Error("failed Start() left profiling active")
	}
}

func TestSnapshot(t *testing.T) {
	var buf bytes.Buffer
	if err := Snapshot("goroutine", &buf, 1); err != nil {
		t.Fatalf("Snapshot(goroutine) error = %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("goroutine")) {
		t.Error("text goroutine profile does not mention goroutines")
	}

	if err := Snapshot("cpu", &buf, 0); !errors.Is(err, ErrUnknownProfile) {
		t.Errorf("Snapshot(cpu) error = %v, want ErrUnknownProfile", err)
	}
}

func TestMount(t *testing.T) {
	mux := http.NewServeMux()
	Mount(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /debug/pprof/ = %d, want 200", rec.Code)
	}
}
