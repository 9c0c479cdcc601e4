//go:build !profile

package prof

import (
	"fmt"
	"io"
	"net/http"

	"github.com/ardnew/softmbox/pkg"
)

// Enabled reports whether profiling is compiled in.
const Enabled = false

// Start returns a no-op stop when nothing is requested and
// pkg.ErrNotSupported otherwise.
func Start(opts Options) (stop func() error, err error) {
	if !opts.Empty() {
		return nil, fmt.Errorf("%w: profiling requires the profile build tag", pkg.ErrNotSupported)
	}
	return func() error { return nil }, nil
}

// Active always reports false.
func Active() bool { return false }

// Snapshot returns pkg.ErrNotSupported.
func Snapshot(name string, _ io.Writer, _ int) error {
	return fmt.Errorf("%w: %s profile", pkg.ErrNotSupported, name)
}

// Mount registers nothing.
func Mount(*http.ServeMux) {}
