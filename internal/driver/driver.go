// Package driver defines the capability set every oscilloscope driver
// implements and the registry that maps instrument identities onto
// concrete driver families.
package driver

import (
	"context"
	"errors"
	"strings"

	"scopecap/internal/discovery"
	"scopecap/internal/scpi"
	"scopecap/internal/visa"
)

// ErrNotSupported is returned by drivers for capabilities their hardware
// family does not implement. An unsupported operation must fail loudly,
// never behave as a no-op; silent partial success is how signature
// mismatches between base and derived behavior go undetected.
var ErrNotSupported = errors.New("driver: operation not supported")

// ErrNotConnected is returned by operations that require an open session.
var ErrNotConnected = errors.New("driver: no instrument connected")

// Params configures one screenshot capture.
type Params struct {
	// SaveDir is the local directory the image is written to.
	SaveDir string
	// Filename is the base name; Suffix is appended when not already present.
	Filename string
	Suffix   string
	// BackgroundColor is "white" or "black".
	BackgroundColor string
	// SaveWaveform also exports channel-1 samples next to the image.
	SaveWaveform bool
}

// Driver is the capability set of a concrete oscilloscope driver.
//
// Connect reports success as a bool rather than an error: a failed connect
// is an expected outcome during auto-setup, and the caller decides whether
// to retry with another address. The failure detail goes to the log.
type Driver interface {
	Connect(ctx context.Context, address string) bool
	Disconnect()
	Connected() bool

	// CaptureScreenshot runs the capture protocol and returns the raw
	// image bytes without touching the local filesystem.
	CaptureScreenshot(ctx context.Context, params Params) ([]byte, error)

	// SaveScreenshot captures and writes the image (and optionally the
	// waveform) under params.SaveDir, returning the resolved image path.
	SaveScreenshot(ctx context.Context, params Params) (string, error)

	// SaveWaveform exports channel samples to path as a time/voltage CSV.
	SaveWaveform(ctx context.Context, path string) error

	// DrainErrors empties the instrument error queue.
	DrainErrors(ctx context.Context) []scpi.ErrorRecord

	// Identity returns the identity captured at connect time.
	Identity() discovery.Identity
}

// Family pairs identity match patterns with a driver constructor. Matching
// is case-insensitive substring on both patterns.
type Family struct {
	Name                string
	ManufacturerPattern string
	ModelPattern        string
	New                 func(transport visa.Transport) Driver
}

// Matches reports whether the identity belongs to this family.
func (f Family) Matches(id discovery.Identity) bool {
	return containsFold(id.Manufacturer, f.ManufacturerPattern) &&
		containsFold(id.Model, f.ModelPattern)
}

// Registry is a closed, ordered table of supported driver families.
// Families are checked in registration order; the first match wins.
type Registry struct {
	families []Family
}

// NewRegistry creates a registry with the given families.
func NewRegistry(families ...Family) *Registry {
	return &Registry{families: families}
}

// Register appends a family to the table.
func (r *Registry) Register(f Family) {
	r.families = append(r.families, f)
}

// Match returns the first family matching the identity, or false when the
// instrument is not a supported model.
func (r *Registry) Match(id discovery.Identity) (Family, bool) {
	for _, f := range r.families {
		if f.Matches(id) {
			return f, true
		}
	}
	return Family{}, false
}

// Families returns the registration-ordered family list.
func (r *Registry) Families() []Family {
	out := make([]Family, len(r.families))
	copy(out, r.families)
	return out
}

func containsFold(s, substr string) bool {
	if substr == "" {
		return false
	}
	return strings.Contains(strings.ToUpper(s), strings.ToUpper(substr))
}
