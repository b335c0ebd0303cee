// Package capture owns the active driver session and runs the
// scan → auto-setup → capture workflow.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scopecap/internal/config"
	"scopecap/internal/discovery"
	"scopecap/internal/driver"
	"scopecap/internal/eventlog"
	"scopecap/internal/namegen"
	"scopecap/internal/repository"
	"scopecap/internal/visa"
)

// ErrNoInstrument means the scan found nothing a registered driver family
// supports. It is a normal outcome of a scan, not a fault.
var ErrNoInstrument = errors.New("capture: no supported instrument found")

// ErrConnectFailed means a supported instrument was found but the
// connection attempt did not succeed.
var ErrConnectFailed = errors.New("capture: connect failed")

// ErrNotConnected is returned by Capture when no driver session is open.
var ErrNotConnected = errors.New("capture: no instrument connected")

// Request configures one capture. Zero-valued fields are resolved from
// the configuration defaults. SaveWaveform is a pointer so "not specified"
// stays distinguishable from "explicitly off".
type Request struct {
	SaveDir         string
	FilenameStem    string
	Suffix          string
	BackgroundColor string
	SaveWaveform    *bool
	Metadata        []config.MetadataField
}

// Result reports what a capture produced. MetadataErr is non-nil when the
// sidecar write failed; the image itself is still on disk in that case.
type Result struct {
	ImagePath    string
	WaveformPath string
	MetadataPath string
	MetadataErr  error
}

// Orchestrator drives discovery, driver selection, and capture. It owns
// the single active driver; replacing it always disconnects the previous
// one first.
type Orchestrator struct {
	transport visa.Transport
	registry  *driver.Registry
	cfg       *config.Config
	events    *eventlog.Log
	history   repository.Repository

	active  driver.Driver
	address string
}

// New creates an orchestrator. history may be nil to disable the capture
// log.
func New(transport visa.Transport, registry *driver.Registry, cfg *config.Config,
	events *eventlog.Log, history repository.Repository) *Orchestrator {
	return &Orchestrator{
		transport: transport,
		registry:  registry,
		cfg:       cfg,
		events:    events,
		history:   history,
	}
}

// Scan enumerates the bus and identifies every instrument on it.
func (o *Orchestrator) Scan(ctx context.Context) ([]discovery.Instrument, error) {
	instruments, err := discovery.NewScanner(o.transport).Find(ctx)
	if err != nil {
		o.events.Error("discovery", "scan failed: %v", err)
		return nil, err
	}
	o.events.Info("discovery", "scan found %d instrument(s)", len(instruments))
	return instruments, nil
}

// AutoSetup walks the scan result in order, picks the first instrument a
// registered family supports, and connects its driver. The previous
// driver, if any, is disconnected first.
func (o *Orchestrator) AutoSetup(ctx context.Context, instruments []discovery.Instrument) error {
	for _, instr := range instruments {
		family, ok := o.registry.Match(instr.Identity)
		if !ok {
			continue
		}

		o.events.Info("capture", "matched %s at %s (%s)",
			family.Name, instr.Address, instr.Identity)

		o.Disconnect()
		d := family.New(o.transport)
		if !d.Connect(ctx, instr.Address) {
			o.events.Error("capture", "connect to %s failed", instr.Address)
			return fmt.Errorf("%w: %s at %s", ErrConnectFailed, family.Name, instr.Address)
		}

		o.active = d
		o.address = instr.Address
		return nil
	}

	o.events.Info("capture", "no supported instrument in scan result")
	return ErrNoInstrument
}

// Connected reports whether a driver session is open.
func (o *Orchestrator) Connected() bool {
	return o.active != nil && o.active.Connected()
}

// ActiveIdentity returns the identity of the connected instrument.
func (o *Orchestrator) ActiveIdentity() discovery.Identity {
	if o.active == nil {
		return discovery.Identity{}
	}
	return o.active.Identity()
}

// Disconnect closes the active driver session, if any.
func (o *Orchestrator) Disconnect() {
	if o.active == nil {
		return
	}
	o.active.Disconnect()
	o.active = nil
	o.address = ""
}

// Capture resolves the request against the configuration defaults, runs
// the active driver's capture protocol, and persists the metadata sidecar
// and the history record.
//
// A sidecar or history failure never retracts an already-saved image: the
// image path is returned and the secondary failure is reported in the
// Result. The save directory feeds back into the recent-directories list.
func (o *Orchestrator) Capture(ctx context.Context, req Request) (Result, error) {
	if !o.Connected() {
		return Result{}, ErrNotConnected
	}

	params, err := o.resolve(req)
	if err != nil {
		return Result{}, err
	}

	imagePath, err := o.active.SaveScreenshot(ctx, params)
	if err != nil {
		o.events.Error("capture", "capture failed: %v", err)
		return Result{}, err
	}
	o.events.Info("capture", "saved %s", imagePath)

	result := Result{ImagePath: imagePath}

	if params.SaveWaveform {
		wfPath := strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".csv"
		if _, err := os.Stat(wfPath); err == nil {
			result.WaveformPath = wfPath
		}
	}

	capturedAt := time.Now()
	metadata := req.Metadata
	if metadata == nil {
		metadata = o.cfg.LastUsedMetadata
	}

	result.MetadataPath, result.MetadataErr = o.writeMetadata(imagePath, capturedAt, metadata)
	if result.MetadataErr != nil {
		o.events.Error("capture", "metadata sidecar not written: %v", result.MetadataErr)
		result.MetadataPath = ""
	}

	o.cfg.SetSaveDirectory(params.SaveDir)

	if o.history != nil {
		rec := repository.Record{
			ImagePath:    imagePath,
			WaveformPath: result.WaveformPath,
			CapturedAt:   capturedAt,
			Address:      o.address,
			Identity:     o.active.Identity(),
			Metadata:     toPairs(metadata),
		}
		if err := o.history.Insert(ctx, &rec); err != nil {
			o.events.Error("capture", "history record not stored: %v", err)
		}
	}

	return result, nil
}

// resolve fills unset request fields from the configuration and applies
// the filename policy.
func (o *Orchestrator) resolve(req Request) (driver.Params, error) {
	params := driver.Params{
		SaveDir:         req.SaveDir,
		BackgroundColor: req.BackgroundColor,
	}
	if params.SaveDir == "" {
		dir, err := o.cfg.EnsuredSaveDirectory()
		if err != nil {
			return driver.Params{}, err
		}
		params.SaveDir = dir
	}
	if params.BackgroundColor == "" {
		params.BackgroundColor = o.cfg.BackgroundColor
	}

	suffix := req.Suffix
	if suffix == "" {
		suffix = o.cfg.Suffix()
	}
	params.Suffix = suffix

	stem := req.FilenameStem
	if stem == "" {
		stem = o.cfg.DefaultFilename
	}

	switch {
	case o.cfg.AutoIncrement:
		name, err := namegen.Next(params.SaveDir, stem, suffix)
		if err != nil {
			return driver.Params{}, fmt.Errorf("filename policy: %w", err)
		}
		params.Filename = name
	case o.cfg.Datestamp:
		params.Filename = namegen.Datestamp(stem, suffix, time.Now())
	default:
		params.Filename = namegen.WithSuffix(stem, suffix)
	}

	if req.SaveWaveform != nil {
		params.SaveWaveform = *req.SaveWaveform
	} else {
		params.SaveWaveform = o.cfg.SaveWaveform
	}

	return params, nil
}

// writeMetadata writes the sidecar next to the image as
// <stem>_metadata.txt.
func (o *Orchestrator) writeMetadata(imagePath string, capturedAt time.Time,
	metadata []config.MetadataField) (string, error) {

	ext := filepath.Ext(imagePath)
	sidecar := strings.TrimSuffix(imagePath, ext) + "_metadata.txt"

	var b strings.Builder
	fmt.Fprintf(&b, "Image file: %s\n", filepath.Base(imagePath))
	fmt.Fprintf(&b, "Capture time: %s\n", capturedAt.Format("2006-01-02 15:04:05"))
	if id := o.active.Identity(); !id.IsZero() {
		fmt.Fprintf(&b, "Device: %s\n", id)
	}
	b.WriteString("\n")
	for _, field := range metadata {
		fmt.Fprintf(&b, "%s: %s\n", field.Key, field.Value)
	}

	if err := os.WriteFile(sidecar, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write metadata: %w", err)
	}
	return sidecar, nil
}

func toPairs(fields []config.MetadataField) []repository.MetadataPair {
	if len(fields) == 0 {
		return nil
	}
	pairs := make([]repository.MetadataPair, len(fields))
	for i, f := range fields {
		pairs[i] = repository.MetadataPair{Key: f.Key, Value: f.Value}
	}
	return pairs
}
