// Package tektronix drives Tektronix MSO5-series oscilloscopes.
//
// These scopes have no "stream image now" command, so a screenshot is a
// round-trip through the instrument's own filesystem: save the screen to a
// file on the scope, wait for the save to finish, read the file back over
// the link, delete it. The driver keeps a private working directory on the
// instrument for these temporaries and clears it on every connect, so a
// crashed previous session cannot leak storage or collide with this one.
package tektronix

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scopecap/internal/discovery"
	"scopecap/internal/driver"
	"scopecap/internal/namegen"
	"scopecap/internal/scpi"
	"scopecap/internal/visa"
)

const (
	// connectTimeout bounds the transport open and every session
	// operation that follows.
	connectTimeout = 5 * time.Second

	// workDir is the private working directory on the instrument's
	// filesystem used for screenshot temporaries.
	workDir = "C:/scopecap"

	// tempImage is the instrument-side temporary the screen is saved to.
	tempImage = workDir + "/scopecap_tmp.png"

	// maxImageBytes bounds the raw read of the image transfer. A transfer
	// that fills the whole buffer is reported as truncated rather than
	// silently returned short.
	maxImageBytes = 1 << 20
)

// Family describes the instruments this driver supports, for the driver
// registry.
var Family = driver.Family{
	Name:                "tektronix-mso5",
	ManufacturerPattern: "TEKTRONIX",
	ModelPattern:        "MSO5",
	New:                 New,
}

// Driver implements driver.Driver for the MSO5 family.
type Driver struct {
	transport visa.Transport
	session   visa.Session
	client    *scpi.Client
	address   string
	identity  discovery.Identity
}

// New creates a disconnected driver over the given transport.
func New(transport visa.Transport) driver.Driver {
	return &Driver{transport: transport}
}

// Connect opens a session to the instrument and provisions the working
// directory. Failures are logged and reported as false, not raised: during
// auto-setup the caller may simply move on to another address.
func (d *Driver) Connect(ctx context.Context, address string) bool {
	if address == "" {
		log.Printf("tektronix: connect refused, no address set")
		return false
	}

	// At most one open transport handle per driver. Reconnecting (or
	// switching address) closes the old session first.
	if d.session != nil {
		d.Disconnect()
	}

	session, err := d.transport.Open(ctx, address)
	if err != nil {
		log.Printf("tektronix: connect to %s failed: %v", address, err)
		return false
	}
	session.SetTimeout(connectTimeout)

	d.session = session
	d.client = scpi.NewClient(session, "tektronix")
	d.address = address

	if idn, err := d.client.Identify(); err != nil {
		log.Printf("tektronix: identity query after connect failed: %v", err)
	} else {
		d.identity = discovery.ParseIdentity(idn)
	}

	d.provisionWorkDir(ctx)

	log.Printf("tektronix: connected to %s (%s)", address, d.identity)
	return true
}

// provisionWorkDir creates the instrument-side working directory and
// removes any files a previous session left behind.
func (d *Driver) provisionWorkDir(ctx context.Context) {
	// MKDIR fails when the directory already exists; that error lands in
	// the instrument's error queue, so drain it rather than treating the
	// command as fatal.
	if err := d.session.Write(fmt.Sprintf("FILESYSTEM:MKDIR %q", workDir)); err != nil {
		log.Printf("tektronix: mkdir %s failed: %v", workDir, err)
		return
	}
	d.client.DrainErrors(ctx)

	for _, name := range d.listWorkDir() {
		target := workDir + "/" + name
		if err := d.session.Write(fmt.Sprintf("FILESYSTEM:DELETE %q", target)); err != nil {
			log.Printf("tektronix: stale file %s not deleted: %v", target, err)
			continue
		}
		log.Printf("tektronix: removed stale file %s", target)
	}
	d.client.DrainErrors(ctx)
}

// listWorkDir returns the entries of the working directory, excluding the
// "." and ".." pseudo-entries. An empty or unparseable listing is nothing
// to clean, not an error.
func (d *Driver) listWorkDir() []string {
	if err := d.session.Write(fmt.Sprintf("FILESYSTEM:CWD %q", workDir)); err != nil {
		log.Printf("tektronix: cwd %s failed: %v", workDir, err)
		return nil
	}
	listing, err := d.session.Query("FILESYSTEM:DIR?")
	if err != nil {
		log.Printf("tektronix: directory listing failed: %v", err)
		return nil
	}

	var names []string
	for _, part := range strings.Split(listing, ",") {
		name := strings.Trim(strings.TrimSpace(part), `"`)
		if name == "" || name == "." || name == ".." {
			continue
		}
		names = append(names, name)
	}
	return names
}

// Disconnect closes the session if open. Safe to call when already
// disconnected.
func (d *Driver) Disconnect() {
	if d.session == nil {
		return
	}
	if err := d.session.Close(); err != nil {
		log.Printf("tektronix: close failed: %v", err)
	}
	d.session = nil
	d.client = nil
	log.Printf("tektronix: disconnected from %s", d.address)
}

// Connected reports whether a session is open.
func (d *Driver) Connected() bool {
	return d.session != nil
}

// Identity returns the identity captured at connect time.
func (d *Driver) Identity() discovery.Identity {
	return d.identity
}

// DrainErrors empties the instrument error queue.
func (d *Driver) DrainErrors(ctx context.Context) []scpi.ErrorRecord {
	if d.client == nil {
		return nil
	}
	return d.client.DrainErrors(ctx)
}

// CaptureScreenshot runs the capture protocol and returns the raw PNG
// bytes. The steps are strictly ordered:
//
//  1. save the screen to a temporary on the instrument filesystem
//  2. *OPC? poll — the synchronization point that guarantees the file is
//     fully written before we read it back (skipping it produces
//     intermittently truncated images)
//  3. read the file back over the link
//  4. delete the temporary, best effort
//
// On failure the instrument error queue is drained and its records folded
// into the returned error, so the report carries the scope's own
// diagnosis instead of a bare transport timeout.
func (d *Driver) CaptureScreenshot(ctx context.Context, params driver.Params) ([]byte, error) {
	if d.session == nil {
		return nil, driver.ErrNotConnected
	}

	data, err := d.captureToWorkDir(ctx, params.BackgroundColor)

	// Delete the temporary regardless of how the transfer went. The
	// caller does not wait for confirmation; the next connect's
	// directory clear is the real safety net if this fails.
	if delErr := d.session.Write(fmt.Sprintf("FILESYSTEM:DELETE %q", tempImage)); delErr != nil {
		log.Printf("tektronix: temp image not deleted: %v", delErr)
	}

	if err != nil {
		if records := d.client.DrainErrors(ctx); len(records) > 0 {
			return nil, fmt.Errorf("capture failed: %w (instrument reported %s)",
				err, formatRecords(records))
		}
		return nil, fmt.Errorf("capture failed: %w", err)
	}
	return data, nil
}

func (d *Driver) captureToWorkDir(ctx context.Context, bgColor string) ([]byte, error) {
	composition := "INVERTED" // ink-saver white background
	if strings.EqualFold(bgColor, "black") {
		composition = "NORMAL"
	}
	if err := d.session.Write("SAVE:IMAGE:COMPOSITION " + composition); err != nil {
		return nil, err
	}

	if err := d.session.Write(fmt.Sprintf("SAVE:IMAGE %q", tempImage)); err != nil {
		return nil, err
	}

	if err := d.client.OperationComplete(ctx); err != nil {
		return nil, err
	}

	if err := d.session.Write(fmt.Sprintf("FILESYSTEM:READFILE %q", tempImage)); err != nil {
		return nil, err
	}
	data, err := d.session.ReadRaw(maxImageBytes)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("instrument returned no image data")
	}
	if len(data) == maxImageBytes {
		return nil, fmt.Errorf("image transfer truncated at %d bytes", maxImageBytes)
	}
	return data, nil
}

// SaveScreenshot captures the screen and writes it under params.SaveDir,
// returning the resolved path. The destination file is only written once
// all bytes are in hand, so a failed capture never leaves a partial file.
func (d *Driver) SaveScreenshot(ctx context.Context, params driver.Params) (string, error) {
	if d.session == nil {
		return "", driver.ErrNotConnected
	}

	if err := os.MkdirAll(params.SaveDir, 0o755); err != nil {
		return "", fmt.Errorf("create save directory: %w", err)
	}

	filename := namegen.WithSuffix(params.Filename, params.Suffix)
	path := filepath.Join(params.SaveDir, filename)

	data, err := d.CaptureScreenshot(ctx, params)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	log.Printf("tektronix: saved screenshot %s (%d bytes)", path, len(data))

	if params.SaveWaveform {
		wfPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".csv"
		// A waveform failure never retracts an already-successful image
		// capture; it is logged and the file simply not produced.
		if err := d.SaveWaveform(ctx, wfPath); err != nil {
			log.Printf("tektronix: waveform export skipped: %v", err)
		}
	}

	return path, nil
}

func formatRecords(records []scpi.ErrorRecord) string {
	parts := make([]string, len(records))
	for i, r := range records {
		parts[i] = r.String()
	}
	return strings.Join(parts, "; ")
}
