package tektronix

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"scopecap/internal/driver"
)

// Sample is one scaled waveform point.
type Sample struct {
	Time    float64 // seconds from the first sample
	Voltage float64 // volts
}

// ScaleSamples converts raw curve codes into time/voltage pairs using the
// instrument's preamble scaling: voltage = code*yMult - yOff, time = i*xInc.
// Output order matches input order.
func ScaleSamples(codes []float64, xInc, yMult, yOff float64) []Sample {
	samples := make([]Sample, len(codes))
	for i, code := range codes {
		samples[i] = Sample{
			Time:    float64(i) * xInc,
			Voltage: code*yMult - yOff,
		}
	}
	return samples
}

// SaveWaveform exports channel-1 samples to path as a two-column CSV.
// The acquisition is configured for ASCII transfer of the first 10000
// points; the preamble queries supply the scaling factors.
func (d *Driver) SaveWaveform(ctx context.Context, path string) error {
	if d.session == nil {
		return driver.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	setup := []string{
		"DATA:SOURCE CH1",
		"DATA:ENCDG ASCII",
		"DATA:START 1",
		"DATA:STOP 10000",
	}
	for _, cmd := range setup {
		if err := d.session.Write(cmd); err != nil {
			return fmt.Errorf("configure waveform export: %w", err)
		}
	}

	curve, err := d.session.Query("CURVE?")
	if err != nil {
		return fmt.Errorf("query curve data: %w", err)
	}

	xInc, err := d.queryFloat("WFMOUTPRE:XINCR?")
	if err != nil {
		return err
	}
	yMult, err := d.queryFloat("WFMOUTPRE:YMULT?")
	if err != nil {
		return err
	}
	yOff, err := d.queryFloat("WFMOUTPRE:YOFF?")
	if err != nil {
		return err
	}

	codes, err := parseCurve(curve)
	if err != nil {
		return err
	}

	samples := ScaleSamples(codes, xInc, yMult, yOff)
	if err := writeWaveformCSV(path, samples); err != nil {
		return err
	}

	log.Printf("tektronix: saved waveform %s (%d samples)", path, len(samples))
	return nil
}

func (d *Driver) queryFloat(cmd string) (float64, error) {
	resp, err := d.session.Query(cmd)
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", cmd, err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s response %q: %w", cmd, resp, err)
	}
	return v, nil
}

// parseCurve splits an ASCII CURVE? response into raw codes.
func parseCurve(curve string) ([]float64, error) {
	parts := strings.Split(strings.TrimSpace(curve), ",")
	codes := make([]float64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("bad curve value %q: %w", part, err)
		}
		codes = append(codes, code)
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("empty curve response")
	}
	return codes, nil
}

// writeWaveformCSV writes samples in sequence order, one row per sample.
func writeWaveformCSV(path string, samples []Sample) error {
	var b strings.Builder
	b.WriteString("Time(s),Voltage(V)\n")
	for _, s := range samples {
		fmt.Fprintf(&b, "%.9f,%.6f\n", s.Time, s.Voltage)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write waveform: %w", err)
	}
	return nil
}
