package tektronix

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scopecap/internal/driver"
	"scopecap/internal/visa"
)

// ============================================================================
// Fake instrument
// ============================================================================

// fakeScope simulates an MSO5's session behavior: canned query responses,
// an error queue consumed by SYST:ERR?, and raw image bytes served after
// FILESYSTEM:READFILE.
type fakeScope struct {
	writes    []string
	responses map[string]string
	errQueue  []string
	errIdx    int
	raw       []byte
	rawErr    error
	queryErrs map[string]error
	writeErrs map[string]error
	closes    int
}

func newFakeScope() *fakeScope {
	return &fakeScope{
		responses: map[string]string{
			"*IDN?":            "TEKTRONIX,MSO54,C012345,FV:1.44.3",
			"*OPC?":            "1",
			"FILESYSTEM:DIR?":  `".",".."`,
			"CURVE?":           "100,200,300",
			"WFMOUTPRE:XINCR?": "1e-6",
			"WFMOUTPRE:YMULT?": "2.0",
			"WFMOUTPRE:YOFF?":  "0.5",
		},
		raw: []byte("\x89PNG fake image data"),
	}
}

func (f *fakeScope) Write(cmd string) error {
	if err := f.writeErrs[cmd]; err != nil {
		return err
	}
	f.writes = append(f.writes, cmd)
	return nil
}

func (f *fakeScope) Query(cmd string) (string, error) {
	if err := f.queryErrs[cmd]; err != nil {
		return "", err
	}
	if cmd == "SYST:ERR?" {
		if f.errIdx >= len(f.errQueue) {
			return `0,"No error"`, nil
		}
		resp := f.errQueue[f.errIdx]
		f.errIdx++
		return resp, nil
	}
	return f.responses[cmd], nil
}

func (f *fakeScope) ReadRaw(max int) ([]byte, error) {
	if f.rawErr != nil {
		return nil, f.rawErr
	}
	if len(f.raw) > max {
		return f.raw[:max], nil
	}
	return f.raw, nil
}

func (f *fakeScope) SetTimeout(d time.Duration) {}

func (f *fakeScope) Close() error {
	f.closes++
	return nil
}

func (f *fakeScope) wrote(cmd string) bool {
	for _, w := range f.writes {
		if w == cmd {
			return true
		}
	}
	return false
}

type fakeTransport struct {
	scope   *fakeScope
	openErr error
	opens   int
}

func (f *fakeTransport) ListResources(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (f *fakeTransport) Open(ctx context.Context, address string) (visa.Session, error) {
	f.opens++
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.scope, nil
}

func connectedDriver(t *testing.T, scope *fakeScope) *Driver {
	t.Helper()
	d := New(&fakeTransport{scope: scope}).(*Driver)
	if !d.Connect(context.Background(), "TCPIP0::10.0.0.5::4000::SOCKET") {
		t.Fatal("connect failed")
	}
	return d
}

// ============================================================================
// Connect / Disconnect
// ============================================================================

func TestConnect(t *testing.T) {
	t.Run("no address", func(t *testing.T) {
		d := New(&fakeTransport{scope: newFakeScope()})
		if d.Connect(context.Background(), "") {
			t.Error("expected connect to fail with no address")
		}
		if d.Connected() {
			t.Error("driver should remain disconnected")
		}
	})

	t.Run("open failure", func(t *testing.T) {
		d := New(&fakeTransport{openErr: errors.New("connection refused")})
		if d.Connect(context.Background(), "TCPIP0::10.0.0.5::4000::SOCKET") {
			t.Error("expected connect to fail")
		}
	})

	t.Run("provisions the working directory", func(t *testing.T) {
		scope := newFakeScope()
		d := connectedDriver(t, scope)

		if !d.Connected() {
			t.Fatal("expected connected")
		}
		if !scope.wrote(`FILESYSTEM:MKDIR "C:/scopecap"`) {
			t.Errorf("working directory not created; writes: %v", scope.writes)
		}
		if d.Identity().Model != "MSO54" {
			t.Errorf("identity not captured: %+v", d.Identity())
		}
	})

	t.Run("clears stale files but never dot entries", func(t *testing.T) {
		scope := newFakeScope()
		scope.responses["FILESYSTEM:DIR?"] = `".","..","old_001.png","leftover.csv"`
		scope.errQueue = []string{`-108,"Directory already exists"`, `0,"No error"`}

		connectedDriver(t, scope)

		if !scope.wrote(`FILESYSTEM:DELETE "C:/scopecap/old_001.png"`) {
			t.Errorf("stale file not deleted; writes: %v", scope.writes)
		}
		if !scope.wrote(`FILESYSTEM:DELETE "C:/scopecap/leftover.csv"`) {
			t.Errorf("stale file not deleted; writes: %v", scope.writes)
		}
		for _, w := range scope.writes {
			if strings.Contains(w, `DELETE "C:/scopecap/."`) || strings.Contains(w, `DELETE "C:/scopecap/.."`) {
				t.Errorf("dot entry deleted: %s", w)
			}
		}
	})

	t.Run("unparseable listing is nothing to clean", func(t *testing.T) {
		scope := newFakeScope()
		scope.queryErrs = map[string]error{"FILESYSTEM:DIR?": errors.New("timeout")}

		d := connectedDriver(t, scope)
		if !d.Connected() {
			t.Error("a failed listing must not fail the connect")
		}
	})

	t.Run("reconnect closes the previous session", func(t *testing.T) {
		scope := newFakeScope()
		tr := &fakeTransport{scope: scope}
		d := New(tr).(*Driver)

		if !d.Connect(context.Background(), "TCPIP0::10.0.0.5::4000::SOCKET") {
			t.Fatal("first connect failed")
		}
		if !d.Connect(context.Background(), "TCPIP0::10.0.0.6::4000::SOCKET") {
			t.Fatal("second connect failed")
		}
		if scope.closes != 1 {
			t.Errorf("previous session closed %d times, want 1", scope.closes)
		}
		if tr.opens != 2 {
			t.Errorf("expected 2 opens, got %d", tr.opens)
		}
	})
}

func TestDisconnect(t *testing.T) {
	scope := newFakeScope()
	d := connectedDriver(t, scope)

	d.Disconnect()
	if d.Connected() {
		t.Error("expected disconnected")
	}

	// Second disconnect is a no-op, not an error.
	d.Disconnect()
	if scope.closes != 1 {
		t.Errorf("session closed %d times, want 1", scope.closes)
	}
}

// ============================================================================
// Screenshot capture
// ============================================================================

func TestCaptureScreenshot(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		d := New(&fakeTransport{scope: newFakeScope()})
		_, err := d.CaptureScreenshot(context.Background(), driver.Params{})
		if !errors.Is(err, driver.ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("happy path returns bytes and deletes the temporary", func(t *testing.T) {
		scope := newFakeScope()
		d := connectedDriver(t, scope)

		data, err := d.CaptureScreenshot(context.Background(), driver.Params{BackgroundColor: "white"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(data) == 0 {
			t.Fatal("expected non-empty image bytes")
		}
		if !scope.wrote(`SAVE:IMAGE "C:/scopecap/scopecap_tmp.png"`) {
			t.Errorf("image save not issued; writes: %v", scope.writes)
		}
		if !scope.wrote("SAVE:IMAGE:COMPOSITION INVERTED") {
			t.Errorf("white background should use inksaver composition; writes: %v", scope.writes)
		}
		if !scope.wrote(`FILESYSTEM:DELETE "C:/scopecap/scopecap_tmp.png"`) {
			t.Errorf("temporary not deleted; writes: %v", scope.writes)
		}
	})

	t.Run("black background keeps normal composition", func(t *testing.T) {
		scope := newFakeScope()
		d := connectedDriver(t, scope)

		if _, err := d.CaptureScreenshot(context.Background(), driver.Params{BackgroundColor: "black"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !scope.wrote("SAVE:IMAGE:COMPOSITION NORMAL") {
			t.Errorf("expected NORMAL composition; writes: %v", scope.writes)
		}
	})

	t.Run("read ordering: save, sync, read", func(t *testing.T) {
		scope := newFakeScope()
		d := connectedDriver(t, scope)

		if _, err := d.CaptureScreenshot(context.Background(), driver.Params{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		saveIdx, readIdx := -1, -1
		for i, w := range scope.writes {
			switch w {
			case `SAVE:IMAGE "C:/scopecap/scopecap_tmp.png"`:
				saveIdx = i
			case `FILESYSTEM:READFILE "C:/scopecap/scopecap_tmp.png"`:
				readIdx = i
			}
		}
		if saveIdx == -1 || readIdx == -1 || saveIdx > readIdx {
			t.Errorf("save must precede read; writes: %v", scope.writes)
		}
	})

	t.Run("instrument errors are folded into the failure", func(t *testing.T) {
		scope := newFakeScope()
		scope.rawErr = errors.New("read timed out")
		scope.errQueue = []string{`-350,"Queue overflow"`, `0,"No error"`}
		d := connectedDriver(t, scope)
		scope.errIdx = 0 // rewind; connect's own drains consumed the queue

		_, err := d.CaptureScreenshot(context.Background(), driver.Params{})
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(err.Error(), "Queue overflow") {
			t.Errorf("error should carry the instrument's own message, got: %v", err)
		}
	})

	t.Run("transfer that fills the buffer is reported truncated", func(t *testing.T) {
		scope := newFakeScope()
		scope.raw = make([]byte, maxImageBytes+1)
		d := connectedDriver(t, scope)

		_, err := d.CaptureScreenshot(context.Background(), driver.Params{})
		if err == nil || !strings.Contains(err.Error(), "truncated") {
			t.Errorf("expected truncation error, got %v", err)
		}
	})

	t.Run("empty transfer is an error", func(t *testing.T) {
		scope := newFakeScope()
		scope.raw = nil
		d := connectedDriver(t, scope)

		if _, err := d.CaptureScreenshot(context.Background(), driver.Params{}); err == nil {
			t.Error("expected error for empty image data")
		}
	})
}

func TestSaveScreenshot(t *testing.T) {
	t.Run("writes the image and returns the path", func(t *testing.T) {
		scope := newFakeScope()
		d := connectedDriver(t, scope)
		dir := t.TempDir()

		path, err := d.SaveScreenshot(context.Background(), driver.Params{
			SaveDir:  dir,
			Filename: "capture_001",
			Suffix:   "png",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if filepath.Base(path) != "capture_001.png" {
			t.Errorf("unexpected filename: %s", path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("image not written: %v", err)
		}
		if string(data) != string(scope.raw) {
			t.Error("written bytes differ from captured bytes")
		}
	})

	t.Run("suffix already present is not doubled", func(t *testing.T) {
		scope := newFakeScope()
		d := connectedDriver(t, scope)

		path, err := d.SaveScreenshot(context.Background(), driver.Params{
			SaveDir:  t.TempDir(),
			Filename: "shot.png",
			Suffix:   ".png",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if filepath.Base(path) != "shot.png" {
			t.Errorf("suffix doubled: %s", path)
		}
	})

	t.Run("failed capture writes no file", func(t *testing.T) {
		scope := newFakeScope()
		scope.rawErr = errors.New("timeout")
		d := connectedDriver(t, scope)
		dir := t.TempDir()

		if _, err := d.SaveScreenshot(context.Background(), driver.Params{
			SaveDir: dir, Filename: "x", Suffix: "png",
		}); err == nil {
			t.Fatal("expected error")
		}

		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("partial file left behind: %v", entries)
		}
	})

	t.Run("waveform failure does not abort the image", func(t *testing.T) {
		scope := newFakeScope()
		scope.queryErrs = map[string]error{"CURVE?": errors.New("timeout")}
		d := connectedDriver(t, scope)
		dir := t.TempDir()

		path, err := d.SaveScreenshot(context.Background(), driver.Params{
			SaveDir:      dir,
			Filename:     "shot",
			Suffix:       "png",
			SaveWaveform: true,
		})
		if err != nil {
			t.Fatalf("image capture should have succeeded: %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("image missing: %v", err)
		}
		if _, err := os.Stat(strings.TrimSuffix(path, ".png") + ".csv"); !os.IsNotExist(err) {
			t.Error("waveform file should not have been produced")
		}
	})
}

// ============================================================================
// Waveform export
// ============================================================================

func TestScaleSamples(t *testing.T) {
	codes := []float64{100, 200, 300, 42}
	samples := ScaleSamples(codes, 1e-6, 2.0, 0.5)

	if len(samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(samples))
	}
	// Index 3: time = 3e-6, voltage = 42*2.0 - 0.5.
	if math.Abs(samples[3].Time-3e-6) > 1e-15 {
		t.Errorf("time: expected 3e-6, got %g", samples[3].Time)
	}
	if math.Abs(samples[3].Voltage-83.5) > 1e-9 {
		t.Errorf("voltage: expected 83.5, got %g", samples[3].Voltage)
	}
}

func TestSaveWaveform(t *testing.T) {
	scope := newFakeScope()
	d := connectedDriver(t, scope)
	path := filepath.Join(t.TempDir(), "wave.csv")

	if err := d.SaveWaveform(context.Background(), path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("waveform not written: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "Time(s),Voltage(V)" {
		t.Errorf("bad header: %s", lines[0])
	}
	if len(lines) != 4 {
		t.Fatalf("expected 3 sample rows, got %d", len(lines)-1)
	}
	// codes 100,200,300 with ymult=2, yoff=0.5, xinc=1e-6
	want1 := fmt.Sprintf("%.9f,%.6f", 0.0, 100*2.0-0.5)
	if lines[1] != want1 {
		t.Errorf("row 1: expected %s, got %s", want1, lines[1])
	}
	want3 := fmt.Sprintf("%.9f,%.6f", 2e-6, 300*2.0-0.5)
	if lines[3] != want3 {
		t.Errorf("row 3: expected %s, got %s", want3, lines[3])
	}
}

func TestParseCurve(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantLen int
		wantErr bool
	}{
		{name: "plain", in: "1,2,3", wantLen: 3},
		{name: "spaces", in: " 1 , 2 , 3 ", wantLen: 3},
		{name: "negative codes", in: "-128,0,127", wantLen: 3},
		{name: "empty", in: "", wantErr: true},
		{name: "garbage", in: "1,spam,3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codes, err := parseCurve(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(codes) != tt.wantLen {
				t.Errorf("expected %d codes, got %d", tt.wantLen, len(codes))
			}
		})
	}
}
