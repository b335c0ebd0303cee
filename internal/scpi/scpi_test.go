package scpi

import (
	"context"
	"errors"
	"testing"
	"time"
)

// scriptSession answers queries from a canned response table. SYST:ERR?
// responses are consumed in order so error-drain sequences can be scripted.
type scriptSession struct {
	responses map[string]string
	errQueue  []string
	errIdx    int
	queryErr  error
	writes    []string
}

func (s *scriptSession) Write(cmd string) error {
	s.writes = append(s.writes, cmd)
	return nil
}

func (s *scriptSession) Query(cmd string) (string, error) {
	if s.queryErr != nil {
		return "", s.queryErr
	}
	if cmd == "SYST:ERR?" {
		if s.errIdx >= len(s.errQueue) {
			return `0,"No error"`, nil
		}
		resp := s.errQueue[s.errIdx]
		s.errIdx++
		return resp, nil
	}
	return s.responses[cmd], nil
}

func (s *scriptSession) ReadRaw(max int) ([]byte, error) { return nil, nil }
func (s *scriptSession) SetTimeout(d time.Duration)      {}
func (s *scriptSession) Close() error                    { return nil }

func TestIdentify(t *testing.T) {
	c := NewClient(&scriptSession{
		responses: map[string]string{"*IDN?": "TEKTRONIX,MSO54,C012345,1.44.3"},
	}, "scope")

	idn, err := c.Identify()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idn != "TEKTRONIX,MSO54,C012345,1.44.3" {
		t.Errorf("unexpected identity: %q", idn)
	}
}

func TestOperationComplete(t *testing.T) {
	t.Run("answers 1", func(t *testing.T) {
		c := NewClient(&scriptSession{responses: map[string]string{"*OPC?": "1"}}, "scope")
		if err := c.OperationComplete(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("unexpected response is an error", func(t *testing.T) {
		c := NewClient(&scriptSession{responses: map[string]string{"*OPC?": "banana"}}, "scope")
		if err := c.OperationComplete(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("transport failure surfaces", func(t *testing.T) {
		c := NewClient(&scriptSession{queryErr: errors.New("read timeout")}, "scope")
		if err := c.OperationComplete(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("cancelled context does not block", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		c := NewClient(&scriptSession{responses: map[string]string{"*OPC?": "1"}}, "scope")
		if err := c.OperationComplete(ctx); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestStatusByte(t *testing.T) {
	c := NewClient(&scriptSession{responses: map[string]string{"*STB?": "96"}}, "scope")
	stb, err := c.StatusByte()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stb != 96 {
		t.Errorf("expected 96, got %d", stb)
	}
}

func TestNextError(t *testing.T) {
	tests := []struct {
		name string
		resp string
		want ErrorRecord
	}{
		{name: "no error", resp: `0,"No error"`, want: ErrorRecord{Code: 0, Message: "No error"}},
		{name: "quoted message", resp: `-113,"Undefined header"`, want: ErrorRecord{Code: -113, Message: "Undefined header"}},
		{name: "code only", resp: "220", want: ErrorRecord{Code: 220}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(&scriptSession{errQueue: []string{tt.resp}}, "scope")
			got, err := c.NextError()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestDrainErrors(t *testing.T) {
	t.Run("stops at the zero sentinel", func(t *testing.T) {
		c := NewClient(&scriptSession{errQueue: []string{
			`5,"Command error"`,
			`3,"Query interrupted"`,
			`0,"No error"`,
			`9,"should never be read"`,
		}}, "scope")

		records := c.DrainErrors(context.Background())
		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %d: %v", len(records), records)
		}
		if records[0].Code != 5 || records[1].Code != 3 {
			t.Errorf("unexpected records: %v", records)
		}
	})

	t.Run("empty queue yields nothing", func(t *testing.T) {
		c := NewClient(&scriptSession{}, "scope")
		if records := c.DrainErrors(context.Background()); len(records) != 0 {
			t.Errorf("expected no records, got %v", records)
		}
	})

	t.Run("never-empty queue is bounded", func(t *testing.T) {
		queue := make([]string, maxErrorDrain*2)
		for i := range queue {
			queue[i] = `7,"stuck error"`
		}
		c := NewClient(&scriptSession{errQueue: queue}, "scope")

		records := c.DrainErrors(context.Background())
		if len(records) != maxErrorDrain {
			t.Errorf("expected drain to stop at %d records, got %d", maxErrorDrain, len(records))
		}
	})

	t.Run("transport failure stops the drain", func(t *testing.T) {
		c := NewClient(&scriptSession{queryErr: errors.New("gone")}, "scope")
		if records := c.DrainErrors(context.Background()); len(records) != 0 {
			t.Errorf("expected no records, got %v", records)
		}
	})
}
