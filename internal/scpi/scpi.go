// Package scpi implements the IEEE 488.2 common-command primitives shared
// by every SCPI-speaking driver: identification, operation-complete
// synchronization, status, and error-queue draining.
//
// Drivers hold a Client rather than inheriting from it; the capability set
// is composed in, not mixed in.
package scpi

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"scopecap/internal/visa"
)

// maxErrorDrain bounds the error-queue loop against a pathological
// instrument that never reports code 0.
const maxErrorDrain = 50

// ErrorRecord is one entry drained from the instrument's error queue.
// Code 0 is the "no more errors" sentinel and is never collected.
type ErrorRecord struct {
	Code    int
	Message string
}

func (e ErrorRecord) String() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// Client provides the common SCPI primitives over a transport session.
type Client struct {
	session visa.Session
	name    string
}

// NewClient wraps a session. name appears in log lines so errors from
// several instruments stay distinguishable.
func NewClient(session visa.Session, name string) *Client {
	if name == "" {
		name = "scpi"
	}
	return &Client{session: session, name: name}
}

// Identify returns the instrument's *IDN? response.
func (c *Client) Identify() (string, error) {
	return c.session.Query("*IDN?")
}

// OperationComplete blocks until the instrument reports all pending
// operations finished (*OPC? answers "1"). The instrument may simply never
// answer if it stalls, so the wait is bounded both by the session timeout
// and by ctx.
func (c *Client) OperationComplete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	type result struct {
		resp string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.session.Query("*OPC?")
		done <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: operation-complete poll: %w", c.name, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("%s: operation-complete poll: %w", c.name, r.err)
		}
		if strings.TrimSpace(r.resp) != "1" {
			return fmt.Errorf("%s: unexpected *OPC? response %q", c.name, r.resp)
		}
		return nil
	}
}

// StatusByte returns the *STB? status byte.
func (c *Client) StatusByte() (int, error) {
	resp, err := c.session.Query("*STB?")
	if err != nil {
		return 0, err
	}
	stb, err := strconv.Atoi(strings.TrimSpace(resp))
	if err != nil {
		return 0, fmt.Errorf("%s: bad *STB? response %q: %w", c.name, resp, err)
	}
	return stb, nil
}

// Options returns the installed-options string (*OPT?).
func (c *Client) Options() (string, error) {
	return c.session.Query("*OPT?")
}

// Clear clears the instrument status (*CLS).
func (c *Client) Clear() error {
	return c.session.Write("*CLS")
}

// Reset resets the instrument to factory defaults (*RST).
func (c *Client) Reset() error {
	return c.session.Write("*RST")
}

// NextError pops one entry from the instrument error queue (SYST:ERR?).
// The response is conventionally `code,"message"`.
func (c *Client) NextError() (ErrorRecord, error) {
	resp, err := c.session.Query("SYST:ERR?")
	if err != nil {
		return ErrorRecord{}, err
	}

	parts := strings.SplitN(strings.TrimSpace(resp), ",", 2)
	code, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return ErrorRecord{}, fmt.Errorf("%s: bad SYST:ERR? response %q: %w", c.name, resp, err)
	}

	rec := ErrorRecord{Code: code}
	if len(parts) > 1 {
		rec.Message = strings.Trim(strings.TrimSpace(parts[1]), `"`)
	}
	return rec, nil
}

// DrainErrors reads the error queue until the instrument reports code 0,
// logging and collecting each non-zero record. The loop stops early when
// ctx is cancelled, the queue misbehaves, or maxErrorDrain is hit.
func (c *Client) DrainErrors(ctx context.Context) []ErrorRecord {
	var records []ErrorRecord
	for i := 0; i < maxErrorDrain; i++ {
		if ctx.Err() != nil {
			log.Printf("%s: error drain cancelled after %d record(s)", c.name, len(records))
			return records
		}

		rec, err := c.NextError()
		if err != nil {
			log.Printf("%s: error drain stopped: %v", c.name, err)
			return records
		}
		if rec.Code == 0 {
			return records
		}

		log.Printf("%s: instrument error %s", c.name, rec)
		records = append(records, rec)
	}

	log.Printf("%s: error queue still not empty after %d reads, giving up", c.name, maxErrorDrain)
	return records
}
