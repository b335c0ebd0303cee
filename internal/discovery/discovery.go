// Package discovery enumerates instruments on the transport bus and
// identifies them by their *IDN? response.
//
// A scan is tolerant by design: a bus with no instruments is an empty
// result, a device that refuses its identity query is still reported (with
// empty identity fields), and an address that fails to open is logged and
// skipped. One bad address never aborts discovery of the rest.
package discovery

import (
	"context"
	"log"
	"strings"

	"scopecap/internal/visa"
)

// Identity is the structured form of a SCPI identification string.
// Any field may be empty when the response was short or unparseable.
type Identity struct {
	Manufacturer string
	Model        string
	Serial       string
	Firmware     string
}

// IsZero reports whether no identity field was parsed.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

// String renders the identity in IDN order, for diagnostics.
func (id Identity) String() string {
	if id.IsZero() {
		return "(unidentified)"
	}
	return strings.Join([]string{id.Manufacturer, id.Model, id.Serial, id.Firmware}, ",")
}

// ParseIdentity splits a raw *IDN? response into its conventional fields:
// manufacturer, model, serial, firmware. SCPI convention is positional
// comma separation; responses with fewer than 4 fields leave the identity
// empty rather than guessing. Parsing never fails.
func ParseIdentity(raw string) Identity {
	parts := strings.Split(raw, ",")
	if len(parts) < 4 {
		return Identity{}
	}
	return Identity{
		Manufacturer: strings.TrimSpace(parts[0]),
		Model:        strings.TrimSpace(parts[1]),
		Serial:       strings.TrimSpace(parts[2]),
		Firmware:     strings.TrimSpace(strings.Join(parts[3:], ",")),
	}
}

// Instrument is one entry in a discovery scan result.
type Instrument struct {
	// Index is the 0-based enumeration position, for human-facing output.
	Index       int
	Address     string
	RawIdentity string
	Identity    Identity
}

// Scanner probes the transport bus for instruments.
type Scanner struct {
	transport visa.Transport
}

// NewScanner creates a scanner over the given transport.
func NewScanner(transport visa.Transport) *Scanner {
	return &Scanner{transport: transport}
}

// Find enumerates every bus address and queries each for its identity.
// The result order matches the transport's enumeration order, and the
// slice is rebuilt from scratch on every call. An empty slice with a nil
// error means no instruments were found.
func (s *Scanner) Find(ctx context.Context) ([]Instrument, error) {
	addresses, err := s.transport.ListResources(ctx)
	if err != nil {
		return nil, err
	}

	instruments := make([]Instrument, 0, len(addresses))
	for i, addr := range addresses {
		session, err := s.transport.Open(ctx, addr)
		if err != nil {
			// Bus error on this address only; keep scanning the rest.
			log.Printf("discovery: cannot open %s: %v", addr, err)
			continue
		}

		instr := Instrument{Index: i, Address: addr}
		raw, err := session.Query("*IDN?")
		if err != nil {
			// Busy or unsupported device: record the address anyway so
			// the user can see something answered the enumeration.
			log.Printf("discovery: identity query failed for %s: %v", addr, err)
		} else {
			instr.RawIdentity = raw
			instr.Identity = ParseIdentity(raw)
		}
		session.Close()

		instruments = append(instruments, instr)
	}

	log.Printf("discovery: scan complete, %d address(es), %d identified",
		len(instruments), countIdentified(instruments))
	return instruments, nil
}

func countIdentified(instruments []Instrument) int {
	n := 0
	for _, instr := range instruments {
		if !instr.Identity.IsZero() {
			n++
		}
	}
	return n
}
