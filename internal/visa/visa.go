// Package visa provides the instrument transport layer for scopecap.
//
// A Transport enumerates reachable instrument addresses and opens sessions
// to them. A Session is a stateful, single-threaded command/response link:
// interleaving two commands on one session corrupts both, so callers must
// serialize access themselves.
//
// Addresses are VISA-style resource strings. Two flavors are understood:
//
//	USB0::0x0699::0x0522::C012345::INSTR
//	TCPIP0::192.168.1.50::4000::SOCKET
//
// The concrete transport here speaks SCPI over a raw TCP socket. USB
// resources can still appear in a static resource list (for example when
// fed from an external enumerator) but cannot be opened by SocketTransport.
package visa

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout bounds every session operation unless overridden.
const DefaultTimeout = 5 * time.Second

// ErrTimeout is returned when the instrument does not answer within the
// session timeout. Callers match it with errors.Is.
var ErrTimeout = errors.New("visa: operation timed out")

// ErrUnsupportedResource is returned by Open for address flavors the
// transport cannot dial.
var ErrUnsupportedResource = errors.New("visa: unsupported resource type")

// Session is a command/response link to a single instrument.
//
// Not safe for concurrent use. Every blocking call is bounded by the
// session timeout; a silent instrument surfaces as ErrTimeout.
type Session interface {
	// Write sends a command without waiting for a response.
	Write(cmd string) error

	// Query sends a command and reads one newline-terminated response,
	// returned with surrounding whitespace trimmed.
	Query(cmd string) (string, error)

	// ReadRaw reads up to max bytes of binary data from the link. It
	// returns the bytes the instrument sent for the pending transfer,
	// which may be fewer than max.
	ReadRaw(max int) ([]byte, error)

	// SetTimeout replaces the per-operation timeout.
	SetTimeout(d time.Duration)

	// Close releases the link. Safe to call more than once.
	Close() error
}

// Transport enumerates instrument addresses and opens sessions.
type Transport interface {
	ListResources(ctx context.Context) ([]string, error)
	Open(ctx context.Context, address string) (Session, error)
}
