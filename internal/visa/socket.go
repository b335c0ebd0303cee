package visa

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultSCPIPort is the conventional raw-socket SCPI port on LXI
// instruments. Tektronix listens on 4000, many others on 5025.
const DefaultSCPIPort = 4000

// SocketTransport opens SCPI sessions over raw TCP sockets.
//
// Resources come from two places: a static list supplied by the caller
// (config or command line) and, when a sweep subnet is configured, an LXI
// network sweep (see lxi.go). ListResources never fails just because the
// sweep does; an empty result is a valid outcome.
type SocketTransport struct {
	static  []string
	sweep   *LXISweeper
	timeout time.Duration
}

// SocketOption configures a SocketTransport.
type SocketOption func(*SocketTransport)

// WithResources seeds the transport with a static resource list.
func WithResources(resources ...string) SocketOption {
	return func(t *SocketTransport) {
		t.static = append(t.static, resources...)
	}
}

// WithSweep enables LXI subnet sweeping during enumeration.
func WithSweep(sweeper *LXISweeper) SocketOption {
	return func(t *SocketTransport) {
		t.sweep = sweeper
	}
}

// WithDialTimeout overrides the default open/operation timeout.
func WithDialTimeout(d time.Duration) SocketOption {
	return func(t *SocketTransport) {
		t.timeout = d
	}
}

// NewSocketTransport creates a socket transport.
func NewSocketTransport(opts ...SocketOption) *SocketTransport {
	t := &SocketTransport{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ListResources returns the static resource list plus any instruments found
// by the LXI sweep, de-duplicated, static entries first.
func (t *SocketTransport) ListResources(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{}, len(t.static))
	var out []string
	for _, r := range t.static {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}

	if t.sweep != nil {
		found, err := t.sweep.Sweep(ctx)
		if err != nil {
			// Enumeration failure on the sweep side is soft: the static
			// list is still usable.
			log.Printf("visa: LXI sweep failed: %v", err)
		}
		for _, r := range found {
			if _, dup := seen[r]; dup {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}

	return out, nil
}

// Open dials the resource and returns a session with the transport's
// timeout applied.
func (t *SocketTransport) Open(ctx context.Context, address string) (Session, error) {
	res := ParseResource(address)
	if res.Type != ResourceTCPIP {
		return nil, fmt.Errorf("open %q: %w", address, ErrUnsupportedResource)
	}

	dialer := &net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", res.Addr())
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", address, err)
	}

	return newSocketSession(conn, t.timeout), nil
}

// socketSession implements Session over a net.Conn.
type socketSession struct {
	mu      sync.Mutex
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
	closed  bool
}

func newSocketSession(conn net.Conn, timeout time.Duration) *socketSession {
	return &socketSession{
		conn:    conn,
		r:       bufio.NewReader(conn),
		timeout: timeout,
	}
}

func (s *socketSession) Write(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("write %q: session closed", cmd)
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	if _, err := io.WriteString(s.conn, cmd+"\n"); err != nil {
		return fmt.Errorf("write %q: %w", cmd, wrapDeadline(err))
	}
	return nil
}

func (s *socketSession) Query(cmd string) (string, error) {
	if err := s.Write(cmd); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return "", err
	}
	line, err := s.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("query %q: %w", cmd, wrapDeadline(err))
	}
	return strings.TrimSpace(line), nil
}

func (s *socketSession) ReadRaw(max int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("read raw: session closed")
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return nil, err
	}

	buf := make([]byte, max)
	total := 0
	for total < max {
		n, err := s.r.Read(buf[total:])
		total += n
		if err != nil {
			// The instrument closes or stops sending when the transfer is
			// done; a deadline after partial data marks end of transfer.
			if total > 0 && (err == io.EOF || isTimeout(err)) {
				break
			}
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("read raw: %w", wrapDeadline(err))
		}
	}
	return buf[:total], nil
}

func (s *socketSession) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

func (s *socketSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

func isTimeout(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) {
		return nerr.Timeout()
	}
	return os.IsTimeout(err)
}

// wrapDeadline maps deadline exceeded errors onto ErrTimeout so callers can
// match them uniformly with errors.Is.
func wrapDeadline(err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
