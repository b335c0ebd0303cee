package visa

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// ResourceType classifies a parsed VISA resource string.
type ResourceType string

const (
	ResourceUSB     ResourceType = "usb"
	ResourceTCPIP   ResourceType = "tcpip"
	ResourceUnknown ResourceType = "unknown"
)

// Resource holds the fields extracted from a VISA resource string.
type Resource struct {
	Original string
	Type     ResourceType

	// USB fields
	VendorID  string
	ProductID string
	Serial    string

	// TCPIP fields
	Host string
	Port int
}

var (
	usbPattern    = regexp.MustCompile(`^USB[0-9]*::([^:]+)::([^:]+)::([^:]+)(?:::INSTR)?$`)
	tcpipPattern  = regexp.MustCompile(`^TCPIP[0-9]*::([^:]+)::([0-9]+)::SOCKET$`)
	tcpipInstr    = regexp.MustCompile(`^TCPIP[0-9]*::([^:]+)(?:::INSTR)?$`)
	hostPortShort = regexp.MustCompile(`^([^:]+):([0-9]+)$`)
)

// ParseResource extracts structured fields from a VISA resource string.
// Unrecognized strings parse as ResourceUnknown rather than failing; the
// caller decides whether that is an error.
func ParseResource(s string) Resource {
	r := Resource{Original: s, Type: ResourceUnknown}

	if m := usbPattern.FindStringSubmatch(s); m != nil {
		r.Type = ResourceUSB
		r.VendorID = m[1]
		r.ProductID = m[2]
		r.Serial = m[3]
		return r
	}

	if m := tcpipPattern.FindStringSubmatch(s); m != nil {
		r.Type = ResourceTCPIP
		r.Host = m[1]
		r.Port, _ = strconv.Atoi(m[2])
		return r
	}

	if m := tcpipInstr.FindStringSubmatch(s); m != nil {
		r.Type = ResourceTCPIP
		r.Host = m[1]
		r.Port = DefaultSCPIPort
		return r
	}

	// Bare host:port is accepted as shorthand for a socket resource.
	if m := hostPortShort.FindStringSubmatch(s); m != nil {
		r.Type = ResourceTCPIP
		r.Host = m[1]
		r.Port, _ = strconv.Atoi(m[2])
		return r
	}

	return r
}

// SocketResource formats a host and port as a VISA TCPIP socket resource.
func SocketResource(host string, port int) string {
	return fmt.Sprintf("TCPIP0::%s::%d::SOCKET", host, port)
}

// Addr returns the dialable host:port for a TCPIP resource, or "" for
// resources that cannot be dialed.
func (r Resource) Addr() string {
	if r.Type != ResourceTCPIP || r.Host == "" {
		return ""
	}
	return net.JoinHostPort(strings.Trim(r.Host, "[]"), strconv.Itoa(r.Port))
}

// String returns the original resource string.
func (r Resource) String() string {
	if r.Original != "" {
		return r.Original
	}
	if r.Type == ResourceTCPIP {
		return SocketResource(r.Host, r.Port)
	}
	return ""
}
