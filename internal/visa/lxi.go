package visa

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	nmap "github.com/Ullaakut/nmap/v3"
)

// DefaultSCPIPorts are the raw-socket SCPI ports probed during an LXI
// sweep: 4000 (Tektronix), 5025 (LXI standard), 5555 (Rigol).
const DefaultSCPIPorts = "4000,5025,5555"

// LXISweeper discovers SCPI-over-TCP instruments on a subnet with an nmap
// port sweep and reports them as VISA TCPIP socket resources.
type LXISweeper struct {
	targets []string
	ports   string
}

// NewLXISweeper creates a sweeper for the given CIDR ranges or hosts.
// ports may be empty, in which case DefaultSCPIPorts is probed.
func NewLXISweeper(targets []string, ports string) *LXISweeper {
	if ports == "" {
		ports = DefaultSCPIPorts
	}
	return &LXISweeper{targets: targets, ports: ports}
}

// Sweep scans the configured targets and returns a resource string for each
// open SCPI port found. Hosts that are down are skipped. A host exposing
// more than one SCPI port yields one resource per port; the caller's
// identity probe sorts out which one actually answers *IDN?.
func (l *LXISweeper) Sweep(ctx context.Context) ([]string, error) {
	if len(l.targets) == 0 {
		return nil, nil
	}

	var resources []string
	for _, target := range l.targets {
		found, err := l.sweepTarget(ctx, target)
		if err != nil {
			log.Printf("visa: LXI sweep of %s failed: %v", target, err)
			continue
		}
		resources = append(resources, found...)
	}

	log.Printf("visa: LXI sweep complete: %d candidate resource(s) on %d target(s)",
		len(resources), len(l.targets))
	return resources, nil
}

func (l *LXISweeper) sweepTarget(ctx context.Context, target string) ([]string, error) {
	scanner, err := nmap.NewScanner(
		ctx,
		nmap.WithTargets(target),
		nmap.WithPorts(l.ports),
		nmap.WithSkipHostDiscovery(),
	)
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		log.Printf("visa: nmap warnings for %s: %v", target, *warnings)
	}

	return resourcesFromRun(result), nil
}

func resourcesFromRun(result *nmap.Run) []string {
	if result == nil {
		return nil
	}

	var resources []string
	for _, host := range result.Hosts {
		if host.Status.State != "up" || len(host.Addresses) == 0 {
			continue
		}

		ip := ""
		for _, addr := range host.Addresses {
			if addr.AddrType == "ipv4" {
				ip = addr.Addr
				break
			}
		}
		if ip == "" {
			ip = host.Addresses[0].Addr
		}

		for _, port := range host.Ports {
			if !strings.EqualFold(port.State.State, "open") {
				continue
			}
			resources = append(resources, SocketResource(ip, int(port.ID)))
		}
	}
	return resources
}

// ParsePorts validates a comma-separated port list, returning the ports as
// integers. Used by the CLI to reject bad --scpi-ports values early.
func ParsePorts(spec string) ([]int, error) {
	var ports []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := strconv.Atoi(part)
		if err != nil || p < 1 || p > 65535 {
			return nil, fmt.Errorf("invalid port %q", part)
		}
		ports = append(ports, p)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no ports in %q", spec)
	}
	return ports, nil
}
