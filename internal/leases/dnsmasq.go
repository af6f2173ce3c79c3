package leases

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/clock"
)

// DnsmasqLister reads a dnsmasq lease file.
// Format: <expiry-time> <mac> <ip> <hostname> <client-id>
type DnsmasqLister struct {
	Path  string
	clock clock.Clock
}

// NewDnsmasqLister creates a lister for path. A nil clock uses real time.
func NewDnsmasqLister(path string, c clock.Clock) *DnsmasqLister {
	if c == nil {
		c = &clock.RealClock{}
	}
	return &DnsmasqLister{Path: path, clock: c}
}

// List returns unexpired leases. A missing file is an empty table.
func (l *DnsmasqLister) List(context.Context) ([]access.Device, error) {
	file, err := os.Open(l.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open lease file: %w", err)
	}
	defer file.Close()

	now := l.clock.Now()
	var devices []access.Device
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		// Zero expiry marks an infinite lease.
		expiry, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		if expiry != 0 && !time.Unix(expiry, 0).After(now) {
			continue
		}

		mac, err := access.ParseMAC(fields[1])
		if err != nil {
			continue
		}

		hostname := fields[3]
		if hostname == "*" {
			hostname = ""
		}
		devices = append(devices, access.Device{
			MAC:      mac,
			IP:       fields[2],
			Hostname: hostname,
			Source:   "dnsmasq",
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading lease file: %w", err)
	}
	return devices, nil
}
