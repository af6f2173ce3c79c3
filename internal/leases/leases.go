// Package leases lists the devices present on the LAN. It feeds the list
// view and resolves client IPs to MACs; it never takes part in admission
// decisions.
package leases

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/config"
	"grimm.is/turnstile/internal/logging"
)

// ErrNoDevice is returned by LookupIP when no source knows the address.
var ErrNoDevice = errors.New("no device with that address")

// Lister enumerates devices.
type Lister interface {
	List(ctx context.Context) ([]access.Device, error)
}

// LookupIP finds the MAC that currently holds ip according to l.
func LookupIP(ctx context.Context, l Lister, ip string) (access.MAC, error) {
	want := net.ParseIP(ip)
	if want == nil {
		return "", fmt.Errorf("invalid IP address %q", ip)
	}
	devices, err := l.List(ctx)
	if err != nil {
		return "", err
	}
	for _, d := range devices {
		if got := net.ParseIP(d.IP); got != nil && got.Equal(want) {
			return d.MAC, nil
		}
	}
	return "", fmt.Errorf("%s: %w", ip, ErrNoDevice)
}

// Multi merges several listers. Earlier listers win for IP and hostname;
// later ones only fill gaps. A failing lister is logged and skipped.
type Multi struct {
	listers []Lister
	logger  *logging.Logger
}

// NewMulti combines listers, ignoring nil entries.
func NewMulti(logger *logging.Logger, listers ...Lister) *Multi {
	m := &Multi{logger: logging.OrDefault(logger, "leases")}
	for _, l := range listers {
		if l != nil {
			m.listers = append(m.listers, l)
		}
	}
	return m
}

func (m *Multi) List(ctx context.Context) ([]access.Device, error) {
	byMAC := make(map[access.MAC]*access.Device)
	var errs []error
	for _, l := range m.listers {
		devices, err := l.List(ctx)
		if err != nil {
			m.logger.Warn("device lister failed", "lister", fmt.Sprintf("%T", l), "error", err)
			errs = append(errs, err)
			continue
		}
		for _, d := range devices {
			cur, ok := byMAC[d.MAC]
			if !ok {
				dd := d
				byMAC[d.MAC] = &dd
				continue
			}
			if cur.IP == "" {
				cur.IP = d.IP
			}
			if cur.Hostname == "" {
				cur.Hostname = d.Hostname
			}
		}
	}
	if len(errs) == len(m.listers) && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	out := make([]access.Device, 0, len(byMAC))
	for _, d := range byMAC {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out, nil
}

// New builds the lister described by cfg: the dnsmasq lease file first,
// then the kernel neighbour table on lan.
func New(cfg *config.LeasesConfig, lan string, logger *logging.Logger) *Multi {
	var listers []Lister
	if cfg != nil && cfg.DnsmasqFile != "" {
		listers = append(listers, NewDnsmasqLister(cfg.DnsmasqFile, nil))
	}
	if cfg != nil && cfg.Neighbors {
		listers = append(listers, NewNeighborLister(lan))
	}
	return NewMulti(logger, listers...)
}
