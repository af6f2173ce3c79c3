//go:build linux

package leases

import (
	"context"
	"fmt"

	"github.com/vishvananda/netlink"

	"grimm.is/turnstile/internal/access"
)

// NeighborLister reads the kernel IPv4 neighbour (ARP) table, optionally
// limited to one interface.
type NeighborLister struct {
	Interface string

	neighList  func(linkIndex, family int) ([]netlink.Neigh, error)
	linkByName func(name string) (netlink.Link, error)
}

// NewNeighborLister lists neighbours on iface, or on every link when
// iface is empty.
func NewNeighborLister(iface string) *NeighborLister {
	return &NeighborLister{
		Interface:  iface,
		neighList:  netlink.NeighList,
		linkByName: netlink.LinkByName,
	}
}

func (l *NeighborLister) List(context.Context) ([]access.Device, error) {
	index := 0
	if l.Interface != "" {
		link, err := l.linkByName(l.Interface)
		if err != nil {
			return nil, fmt.Errorf("link %s: %w", l.Interface, err)
		}
		index = link.Attrs().Index
	}

	neighs, err := l.neighList(index, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("neighbour table: %w", err)
	}

	var devices []access.Device
	for _, n := range neighs {
		if n.State&(netlink.NUD_FAILED|netlink.NUD_INCOMPLETE|netlink.NUD_NOARP) != 0 {
			continue
		}
		if len(n.HardwareAddr) != 6 || n.IP == nil {
			continue
		}
		mac, err := access.ParseMAC(n.HardwareAddr.String())
		if err != nil {
			continue
		}
		devices = append(devices, access.Device{MAC: mac, IP: n.IP.String(), Source: "neighbor"})
	}
	return devices, nil
}
