//go:build linux

package leases

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"

	"grimm.is/turnstile/internal/access"
)

func hw(s string) net.HardwareAddr {
	a, _ := net.ParseMAC(s)
	return a
}

func TestNeighborLister(t *testing.T) {
	var gotIndex int
	l := &NeighborLister{
		Interface: "wlan0",
		linkByName: func(name string) (netlink.Link, error) {
			return &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Name: name, Index: 7}}, nil
		},
		neighList: func(linkIndex, family int) ([]netlink.Neigh, error) {
			gotIndex = linkIndex
			return []netlink.Neigh{
				{IP: net.ParseIP("192.168.4.10"), HardwareAddr: hw("AA:BB:CC:DD:EE:01"), State: netlink.NUD_REACHABLE},
				{IP: net.ParseIP("192.168.4.11"), HardwareAddr: hw("aa:bb:cc:dd:ee:02"), State: netlink.NUD_STALE},
				{IP: net.ParseIP("192.168.4.12"), State: netlink.NUD_INCOMPLETE},
				{IP: net.ParseIP("192.168.4.13"), HardwareAddr: hw("aa:bb:cc:dd:ee:03"), State: netlink.NUD_FAILED},
			}, nil
		},
	}

	devices, err := l.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, gotIndex)
	assert.Equal(t, []access.Device{
		{MAC: "aa:bb:cc:dd:ee:01", IP: "192.168.4.10", Source: "neighbor"},
		{MAC: "aa:bb:cc:dd:ee:02", IP: "192.168.4.11", Source: "neighbor"},
	}, devices)
}

func TestNeighborLister_LinkMissing(t *testing.T) {
	l := NewNeighborLister("wlan9")
	l.linkByName = func(string) (netlink.Link, error) { return nil, errors.New("Link not found") }

	_, err := l.List(context.Background())
	assert.ErrorContains(t, err, "wlan9")
}
