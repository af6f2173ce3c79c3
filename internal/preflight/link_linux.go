//go:build linux

package preflight

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// LinkState returns the kernel operational state of iface ("up", "down", ...).
func LinkState(iface string) (string, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return "", fmt.Errorf("link %s: %w", iface, err)
	}
	return link.Attrs().OperState.String(), nil
}
