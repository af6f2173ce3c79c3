//go:build !linux

package preflight

import "errors"

// LinkState is unavailable off Linux.
func LinkState(iface string) (string, error) {
	return "", errors.New("link state requires netlink (linux only)")
}
