//go:build !linux

package firewall

import "errors"

// NFTablesDriver is only available on Linux.
type NFTablesDriver struct{ Driver }

// NewNFTablesDriver fails off Linux.
func NewNFTablesDriver(Options) (*NFTablesDriver, error) {
	return nil, errors.New("nftables backend requires linux")
}
