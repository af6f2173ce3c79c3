//go:build !linux

package leases

import (
	"context"
	"errors"

	"grimm.is/turnstile/internal/access"
)

// NeighborLister is unavailable off Linux.
type NeighborLister struct {
	Interface string
}

func NewNeighborLister(iface string) *NeighborLister {
	return &NeighborLister{Interface: iface}
}

func (l *NeighborLister) List(context.Context) ([]access.Device, error) {
	return nil, errors.New("neighbour table requires linux")
}
