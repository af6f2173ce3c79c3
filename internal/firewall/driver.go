package firewall

import (
	"context"
	"fmt"
	"sort"

	"grimm.is/turnstile/internal/access"
)

// Target addresses one firewall rule: a device MAC, or the global policy
// switch when MAC is empty.
type Target struct {
	MAC access.MAC
}

// PolicyTarget is the global forwarding switch.
var PolicyTarget = Target{}

// MACTarget returns the per-device target for mac.
func MACTarget(mac access.MAC) Target {
	return Target{MAC: mac}
}

// IsPolicy reports whether t is the global policy switch.
func (t Target) IsPolicy() bool {
	return t.MAC == ""
}

func (t Target) String() string {
	if t.IsPolicy() {
		return "policy"
	}
	return string(t.MAC)
}

// Driver is the capability a firewall backend provides. Every call may fail
// with a transport or permission error.
type Driver interface {
	AddRule(ctx context.Context, t Target) error
	RemoveRule(ctx context.Context, t Target) error
	HasRule(ctx context.Context, t Target) (bool, error)
	ForwardingEnabled(ctx context.Context) (bool, error)
	NatConfigured(ctx context.Context) (bool, error)
}

// Installer is implemented by drivers that need base objects (tables,
// chains, the LAN drop rule) in place before rules can be added.
type Installer interface {
	Install(ctx context.Context) error
}

// RuleLister is implemented by drivers that can enumerate the rules they
// own. The Synchronizer uses it to adopt existing state on startup.
type RuleLister interface {
	ListRules(ctx context.Context) ([]Target, error)
}

// DefaultDenyReporter is implemented by drivers that can tell whether LAN
// clients without a rule are dropped.
type DefaultDenyReporter interface {
	DefaultDeny(ctx context.Context) (bool, error)
}

// Backend names accepted by New.
const (
	BackendNFTables = "nftables"
	BackendIPTables = "iptables"
	BackendMemory   = "memory"
)

// Options parameterises the concrete drivers.
type Options struct {
	Table        string
	Chain        string
	Set          string
	LANInterface string
	WANInterface string
	IPTablesPath string

	// System reads sysctls; nil uses the real /proc/sys.
	System SystemController
	// Runner executes commands for the iptables driver; nil uses os/exec.
	Runner CommandRunner
}

// New builds the driver for backend.
func New(backend string, opts Options) (Driver, error) {
	if opts.System == nil {
		opts.System = DefaultSystemController
	}
	if opts.Runner == nil {
		opts.Runner = DefaultCommandRunner
	}
	switch backend {
	case BackendNFTables:
		d, err := NewNFTablesDriver(opts)
		if err != nil {
			return nil, err
		}
		return d, nil
	case BackendIPTables:
		return NewIPTablesDriver(opts), nil
	case BackendMemory:
		return NewMemoryDriver(), nil
	default:
		return nil, fmt.Errorf("unknown firewall backend %q", backend)
	}
}

func sortTargets(ts []Target) {
	sort.Slice(ts, func(i, j int) bool {
		// Policy sorts first.
		return ts[i].MAC < ts[j].MAC
	})
}
