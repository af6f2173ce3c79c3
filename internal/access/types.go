package access

import (
	"time"

	"grimm.is/turnstile/internal/validation"
)

// MAC is a hardware address in canonical xx:xx:xx:xx:xx:xx lower-case form.
// Obtain one through ParseMAC; the zero value is not a valid address.
type MAC string

// ParseMAC validates raw and returns its canonical form. Bulk tokens such
// as "all" are rejected with BulkAccessDenied before syntax is considered.
func ParseMAC(raw string) (MAC, error) {
	if validation.IsBulkToken(raw) {
		return "", Errorf(KindBulkAccessDenied, "",
			"must specify a single device MAC address; bulk access is not allowed")
	}
	norm, err := validation.NormalizeMAC(raw)
	if err != nil {
		return "", &Error{Kind: KindInvalidMac, Message: err.Error()}
	}
	return MAC(norm), nil
}

// String returns the canonical text form.
func (m MAC) String() string { return string(m) }

// State is a grant lifecycle state.
type State string

const (
	StatePending State = "pending"
	StateActive  State = "active"
	StateExpired State = "expired"
	StateRevoked State = "revoked"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateExpired || s == StateRevoked
}

// Live reports whether the state blocks a new grant for the same MAC.
func (s State) Live() bool {
	return s == StatePending || s == StateActive
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	switch to {
	case StateActive:
		return from == StatePending
	case StateExpired:
		return from == StateActive
	case StateRevoked:
		return from == StatePending || from == StateActive
	}
	return false
}

// Grant is one time-bounded admission for one device.
type Grant struct {
	ID              string    `json:"id"`
	MAC             MAC       `json:"mac"`
	GrantedAt       time.Time `json:"granted_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	DurationMinutes int       `json:"duration_minutes"`
	State           State     `json:"state"`
	EndedAt         time.Time `json:"ended_at,omitempty"`
	IP              string    `json:"ip,omitempty"`
	Hostname        string    `json:"hostname,omitempty"`
}

// Remaining returns the time left until expiry at now, or zero.
func (g Grant) Remaining(now time.Time) time.Duration {
	if g.State != StateActive && g.State != StatePending {
		return 0
	}
	if d := g.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Mode selects how grants are materialised in the firewall.
type Mode string

const (
	// ModePerDevice installs one allow rule per granted MAC.
	ModePerDevice Mode = "per_device"
	// ModeGlobal flips a single forwarding switch; grants are bookkeeping.
	ModeGlobal Mode = "global"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModePerDevice || m == ModeGlobal
}

// Policy is the process-wide forwarding switch.
type Policy string

const (
	PolicyClosed Policy = "closed"
	PolicyOpen   Policy = "open"
)

// PreflightResult is the outcome of a routing prerequisite check.
type PreflightResult string

const (
	PreflightOK                 PreflightResult = "ok"
	PreflightForwardingDisabled PreflightResult = "forwarding_disabled"
	PreflightNatMissing         PreflightResult = "nat_missing"
)

// Err converts a non-OK result into its typed error, nil for OK.
func (r PreflightResult) Err() error {
	switch r {
	case PreflightForwardingDisabled:
		return &Error{
			Kind:        KindForwardingDisabled,
			Message:     "IP forwarding is disabled. Internet routing will not work.",
			Remediation: "Run: sysctl -w net.ipv4.ip_forward=1",
		}
	case PreflightNatMissing:
		return &Error{
			Kind:        KindNatMissing,
			Message:     "NAT/MASQUERADE not configured. Devices cannot access internet.",
			Remediation: "Add a masquerade rule on the outbound interface (nat postrouting)",
		}
	}
	return nil
}

// Reading is one observation of the presence sensor.
type Reading struct {
	Present bool      `json:"present"`
	ReadAt  time.Time `json:"read_at"`
	// Fault is set when the source failed and Present was forced false.
	Fault string `json:"fault,omitempty"`
}

// Device is a client seen on the LAN (lease table or neighbour cache).
type Device struct {
	MAC      MAC    `json:"mac"`
	IP       string `json:"ip"`
	Hostname string `json:"hostname,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Outcome records how a grant ended.
type Outcome string

const (
	OutcomeActive  Outcome = "active"
	OutcomeExpired Outcome = "expired"
	OutcomeRevoked Outcome = "revoked"
)

// HistoryRecord is the audit trail entry for one successful grant.
type HistoryRecord struct {
	ID        string    `json:"id"`
	MAC       MAC       `json:"mac"`
	IP        string    `json:"ip,omitempty"`
	Hostname  string    `json:"hostname,omitempty"`
	Minutes   int       `json:"minutes"`
	GrantedAt time.Time `json:"granted_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Outcome   Outcome   `json:"outcome"`
}
