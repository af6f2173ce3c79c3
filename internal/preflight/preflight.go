// Package preflight verifies that the host can actually route admitted
// clients to the internet before any grant claims success.
package preflight

import (
	"context"
	"errors"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/logging"
)

// Checker reads the routing prerequisites. Every firewall driver is one.
type Checker interface {
	ForwardingEnabled(ctx context.Context) (bool, error)
	NatConfigured(ctx context.Context) (bool, error)
}

// DefaultDenyReporter is the optional advisory check, see Report.
type DefaultDenyReporter interface {
	DefaultDeny(ctx context.Context) (bool, error)
}

// LinkStater reports the operational state of an interface.
type LinkStater func(name string) (string, error)

// Validator runs the checks. It holds no state and is safe for concurrent use.
type Validator struct {
	checker   Checker
	uplink    string
	linkState LinkStater
	logger    *logging.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithUplink adds an advisory operational-state check of iface to Report.
func WithUplink(iface string) Option {
	return func(v *Validator) { v.uplink = iface }
}

// WithLinkStater overrides how interface state is read.
func WithLinkStater(ls LinkStater) Option {
	return func(v *Validator) { v.linkState = ls }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// New returns a Validator reading prerequisites through c.
func New(c Checker, opts ...Option) *Validator {
	v := &Validator{checker: c, linkState: LinkState}
	for _, o := range opts {
		o(v)
	}
	v.logger = logging.OrDefault(v.logger, "preflight")
	return v
}

// Check runs the prerequisite checks in order, stopping at the first
// failure: forwarding, then masquerade. A read error is returned as-is
// along with the result of the check that failed.
func (v *Validator) Check(ctx context.Context) (access.PreflightResult, error) {
	fwd, err := v.checker.ForwardingEnabled(ctx)
	if err != nil {
		return access.PreflightForwardingDisabled, err
	}
	if !fwd {
		return access.PreflightForwardingDisabled, nil
	}

	nat, err := v.checker.NatConfigured(ctx)
	if err != nil {
		return access.PreflightNatMissing, err
	}
	if !nat {
		return access.PreflightNatMissing, nil
	}
	return access.PreflightOK, nil
}

// Validate is Check with read errors folded into the failing result.
func (v *Validator) Validate(ctx context.Context) access.PreflightResult {
	res, err := v.Check(ctx)
	if err != nil {
		v.logger.Warn("preflight read failed, treating as not ready", "result", res, "error", err)
	}
	return res
}

// Report is the full host readiness picture shown by "turnstile check".
type Report struct {
	Result      access.PreflightResult `json:"result"`
	Forwarding  bool                   `json:"forwarding"`
	NAT         bool                   `json:"nat"`
	DefaultDeny *bool                  `json:"default_deny,omitempty"`
	Uplink      string                 `json:"uplink,omitempty"`
	UplinkState string                 `json:"uplink_state,omitempty"`
	Errors      []string               `json:"errors,omitempty"`
	Remediation []string               `json:"remediation,omitempty"`
}

// Report runs every check without short-circuiting, plus the advisory
// default-deny and uplink checks. Advisory findings never change Result.
func (v *Validator) Report(ctx context.Context) Report {
	var r Report
	var err error

	if r.Forwarding, err = v.checker.ForwardingEnabled(ctx); err != nil {
		r.Errors = append(r.Errors, "forwarding: "+err.Error())
	}
	if r.NAT, err = v.checker.NatConfigured(ctx); err != nil {
		r.Errors = append(r.Errors, "nat: "+err.Error())
	}

	switch {
	case !r.Forwarding:
		r.Result = access.PreflightForwardingDisabled
	case !r.NAT:
		r.Result = access.PreflightNatMissing
	default:
		r.Result = access.PreflightOK
	}
	if !r.Forwarding {
		r.Remediation = append(r.Remediation, remediation(access.PreflightForwardingDisabled))
	}
	if !r.NAT {
		r.Remediation = append(r.Remediation, remediation(access.PreflightNatMissing))
	}

	if dd, ok := v.checker.(DefaultDenyReporter); ok {
		deny, err := dd.DefaultDeny(ctx)
		if err != nil {
			r.Errors = append(r.Errors, "default deny: "+err.Error())
		} else {
			r.DefaultDeny = &deny
			if !deny {
				r.Remediation = append(r.Remediation,
					"LAN clients are forwarded without a grant; run the daemon once to install the drop rule")
			}
		}
	}

	if v.uplink != "" && v.linkState != nil {
		r.Uplink = v.uplink
		state, err := v.linkState(v.uplink)
		if err != nil {
			r.Errors = append(r.Errors, "uplink: "+err.Error())
		} else {
			r.UplinkState = state
		}
	}
	return r
}

func remediation(res access.PreflightResult) string {
	var ae *access.Error
	if errors.As(res.Err(), &ae) {
		return ae.Remediation
	}
	return ""
}
