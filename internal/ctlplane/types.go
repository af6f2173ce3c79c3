package ctlplane

import (
	"errors"
	"fmt"
	"time"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/admission"
	"grimm.is/turnstile/internal/firewall"
	"grimm.is/turnstile/internal/preflight"
)

// ServiceName is the name the Service is registered under.
const ServiceName = "Turnstile"

// Empty is used for methods with no arguments.
type Empty struct{}

// GrantArgs requests access for a MAC, or for whichever MAC holds IP when
// IP is set.
type GrantArgs struct {
	MAC     string
	IP      string
	Minutes int
}

// RevokeArgs ends the grant for MAC.
type RevokeArgs struct {
	MAC string
}

// HistoryArgs limits the number of records returned. Zero returns all.
type HistoryArgs struct {
	Limit int
}

// Result is the reply to Grant and Revoke, and what the CLI prints.
type Result struct {
	Success   bool          `json:"success"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Kind      access.Kind   `json:"kind,omitempty"`
	Fix       string        `json:"fix,omitempty"`
	MAC       access.MAC    `json:"mac,omitempty"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
	Mode      access.Mode   `json:"mode,omitempty"`
	Grant     *access.Grant `json:"grant,omitempty"`
}

// ListReply carries the controller's status snapshot.
type ListReply struct {
	Status admission.Status `json:"status"`
}

// HistoryReply lists history records, newest first.
type HistoryReply struct {
	Records []access.HistoryRecord `json:"records"`
	Error   string                 `json:"error,omitempty"`
}

// CheckReply is the host readiness report.
type CheckReply struct {
	Report preflight.Report `json:"report"`
}

// PlanReply is the pending firewall diff.
type PlanReply struct {
	Plan  firewall.Plan `json:"plan"`
	Diff  string        `json:"diff"`
	Error string        `json:"error,omitempty"`
}

// grantResult builds the reply for a grant attempt. A grant that took
// over a pre-existing rule is returned alongside its AlreadyActive error.
func grantResult(mode access.Mode, g access.Grant, err error) *Result {
	r := &Result{Mode: mode}
	if g.ID != "" {
		r.Grant = &g
		r.MAC = g.MAC
		exp := g.ExpiresAt
		r.ExpiresAt = &exp
	}
	if err != nil {
		r.fail(err)
		return r
	}
	r.Success = true
	r.Message = fmt.Sprintf("Internet access granted to %s for %d minutes", g.MAC, g.DurationMinutes)
	return r
}

func revokeResult(mode access.Mode, g access.Grant, err error) *Result {
	r := &Result{Mode: mode, MAC: g.MAC}
	if g.ID != "" {
		r.Grant = &g
	}
	if err != nil {
		r.fail(err)
		return r
	}
	r.Success = true
	if g.State == access.StateRevoked {
		r.Message = fmt.Sprintf("Internet access revoked for %s", g.MAC)
	} else {
		r.Message = fmt.Sprintf("Grant for %s had already ended (%s)", g.MAC, g.State)
	}
	return r
}

func (r *Result) fail(err error) {
	r.Success = false
	r.Error = err.Error()
	r.Kind = access.KindOf(err)
	var ae *access.Error
	if errors.As(err, &ae) {
		r.Fix = ae.Remediation
		if r.MAC == "" {
			r.MAC = ae.MAC
		}
	}
}
