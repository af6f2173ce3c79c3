package admission

import (
	"context"
	"time"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/firewall"
	"grimm.is/turnstile/internal/metrics"
	"grimm.is/turnstile/internal/preflight"
	"grimm.is/turnstile/internal/scheduler"
)

// GrantView is a grant plus its remaining time at the moment of listing.
type GrantView struct {
	access.Grant
	RemainingSeconds int64 `json:"remaining_seconds"`
}

// DeviceView is a LAN device and whether it currently holds a grant.
type DeviceView struct {
	access.Device
	HasAccess bool `json:"has_access"`
}

// Totals summarises retained history.
type Totals struct {
	Active  int `json:"active"`
	Grants  int `json:"grants"`
	Minutes int `json:"minutes"`
}

// Status is the observability snapshot returned by List.
type Status struct {
	Mode     access.Mode    `json:"mode"`
	Policy   access.Policy  `json:"policy"`
	Presence access.Reading `json:"presence"`
	Grants   []GrantView    `json:"grants"`
	Devices  []DeviceView   `json:"devices,omitempty"`
	Applied  []string       `json:"applied_rules"`
	Totals   Totals         `json:"totals"`
	// Tasks is the presence tick, pruning and other periodic work.
	Tasks []scheduler.TaskStatus `json:"tasks,omitempty"`
	// Warnings lists collaborator failures that left parts of the
	// snapshot empty.
	Warnings []string `json:"warnings,omitempty"`
}

// List reports every known grant (oldest first), the policy, the latest
// presence reading and, when a lister is configured, the LAN devices.
func (c *Controller) List(ctx context.Context) Status {
	now := c.clock.Now()
	st := Status{
		Mode:     c.sync.Mode(),
		Policy:   c.Policy(),
		Presence: c.presence.Last(),
		Grants:   []GrantView{},
		Applied:  []string{},
	}

	live := make(map[access.MAC]bool)
	for _, g := range c.store.List() {
		view := GrantView{Grant: g}
		if g.State.Live() {
			live[g.MAC] = true
			view.RemainingSeconds = int64(g.Remaining(now) / time.Second)
		}
		if g.State == access.StateActive {
			st.Totals.Active++
		}
		st.Grants = append(st.Grants, view)
	}

	for _, t := range c.sync.Applied() {
		st.Applied = append(st.Applied, t.String())
	}

	if c.devices != nil {
		devices, err := c.devices.List(ctx)
		if err != nil {
			st.Warnings = append(st.Warnings, "devices: "+err.Error())
		}
		for _, d := range devices {
			st.Devices = append(st.Devices, DeviceView{Device: d, HasAccess: live[d.MAC]})
		}
	}

	if c.history != nil {
		n, minutes, err := c.history.Totals()
		if err != nil {
			st.Warnings = append(st.Warnings, "history: "+err.Error())
		}
		st.Totals.Grants, st.Totals.Minutes = n, minutes
	}

	if c.tasks != nil {
		st.Tasks = c.tasks.GetStatus()
		for _, ts := range st.Tasks {
			if ts.LastError != "" {
				st.Warnings = append(st.Warnings, "task "+ts.ID+": "+ts.LastError)
			}
		}
	}
	return st
}

// History returns up to limit history records, newest first.
func (c *Controller) History(limit int) ([]access.HistoryRecord, error) {
	if c.history == nil {
		return []access.HistoryRecord{}, nil
	}
	return c.history.Recent(limit)
}

// Check reports host readiness without changing anything.
func (c *Controller) Check(ctx context.Context) preflight.Report {
	return c.preflight.Report(ctx)
}

// Plan shows what the next reconcile would change.
func (c *Controller) Plan(ctx context.Context) (firewall.Plan, error) {
	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()

	live := c.store.Live()
	return c.sync.Plan(ctx, live, c.policyFor(c.presence.Last(), len(live)))
}

// Snapshot implements metrics.Snapshotter.
func (c *Controller) Snapshot(context.Context) metrics.Snapshot {
	return metrics.Snapshot{
		ActiveGrants: c.store.CountActive(),
		Policy:       c.Policy(),
	}
}

// PendingExpiries lists armed expiry timers.
func (c *Controller) PendingExpiries() []PendingExpiry {
	out := []PendingExpiry{}
	for _, p := range c.expirer.Pending() {
		out = append(out, PendingExpiry{MAC: p.MAC, GrantID: p.GrantID, At: p.At})
	}
	return out
}

// PendingExpiry is an armed expiry timer.
type PendingExpiry struct {
	MAC     access.MAC `json:"mac"`
	GrantID string     `json:"grant_id"`
	At      time.Time  `json:"at"`
}
