package admission

import (
	"context"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/firewall"
)

// Restore rebuilds state after a restart from persisted grants.
//
// Pending grants were never confirmed and become Revoked. Active grants
// past their expiry are expired now; the rest get fresh timers. Then the
// synchronizer learns which rules survived and one reconcile removes any
// the store no longer wants.
func (c *Controller) Restore(ctx context.Context, grants []access.Grant) error {
	c.store.Load(grants)
	now := c.clock.Now()

	var rearmed, expired, dropped int
	var ended []access.Grant
	for _, g := range grants {
		cur, ok := c.store.Get(g.MAC)
		if !ok || cur.ID != g.ID {
			continue
		}
		switch cur.State {
		case access.StatePending:
			if _, err := c.store.MarkRevoked(cur.MAC); err == nil {
				dropped++
			}
		case access.StateActive:
			if !cur.ExpiresAt.After(now) {
				if done, err := c.store.MarkExpired(cur.MAC); err == nil {
					ended = append(ended, done)
					expired++
				}
				continue
			}
			c.expirer.Schedule(cur.MAC, cur.ID, cur.ExpiresAt)
			rearmed++
		}
	}

	// Candidates are whatever could be left behind: every restored MAC
	// and the policy switch.
	candidates := []firewall.Target{firewall.PolicyTarget}
	for _, g := range grants {
		candidates = append(candidates, firewall.MACTarget(g.MAC))
	}
	if err := c.sync.Adopt(ctx, candidates); err != nil {
		return err
	}

	c.presence.Read(ctx)
	_, err := c.reconcile(ctx)

	for _, g := range ended {
		c.finish(g, access.OutcomeExpired)
	}
	c.logger.Info("grants restored",
		"rearmed", rearmed, "expired", expired, "dropped_pending", dropped,
		"applied", len(c.sync.Applied()))
	return err
}

// Tick reads the presence sensor, re-probes the firewall for drift and
// reconciles. It runs on every poll and on presence file changes.
// Presence faults never fail a tick.
func (c *Controller) Tick(ctx context.Context) error {
	reading := c.presence.Read(ctx)
	c.metrics.Presence(reading)

	drifted, err := c.sync.Refresh(ctx)
	if err != nil {
		return err
	}
	if len(drifted) > 0 {
		c.logger.Warn("reinstalling after drift", "targets", len(drifted))
	}

	_, err = c.reconcile(ctx)
	return err
}
