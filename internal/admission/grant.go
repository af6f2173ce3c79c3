package admission

import (
	"context"
	"errors"
	"time"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/firewall"
	"grimm.is/turnstile/internal/leases"
)

// Grant admits mac for minutes (0 means the default duration). On success
// the returned grant is Active and its expiry is armed.
func (c *Controller) Grant(ctx context.Context, mac string, minutes int) (access.Grant, error) {
	g, err := c.grant(ctx, mac, minutes)
	c.metrics.GrantRequest(g.DurationMinutes, err)
	if err != nil {
		c.logger.Info("grant refused", "mac", mac, "kind", access.KindOf(err), "error", err)
	}
	return g, err
}

// GrantIP resolves ip to a MAC through the device lister, then grants it.
func (c *Controller) GrantIP(ctx context.Context, ip string, minutes int) (access.Grant, error) {
	if c.devices == nil {
		err := access.Errorf(access.KindInvalidMac, "", "no device lister configured to resolve %s", ip)
		c.metrics.GrantRequest(0, err)
		return access.Grant{}, err
	}
	mac, err := leases.LookupIP(ctx, c.devices, ip)
	if err != nil {
		aerr := access.Wrap(access.KindInvalidMac, "", err, "could not determine the MAC address for %s", ip)
		c.metrics.GrantRequest(0, aerr)
		return access.Grant{}, aerr
	}
	return c.Grant(ctx, string(mac), minutes)
}

func (c *Controller) grant(ctx context.Context, raw string, minutes int) (access.Grant, error) {
	mac, err := access.ParseMAC(raw)
	if err != nil {
		return access.Grant{}, err
	}

	if minutes == 0 {
		minutes = c.defaultMinutes
	}
	if minutes < 1 || minutes > c.maxMinutes {
		return access.Grant{}, access.Errorf(access.KindInvalidDuration, mac,
			"duration must be between 1 and %d minutes, got %d", c.maxMinutes, minutes)
	}

	pre, err := c.preflight.Check(ctx)
	if err != nil {
		return access.Grant{}, access.Wrap(access.KindFirewallTransportError, mac, err, "preflight")
	}
	if pre != access.PreflightOK {
		return access.Grant{}, withMAC(pre.Err(), mac)
	}

	g, err := c.store.TryInsert(string(mac), minutes)
	if err != nil {
		return access.Grant{}, err
	}

	res, err := c.admit(ctx, mac)
	if err != nil {
		// Admit adds nothing when it fails, so there is nothing to undo.
		c.abandon(mac)
		return access.Grant{}, withMAC(err, mac)
	}

	g, err = c.store.MarkActive(mac)
	if err != nil {
		// Revoked while the rule was going in; the revoke's own pass
		// removes it, this one makes sure.
		if _, rerr := c.reconcile(ctx); rerr != nil {
			c.logger.Warn("cleanup after revoked grant failed", "mac", mac, "error", rerr)
		}
		if cur, ok := c.store.Get(mac); ok {
			g = cur
		}
		return g, access.Errorf(access.KindRevoked, mac,
			"grant for %s was revoked before it became active", mac)
	}
	c.expirer.Schedule(mac, g.ID, g.ExpiresAt)
	c.annotate(ctx, mac)
	if cur, ok := c.store.Get(mac); ok {
		g = cur
	}
	c.recordHistory(g, access.OutcomeActive)

	c.logger.Audit("grant", string(mac),
		"grant_id", g.ID,
		"minutes", g.DurationMinutes,
		"expires_at", g.ExpiresAt.Format(time.RFC3339),
		"mode", c.sync.Mode(),
		"ip", g.IP)

	// A rule someone else put there is taken over, not fought: the grant
	// now owns it and will remove it on expiry. The caller still learns
	// the device already had access.
	if c.sync.Mode() == access.ModePerDevice && res.WasPresent(c.target(mac)) {
		return g, access.Errorf(access.KindAlreadyActive, mac,
			"device %s already had a firewall rule; it now expires at %s", mac, g.ExpiresAt.Format(time.RFC3339))
	}
	return g, nil
}

// abandon marks a grant that never became active as Revoked.
func (c *Controller) abandon(mac access.MAC) {
	if _, err := c.store.MarkRevoked(mac); err != nil && !errors.Is(err, access.ErrInvalidTransition) {
		c.logger.Warn("could not roll back grant", "mac", mac, "error", err)
	}
}

// Revoke ends mac's grant now. It succeeds for Pending and Active grants
// and for grants that already ended (the racing end wins). A preflight
// failure while removing the rule is logged, not returned: without
// forwarding or NAT the device cannot route anyway. A transport failure
// is returned while the rule stays in place; the grant is ended and
// recorded regardless, and revoking again retries the removal.
func (c *Controller) Revoke(ctx context.Context, raw string) (access.Grant, error) {
	mac, err := access.ParseMAC(raw)
	if err != nil {
		return access.Grant{}, err
	}

	g, err := c.store.MarkRevoked(mac)
	switch {
	case errors.Is(err, access.ErrInvalidTransition):
		c.logger.Debug("revoke lost race with grant end", "mac", mac, "state", g.State)
		c.expirer.Cancel(mac)
		if !c.stillAdmitted(mac) {
			return g, nil
		}
		_, rerr := c.reconcile(ctx)
		return g, c.removalError(mac, rerr)
	case err != nil:
		return g, err
	}
	c.expirer.Cancel(mac)

	_, rerr := c.reconcile(ctx)
	c.finish(g, access.OutcomeRevoked)
	return g, c.removalError(mac, rerr)
}

// removalError decides what a revoke reports after its reconcile pass.
func (c *Controller) removalError(mac access.MAC, rerr error) error {
	switch access.KindOf(rerr) {
	case "":
		return nil
	case access.KindForwardingDisabled, access.KindNatMissing:
		c.logger.Warn("revoked grant but firewall not reconciled", "mac", mac, "error", rerr)
		return nil
	}
	if !c.stillAdmitted(mac) {
		c.logger.Warn("revoked grant; reconcile failed elsewhere", "mac", mac, "error", rerr)
		return nil
	}
	c.logger.Error("revoked grant but rule removal failed", "mac", mac, "error", rerr)
	return withMAC(rerr, mac)
}

// expire is the expirer's callback. It runs at most once per grant: a
// grant already revoked, or replaced by a newer one, is left alone.
func (c *Controller) expire(mac access.MAC, grantID string) {
	cur, ok := c.store.Get(mac)
	if !ok || cur.ID != grantID {
		return
	}
	g, err := c.store.MarkExpired(mac)
	if err != nil {
		if !errors.Is(err, access.ErrInvalidTransition) {
			c.logger.Warn("expire failed", "mac", mac, "error", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := c.reconcile(ctx); err != nil {
		// The next tick retries; the grant is already Expired so the
		// rule is no longer desired.
		c.logger.Error("expired grant but firewall not reconciled", "mac", mac, "error", err)
	}
	c.finish(g, access.OutcomeExpired)
}

// finish records the end of a grant.
func (c *Controller) finish(g access.Grant, outcome access.Outcome) {
	c.metrics.GrantEnded(outcome)
	c.recordHistory(g, outcome)
	c.logger.Audit(string(outcome), string(g.MAC),
		"grant_id", g.ID,
		"minutes", g.DurationMinutes,
		"used", g.EndedAt.Sub(g.GrantedAt).Round(time.Second).String())
}

func (c *Controller) recordHistory(g access.Grant, outcome access.Outcome) {
	if c.history == nil {
		return
	}
	rec := access.HistoryRecord{
		ID:        g.ID,
		MAC:       g.MAC,
		IP:        g.IP,
		Hostname:  g.Hostname,
		Minutes:   g.DurationMinutes,
		GrantedAt: g.GrantedAt,
		EndedAt:   g.EndedAt,
		Outcome:   outcome,
	}
	if err := c.history.Put(rec); err != nil {
		c.logger.Warn("failed to record history", "grant_id", g.ID, "error", err)
	}
}

// annotate copies the device's lease details onto its grant.
func (c *Controller) annotate(ctx context.Context, mac access.MAC) {
	if c.devices == nil {
		return
	}
	devices, err := c.devices.List(ctx)
	if err != nil {
		return
	}
	for _, d := range devices {
		if d.MAC == mac {
			c.store.Annotate(mac, d.IP, d.Hostname)
			return
		}
	}
}

func applied(ts []firewall.Target, t firewall.Target) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

// withMAC returns a copy of err's *access.Error carrying mac.
func withMAC(err error, mac access.MAC) error {
	var ae *access.Error
	if !errors.As(err, &ae) {
		return err
	}
	cp := *ae
	cp.MAC = mac
	return &cp
}
