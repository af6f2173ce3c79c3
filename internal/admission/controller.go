// Package admission is the orchestrator: it validates grant requests,
// records them in the grant store, asks the synchronizer to make the
// firewall agree, and arms the timers that end them.
//
// Request flow:
//
//	Grant(mac, minutes)
//	  -> bulk token?           BulkAccessDenied
//	  -> MAC syntax            InvalidMac
//	  -> duration bounds       InvalidDuration
//	  -> preflight             ForwardingDisabled | NatMissing | FirewallTransportError
//	  -> store.TryInsert       AlreadyActive
//	  -> admit                 rollback to Revoked on failure
//	  -> store.MarkActive      Revoked if a revoke got there first
//	  -> expirer.Schedule
//
// Every firewall pass takes the same lock. A grant only adds its own rule;
// everything else goes through reconcile, which computes the desired set
// from the store and the latest presence reading under that lock, so a
// pass never applies a desired set older than the one before it.
package admission

import (
	"context"
	"sync"
	"time"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/clock"
	"grimm.is/turnstile/internal/firewall"
	"grimm.is/turnstile/internal/grant"
	"grimm.is/turnstile/internal/leases"
	"grimm.is/turnstile/internal/logging"
	"grimm.is/turnstile/internal/metrics"
	"grimm.is/turnstile/internal/preflight"
	"grimm.is/turnstile/internal/presence"
	"grimm.is/turnstile/internal/scheduler"
)

// History stores the audit trail of grants. *state.HistoryBucket
// implements it.
type History interface {
	Put(rec access.HistoryRecord) error
	Recent(limit int) ([]access.HistoryRecord, error)
	Totals() (grants, minutes int, err error)
}

// TaskReporter reports the health of the daemon's periodic tasks.
// *scheduler.Scheduler implements it.
type TaskReporter interface {
	GetStatus() []scheduler.TaskStatus
}

// Duration defaults, in minutes.
const (
	DefaultDuration = 5
	MaxDuration     = 240
)

// Controller is safe for concurrent use.
type Controller struct {
	store     *grant.Store
	sync      *firewall.Synchronizer
	preflight *preflight.Validator
	presence  *presence.Reader
	expirer   *scheduler.Expirer

	devices leases.Lister
	history History
	tasks   TaskReporter
	metrics *metrics.Recorder
	clock   clock.Clock
	logger  *logging.Logger

	defaultMinutes int
	maxMinutes     int

	reconcileMu sync.Mutex
	policy      access.Policy
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock used for expiry timers and history stamps. It
// should be the same clock the grant store uses.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(ctl *Controller) { ctl.logger = l }
}

// WithDevices sets the lister used for List and GrantIP.
func WithDevices(l leases.Lister) Option {
	return func(ctl *Controller) { ctl.devices = l }
}

// WithHistory records every grant in h.
func WithHistory(h History) Option {
	return func(ctl *Controller) { ctl.history = h }
}

// WithTasks includes the periodic tasks' status in List.
func WithTasks(r TaskReporter) Option {
	return func(ctl *Controller) { ctl.tasks = r }
}

// WithMetrics reports events to r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(ctl *Controller) { ctl.metrics = r }
}

// WithDurations sets the default and maximum grant length in minutes.
func WithDurations(def, max int) Option {
	return func(ctl *Controller) {
		if def > 0 {
			ctl.defaultMinutes = def
		}
		if max > 0 {
			ctl.maxMinutes = max
		}
	}
}

// New wires a Controller. The mode is the synchronizer's.
func New(store *grant.Store, syncer *firewall.Synchronizer, pre *preflight.Validator, reader *presence.Reader, opts ...Option) *Controller {
	c := &Controller{
		store:          store,
		sync:           syncer,
		preflight:      pre,
		presence:       reader,
		clock:          &clock.RealClock{},
		defaultMinutes: DefaultDuration,
		maxMinutes:     MaxDuration,
		policy:         access.PolicyClosed,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDefault(c.logger, "admission")
	if c.maxMinutes < c.defaultMinutes {
		c.maxMinutes = c.defaultMinutes
	}
	c.expirer = scheduler.NewExpirer(c.clock, c.expire, c.logger)
	return c
}

// Mode returns the operating mode.
func (c *Controller) Mode() access.Mode {
	return c.sync.Mode()
}

// Close disarms every expiry timer. Grants stay persisted and are
// rescheduled by the next Restore.
func (c *Controller) Close() {
	c.expirer.Stop()
}

// policyFor derives the global policy. Presence always opens it; in global
// mode so does any live grant, since the switch is what admits the device.
func (c *Controller) policyFor(reading access.Reading, live int) access.Policy {
	if reading.Present {
		return access.PolicyOpen
	}
	if c.sync.Mode() == access.ModeGlobal && live > 0 {
		return access.PolicyOpen
	}
	return access.PolicyClosed
}

// reconcile makes the firewall match the store and the latest presence
// reading.
func (c *Controller) reconcile(ctx context.Context) (firewall.Result, error) {
	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()

	live := c.store.Live()
	policy := c.policyFor(c.presence.Last(), len(live))

	start := time.Now()
	res, err := c.sync.Reconcile(ctx, live, policy)
	c.metrics.Reconciled(res, time.Since(start).Seconds(), err)

	if policy != c.policy {
		// The policy only counts as flipped once the firewall agrees.
		if err == nil {
			c.logger.Audit("policy", string(policy),
				"mode", c.sync.Mode(),
				"live_grants", len(live),
				"previous", string(c.policy),
				"rule_changes", res.Mutations())
			c.policy = policy
		}
	}
	return res, err
}

// target is the rule that admits mac in the current mode.
func (c *Controller) target(mac access.MAC) firewall.Target {
	if c.sync.Mode() == access.ModeGlobal {
		return firewall.PolicyTarget
	}
	return firewall.MACTarget(mac)
}

// admit installs only the rule that lets mac through. Removals owed to
// other devices wait for the next full reconcile.
func (c *Controller) admit(ctx context.Context, mac access.MAC) (firewall.Result, error) {
	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()

	start := time.Now()
	res, err := c.sync.Admit(ctx, c.target(mac))
	c.metrics.Reconciled(res, time.Since(start).Seconds(), err)

	if err == nil && c.sync.Mode() == access.ModeGlobal && c.policy != access.PolicyOpen {
		c.logger.Audit("policy", string(access.PolicyOpen),
			"mode", c.sync.Mode(),
			"granted", string(mac),
			"previous", string(c.policy),
			"rule_changes", res.Mutations())
		c.policy = access.PolicyOpen
	}
	return res, err
}

// stillAdmitted reports whether the firewall still lets mac through
// although no live grant wants it to.
func (c *Controller) stillAdmitted(mac access.MAC) bool {
	live := c.store.Live()
	if c.sync.Mode() == access.ModeGlobal {
		if c.policyFor(c.presence.Last(), len(live)) == access.PolicyOpen {
			return false
		}
	} else {
		for _, m := range live {
			if m == mac {
				return false
			}
		}
	}
	return applied(c.sync.Applied(), c.target(mac))
}

// Policy returns the last policy the firewall was reconciled to.
func (c *Controller) Policy() access.Policy {
	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()
	return c.policy
}
