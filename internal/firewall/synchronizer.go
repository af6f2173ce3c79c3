package firewall

import (
	"context"
	"fmt"
	"sync"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/logging"
)

// Preflight is the prerequisite check the Synchronizer re-runs before every
// mutating pass. *preflight.Validator implements it.
type Preflight interface {
	Check(ctx context.Context) (access.PreflightResult, error)
}

// Result describes one reconciliation pass.
type Result struct {
	Added   []Target `json:"added,omitempty"`
	Removed []Target `json:"removed,omitempty"`
	// AlreadyPresent lists targets whose rule existed before we added it.
	AlreadyPresent []Target `json:"already_present,omitempty"`
	// AlreadyAbsent lists targets whose rule was gone before we removed it.
	AlreadyAbsent []Target `json:"already_absent,omitempty"`
	// Preflight is empty when the pass needed no mutation.
	Preflight access.PreflightResult `json:"preflight,omitempty"`
}

// Mutations returns the number of add and remove calls that took effect.
func (r Result) Mutations() int {
	return len(r.Added) + len(r.Removed)
}

// Noop reports whether the desired state already held.
func (r Result) Noop() bool {
	return r.Mutations() == 0 && len(r.AlreadyPresent) == 0 && len(r.AlreadyAbsent) == 0
}

// Present reports whether t was added or found already present.
func (r Result) Present(t Target) bool {
	for _, x := range r.Added {
		if x == t {
			return true
		}
	}
	return r.WasPresent(t)
}

// WasPresent reports whether t's rule existed before this pass added it.
func (r Result) WasPresent(t Target) bool {
	for _, x := range r.AlreadyPresent {
		if x == t {
			return true
		}
	}
	return false
}

// Synchronizer is the sole writer of firewall rules.
type Synchronizer struct {
	mu        sync.Mutex
	driver    Driver
	preflight Preflight
	mode      access.Mode
	applied   map[Target]bool
	logger    *logging.Logger
}

// NewSynchronizer returns a Synchronizer for mode. It starts believing no
// rules are installed; call Adopt to learn otherwise.
func NewSynchronizer(d Driver, pre Preflight, mode access.Mode, logger *logging.Logger) *Synchronizer {
	return &Synchronizer{
		driver:    d,
		preflight: pre,
		mode:      mode,
		applied:   make(map[Target]bool),
		logger:    logging.OrDefault(logger, "firewall"),
	}
}

// Mode returns the operating mode.
func (s *Synchronizer) Mode() access.Mode { return s.mode }

// Driver returns the underlying driver.
func (s *Synchronizer) Driver() Driver { return s.driver }

// Desired maps grants and policy to firewall targets for the current mode.
// Per-device mode wants one rule per MAC; global mode wants only the policy
// switch, and only while it is open.
func (s *Synchronizer) Desired(macs []access.MAC, policy access.Policy) []Target {
	var out []Target
	switch s.mode {
	case access.ModeGlobal:
		if policy == access.PolicyOpen {
			out = append(out, PolicyTarget)
		}
	default:
		for _, m := range macs {
			out = append(out, MACTarget(m))
		}
	}
	sortTargets(out)
	return out
}

// Applied returns the targets the Synchronizer believes are installed.
func (s *Synchronizer) Applied() []Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appliedLocked()
}

func (s *Synchronizer) appliedLocked() []Target {
	out := make([]Target, 0, len(s.applied))
	for t := range s.applied {
		out = append(out, t)
	}
	sortTargets(out)
	return out
}

// Adopt learns which rules already exist: everything the driver can list,
// plus whichever of candidates HasRule confirms.
func (s *Synchronizer) Adopt(ctx context.Context, candidates []Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := make(map[Target]bool)
	if lister, ok := s.driver.(RuleLister); ok {
		ts, err := lister.ListRules(ctx)
		if err != nil {
			return access.Wrap(access.KindFirewallTransportError, "", err, "list rules")
		}
		for _, t := range ts {
			found[t] = true
		}
	}
	for _, t := range candidates {
		if found[t] {
			continue
		}
		has, err := s.driver.HasRule(ctx, t)
		if err != nil {
			return access.Wrap(access.KindFirewallTransportError, t.MAC, err, "probe rule %s", t)
		}
		if has {
			found[t] = true
		}
	}
	s.applied = found
	s.logger.Debug("adopted existing rules", "count", len(found))
	return nil
}

// Refresh re-probes every applied target and forgets those that vanished,
// so the next Reconcile reinstalls them. Rules added by others are only
// discovered when the driver is a RuleLister.
func (s *Synchronizer) Refresh(ctx context.Context) ([]Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var drifted []Target
	for _, t := range s.appliedLocked() {
		has, err := s.driver.HasRule(ctx, t)
		if err != nil {
			return drifted, access.Wrap(access.KindFirewallTransportError, t.MAC, err, "probe rule %s", t)
		}
		if !has {
			delete(s.applied, t)
			drifted = append(drifted, t)
		}
	}

	if lister, ok := s.driver.(RuleLister); ok {
		ts, err := lister.ListRules(ctx)
		if err != nil {
			return drifted, access.Wrap(access.KindFirewallTransportError, "", err, "list rules")
		}
		for _, t := range ts {
			if !s.applied[t] {
				s.applied[t] = true
				drifted = append(drifted, t)
			}
		}
	}

	if len(drifted) > 0 {
		s.logger.Warn("firewall drift detected", "targets", fmt.Sprint(drifted))
	}
	return drifted, nil
}

type step struct {
	op Op
	t  Target
}

// Reconcile makes the firewall match the desired grants and policy.
//
// When nothing differs from what is applied no driver call is made.
// Otherwise preflight runs first; a non-OK result aborts the pass with its
// typed error before any mutation. A driver failure mid-pass undoes the
// steps already taken and returns FirewallTransportError.
func (s *Synchronizer) Reconcile(ctx context.Context, macs []access.MAC, policy access.Policy) (Result, error) {
	desired := s.Desired(macs, policy)

	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[Target]bool, len(desired))
	var toAdd, toRemove []Target
	for _, t := range desired {
		want[t] = true
		if !s.applied[t] {
			toAdd = append(toAdd, t)
		}
	}
	for t := range s.applied {
		if !want[t] {
			toRemove = append(toRemove, t)
		}
	}
	sortTargets(toRemove)

	var res Result
	if len(toAdd) == 0 && len(toRemove) == 0 {
		return res, nil
	}

	pre, err := s.preflight.Check(ctx)
	res.Preflight = pre
	if err != nil {
		return res, access.Wrap(access.KindFirewallTransportError, "", err, "preflight")
	}
	if pre != access.PreflightOK {
		s.logger.Warn("reconcile aborted by preflight", "result", pre,
			"pending_add", len(toAdd), "pending_remove", len(toRemove))
		return res, pre.Err()
	}

	var done []step
	fail := func(t Target, err error, what string) (Result, error) {
		s.rollback(ctx, done)
		return Result{Preflight: pre}, access.Wrap(access.KindFirewallTransportError, t.MAC, err, "%s %s", what, t)
	}

	for _, t := range toAdd {
		has, err := s.driver.HasRule(ctx, t)
		if err != nil {
			return fail(t, err, "probe")
		}
		if has {
			s.applied[t] = true
			res.AlreadyPresent = append(res.AlreadyPresent, t)
			continue
		}
		if err := s.driver.AddRule(ctx, t); err != nil {
			return fail(t, err, "add")
		}
		s.applied[t] = true
		done = append(done, step{OpAdd, t})
		res.Added = append(res.Added, t)
	}

	for _, t := range toRemove {
		has, err := s.driver.HasRule(ctx, t)
		if err != nil {
			return fail(t, err, "probe")
		}
		if !has {
			delete(s.applied, t)
			res.AlreadyAbsent = append(res.AlreadyAbsent, t)
			continue
		}
		if err := s.driver.RemoveRule(ctx, t); err != nil {
			return fail(t, err, "remove")
		}
		delete(s.applied, t)
		done = append(done, step{OpRemove, t})
		res.Removed = append(res.Removed, t)
	}

	s.logger.Info("reconciled",
		"mode", s.mode,
		"added", len(res.Added),
		"removed", len(res.Removed),
		"already_present", len(res.AlreadyPresent),
		"already_absent", len(res.AlreadyAbsent))
	return res, nil
}

// Admit installs the single rule t under the same lock as Reconcile,
// without touching any other rule. Grants use it so a removal that keeps
// failing for one device never blocks admission of another; those
// removals are left to the next Reconcile. Preflight gates the add
// exactly as it gates a Reconcile pass.
func (s *Synchronizer) Admit(ctx context.Context, t Target) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res Result
	if s.applied[t] {
		return res, nil
	}

	pre, err := s.preflight.Check(ctx)
	res.Preflight = pre
	if err != nil {
		return res, access.Wrap(access.KindFirewallTransportError, t.MAC, err, "preflight")
	}
	if pre != access.PreflightOK {
		s.logger.Warn("admit aborted by preflight", "result", pre, "target", t.String())
		return res, pre.Err()
	}

	has, err := s.driver.HasRule(ctx, t)
	if err != nil {
		return Result{Preflight: pre}, access.Wrap(access.KindFirewallTransportError, t.MAC, err, "check rule %s", t)
	}
	if has {
		s.applied[t] = true
		res.AlreadyPresent = append(res.AlreadyPresent, t)
		return res, nil
	}
	if err := s.driver.AddRule(ctx, t); err != nil {
		return Result{Preflight: pre}, access.Wrap(access.KindFirewallTransportError, t.MAC, err, "add %s", t)
	}
	s.applied[t] = true
	res.Added = append(res.Added, t)
	s.logger.Info("admitted", "mode", s.mode, "target", t.String())
	return res, nil
}

// rollback undoes done in reverse. Must hold s.mu. Failures are logged;
// the next Refresh notices whatever could not be undone.
func (s *Synchronizer) rollback(ctx context.Context, done []step) {
	for i := len(done) - 1; i >= 0; i-- {
		st := done[i]
		var err error
		switch st.op {
		case OpAdd:
			if err = s.driver.RemoveRule(ctx, st.t); err == nil {
				delete(s.applied, st.t)
			}
		case OpRemove:
			if err = s.driver.AddRule(ctx, st.t); err == nil {
				s.applied[st.t] = true
			}
		}
		if err != nil {
			s.logger.Error("rollback step failed", "op", st.op, "target", st.t.String(), "error", err)
		}
	}
}
