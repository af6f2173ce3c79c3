package metrics

import (
	"context"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/firewall"
)

// Recorder adapts the Registry to the events the admission controller
// emits. A nil *Recorder is valid and records nothing.
type Recorder struct {
	r *Registry
}

// NewRecorder wraps r.
func NewRecorder(r *Registry) *Recorder {
	return &Recorder{r: r}
}

// GrantRequest counts one grant attempt. err nil means granted.
func (rec *Recorder) GrantRequest(minutes int, err error) {
	if rec == nil {
		return
	}
	if err != nil {
		kind := access.KindOf(err)
		if kind == "" {
			kind = "error"
		}
		rec.r.GrantRequests.WithLabelValues(string(kind)).Inc()
		return
	}
	rec.r.GrantRequests.WithLabelValues("granted").Inc()
	rec.r.GrantMinutes.Add(float64(minutes))
}

// GrantEnded counts a grant that left the active state.
func (rec *Recorder) GrantEnded(outcome access.Outcome) {
	if rec == nil {
		return
	}
	rec.r.GrantsEnded.WithLabelValues(string(outcome)).Inc()
}

// Reconciled records one reconciliation.
func (rec *Recorder) Reconciled(res firewall.Result, seconds float64, err error) {
	if rec == nil {
		return
	}
	rec.r.ReconcileDuration.Observe(seconds)
	rec.r.RuleMutations.WithLabelValues("add").Add(float64(len(res.Added)))
	rec.r.RuleMutations.WithLabelValues("remove").Add(float64(len(res.Removed)))
	if err == nil {
		return
	}
	switch access.KindOf(err) {
	case access.KindForwardingDisabled, access.KindNatMissing:
		rec.r.PreflightFailures.WithLabelValues(string(res.Preflight)).Inc()
	default:
		rec.r.ReconcileErrors.Inc()
	}
}

// Presence records a presence reading.
func (rec *Recorder) Presence(reading access.Reading) {
	if rec == nil {
		return
	}
	rec.r.PresenceDetected.Set(boolGauge(reading.Present))
	rec.r.LastPresenceRead.Set(float64(reading.ReadAt.Unix()))
	if reading.Fault != "" {
		rec.r.PresenceFaults.Inc()
	}
}

// Snapshot is the controller state sampled by the collection task.
type Snapshot struct {
	ActiveGrants int
	Policy       access.Policy
}

// Snapshotter reports current controller state.
type Snapshotter interface {
	Snapshot(ctx context.Context) Snapshot
}

// Collect samples s into the gauges. It is run as a scheduler task.
func (rec *Recorder) Collect(ctx context.Context, s Snapshotter) error {
	if rec == nil {
		return nil
	}
	snap := s.Snapshot(ctx)
	rec.r.ActiveGrants.Set(float64(snap.ActiveGrants))
	rec.r.PolicyOpen.Set(boolGauge(snap.Policy == access.PolicyOpen))
	return nil
}
