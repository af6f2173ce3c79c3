// Package metrics exposes admission and firewall counters to Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all admission metrics.
type Registry struct {
	// Admission
	GrantRequests *prometheus.CounterVec
	GrantsEnded   *prometheus.CounterVec
	ActiveGrants  prometheus.Gauge
	GrantMinutes  prometheus.Counter

	// Firewall
	RuleMutations     *prometheus.CounterVec
	ReconcileErrors   prometheus.Counter
	ReconcileDuration prometheus.Histogram
	PreflightFailures *prometheus.CounterVec
	PolicyOpen        prometheus.Gauge

	// Presence
	PresenceDetected prometheus.Gauge
	PresenceFaults   prometheus.Counter
	LastPresenceRead prometheus.Gauge
}

// Get returns the process-wide registry on the default Prometheus
// registerer, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = NewRegistry(prometheus.DefaultRegisterer)
	})
	return registry
}

// NewRegistry registers a fresh set of metrics with reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	r := &Registry{}

	r.GrantRequests = f.NewCounterVec(prometheus.CounterOpts{
		Name: "turnstile_grant_requests_total",
		Help: "Grant requests by outcome (granted or the error kind)",
	}, []string{"outcome"})

	r.GrantsEnded = f.NewCounterVec(prometheus.CounterOpts{
		Name: "turnstile_grants_ended_total",
		Help: "Grants that left the active state, by reason",
	}, []string{"reason"})

	r.ActiveGrants = f.NewGauge(prometheus.GaugeOpts{
		Name: "turnstile_active_grants",
		Help: "Number of grants currently active",
	})

	r.GrantMinutes = f.NewCounter(prometheus.CounterOpts{
		Name: "turnstile_granted_minutes_total",
		Help: "Minutes of access handed out",
	})

	r.RuleMutations = f.NewCounterVec(prometheus.CounterOpts{
		Name: "turnstile_firewall_mutations_total",
		Help: "Firewall rule additions and removals",
	}, []string{"op"})

	r.ReconcileErrors = f.NewCounter(prometheus.CounterOpts{
		Name: "turnstile_reconcile_errors_total",
		Help: "Reconciliations that failed and were rolled back",
	})

	r.ReconcileDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "turnstile_reconcile_duration_seconds",
		Help:    "Time spent reconciling firewall state",
		Buckets: prometheus.DefBuckets,
	})

	r.PreflightFailures = f.NewCounterVec(prometheus.CounterOpts{
		Name: "turnstile_preflight_failures_total",
		Help: "Preflight checks that failed, by result",
	}, []string{"result"})

	r.PolicyOpen = f.NewGauge(prometheus.GaugeOpts{
		Name: "turnstile_policy_open",
		Help: "1 when the global forwarding policy is open",
	})

	r.PresenceDetected = f.NewGauge(prometheus.GaugeOpts{
		Name: "turnstile_presence_detected",
		Help: "1 when the presence sensor reports an object",
	})

	r.PresenceFaults = f.NewCounter(prometheus.CounterOpts{
		Name: "turnstile_presence_faults_total",
		Help: "Presence reads that failed and were treated as absent",
	})

	r.LastPresenceRead = f.NewGauge(prometheus.GaugeOpts{
		Name: "turnstile_presence_last_read_timestamp",
		Help: "Unix timestamp of the last presence read",
	})

	return r
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
