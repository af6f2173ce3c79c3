package scheduler

import (
	"context"
	"time"

	"grimm.is/turnstile/internal/clock"
	"grimm.is/turnstile/internal/logging"
)

// Task IDs registered by the daemon.
const (
	TaskPresenceTick = "presence-tick"
	TaskGrantPrune   = "grant-prune"
	TaskStorePrune   = "store-prune"
	TaskClockAnchor  = "clock-anchor"
	TaskMetrics      = "metrics"
)

// Pruner removes expired rows and reports how many went.
type Pruner interface {
	Prune() (int64, error)
}

// NewPresenceTickTask polls the presence sensor and reconciles the
// firewall. In global mode this is what closes the network when the
// holder walks away.
func NewPresenceTickTask(tick func(context.Context) error, interval time.Duration) *Task {
	return &Task{
		ID:          TaskPresenceTick,
		Name:        "Presence Tick",
		Description: "Read the presence sensor and reconcile firewall rules",
		Schedule:    Every(interval),
		Enabled:     true,
		RunOnStart:  true,
		Timeout:     30 * time.Second,
		Func:        tick,
	}
}

// NewGrantPruneTask drops ended grants from memory once they are older
// than retention.
func NewGrantPruneTask(prune func(cutoff time.Time) int, retention time.Duration, c clock.Clock, logger *logging.Logger) *Task {
	logger = logging.OrDefault(logger, "scheduler")
	return &Task{
		ID:          TaskGrantPrune,
		Name:        "Grant Prune",
		Description: "Forget ended grants older than the retention period",
		Schedule:    Every(time.Hour),
		Enabled:     true,
		Func: func(ctx context.Context) error {
			if n := prune(c.Now().Add(-retention)); n > 0 {
				logger.Info("pruned ended grants", "count", n)
			}
			return nil
		},
	}
}

// NewStorePruneTask deletes history rows past their TTL once a day.
func NewStorePruneTask(p Pruner, logger *logging.Logger) *Task {
	logger = logging.OrDefault(logger, "scheduler")
	return &Task{
		ID:          TaskStorePrune,
		Name:        "Store Prune",
		Description: "Delete expired history rows",
		Schedule:    Daily(3, 15),
		Enabled:     true,
		RunOnStart:  true,
		Timeout:     time.Minute,
		Func: func(ctx context.Context) error {
			n, err := p.Prune()
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("pruned history", "rows", n)
			}
			return nil
		},
	}
}

// NewClockAnchorTask saves the current time so a board without an RTC
// can recover a sane clock after reboot.
func NewClockAnchorTask(stateDir string, interval time.Duration) *Task {
	return &Task{
		ID:          TaskClockAnchor,
		Name:        "Clock Anchor",
		Description: "Persist the current time as the boot-time anchor",
		Schedule:    Every(interval),
		Enabled:     true,
		Timeout:     10 * time.Second,
		Func: func(ctx context.Context) error {
			return clock.SaveAnchor(stateDir)
		},
	}
}

// NewMetricsTask refreshes gauges that are sampled rather than counted,
// such as the number of active grants.
func NewMetricsTask(collect TaskFunc, interval time.Duration) *Task {
	return &Task{
		ID:          TaskMetrics,
		Name:        "Metrics",
		Description: "Sample grant and policy gauges",
		Schedule:    Every(interval),
		Enabled:     true,
		RunOnStart:  true,
		Timeout:     5 * time.Second,
		Func:        collect,
	}
}
