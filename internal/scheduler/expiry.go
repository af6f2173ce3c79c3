package scheduler

import (
	"sort"
	"sync"
	"time"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/clock"
	"grimm.is/turnstile/internal/logging"
)

// ExpireFunc is called when a grant's deadline passes. It runs on the
// timer's goroutine (inline from Advance under a MockClock).
type ExpireFunc func(mac access.MAC, grantID string)

// Pending describes an armed expiry timer.
type Pending struct {
	MAC     access.MAC `json:"mac"`
	GrantID string     `json:"grant_id"`
	At      time.Time  `json:"at"`
}

// Expirer keeps at most one expiry timer per MAC. Scheduling a MAC again
// replaces its timer.
type Expirer struct {
	mu      sync.Mutex
	clock   clock.Clock
	fire    ExpireFunc
	logger  *logging.Logger
	timers  map[access.MAC]*expiry
	seq     uint64
	stopped bool
}

type expiry struct {
	Pending
	seq   uint64
	timer clock.Timer
}

// NewExpirer creates an Expirer that calls fire for every deadline reached.
func NewExpirer(c clock.Clock, fire ExpireFunc, logger *logging.Logger) *Expirer {
	if c == nil {
		c = &clock.RealClock{}
	}
	return &Expirer{
		clock:  c,
		fire:   fire,
		logger: logging.OrDefault(logger, "expirer"),
		timers: make(map[access.MAC]*expiry),
	}
}

// Schedule arms a timer for mac at the given time. A deadline already in
// the past fires as soon as the clock allows. Returns false after Stop.
func (e *Expirer) Schedule(mac access.MAC, grantID string, at time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return false
	}
	if old, ok := e.timers[mac]; ok {
		old.timer.Stop()
	}

	e.seq++
	ent := &expiry{
		Pending: Pending{MAC: mac, GrantID: grantID, At: at},
		seq:     e.seq,
	}
	ent.timer = e.clock.AfterFunc(e.clock.Until(at), func() { e.expire(mac, ent.seq) })
	e.timers[mac] = ent
	e.logger.Debug("expiry armed", "mac", mac, "grant_id", grantID, "at", at)
	return true
}

func (e *Expirer) expire(mac access.MAC, seq uint64) {
	e.mu.Lock()
	ent, ok := e.timers[mac]
	if !ok || ent.seq != seq || e.stopped {
		e.mu.Unlock()
		return
	}
	delete(e.timers, mac)
	e.mu.Unlock()

	e.fire(mac, ent.GrantID)
}

// Cancel disarms the timer for mac. It reports whether one was armed.
func (e *Expirer) Cancel(mac access.MAC) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.timers[mac]
	if !ok {
		return false
	}
	ent.timer.Stop()
	delete(e.timers, mac)
	return true
}

// Pending lists armed timers ordered by deadline.
func (e *Expirer) Pending() []Pending {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Pending, 0, len(e.timers))
	for _, ent := range e.timers {
		out = append(out, ent.Pending)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].MAC < out[j].MAC
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

// Stop disarms every timer. Further Schedule calls are ignored.
func (e *Expirer) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for mac, ent := range e.timers {
		ent.timer.Stop()
		delete(e.timers, mac)
	}
	e.stopped = true
}
