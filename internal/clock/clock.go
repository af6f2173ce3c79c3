// Package clock provides a mockable time source and timers.
// In production it wraps the time package. Tests use MockClock, whose
// timers fire synchronously when the clock is advanced past their deadline.
//
// Time Sanity Check:
//
//	Kiosk boards often boot without an RTC. On start, call EnsureSaneTime()
//	to set the system clock from the saved anchor if the current system
//	time is unreasonable (before 2023). Grant expiry depends on it.
package clock

import (
	"sort"
	"sync"
	"time"
)

// MinReasonableYear is the earliest year we consider valid.
const MinReasonableYear = 2023

// Clock is the interface for time operations.
// Use package-level functions for convenience, or inject a Clock for testing.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Until(t time.Time) time.Duration
	// AfterFunc calls f in its own goroutine (RealClock) or inline from
	// Advance/Set (MockClock) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending call created by AfterFunc.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was already stopped.
	Stop() bool
}

// --- Real Clock (simple wrapper) ---

// RealClock provides the actual system time.
type RealClock struct{}

// Now returns the current system time.
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// Until returns the duration until t.
func (c *RealClock) Until(t time.Time) time.Duration {
	return time.Until(t)
}

// AfterFunc wraps time.AfterFunc.
func (c *RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// --- Mock Clock (for testing) ---

// MockClock is a test clock with controllable time.
type MockClock struct {
	mu      sync.RWMutex
	current time.Time
	timers  []*mockTimer
	nextSeq uint64
}

type mockTimer struct {
	clock    *MockClock
	deadline time.Time
	seq      uint64
	fn       func()
	done     bool
}

// NewMockClock creates a mock clock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{current: t}
}

// Now returns the mock time.
func (c *MockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Until returns the duration until t.
func (c *MockClock) Until(t time.Time) time.Duration {
	return t.Sub(c.Now())
}

// AfterFunc registers f to run when the mock time reaches now+d.
// A non-positive d fires on the next Advance or Set, including Advance(0).
func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSeq++
	t := &mockTimer{
		clock:    c,
		deadline: c.current.Add(d),
		seq:      c.nextSeq,
		fn:       f,
	}
	c.timers = append(c.timers, t)
	return t
}

// PendingTimers returns the number of timers that have neither fired nor
// been stopped.
func (c *MockClock) PendingTimers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.timers)
}

// Set sets the mock time and fires any timers that became due.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	due := c.collectDueLocked()
	c.mu.Unlock()
	fire(due)
}

// Advance advances the mock time by d and fires any timers that became due.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	due := c.collectDueLocked()
	c.mu.Unlock()
	fire(due)
}

// collectDueLocked removes and returns due timers ordered by deadline.
func (c *MockClock) collectDueLocked() []*mockTimer {
	var due, rest []*mockTimer
	for _, t := range c.timers {
		if !t.deadline.After(c.current) {
			t.done = true
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	c.timers = rest
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	return due
}

func fire(due []*mockTimer) {
	for _, t := range due {
		t.fn()
	}
}

// Stop removes the timer if it has not fired yet.
func (t *mockTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			break
		}
	}
	return true
}

// --- Package-level convenience functions ---

// Now returns the current system time.
func Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func Since(t time.Time) time.Duration {
	return time.Since(t)
}

// Until returns the duration until t.
func Until(t time.Time) time.Duration {
	return time.Until(t)
}

// --- Utilities ---

// IsReasonableTime returns true if year >= MinReasonableYear.
func IsReasonableTime(t time.Time) bool {
	return t.Year() >= MinReasonableYear
}
