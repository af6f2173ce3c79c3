package firewall

import (
	"context"
	"sync"
)

// Op names a driver call recorded by MemoryDriver.
type Op string

const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
	OpHas    Op = "has"
)

// Call is one recorded driver call.
type Call struct {
	Op     Op
	Target Target
}

// MemoryDriver keeps rules in a map. It records every call and can be told
// to fail, which makes it the driver of choice for tests.
type MemoryDriver struct {
	mu          sync.Mutex
	rules       map[Target]bool
	calls       []Call
	forwarding  bool
	nat         bool
	defaultDeny bool

	// FailHook, when set, is consulted before every add, remove, or has
	// call; a non-nil return fails the call without touching state.
	FailHook func(op Op, t Target) error
}

// NewMemoryDriver returns a driver with forwarding and NAT in place.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		rules:       make(map[Target]bool),
		forwarding:  true,
		nat:         true,
		defaultDeny: true,
	}
}

func (d *MemoryDriver) fail(op Op, t Target) error {
	d.calls = append(d.calls, Call{Op: op, Target: t})
	if d.FailHook != nil {
		return d.FailHook(op, t)
	}
	return nil
}

func (d *MemoryDriver) AddRule(_ context.Context, t Target) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(OpAdd, t); err != nil {
		return err
	}
	d.rules[t] = true
	return nil
}

func (d *MemoryDriver) RemoveRule(_ context.Context, t Target) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(OpRemove, t); err != nil {
		return err
	}
	delete(d.rules, t)
	return nil
}

func (d *MemoryDriver) HasRule(_ context.Context, t Target) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(OpHas, t); err != nil {
		return false, err
	}
	return d.rules[t], nil
}

func (d *MemoryDriver) ForwardingEnabled(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.forwarding, nil
}

func (d *MemoryDriver) NatConfigured(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nat, nil
}

// ListRules implements RuleLister.
func (d *MemoryDriver) ListRules(context.Context) ([]Target, error) {
	return d.Rules(), nil
}

// DefaultDeny implements DefaultDenyReporter.
func (d *MemoryDriver) DefaultDeny(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.defaultDeny, nil
}

// SetForwarding sets what ForwardingEnabled reports.
func (d *MemoryDriver) SetForwarding(v bool) {
	d.mu.Lock()
	d.forwarding = v
	d.mu.Unlock()
}

// SetNAT sets what NatConfigured reports.
func (d *MemoryDriver) SetNAT(v bool) {
	d.mu.Lock()
	d.nat = v
	d.mu.Unlock()
}

// SetDefaultDeny sets what DefaultDeny reports.
func (d *MemoryDriver) SetDefaultDeny(v bool) {
	d.mu.Lock()
	d.defaultDeny = v
	d.mu.Unlock()
}

// Inject adds a rule behind the synchronizer's back, as another tool would.
func (d *MemoryDriver) Inject(t Target) {
	d.mu.Lock()
	d.rules[t] = true
	d.mu.Unlock()
}

// Drop removes a rule behind the synchronizer's back.
func (d *MemoryDriver) Drop(t Target) {
	d.mu.Lock()
	delete(d.rules, t)
	d.mu.Unlock()
}

// Rules returns the current rule set, sorted.
func (d *MemoryDriver) Rules() []Target {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Target, 0, len(d.rules))
	for t := range d.rules {
		out = append(out, t)
	}
	sortTargets(out)
	return out
}

// Has reports whether t is installed without recording a call.
func (d *MemoryDriver) Has(t Target) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rules[t]
}

// Calls returns every recorded call.
func (d *MemoryDriver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Mutations counts add and remove calls, failed ones included.
func (d *MemoryDriver) Mutations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Op == OpAdd || c.Op == OpRemove {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (d *MemoryDriver) ResetCalls() {
	d.mu.Lock()
	d.calls = nil
	d.mu.Unlock()
}
