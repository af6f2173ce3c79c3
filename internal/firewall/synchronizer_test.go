package firewall

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/logging"
	"grimm.is/turnstile/internal/preflight"
)

const (
	macA access.MAC = "aa:bb:cc:dd:ee:01"
	macB access.MAC = "aa:bb:cc:dd:ee:02"
	macC access.MAC = "aa:bb:cc:dd:ee:03"
)

func newSync(t *testing.T, mode access.Mode) (*Synchronizer, *MemoryDriver) {
	t.Helper()
	d := NewMemoryDriver()
	pre := preflight.New(d, preflight.WithLogger(logging.Discard()))
	return NewSynchronizer(d, pre, mode, logging.Discard()), d
}

func TestReconcile_AddThenIdempotent(t *testing.T) {
	ctx := context.Background()
	s, d := newSync(t, access.ModePerDevice)

	res, err := s.Reconcile(ctx, []access.MAC{macB, macA}, access.PolicyClosed)
	require.NoError(t, err)
	assert.Equal(t, []Target{MACTarget(macA), MACTarget(macB)}, res.Added)
	assert.Equal(t, access.PreflightOK, res.Preflight)
	assert.Equal(t, []Target{MACTarget(macA), MACTarget(macB)}, d.Rules())

	d.ResetCalls()
	res, err = s.Reconcile(ctx, []access.MAC{macA, macB}, access.PolicyClosed)
	require.NoError(t, err)
	assert.True(t, res.Noop())
	assert.Empty(t, d.Calls(), "satisfied state issues no driver calls")
}

func TestReconcile_Remove(t *testing.T) {
	ctx := context.Background()
	s, d := newSync(t, access.ModePerDevice)

	_, err := s.Reconcile(ctx, []access.MAC{macA, macB}, access.PolicyClosed)
	require.NoError(t, err)

	res, err := s.Reconcile(ctx, []access.MAC{macB}, access.PolicyClosed)
	require.NoError(t, err)
	assert.Equal(t, []Target{MACTarget(macA)}, res.Removed)
	assert.Equal(t, []Target{MACTarget(macB)}, d.Rules())
	assert.Equal(t, []Target{MACTarget(macB)}, s.Applied())
}

func TestReconcile_PreflightAbortsBeforeMutation(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		name  string
		setup func(d *MemoryDriver)
		want  error
	}{
		{"forwarding", func(d *MemoryDriver) { d.SetForwarding(false) }, access.ErrForwardingDisabled},
		{"nat", func(d *MemoryDriver) { d.SetNAT(false) }, access.ErrNatMissing},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, d := newSync(t, access.ModePerDevice)
			tc.setup(d)

			res, err := s.Reconcile(ctx, []access.MAC{macA, macB}, access.PolicyClosed)
			assert.ErrorIs(t, err, tc.want)
			assert.NotEqual(t, access.PreflightOK, res.Preflight)
			assert.Equal(t, 0, d.Mutations())
			assert.Empty(t, d.Rules())
			assert.Empty(t, s.Applied())
		})
	}
}

func TestReconcile_ExistingRuleIsSkipped(t *testing.T) {
	ctx := context.Background()
	s, d := newSync(t, access.ModePerDevice)
	d.Inject(MACTarget(macA))

	res, err := s.Reconcile(ctx, []access.MAC{macA}, access.PolicyClosed)
	require.NoError(t, err)
	assert.Empty(t, res.Added)
	assert.True(t, res.WasPresent(MACTarget(macA)))
	assert.True(t, res.Present(MACTarget(macA)))
	assert.Equal(t, 0, d.Mutations())
}

func TestReconcile_RemoveAlreadyGone(t *testing.T) {
	ctx := context.Background()
	s, d := newSync(t, access.ModePerDevice)
	_, err := s.Reconcile(ctx, []access.MAC{macA}, access.PolicyClosed)
	require.NoError(t, err)

	d.Drop(MACTarget(macA))
	d.ResetCalls()

	res, err := s.Reconcile(ctx, nil, access.PolicyClosed)
	require.NoError(t, err)
	assert.Equal(t, []Target{MACTarget(macA)}, res.AlreadyAbsent)
	assert.Equal(t, 0, d.Mutations())
}

func TestReconcile_RollbackOnTransportError(t *testing.T) {
	ctx := context.Background()
	s, d := newSync(t, access.ModePerDevice)

	_, err := s.Reconcile(ctx, []access.MAC{macC}, access.PolicyClosed)
	require.NoError(t, err)

	boom := errors.New("netlink: operation not permitted")
	d.FailHook = func(op Op, tg Target) error {
		if op == OpAdd && tg.MAC == macB {
			return boom
		}
		return nil
	}

	// Adds macA, then fails on macB before macC is removed.
	_, err = s.Reconcile(ctx, []access.MAC{macA, macB}, access.PolicyClosed)
	require.Error(t, err)
	assert.ErrorIs(t, err, access.ErrFirewallTransport)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, []Target{MACTarget(macC)}, d.Rules(), "completed steps are undone")
	assert.Equal(t, []Target{MACTarget(macC)}, s.Applied())

	d.FailHook = nil
	res, err := s.Reconcile(ctx, []access.MAC{macA, macB}, access.PolicyClosed)
	require.NoError(t, err)
	assert.Len(t, res.Added, 2)
	assert.Equal(t, []Target{MACTarget(macC)}, res.Removed)
}

func TestReconcile_GlobalMode(t *testing.T) {
	ctx := context.Background()
	s, d := newSync(t, access.ModeGlobal)

	res, err := s.Reconcile(ctx, []access.MAC{macA, macB}, access.PolicyOpen)
	require.NoError(t, err)
	assert.Equal(t, []Target{PolicyTarget}, res.Added, "grants add no per-device rules")
	assert.Equal(t, []Target{PolicyTarget}, d.Rules())

	res, err = s.Reconcile(ctx, []access.MAC{macA}, access.PolicyOpen)
	require.NoError(t, err)
	assert.True(t, res.Noop())

	res, err = s.Reconcile(ctx, []access.MAC{macA}, access.PolicyClosed)
	require.NoError(t, err)
	assert.Equal(t, []Target{PolicyTarget}, res.Removed)
	assert.Empty(t, d.Rules())
}

func TestAdmit_OnlyTouchesTarget(t *testing.T) {
	ctx := context.Background()
	s, d := newSync(t, access.ModePerDevice)
	_, err := s.Reconcile(ctx, []access.MAC{macA}, access.PolicyClosed)
	require.NoError(t, err)

	// macA's removal keeps failing; admitting macB must not depend on it.
	d.FailHook = func(op Op, tg Target) error {
		if op == OpRemove && tg.MAC == macA {
			return errors.New("nft: resource busy")
		}
		return nil
	}
	_, err = s.Reconcile(ctx, nil, access.PolicyClosed)
	require.ErrorIs(t, err, access.ErrFirewallTransport)

	d.ResetCalls()
	res, err := s.Admit(ctx, MACTarget(macB))
	require.NoError(t, err)
	assert.Equal(t, []Target{MACTarget(macB)}, res.Added)
	assert.Equal(t, 1, d.Mutations(), "only macB is added")
	assert.Equal(t, []Target{MACTarget(macA), MACTarget(macB)}, s.Applied())

	d.ResetCalls()
	res, err = s.Admit(ctx, MACTarget(macB))
	require.NoError(t, err)
	assert.True(t, res.Noop())
	assert.Empty(t, d.Calls())
}

func TestAdmit_ExistingRuleAndPreflight(t *testing.T) {
	ctx := context.Background()
	s, d := newSync(t, access.ModePerDevice)

	d.Inject(MACTarget(macA))
	res, err := s.Admit(ctx, MACTarget(macA))
	require.NoError(t, err)
	assert.True(t, res.WasPresent(MACTarget(macA)))
	assert.Equal(t, 0, d.Mutations())

	d.SetForwarding(false)
	res, err = s.Admit(ctx, MACTarget(macB))
	assert.ErrorIs(t, err, access.ErrForwardingDisabled)
	assert.Equal(t, access.PreflightForwardingDisabled, res.Preflight)
	assert.False(t, d.Has(MACTarget(macB)))
	assert.Equal(t, 0, d.Mutations())
}

func TestAdoptAndRefresh(t *testing.T) {
	ctx := context.Background()
	s, d := newSync(t, access.ModePerDevice)
	d.Inject(MACTarget(macA))
	d.Inject(PolicyTarget)

	require.NoError(t, s.Adopt(ctx, []Target{MACTarget(macB)}))
	assert.Equal(t, []Target{PolicyTarget, MACTarget(macA)}, s.Applied())

	// Per-device mode removes the stale policy rule and keeps A.
	res, err := s.Reconcile(ctx, []access.MAC{macA}, access.PolicyClosed)
	require.NoError(t, err)
	assert.Equal(t, []Target{PolicyTarget}, res.Removed)

	d.Drop(MACTarget(macA))
	d.Inject(MACTarget(macC))
	drifted, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Target{MACTarget(macA), MACTarget(macC)}, drifted)

	res, err = s.Reconcile(ctx, []access.MAC{macA}, access.PolicyClosed)
	require.NoError(t, err)
	assert.Equal(t, []Target{MACTarget(macA)}, res.Added)
	assert.Equal(t, []Target{MACTarget(macC)}, res.Removed)
}

func TestReconcile_Serialized(t *testing.T) {
	ctx := context.Background()
	s, d := newSync(t, access.ModePerDevice)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mac := access.MAC(fmt.Sprintf("aa:bb:cc:dd:ee:%02x", i))
			_, _ = s.Reconcile(ctx, []access.MAC{mac}, access.PolicyClosed)
		}(i)
	}
	wg.Wait()

	_, err := s.Reconcile(ctx, []access.MAC{macA}, access.PolicyClosed)
	require.NoError(t, err)
	assert.Equal(t, []Target{MACTarget(macA)}, d.Rules())
	assert.Equal(t, d.Rules(), s.Applied())
}

func TestPlanAndRender(t *testing.T) {
	ctx := context.Background()
	s, d := newSync(t, access.ModePerDevice)
	_, err := s.Reconcile(ctx, []access.MAC{macA}, access.PolicyClosed)
	require.NoError(t, err)
	d.ResetCalls()

	p, err := s.Plan(ctx, []access.MAC{macB}, access.PolicyClosed)
	require.NoError(t, err)
	assert.Equal(t, []Target{MACTarget(macB)}, p.Add)
	assert.Equal(t, []Target{MACTarget(macA)}, p.Remove)
	assert.Equal(t, access.PreflightOK, p.Preflight)
	assert.Equal(t, 0, d.Mutations(), "planning never mutates")

	out := RenderPlan(p)
	assert.Contains(t, out, "-accept ether saddr "+string(macA))
	assert.Contains(t, out, "+accept ether saddr "+string(macB))
	assert.Contains(t, out, "--- current")

	p, err = s.Plan(ctx, []access.MAC{macA}, access.PolicyClosed)
	require.NoError(t, err)
	assert.True(t, p.Empty())
	assert.Contains(t, RenderPlan(p), "no changes")
}

func TestNew(t *testing.T) {
	d, err := New(BackendMemory, Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryDriver{}, d)

	d, err = New(BackendIPTables, Options{LANInterface: "wlan0"})
	require.NoError(t, err)
	assert.IsType(t, &IPTablesDriver{}, d)

	_, err = New("pf", Options{})
	assert.Error(t, err)
}
