package preflight

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/logging"
)

type fakeChecker struct {
	fwd, nat       bool
	fwdErr, natErr error
	natCalls       int
	deny           *bool
	mu             sync.Mutex
}

func (f *fakeChecker) ForwardingEnabled(context.Context) (bool, error) { return f.fwd, f.fwdErr }

func (f *fakeChecker) NatConfigured(context.Context) (bool, error) {
	f.mu.Lock()
	f.natCalls++
	f.mu.Unlock()
	return f.nat, f.natErr
}

type denyChecker struct {
	*fakeChecker
}

func (d denyChecker) DefaultDeny(context.Context) (bool, error) { return *d.deny, nil }

func quiet() Option { return WithLogger(logging.Discard()) }

func TestCheck_Order(t *testing.T) {
	ctx := context.Background()

	c := &fakeChecker{fwd: false, nat: false}
	res, err := New(c, quiet()).Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, access.PreflightForwardingDisabled, res)
	assert.Equal(t, 0, c.natCalls, "NAT is not consulted once forwarding fails")

	c = &fakeChecker{fwd: true, nat: false}
	res, err = New(c, quiet()).Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, access.PreflightNatMissing, res)

	c = &fakeChecker{fwd: true, nat: true}
	res, err = New(c, quiet()).Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, access.PreflightOK, res)
}

func TestValidate_FailsClosedOnReadError(t *testing.T) {
	ctx := context.Background()

	c := &fakeChecker{fwdErr: errors.New("permission denied")}
	assert.Equal(t, access.PreflightForwardingDisabled, New(c, quiet()).Validate(ctx))

	c = &fakeChecker{fwd: true, natErr: errors.New("netlink timeout")}
	v := New(c, quiet())
	res, err := v.Check(ctx)
	assert.Error(t, err)
	assert.Equal(t, access.PreflightNatMissing, res)
	assert.Equal(t, access.PreflightNatMissing, v.Validate(ctx))
}

func TestValidate_Concurrent(t *testing.T) {
	v := New(&fakeChecker{fwd: true, nat: true}, quiet())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, access.PreflightOK, v.Validate(context.Background()))
		}()
	}
	wg.Wait()
}

func TestReport(t *testing.T) {
	deny := false
	c := denyChecker{&fakeChecker{fwd: false, nat: true, deny: &deny}}
	v := New(c, quiet(), WithUplink("eth0"), WithLinkStater(func(name string) (string, error) {
		return "up", nil
	}))

	r := v.Report(context.Background())
	assert.Equal(t, access.PreflightForwardingDisabled, r.Result)
	assert.False(t, r.Forwarding)
	assert.True(t, r.NAT)
	require.NotNil(t, r.DefaultDeny)
	assert.False(t, *r.DefaultDeny)
	assert.Equal(t, "eth0", r.Uplink)
	assert.Equal(t, "up", r.UplinkState)
	require.Len(t, r.Remediation, 2)
	assert.Contains(t, r.Remediation[0], "ip_forward=1")
}

func TestReport_UplinkError(t *testing.T) {
	v := New(&fakeChecker{fwd: true, nat: true}, quiet(), WithUplink("eth9"),
		WithLinkStater(func(string) (string, error) { return "", errors.New("no such device") }))

	r := v.Report(context.Background())
	assert.Equal(t, access.PreflightOK, r.Result)
	assert.Nil(t, r.DefaultDeny)
	assert.Empty(t, r.UplinkState)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0], "no such device")
}
