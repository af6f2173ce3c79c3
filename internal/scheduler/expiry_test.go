package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/clock"
	"grimm.is/turnstile/internal/logging"
)

type fired struct {
	mu    sync.Mutex
	calls []Pending
}

func (f *fired) record(mac access.MAC, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Pending{MAC: mac, GrantID: id})
}

func (f *fired) list() []Pending {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Pending(nil), f.calls...)
}

const (
	macA access.MAC = "aa:bb:cc:dd:ee:01"
	macB access.MAC = "aa:bb:cc:dd:ee:02"
)

func TestExpirer_FiresAtDeadline(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	f := &fired{}
	e := NewExpirer(clk, f.record, logging.Discard())

	assert.True(t, e.Schedule(macA, "g1", epoch.Add(5*time.Minute)))
	assert.True(t, e.Schedule(macB, "g2", epoch.Add(2*time.Minute)))
	assert.Equal(t, []Pending{
		{MAC: macB, GrantID: "g2", At: epoch.Add(2 * time.Minute)},
		{MAC: macA, GrantID: "g1", At: epoch.Add(5 * time.Minute)},
	}, e.Pending())

	clk.Advance(4*time.Minute + 59*time.Second)
	assert.Equal(t, []Pending{{MAC: macB, GrantID: "g2"}}, f.list())

	clk.Advance(time.Second)
	assert.Len(t, f.list(), 2)
	assert.Empty(t, e.Pending())
}

func TestExpirer_RescheduleReplaces(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	f := &fired{}
	e := NewExpirer(clk, f.record, logging.Discard())

	e.Schedule(macA, "g1", epoch.Add(time.Minute))
	e.Schedule(macA, "g2", epoch.Add(10*time.Minute))
	assert.Equal(t, 1, clk.PendingTimers())

	clk.Advance(time.Minute)
	assert.Empty(t, f.list())

	clk.Advance(9 * time.Minute)
	assert.Equal(t, []Pending{{MAC: macA, GrantID: "g2"}}, f.list())
}

func TestExpirer_Cancel(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	f := &fired{}
	e := NewExpirer(clk, f.record, logging.Discard())

	e.Schedule(macA, "g1", epoch.Add(time.Minute))
	assert.True(t, e.Cancel(macA))
	assert.False(t, e.Cancel(macA))

	clk.Advance(time.Hour)
	assert.Empty(t, f.list())
	assert.Zero(t, clk.PendingTimers())
}

func TestExpirer_PastDeadline(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	f := &fired{}
	e := NewExpirer(clk, f.record, logging.Discard())

	e.Schedule(macA, "g1", epoch.Add(-time.Minute))
	clk.Advance(0)
	assert.Equal(t, []Pending{{MAC: macA, GrantID: "g1"}}, f.list())
}

func TestExpirer_Stop(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	f := &fired{}
	e := NewExpirer(clk, f.record, logging.Discard())

	e.Schedule(macA, "g1", epoch.Add(time.Minute))
	e.Stop()
	assert.False(t, e.Schedule(macB, "g2", epoch.Add(time.Minute)))

	clk.Advance(time.Hour)
	assert.Empty(t, f.list())
}

func TestExpirer_CallbackMayReschedule(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	var e *Expirer
	count := 0
	e = NewExpirer(clk, func(mac access.MAC, id string) {
		count++
		if count == 1 {
			e.Schedule(mac, "g2", clk.Now().Add(time.Minute))
		}
	}, logging.Discard())

	e.Schedule(macA, "g1", epoch.Add(time.Minute))
	clk.Advance(time.Minute)
	assert.Equal(t, 1, count)
	assert.Len(t, e.Pending(), 1)

	clk.Advance(time.Minute)
	assert.Equal(t, 2, count)
}
