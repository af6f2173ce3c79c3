package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/clock"
)

func TestGrantBucket(t *testing.T) {
	store := newTestStore(t, nil)
	b, err := NewGrantBucket(store)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	later := access.Grant{ID: "2", MAC: "aa:bb:cc:dd:ee:02", GrantedAt: base.Add(time.Minute), State: access.StateActive}
	earlier := access.Grant{ID: "1", MAC: "aa:bb:cc:dd:ee:01", GrantedAt: base, State: access.StatePending}
	require.NoError(t, b.Put(later))
	require.NoError(t, b.Put(earlier))

	grants, err := b.Load()
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, "1", grants[0].ID)
	assert.Equal(t, "2", grants[1].ID)
	assert.True(t, grants[0].GrantedAt.Equal(base))

	require.NoError(t, b.Delete(earlier.MAC))
	require.NoError(t, b.Delete(earlier.MAC), "deleting a missing grant is not an error")

	grants, err = b.Load()
	require.NoError(t, err)
	assert.Len(t, grants, 1)

	// A second accessor on the same store shares the bucket.
	_, err = NewGrantBucket(store)
	require.NoError(t, err)
}

func TestHistoryBucket(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	store := newTestStore(t, clk)
	h, err := NewHistoryBucket(store, 24*time.Hour)
	require.NoError(t, err)

	for i, mac := range []access.MAC{"aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02", "aa:bb:cc:dd:ee:03"} {
		require.NoError(t, h.Put(access.HistoryRecord{
			ID:        string(mac),
			MAC:       mac,
			Minutes:   5,
			GrantedAt: clk.Now().Add(time.Duration(i) * time.Minute),
			Outcome:   access.OutcomeActive,
		}))
	}

	recent, err := h.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, access.MAC("aa:bb:cc:dd:ee:03"), recent[0].MAC)
	assert.Equal(t, access.MAC("aa:bb:cc:dd:ee:02"), recent[1].MAC)

	grants, minutes, err := h.Totals()
	require.NoError(t, err)
	assert.Equal(t, 3, grants)
	assert.Equal(t, 15, minutes)

	rec, err := h.Get("aa:bb:cc:dd:ee:01")
	require.NoError(t, err)
	rec.Outcome = access.OutcomeExpired
	require.NoError(t, h.Put(*rec))
	rec, err = h.Get("aa:bb:cc:dd:ee:01")
	require.NoError(t, err)
	assert.Equal(t, access.OutcomeExpired, rec.Outcome)

	clk.Advance(25 * time.Hour)
	recent, err = h.Recent(0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
