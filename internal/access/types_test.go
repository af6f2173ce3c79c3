package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMAC(t *testing.T) {
	tests := []struct {
		in   string
		want MAC
		kind Kind
	}{
		{"aa:bb:cc:dd:ee:ff", "aa:bb:cc:dd:ee:ff", ""},
		{"AA-BB-CC-DD-EE-FF", "aa:bb:cc:dd:ee:ff", ""},
		{"00:00:00:00:00:00", "00:00:00:00:00:00", ""},
		{"", "", KindInvalidMac},
		{"not-a-mac", "", KindInvalidMac},
		{"aa:bb:cc:dd:ee", "", KindInvalidMac},
		{"all", "", KindBulkAccessDenied},
		{"ALL-DEVICES", "", KindBulkAccessDenied},
		{"*", "", KindBulkAccessDenied},
		{"ff:ff:ff:ff:ff:ff", "", KindBulkAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMAC(tt.in)
			if tt.kind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.kind, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatePending, StateActive))
	assert.True(t, CanTransition(StateActive, StateExpired))
	assert.True(t, CanTransition(StatePending, StateRevoked))
	assert.True(t, CanTransition(StateActive, StateRevoked))

	assert.False(t, CanTransition(StatePending, StateExpired))
	assert.False(t, CanTransition(StateExpired, StateActive))
	assert.False(t, CanTransition(StateRevoked, StateActive))
	assert.False(t, CanTransition(StateExpired, StateRevoked))
	assert.False(t, CanTransition(StateActive, StatePending))
}

func TestGrant_Remaining(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g := Grant{State: StateActive, ExpiresAt: now.Add(3 * time.Minute)}
	assert.Equal(t, 3*time.Minute, g.Remaining(now))
	assert.Equal(t, time.Duration(0), g.Remaining(now.Add(time.Hour)))

	g.State = StateExpired
	assert.Equal(t, time.Duration(0), g.Remaining(now))
}
