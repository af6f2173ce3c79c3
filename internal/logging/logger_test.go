package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_LevelsFollowParent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Output: &buf})
	child := l.WithComponent("grants")

	child.Debug("pruned")
	assert.Contains(t, buf.String(), "[debug] grants: pruned")

	l.SetLevel(LevelError)
	assert.Equal(t, LevelError, child.GetLevel())
	buf.Reset()
	child.Info("hidden")
	assert.Empty(t, buf.String())
}

func TestLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Level: LevelInfo, Output: &buf, JSON: true}).
		WithComponent("admission").Info("grant applied", "mac", "aa:bb:cc:dd:ee:ff")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "grant applied", rec["msg"])
	assert.Equal(t, "INFO", rec["level"])
	assert.Equal(t, "admission", rec["component"])
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", rec["mac"])
}

func TestLogger_Audit(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Level: LevelInfo, Output: &buf, JSON: true}).
		Audit("grant", "aa:bb:cc:dd:ee:ff", "minutes", 5)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "audit grant", rec["msg"])
	assert.Equal(t, true, rec["audit"])
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", rec["subject"])
	assert.EqualValues(t, 5, rec["minutes"])
	assert.NotEmpty(t, rec["at"])
}

func TestConsoleHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	l.WithComponent("Admission").With("mode", "per_device").
		Info("grant applied", "mac", "aa:bb:cc:dd:ee:ff", "note", "two words")

	line := buf.String()
	assert.Contains(t, line, "turnstile[")
	assert.Contains(t, line, "[info] admission: grant applied")
	assert.Contains(t, line, "mode=per_device")
	assert.Contains(t, line, "mac=aa:bb:cc:dd:ee:ff")
	assert.Contains(t, line, `note="two words"`)
	assert.NotContains(t, line, "component=")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		" error ": LevelError,
		"bogus":   LevelInfo,
	} {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestDefaultAndOrDefault(t *testing.T) {
	var buf bytes.Buffer
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	SetDefault(New(Config{Level: LevelInfo, Output: &buf}))
	OrDefault(nil, "presence").Info("sensor read")
	assert.Contains(t, buf.String(), "presence: sensor read")

	buf.Reset()
	var other bytes.Buffer
	OrDefault(New(Config{Level: LevelInfo, Output: &other}), "grants").Info("hello")
	assert.Empty(t, buf.String())
	assert.Contains(t, other.String(), "grants: hello")
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard().Error("nothing") })
}
