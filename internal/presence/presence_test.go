package presence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/clock"
	"grimm.is/turnstile/internal/config"
	"grimm.is/turnstile/internal/logging"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestGPIOSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	ctx := context.Background()

	high := NewGPIOSource(17, false, path)
	low := NewGPIOSource(17, true, path)

	writeFile(t, path, "1\n")
	got, err := high.Read(ctx)
	require.NoError(t, err)
	assert.True(t, got)
	got, err = low.Read(ctx)
	require.NoError(t, err)
	assert.False(t, got)

	writeFile(t, path, "0\n")
	got, _ = high.Read(ctx)
	assert.False(t, got)
	got, _ = low.Read(ctx)
	assert.True(t, got)

	writeFile(t, path, "x")
	_, err = high.Read(ctx)
	assert.Error(t, err)

	assert.Equal(t, "/sys/class/gpio/gpio4/value", NewGPIOSource(4, false, "").Path)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "presence")
	src := NewFileSource(path)
	ctx := context.Background()

	got, err := src.Read(ctx)
	require.NoError(t, err, "missing file reads as absent")
	assert.False(t, got)

	tests := []struct {
		content string
		want    bool
		wantErr bool
	}{
		{"1", true, false},
		{"true\n", true, false},
		{"PRESENT", true, false},
		{"0", false, false},
		{"", false, false},
		{`{"detected": true, "pin": 2, "status": "bottle_detected"}`, true, false},
		{`{"detected": false, "status": "waiting"}`, false, false},
		{`{"detected": false, "error": "GPIO busy"}`, false, true},
		{`{"pin": 2}`, false, true},
		{`{broken`, false, true},
		{"maybe", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			writeFile(t, path, tt.content)
			got, err := src.Read(ctx)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	src, err := New(&config.PresenceConfig{Source: config.SourceGPIO, GPIOPin: 2})
	require.NoError(t, err)
	assert.IsType(t, &GPIOSource{}, src)

	src, err = New(&config.PresenceConfig{Source: config.SourceFile, Path: "/run/turnstile/presence"})
	require.NoError(t, err)
	assert.Equal(t, "file:/run/turnstile/presence", src.Name())

	src, err = New(&config.PresenceConfig{Source: config.SourceStatic, Present: true})
	require.NoError(t, err)
	got, _ := src.Read(context.Background())
	assert.True(t, got)

	_, err = New(&config.PresenceConfig{Source: "camera"})
	assert.Error(t, err)
}

type failingSource struct{ err error }

func (f *failingSource) Name() string { return "broken" }

func (f *failingSource) Read(context.Context) (bool, error) { return true, f.err }

func TestReader_FailClosed(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clk := clock.NewMockClock(now)
	src := &failingSource{err: errors.New("permission denied")}
	r := NewReader(src, WithClock(clk), WithLogger(logging.Discard()))

	reading := r.Read(context.Background())
	assert.False(t, reading.Present, "a failed read is never present")
	assert.Equal(t, now, reading.ReadAt)
	assert.Contains(t, reading.Fault, "permission denied")
	assert.Equal(t, reading, r.Last())

	src.err = nil
	clk.Advance(time.Second)
	reading = r.Read(context.Background())
	assert.True(t, reading.Present)
	assert.Empty(t, reading.Fault)
	assert.Equal(t, now.Add(time.Second), reading.ReadAt)
}

func TestReader_LastBeforeRead(t *testing.T) {
	r := NewReader(Static(true), WithLogger(logging.Discard()))
	assert.Equal(t, access.Reading{}, r.Last())
	assert.Equal(t, "static", r.SourceName())
	assert.True(t, r.Read(context.Background()).Present)
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presence")

	changed := make(chan struct{}, 8)
	w, err := NewWatcher(path, func(context.Context) { changed <- struct{}{} }, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Unrelated files are ignored.
	writeFile(t, filepath.Join(dir, "other"), "1")
	select {
	case <-changed:
		t.Fatal("callback fired for an unrelated file")
	case <-time.After(300 * time.Millisecond):
	}

	writeFile(t, path, "1")
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no callback after writing the flag file")
	}
}
