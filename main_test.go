package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatch_ExitCodes(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.sock")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no arguments", nil, 2},
		{"help", []string{"help"}, 0},
		{"version", []string{"version"}, 0},
		{"unknown command", []string{"frobnicate"}, 2},
		{"grant missing mac", []string{"grant"}, 2},
		{"grant bad minutes", []string{"grant", "aa:bb:cc:dd:ee:ff", "soon"}, 2},
		{"subcommand help", []string{"grant", "--help"}, 0},
		// A daemon that is not running is reported in JSON, not by exit status.
		{"daemon unreachable", []string{"grant", "--socket", missing, "aa:bb:cc:dd:ee:ff"}, 0},
		{"list unreachable", []string{"list", "--socket", missing}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, tt.want, dispatch(tt.args, &stdout, &stderr), stderr.String())
		})
	}
}

func TestDispatch_UsageListsEveryCommand(t *testing.T) {
	var stdout bytes.Buffer
	assert.Equal(t, 0, dispatch([]string{"help"}, &stdout, &bytes.Buffer{}))
	for _, name := range order {
		assert.Contains(t, stdout.String(), "  "+name)
	}
	assert.Len(t, order, len(commands))
}
