package brand

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentity(t *testing.T) {
	assert.Equal(t, "turnstile", LowerName)
	assert.Equal(t, "turnstile", BinaryName)
	assert.Equal(t, "TURNSTILE", ConfigEnvPrefix)
	assert.Equal(t, Name, Get().Name)
	assert.NotEmpty(t, Version)
}

func TestDirectories_Defaults(t *testing.T) {
	for _, k := range []string{"_PREFIX", "_CONFIG_DIR", "_STATE_DIR", "_RUN_DIR"} {
		t.Setenv(ConfigEnvPrefix+k, "")
	}
	assert.Equal(t, DefaultConfigDir, GetConfigDir())
	assert.Equal(t, DefaultStateDir, GetStateDir())
	assert.Equal(t, "/run/turnstile-ctl.sock", GetSocketPath())
}

func TestDirectories_PrefixThenExplicit(t *testing.T) {
	t.Setenv(ConfigEnvPrefix+"_PREFIX", "/opt/kiosk")
	t.Setenv(ConfigEnvPrefix+"_CONFIG_DIR", "")
	t.Setenv(ConfigEnvPrefix+"_STATE_DIR", "")
	t.Setenv(ConfigEnvPrefix+"_RUN_DIR", "")

	assert.Equal(t, "/opt/kiosk/config", GetConfigDir())
	assert.Equal(t, "/opt/kiosk/state", GetStateDir())
	assert.Equal(t, "/opt/kiosk/run/turnstile-ctl.sock", GetSocketPath())

	t.Setenv(ConfigEnvPrefix+"_CONFIG_DIR", "/custom/config")
	assert.Equal(t, filepath.Join("/custom/config", ConfigFileName), DefaultConfigPath())
	assert.Equal(t, "/opt/kiosk/state", GetStateDir())
}
