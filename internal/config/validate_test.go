package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fields(errs ValidationErrors) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Field)
	}
	return out
}

func TestValidate_Defaults(t *testing.T) {
	assert.Empty(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"bad mode", func(c *Config) { c.Mode = "open_bar" }, "mode"},
		{"zero max", func(c *Config) { c.MaxDuration = 0 }, "max_duration"},
		{"default above max", func(c *Config) { c.DefaultDuration = 500 }, "default_duration"},
		{"bad backend", func(c *Config) { c.Firewall.Backend = "pf" }, "firewall.backend"},
		{"bad table", func(c *Config) { c.Firewall.Table = "bad;name" }, "firewall.table"},
		{"bad lan", func(c *Config) { c.Firewall.LANInterface = "way-too-long-interface" }, "firewall.lan_interface"},
		{"wan equals lan", func(c *Config) { c.Firewall.WANInterface = c.Firewall.LANInterface }, "firewall.wan_interface"},
		{"file without path", func(c *Config) { c.Presence.Source = SourceFile }, "presence.path"},
		{"bad source", func(c *Config) { c.Presence.Source = "camera" }, "presence.source"},
		{"bad poll", func(c *Config) { c.Presence.PollInterval = "soon" }, "presence.poll_interval"},
		{"bad listen", func(c *Config) { c.Metrics.Listen = "9108" }, "metrics.listen"},
		{"bad retention", func(c *Config) { c.History.Retention = "-1h" }, "history.retention"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			assert.True(t, errs.HasErrors())
			assert.Contains(t, fields(errs), tt.field)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "mode", Message: "bad"},
		{Field: "max_duration", Message: "worse"},
	}
	assert.Equal(t, "mode: bad; max_duration: worse", errs.Error())
	assert.Equal(t, "", ValidationErrors(nil).Error())
}

func TestDurations(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "2s", cfg.PollEvery().String())
	cfg.Presence.PollInterval = "nonsense"
	assert.Equal(t, "2s", cfg.PollEvery().String())
	assert.Equal(t, "720h0m0s", cfg.RetentionPeriod().String())
}
