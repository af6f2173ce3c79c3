package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/joho/godotenv"

	"grimm.is/turnstile/internal/brand"
)

// LoadResult contains the loaded config and metadata about the load.
type LoadResult struct {
	Config *Config
	// Path is the config file that was read; empty when defaults were used.
	Path string
	// EnvFile is the dotenv file that was applied, if any.
	EnvFile string
	// Overrides lists the environment variables that changed a setting.
	Overrides []string
}

// Load reads path (HCL), applies the dotenv file and environment overrides,
// and fills defaults. A missing config file yields the defaults.
func Load(path string) (*Config, error) {
	res, err := LoadWithResult(path)
	if err != nil {
		return nil, err
	}
	return res.Config, nil
}

// LoadWithResult is Load with metadata about where settings came from.
func LoadWithResult(path string) (*LoadResult, error) {
	if path == "" {
		path = brand.DefaultConfigPath()
	}
	res := &LoadResult{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		cfg, err := LoadHCL(data, path)
		if err != nil {
			return nil, err
		}
		res.Config = cfg
		res.Path = path
	case errors.Is(err, fs.ErrNotExist):
		res.Config = &Config{}
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	envFile := filepath.Join(filepath.Dir(path), brand.EnvFileName)
	if _, err := os.Stat(envFile); err == nil {
		// godotenv.Load never overrides variables already set in the process.
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		res.EnvFile = envFile
	}

	overrides, err := ApplyEnv(res.Config, os.LookupEnv)
	if err != nil {
		return nil, err
	}
	res.Overrides = overrides
	res.Config.applyDefaults()
	return res, nil
}

// LoadHCL decodes HCL bytes into a Config with defaults applied.
// Environment overrides are not consulted.
func LoadHCL(data []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("HCL parse error: %s", diags.Error())
	}

	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("HCL decode error: %s", diags.Error())
	}
	if cfg.SchemaVersion != "" && cfg.SchemaVersion != CurrentSchemaVersion {
		return nil, fmt.Errorf("unsupported config schema version %s (supported: %s)",
			cfg.SchemaVersion, CurrentSchemaVersion)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// envVar binds one TURNSTILE_<NAME> variable to a setter.
type envVar struct {
	name string
	set  func(c *Config, v string) error
}

func envString(get func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*get(c) = v
		return nil
	}
}

func envInt(get func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*get(c) = n
		return nil
	}
}

func envBool(get func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*get(c) = b
		return nil
	}
}

var envVars = []envVar{
	{"MODE", envString(func(c *Config) *string { return &c.Mode })},
	{"DEFAULT_DURATION", envInt(func(c *Config) *int { return &c.DefaultDuration })},
	{"MAX_DURATION", envInt(func(c *Config) *int { return &c.MaxDuration })},
	{"STATE_DIR", envString(func(c *Config) *string { return &c.StateDir })},
	{"SOCKET_PATH", envString(func(c *Config) *string { return &c.SocketPath })},
	{"LOG_LEVEL", envString(func(c *Config) *string { return &c.LogLevel })},
	{"LOG_JSON", envBool(func(c *Config) *bool { return &c.LogJSON })},
	{"FIREWALL_BACKEND", envString(func(c *Config) *string { return &c.Firewall.Backend })},
	{"LAN_INTERFACE", envString(func(c *Config) *string { return &c.Firewall.LANInterface })},
	{"WAN_INTERFACE", envString(func(c *Config) *string { return &c.Firewall.WANInterface })},
	{"PRESENCE_SOURCE", envString(func(c *Config) *string { return &c.Presence.Source })},
	{"PRESENCE_PATH", envString(func(c *Config) *string { return &c.Presence.Path })},
	{"GPIO_PIN", envInt(func(c *Config) *int { return &c.Presence.GPIOPin })},
	{"METRICS_LISTEN", envString(func(c *Config) *string { return &c.Metrics.Listen })},
	{"HISTORY_RETENTION", envString(func(c *Config) *string { return &c.History.Retention })},
}

// ApplyEnv overrides scalar settings from TURNSTILE_* variables found via
// lookup, returning the names that were applied.
func ApplyEnv(c *Config, lookup func(string) (string, bool)) ([]string, error) {
	if c.Firewall == nil {
		c.Firewall = &FirewallConfig{}
	}
	if c.Presence == nil {
		c.Presence = &PresenceConfig{}
	}
	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
	if c.History == nil {
		c.History = &HistoryConfig{}
	}

	var applied []string
	for _, ev := range envVars {
		name := brand.ConfigEnvPrefix + "_" + ev.name
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		if err := ev.set(c, v); err != nil {
			return applied, fmt.Errorf("invalid %s=%q: %w", name, v, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}
