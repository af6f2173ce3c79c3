package config

import (
	"time"

	"grimm.is/turnstile/internal/brand"
)

// CurrentSchemaVersion defines the current schema version of the configuration.
const CurrentSchemaVersion = "1.0"

// Operating modes.
const (
	ModePerDevice = "per_device"
	ModeGlobal    = "global"
)

// Firewall backends.
const (
	BackendNFTables = "nftables"
	BackendIPTables = "iptables"
	BackendMemory   = "memory"
)

// Presence sources.
const (
	SourceGPIO   = "gpio"
	SourceFile   = "file"
	SourceStatic = "static"
)

// Config is the top-level structure for the daemon configuration.
type Config struct {
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty"`

	// Mode is "per_device" (one allow rule per granted MAC) or "global"
	// (a single forwarding switch gated by presence).
	Mode string `hcl:"mode,optional" json:"mode"`

	// Grant durations, in minutes. A request for 0 minutes gets DefaultDuration.
	DefaultDuration int `hcl:"default_duration,optional" json:"default_duration"`
	MaxDuration     int `hcl:"max_duration,optional" json:"max_duration"`

	StateDir   string `hcl:"state_dir,optional" json:"state_dir"`
	SocketPath string `hcl:"socket_path,optional" json:"socket_path,omitempty"`
	LogLevel   string `hcl:"log_level,optional" json:"log_level"`
	LogJSON    bool   `hcl:"log_json,optional" json:"log_json"`

	Firewall *FirewallConfig `hcl:"firewall,block" json:"firewall"`
	Presence *PresenceConfig `hcl:"presence,block" json:"presence"`
	Leases   *LeasesConfig   `hcl:"leases,block" json:"leases"`
	Metrics  *MetricsConfig  `hcl:"metrics,block" json:"metrics"`
	History  *HistoryConfig  `hcl:"history,block" json:"history"`
}

// FirewallConfig selects and parameterises the firewall driver.
type FirewallConfig struct {
	Backend string `hcl:"backend,optional" json:"backend"`

	// nftables object names.
	Table string `hcl:"table,optional" json:"table"`
	Chain string `hcl:"chain,optional" json:"chain"`
	Set   string `hcl:"set,optional" json:"set"`

	// LANInterface carries kiosk clients; WANInterface is the uplink that
	// must be masqueraded. Empty WANInterface accepts masquerade on any.
	LANInterface string `hcl:"lan_interface,optional" json:"lan_interface"`
	WANInterface string `hcl:"wan_interface,optional" json:"wan_interface"`

	// IPTablesPath overrides the iptables binary for the iptables backend.
	IPTablesPath string `hcl:"iptables_path,optional" json:"iptables_path,omitempty"`
}

// PresenceConfig describes where the object-detection signal comes from.
type PresenceConfig struct {
	Source string `hcl:"source,optional" json:"source"`

	// GPIO source: reads /sys/class/gpio/gpio<pin>/value.
	GPIOPin   int  `hcl:"gpio_pin,optional" json:"gpio_pin,omitempty"`
	ActiveLow bool `hcl:"active_low,optional" json:"active_low,omitempty"`

	// Path is the flag file for the file source, or an override of the
	// sysfs value path for the gpio source.
	Path string `hcl:"path,optional" json:"path,omitempty"`

	// Present is the constant reading of the static source.
	Present bool `hcl:"present,optional" json:"present,omitempty"`

	PollInterval string `hcl:"poll_interval,optional" json:"poll_interval"`

	// Watch enables fsnotify-triggered ticks for file-backed sources.
	Watch bool `hcl:"watch,optional" json:"watch"`
}

// LeasesConfig configures the device lister used for observability and
// IP-to-MAC resolution.
type LeasesConfig struct {
	DnsmasqFile string `hcl:"dnsmasq_file,optional" json:"dnsmasq_file,omitempty"`
	Neighbors   bool   `hcl:"neighbors,optional" json:"neighbors"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Listen disables it.
type MetricsConfig struct {
	Listen string `hcl:"listen,optional" json:"listen,omitempty"`
}

// HistoryConfig controls grant history retention.
type HistoryConfig struct {
	Retention string `hcl:"retention,optional" json:"retention"`
}

// Defaults applied to empty fields.
const (
	DefaultDurationMinutes = 5
	DefaultMaxDuration     = 240
	DefaultTable           = "turnstile"
	DefaultChain           = "forward"
	DefaultSet             = "allowed_macs"
	DefaultLANInterface    = "wlan0"
	DefaultPollInterval    = "2s"
	DefaultRetention       = "720h"
	DefaultDnsmasqFile     = "/var/lib/misc/dnsmasq.leases"
)

// Default returns a fully populated configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.SchemaVersion == "" {
		c.SchemaVersion = CurrentSchemaVersion
	}
	if c.Mode == "" {
		c.Mode = ModePerDevice
	}
	if c.DefaultDuration == 0 {
		c.DefaultDuration = DefaultDurationMinutes
	}
	if c.MaxDuration == 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.StateDir == "" {
		c.StateDir = brand.GetStateDir()
	}
	if c.SocketPath == "" {
		c.SocketPath = brand.GetSocketPath()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Firewall == nil {
		c.Firewall = &FirewallConfig{}
	}
	if c.Firewall.Backend == "" {
		c.Firewall.Backend = BackendNFTables
	}
	if c.Firewall.Table == "" {
		c.Firewall.Table = DefaultTable
	}
	if c.Firewall.Chain == "" {
		c.Firewall.Chain = DefaultChain
	}
	if c.Firewall.Set == "" {
		c.Firewall.Set = DefaultSet
	}
	if c.Firewall.LANInterface == "" {
		c.Firewall.LANInterface = DefaultLANInterface
	}

	if c.Presence == nil {
		c.Presence = &PresenceConfig{Source: SourceStatic}
	}
	if c.Presence.Source == "" {
		c.Presence.Source = SourceStatic
	}
	if c.Presence.PollInterval == "" {
		c.Presence.PollInterval = DefaultPollInterval
	}

	if c.Leases == nil {
		c.Leases = &LeasesConfig{DnsmasqFile: DefaultDnsmasqFile, Neighbors: true}
	}
	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
	if c.History == nil {
		c.History = &HistoryConfig{}
	}
	if c.History.Retention == "" {
		c.History.Retention = DefaultRetention
	}
}

// PollEvery returns the parsed presence poll interval, falling back to the
// default on parse failure (Validate reports the bad value).
func (c *Config) PollEvery() time.Duration {
	if d, err := time.ParseDuration(c.Presence.PollInterval); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(DefaultPollInterval)
	return d
}

// RetentionPeriod returns the parsed history retention.
func (c *Config) RetentionPeriod() time.Duration {
	if d, err := time.ParseDuration(c.History.Retention); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(DefaultRetention)
	return d
}
