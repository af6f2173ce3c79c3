// Package config handles HCL configuration parsing, environment overrides,
// and validation.
//
// # Overview
//
// Turnstile reads a single HCL file (default /etc/turnstile/turnstile.hcl).
// A missing file is not an error; the built-in defaults apply. An optional
// dotenv file (turnstile.env) next to the config is loaded first, and then
// TURNSTILE_* environment variables override scalar settings.
//
// # Example
//
//	mode             = "per_device"
//	default_duration = 5
//	max_duration     = 240
//
//	firewall {
//	  backend       = "nftables"
//	  lan_interface = "wlan0"
//	  wan_interface = "eth0"
//	}
//
//	presence {
//	  source        = "gpio"
//	  gpio_pin      = 17
//	  poll_interval = "2s"
//	}
//
//	leases {
//	  dnsmasq_file = "/var/lib/misc/dnsmasq.leases"
//	  neighbors    = true
//	}
//
//	metrics {
//	  listen = "127.0.0.1:9108"
//	}
//
//	history {
//	  retention = "720h"
//	}
package config
