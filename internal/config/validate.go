package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"grimm.is/turnstile/internal/validation"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate validates the entire configuration.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	switch c.Mode {
	case ModePerDevice, ModeGlobal:
	default:
		errs = append(errs, ValidationError{
			Field:   "mode",
			Message: fmt.Sprintf("must be %q or %q, got %q", ModePerDevice, ModeGlobal, c.Mode),
		})
	}

	if c.MaxDuration < 1 {
		errs = append(errs, ValidationError{
			Field:   "max_duration",
			Message: fmt.Sprintf("must be at least 1 minute, got %d", c.MaxDuration),
		})
	}
	if c.DefaultDuration < 1 || c.DefaultDuration > c.MaxDuration {
		errs = append(errs, ValidationError{
			Field:   "default_duration",
			Message: fmt.Sprintf("must be between 1 and max_duration (%d), got %d", c.MaxDuration, c.DefaultDuration),
		})
	}

	if c.StateDir == "" {
		errs = append(errs, ValidationError{Field: "state_dir", Message: "must not be empty"})
	}

	errs = append(errs, c.validateFirewall()...)
	errs = append(errs, c.validatePresence()...)

	if c.Metrics != nil && c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics.listen",
				Message: fmt.Sprintf("invalid listen address %q: %v", c.Metrics.Listen, err),
			})
		}
	}

	if c.History != nil {
		if d, err := time.ParseDuration(c.History.Retention); err != nil || d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "history.retention",
				Message: fmt.Sprintf("invalid duration %q", c.History.Retention),
			})
		}
	}

	return errs
}

func (c *Config) validateFirewall() ValidationErrors {
	var errs ValidationErrors
	fw := c.Firewall
	if fw == nil {
		return ValidationErrors{{Field: "firewall", Message: "block is required"}}
	}

	switch fw.Backend {
	case BackendNFTables, BackendIPTables, BackendMemory:
	default:
		errs = append(errs, ValidationError{
			Field:   "firewall.backend",
			Message: fmt.Sprintf("unknown backend %q (nftables, iptables, memory)", fw.Backend),
		})
	}

	for field, name := range map[string]string{
		"firewall.table": fw.Table,
		"firewall.chain": fw.Chain,
		"firewall.set":   fw.Set,
	} {
		if err := validation.ValidateIdentifier(name); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: err.Error()})
		}
	}

	if err := validation.ValidateInterfaceName(fw.LANInterface); err != nil {
		errs = append(errs, ValidationError{Field: "firewall.lan_interface", Message: err.Error()})
	}
	if fw.WANInterface != "" {
		if err := validation.ValidateInterfaceName(fw.WANInterface); err != nil {
			errs = append(errs, ValidationError{Field: "firewall.wan_interface", Message: err.Error()})
		}
		if fw.WANInterface == fw.LANInterface {
			errs = append(errs, ValidationError{
				Field:   "firewall.wan_interface",
				Message: "must differ from lan_interface",
			})
		}
	}
	return errs
}

func (c *Config) validatePresence() ValidationErrors {
	var errs ValidationErrors
	p := c.Presence
	if p == nil {
		return ValidationErrors{{Field: "presence", Message: "block is required"}}
	}

	switch p.Source {
	case SourceGPIO:
		if p.GPIOPin < 0 || p.GPIOPin > 1023 {
			errs = append(errs, ValidationError{
				Field:   "presence.gpio_pin",
				Message: fmt.Sprintf("out of range: %d", p.GPIOPin),
			})
		}
	case SourceFile:
		if p.Path == "" {
			errs = append(errs, ValidationError{
				Field:   "presence.path",
				Message: "required for the file source",
			})
		}
	case SourceStatic:
	default:
		errs = append(errs, ValidationError{
			Field:   "presence.source",
			Message: fmt.Sprintf("unknown source %q (gpio, file, static)", p.Source),
		})
	}

	if d, err := time.ParseDuration(p.PollInterval); err != nil || d <= 0 {
		errs = append(errs, ValidationError{
			Field:   "presence.poll_interval",
			Message: fmt.Sprintf("invalid duration %q", p.PollInterval),
		})
	}
	return errs
}
