// Package validation holds input validators shared by config loading and
// the admission path. Anything that ends up on a firewall command line or
// in an nftables object name passes through here first.
package validation

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

var (
	// Valid interface name: alphanumeric, dash, underscore, dot (for VLANs), max 15 chars
	interfaceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,15}$`)

	// Valid identifier: alphanumeric, dash, underscore
	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// Hardware address: six hex octets, all separated by ':' or all by '-'.
	macRegex = regexp.MustCompile(`^(?:(?:[0-9A-Fa-f]{2}:){5}|(?:[0-9A-Fa-f]{2}-){5})[0-9A-Fa-f]{2}$`)

	// Dangerous characters that should never appear in identifiers
	dangerousChars = []string{";", "|", "&", "$", "`", "(", ")", "<", ">", "\\", "\"", "'", "\n", "\r"}

	// bulkTokens request access for every device at once. Never admissible.
	bulkTokens = map[string]bool{
		"all":         true,
		"all-devices": true,
		"all_devices": true,
		"alldevices":  true,
		"any":         true,
		"everyone":    true,
		"broadcast":   true,
		"*":           true,
	}
)

// BroadcastMAC addresses every device on the segment.
const BroadcastMAC = "ff:ff:ff:ff:ff:ff"

// ValidateInterfaceName validates a network interface name
func ValidateInterfaceName(name string) error {
	if name == "" {
		return fmt.Errorf("interface name cannot be empty")
	}

	if len(name) > 15 {
		return fmt.Errorf("interface name too long (max 15 characters): %s", name)
	}

	if !interfaceNameRegex.MatchString(name) {
		return fmt.Errorf("invalid interface name: %s (must be alphanumeric with -_.)", name)
	}

	for _, char := range dangerousChars {
		if strings.Contains(name, char) {
			return fmt.Errorf("interface name contains dangerous character: %s", char)
		}
	}

	return nil
}

// ValidateIdentifier validates a general identifier (table, chain and set names).
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	if len(id) > 255 {
		return fmt.Errorf("identifier too long (max 255 characters)")
	}

	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("invalid identifier: %s (must be alphanumeric with -_)", id)
	}

	for _, char := range dangerousChars {
		if strings.Contains(id, char) {
			return fmt.Errorf("identifier contains dangerous character: %s", char)
		}
	}

	return nil
}

// ValidateAllowlist checks if a value is in an allowed list
func ValidateAllowlist(value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("value not in allowlist: %s", value)
}

// IsBulkToken reports whether s asks for access for all devices at once,
// e.g. "all", "ALL-DEVICES", "*" or the broadcast address.
func IsBulkToken(s string) bool {
	t := strings.ToLower(strings.TrimSpace(s))
	if bulkTokens[t] {
		return true
	}
	if strings.HasPrefix(t, "all-") || strings.HasPrefix(t, "all_") {
		return true
	}
	return strings.ReplaceAll(t, "-", ":") == BroadcastMAC
}

// ValidateMAC checks that s is a hardware address of the form
// xx:xx:xx:xx:xx:xx (':' or '-' separators, not mixed, any case).
func ValidateMAC(s string) error {
	if s == "" {
		return fmt.Errorf("MAC address cannot be empty")
	}
	if !macRegex.MatchString(s) {
		return fmt.Errorf("invalid MAC address format: %s", s)
	}
	return nil
}

// NormalizeMAC validates s and returns its canonical lower-case,
// colon-separated form.
func NormalizeMAC(s string) (string, error) {
	s = strings.TrimSpace(s)
	if err := ValidateMAC(s); err != nil {
		return "", err
	}
	hw, err := net.ParseMAC(strings.ReplaceAll(s, "-", ":"))
	if err != nil {
		return "", fmt.Errorf("invalid MAC address format: %s", s)
	}
	return hw.String(), nil
}
