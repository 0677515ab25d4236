package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// Valid interface name: alphanumeric, dash, underscore, dot (for VLANs), max 15 chars
	interfaceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,15}$`)

	// Rule names appear in logs, events and CLI tables.
	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	countryCodeRegex = regexp.MustCompile(`^[A-Za-z]{2}$`)
)

// ValidateInterfaceName validates a network interface name.
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
	return nil
}

// ValidateIdentifier validates a rule name.
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(id) > 255 {
		return fmt.Errorf("identifier too long (max 255 characters)")
	}
	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("invalid identifier: %s (must be alphanumeric with -_)", SanitizeString(id))
	}
	return nil
}

// ValidateCountryCode accepts two ASCII letters in either case.
func ValidateCountryCode(code string) error {
	if !countryCodeRegex.MatchString(strings.TrimSpace(code)) {
		return fmt.Errorf("%q is not a two-letter country code", SanitizeString(code))
	}
	return nil
}

// SanitizeString strips control characters so a value is safe to echo into
// a single log or diagnostic line.
func SanitizeString(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
