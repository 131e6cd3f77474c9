package util

import (
	"net/mail"
	"strings"
)

// NormalizeEmail lowercases and trims a raw address for storage and lookups.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ValidEmail reports whether s is a plausible bare address (no display name,
// no angle brackets). Recipients failing this are undeliverable and must not
// be retried.
func ValidEmail(s string) bool {
	if s == "" || len(s) > 320 {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}

	return addr.Address == s && strings.Count(s, "@") == 1
}
