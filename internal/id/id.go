// Package id generates and recognizes record identifiers.
package id

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// New returns a time-ordered UUID (v7) string. Falls back to v4 if the
// clock source fails.
func New() string {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}

// IsUUID checks if a string is a valid lowercase UUID.
func IsUUID(s string) bool {
	return uuidPattern.MatchString(s)
}

// Parse normalizes a user-supplied id.
func Parse(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("invalid id %q: %w", s, err)
	}
	return s, nil
}

// Short returns the first eight characters, for summaries.
func Short(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
