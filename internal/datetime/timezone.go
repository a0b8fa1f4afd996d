// Package datetime resolves tenant timezones and normalizes the loose
// date values models produce in tool arguments.
package datetime

import (
	"strings"
	"time"
)

// ResolveTimezone validates a tenant's configured timezone string and
// returns the corresponding location. Invalid or empty values fall back
// to UTC.
func ResolveTimezone(configured string) *time.Location {
	trimmed := strings.TrimSpace(configured)
	if trimmed == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(trimmed)
	if err != nil {
		return time.UTC
	}
	return loc
}
