package datetime

import (
	"strings"
	"time"
)

// DateLayout is the calendar form tool arguments are normalized to.
const DateLayout = "2006-01-02"

// maxDateAge is how far in the past an absolute date may lie before it is
// treated as a model hallucination and replaced with today.
const maxDateAge = 365 * 24 * time.Hour

// NormalizeDate resolves relative date words to calendar dates in loc and
// corrects absolute dates older than a year to today. Values that are
// neither relative words nor parseable dates pass through unchanged, so
// the function is idempotent: normalizing an already-normalized value
// yields the same value.
func NormalizeDate(value string, loc *time.Location, now time.Time) string {
	if loc == nil {
		loc = time.UTC
	}
	today := now.In(loc)

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "today", "now":
		return today.Format(DateLayout)
	case "tomorrow":
		return today.AddDate(0, 0, 1).Format(DateLayout)
	case "yesterday":
		return today.AddDate(0, 0, -1).Format(DateLayout)
	}

	parsed, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return value
	}
	if today.Sub(parsed) > maxDateAge {
		// Dates more than a year in the past are presumed hallucinated.
		return today.Format(DateLayout)
	}
	return parsed.Format(DateLayout)
}

// IsDateWord reports whether value is one of the supported relative
// date words.
func IsDateWord(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "today", "now", "tomorrow", "yesterday":
		return true
	}
	return false
}
