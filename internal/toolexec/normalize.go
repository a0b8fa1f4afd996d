package toolexec

import (
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/concierge/internal/datetime"
)

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ().-]{5,}$`)
)

// normalizeArgs resolves relative date words to calendar dates in the
// tenant's timezone, corrects stale absolute dates, and swaps email and
// phone values the model placed in each other's fields. Idempotent:
// running it on already-normalized arguments changes nothing.
func normalizeArgs(args map[string]any, loc *time.Location, now time.Time) map[string]any {
	out := make(map[string]any, len(args))
	for key, value := range args {
		if s, ok := value.(string); ok && isDateField(key, s) {
			out[key] = datetime.NormalizeDate(s, loc, now)
			continue
		}
		out[key] = value
	}
	swapTransposedContactFields(out)
	return out
}

func isDateField(key, value string) bool {
	if datetime.IsDateWord(value) {
		return true
	}
	lower := strings.ToLower(key)
	return strings.Contains(lower, "date") || strings.Contains(lower, "day")
}

// swapTransposedContactFields fixes the common model mistake of putting
// the phone number in the email field and vice versa. Both fields must
// be present and both clearly wrong before anything moves.
func swapTransposedContactFields(args map[string]any) {
	emailKey, emailVal := findField(args, isEmailField)
	phoneKey, phoneVal := findField(args, isPhoneField)
	if emailKey == "" || phoneKey == "" {
		return
	}

	emailLooksLikePhone := phonePattern.MatchString(emailVal) && !strings.Contains(emailVal, "@")
	phoneLooksLikeEmail := emailPattern.MatchString(phoneVal)
	if emailLooksLikePhone && phoneLooksLikeEmail {
		args[emailKey], args[phoneKey] = phoneVal, emailVal
	}
}

func findField(args map[string]any, match func(string) bool) (string, string) {
	for key, value := range args {
		s, ok := value.(string)
		if !ok {
			continue
		}
		if match(strings.ToLower(key)) {
			return key, s
		}
	}
	return "", ""
}

func isEmailField(key string) bool {
	return strings.Contains(key, "email") || strings.Contains(key, "mail")
}

func isPhoneField(key string) bool {
	return strings.Contains(key, "phone") || strings.Contains(key, "mobile") || strings.Contains(key, "tel")
}
