package toolexec

import (
	"testing"
	"time"
)

func TestNormalizeArgs(t *testing.T) {
	madrid, _ := time.LoadLocation("Europe/Madrid")
	now := time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC)

	t.Run("relative words resolve in tenant timezone", func(t *testing.T) {
		args := normalizeArgs(map[string]any{"date": "today", "pickup_day": "tomorrow"}, madrid, now)
		if args["date"] != "2026-08-29" {
			t.Errorf("date = %v", args["date"])
		}
		if args["pickup_day"] != "2026-08-30" {
			t.Errorf("pickup_day = %v", args["pickup_day"])
		}
	})

	t.Run("stale date corrected to today", func(t *testing.T) {
		args := normalizeArgs(map[string]any{"date": "2020-01-01"}, time.UTC, now)
		if args["date"] != "2026-08-29" {
			t.Errorf("date = %v", args["date"])
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		once := normalizeArgs(map[string]any{"date": "today", "email": "a@b.com", "phone": "+34 600 123 456"}, time.UTC, now)
		twice := normalizeArgs(once, time.UTC, now)
		for k, v := range once {
			if twice[k] != v {
				t.Errorf("%s changed on second pass: %v -> %v", k, v, twice[k])
			}
		}
	})

	t.Run("non-date strings untouched", func(t *testing.T) {
		args := normalizeArgs(map[string]any{"name": "today's special", "note": "yesterday we spoke"}, time.UTC, now)
		if args["name"] != "today's special" || args["note"] != "yesterday we spoke" {
			t.Errorf("args = %v", args)
		}
	})

	t.Run("transposed email and phone swap", func(t *testing.T) {
		args := normalizeArgs(map[string]any{
			"email": "+34 600 123 456",
			"phone": "maria@example.com",
		}, time.UTC, now)
		if args["email"] != "maria@example.com" {
			t.Errorf("email = %v", args["email"])
		}
		if args["phone"] != "+34 600 123 456" {
			t.Errorf("phone = %v", args["phone"])
		}
	})

	t.Run("correct contact fields untouched", func(t *testing.T) {
		args := normalizeArgs(map[string]any{
			"email": "maria@example.com",
			"phone": "+34 600 123 456",
		}, time.UTC, now)
		if args["email"] != "maria@example.com" || args["phone"] != "+34 600 123 456" {
			t.Errorf("args = %v", args)
		}
	})

	t.Run("one-sided mismatch does not swap", func(t *testing.T) {
		args := normalizeArgs(map[string]any{
			"email": "not-an-email",
			"phone": "+34 600 123 456",
		}, time.UTC, now)
		if args["email"] != "not-an-email" {
			t.Errorf("email = %v", args["email"])
		}
	})
}
