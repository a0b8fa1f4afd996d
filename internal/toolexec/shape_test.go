package toolexec

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestShapeResult(t *testing.T) {
	t.Run("explicit message preferred", func(t *testing.T) {
		got := shapeResult(json.RawMessage(`{"data":{"id":1}}`), "Booked table for 2 at 8pm", 0)
		if got != "Booked table for 2 at 8pm" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("message field inside payload", func(t *testing.T) {
		got := shapeResult(json.RawMessage(`{"message":"Order 12 shipped","data":null}`), "", 0)
		if got != "Order 12 shipped" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("payload unwrapped from data key", func(t *testing.T) {
		got := shapeResult(json.RawMessage(`{"data":{"id":"o-1","status":"shipped"}}`), "", 0)
		var decoded map[string]any
		if err := json.Unmarshal([]byte(got), &decoded); err != nil {
			t.Fatalf("not JSON: %v (%q)", err, got)
		}
		if decoded["status"] != "shipped" {
			t.Errorf("decoded = %v", decoded)
		}
	})

	t.Run("plain text payload", func(t *testing.T) {
		if got := shapeResult(json.RawMessage("all good"), "", 0); got != "all good" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("oversized payload condensed to high-value fields", func(t *testing.T) {
		big := map[string]any{
			"id":     "ord-1",
			"status": "confirmed",
			"amount": 49.5,
			"date":   "2026-08-29",
			"email":  "a@b.com",
			"blob":   strings.Repeat("x", 500),
		}
		for i := 0; i < 50; i++ {
			big[fmt.Sprintf("filler_%d", i)] = strings.Repeat("y", 200)
		}
		raw, _ := json.Marshal(big)

		got := shapeResult(raw, "", 1000)
		if len(got) > 1000 {
			t.Fatalf("len = %d", len(got))
		}
		for _, want := range []string{"ord-1", "confirmed", "2026-08-29"} {
			if !strings.Contains(got, want) {
				t.Errorf("condensed result missing %q: %s", want, got)
			}
		}
		if strings.Contains(got, "yyyy") {
			t.Error("filler fields should not survive condensing")
		}
	})

	t.Run("hard cap with truncation marker", func(t *testing.T) {
		long := strings.Repeat("z", 9000)
		got := shapeResult(json.RawMessage("irrelevant"), long, 0)
		if len(got) != defaultMaxResultChars {
			t.Errorf("len = %d", len(got))
		}
		if !strings.HasSuffix(got, truncationMarker) {
			t.Errorf("missing truncation marker: %q", got[len(got)-30:])
		}
	})
}

func TestExtractHighValueFields(t *testing.T) {
	m := map[string]any{
		"id": "1", "order_id": "2", "status": "ok", "amount": 3.0,
		"created_date": "d", "email": "e", "phone": "p", "name": "n",
		"reference": "r", "invoice_number": "i", "junk": "j",
	}
	out := extractHighValueFields(m)
	if len(out) != maxHighValueFields {
		t.Errorf("len = %d, want %d", len(out), maxHighValueFields)
	}
	if _, ok := out["junk"]; ok {
		t.Error("junk should not be selected")
	}
	if _, ok := out["id"]; !ok {
		t.Error("id should always be selected")
	}
}
