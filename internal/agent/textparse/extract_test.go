package textparse

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/concierge/internal/observability"
)

func newExtractor() *Extractor {
	return NewExtractor(observability.NewNopLogger())
}

func argsOf(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("arguments not JSON: %v", err)
	}
	return out
}

func TestExtract(t *testing.T) {
	ctx := context.Background()

	t.Run("marker and json on same line", func(t *testing.T) {
		calls := newExtractor().Extract(ctx, `USE_TOOL: get_order_status PARAMETERS: {"orderNumber":"12345"}`)
		if len(calls) != 1 {
			t.Fatalf("calls = %d", len(calls))
		}
		if calls[0].Name != "get_order_status" {
			t.Errorf("name = %q", calls[0].Name)
		}
		if argsOf(t, calls[0].Input)["orderNumber"] != "12345" {
			t.Errorf("args = %s", calls[0].Input)
		}
	})

	t.Run("marker and json across two lines with trailing prose", func(t *testing.T) {
		content := "Let me check that for you.\n" +
			"USE_TOOL: get_order_status\n" +
			`PARAMETERS: {"orderNumber":"12345"}` + "\n" +
			"I will have the status shortly. Thanks for waiting!"
		calls := newExtractor().Extract(ctx, content)
		if len(calls) != 1 {
			t.Fatalf("calls = %d, want 1", len(calls))
		}
		if calls[0].Name != "get_order_status" {
			t.Errorf("name = %q", calls[0].Name)
		}
		if argsOf(t, calls[0].Input)["orderNumber"] != "12345" {
			t.Errorf("args = %s", calls[0].Input)
		}
	})

	t.Run("bare name colon json fallback", func(t *testing.T) {
		calls := newExtractor().Extract(ctx, "book_table: {\"date\":\"2026-08-29\",\"people\":2}")
		if len(calls) != 1 {
			t.Fatalf("calls = %d", len(calls))
		}
		if calls[0].Name != "book_table" {
			t.Errorf("name = %q", calls[0].Name)
		}
	})

	t.Run("natural language fallback", func(t *testing.T) {
		content := `I'll look that up using the tool: get_order_status - PARAMETERS: {"orderNumber":"99"} right away.`
		calls := newExtractor().Extract(ctx, content)
		if len(calls) != 1 {
			t.Fatalf("calls = %d", len(calls))
		}
		if calls[0].Name != "get_order_status" {
			t.Errorf("name = %q", calls[0].Name)
		}
	})

	t.Run("nested braces and strings with braces", func(t *testing.T) {
		content := `USE_TOOL: create_ticket PARAMETERS: {"title":"broken {thing}","details":{"priority":"high"}} and that's it`
		calls := newExtractor().Extract(ctx, content)
		if len(calls) != 1 {
			t.Fatalf("calls = %d", len(calls))
		}
		args := argsOf(t, calls[0].Input)
		if args["title"] != "broken {thing}" {
			t.Errorf("title = %v", args["title"])
		}
	})

	t.Run("identical calls from multiple patterns dedupe", func(t *testing.T) {
		content := "USE_TOOL: get_order_status PARAMETERS: {\"orderNumber\":\"12345\"}\n" +
			"get_order_status: {\"orderNumber\":\"12345\"}"
		calls := newExtractor().Extract(ctx, content)
		if len(calls) != 1 {
			t.Fatalf("calls = %d, want 1 after dedupe", len(calls))
		}
	})

	t.Run("key order does not defeat dedupe", func(t *testing.T) {
		content := "USE_TOOL: book PARAMETERS: {\"a\":1,\"b\":2}\n" +
			"book: {\"b\":2,\"a\":1}"
		calls := newExtractor().Extract(ctx, content)
		if len(calls) != 1 {
			t.Fatalf("calls = %d, want 1", len(calls))
		}
	})

	t.Run("two distinct calls both extracted", func(t *testing.T) {
		content := "USE_TOOL: get_order_status PARAMETERS: {\"orderNumber\":\"1\"}\n" +
			"USE_TOOL: get_order_status PARAMETERS: {\"orderNumber\":\"2\"}"
		calls := newExtractor().Extract(ctx, content)
		if len(calls) != 2 {
			t.Fatalf("calls = %d, want 2", len(calls))
		}
	})

	t.Run("malformed json is skipped not fatal", func(t *testing.T) {
		content := `USE_TOOL: broken PARAMETERS: {"orderNumber": oops}`
		calls := newExtractor().Extract(ctx, content)
		if len(calls) != 0 {
			t.Errorf("calls = %d, want 0", len(calls))
		}
	})

	t.Run("unterminated object is skipped", func(t *testing.T) {
		content := `USE_TOOL: broken PARAMETERS: {"orderNumber":"12`
		if calls := newExtractor().Extract(ctx, content); len(calls) != 0 {
			t.Errorf("calls = %d", len(calls))
		}
	})

	t.Run("plain prose yields nothing", func(t *testing.T) {
		if calls := newExtractor().Extract(ctx, "Your order shipped yesterday and should arrive soon."); calls != nil {
			t.Errorf("calls = %v", calls)
		}
	})

	t.Run("prose mentioning a colon does not grab distant json", func(t *testing.T) {
		content := "Note: the system records everything.\n\nLater someone wrote {\"unrelated\":true} in a doc."
		if calls := newExtractor().Extract(ctx, content); len(calls) != 0 {
			t.Errorf("calls = %v", calls)
		}
	})
}

func TestExtractJSONObject(t *testing.T) {
	t.Run("trailing prose ignored", func(t *testing.T) {
		raw, ok := extractJSONObject(`{"a":1} and then some words`)
		if !ok || raw != `{"a":1}` {
			t.Errorf("raw = %q ok = %v", raw, ok)
		}
	})

	t.Run("escaped quote inside string", func(t *testing.T) {
		raw, ok := extractJSONObject(`{"a":"say \"hi\" {now}"} tail`)
		if !ok || raw != `{"a":"say \"hi\" {now}"}` {
			t.Errorf("raw = %q ok = %v", raw, ok)
		}
	})

	t.Run("no object", func(t *testing.T) {
		if _, ok := extractJSONObject("nothing here"); ok {
			t.Error("expected no object")
		}
	})
}
