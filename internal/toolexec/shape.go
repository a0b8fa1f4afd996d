package toolexec

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	defaultMaxResultChars = 8000
	maxHighValueFields    = 8
	truncationMarker      = "... [truncated]"
)

// wrapperKeys are common envelope keys external systems wrap their real
// payload in.
var wrapperKeys = []string{"data", "result", "results", "payload", "response"}

// highValueHints rank which fields survive when an oversized payload is
// condensed. Ids, status, amounts, dates, and contact fields carry the
// actionable context the model needs.
var highValueHints = []string{"id", "status", "state", "amount", "total", "price", "date", "time", "email", "phone", "name", "reference", "number"}

// shapeResult converts a raw workflow payload into bounded, model
// consumable text.
func shapeResult(payload json.RawMessage, message string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = defaultMaxResultChars
	}
	if message != "" {
		return capText(message, maxChars)
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return capText(strings.TrimSpace(string(payload)), maxChars)
	}

	decoded = unwrap(decoded)

	// An explicit human-readable message beats any structured payload.
	if m, ok := decoded.(map[string]any); ok {
		for _, key := range []string{"message", "summary", "description"} {
			if s, ok := m[key].(string); ok && s != "" {
				return capText(s, maxChars)
			}
		}
	}

	rendered, err := json.Marshal(decoded)
	if err != nil {
		return capText(fmt.Sprintf("%v", decoded), maxChars)
	}
	if len(rendered) <= maxChars {
		return string(rendered)
	}

	// Oversized: keep a handful of high-value fields rather than
	// truncating blindly.
	if m, ok := decoded.(map[string]any); ok {
		condensed := extractHighValueFields(m)
		if len(condensed) > 0 {
			if out, err := json.Marshal(condensed); err == nil {
				return capText(string(out)+" (large result condensed to key fields)", maxChars)
			}
		}
	}
	return capText(string(rendered), maxChars)
}

// unwrap peels one layer of envelope when the payload nests under a
// conventional wrapper key.
func unwrap(decoded any) any {
	m, ok := decoded.(map[string]any)
	if !ok {
		return decoded
	}
	for _, key := range wrapperKeys {
		if inner, ok := m[key]; ok && inner != nil {
			switch inner.(type) {
			case map[string]any, []any:
				return inner
			}
		}
	}
	return decoded
}

func extractHighValueFields(m map[string]any) map[string]any {
	type scored struct {
		key   string
		score int
	}
	var candidates []scored
	for key := range m {
		lower := strings.ToLower(key)
		for rank, hint := range highValueHints {
			if strings.Contains(lower, hint) {
				candidates = append(candidates, scored{key: key, score: rank})
				break
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		return candidates[i].key < candidates[j].key
	})

	out := make(map[string]any)
	for _, c := range candidates {
		if len(out) >= maxHighValueFields {
			break
		}
		// Nested structures defeat the purpose of condensing.
		switch m[c.key].(type) {
		case map[string]any, []any:
			continue
		default:
			out[c.key] = m[c.key]
		}
	}
	return out
}

func capText(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	cut := maxChars - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + truncationMarker
}
