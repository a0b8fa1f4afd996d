// Package textparse recovers tool calls embedded in free-form model
// output, for providers without native function calling.
package textparse

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/concierge/internal/observability"
	"github.com/haasonsaas/concierge/pkg/models"
)

// Marker is the call marker text-completion providers are instructed to
// emit before a tool invocation.
const Marker = "USE_TOOL:"

var (
	// USE_TOOL: name PARAMETERS: {...} on one line.
	inlinePattern = regexp.MustCompile(`USE_TOOL:\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*[,;-]?\s*PARAMETERS:\s*`)
	// USE_TOOL: name, parameters on the following line.
	splitPattern = regexp.MustCompile(`USE_TOOL:\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*\n\s*(?:PARAMETERS:\s*)?`)
	// Bare "tool_name: {...}" at the start of a line.
	barePattern = regexp.MustCompile(`(?m)^\s*([A-Za-z_][A-Za-z0-9_.-]*):\s*`)
	// Prose fallback: "using the tool: NAME - PARAMETERS: {...}".
	prosePattern = regexp.MustCompile(`(?i)using the tool:?\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*[,;-]?\s*PARAMETERS:\s*`)
)

// Extractor scans model output for embedded tool calls. Fragments that
// match a pattern but carry malformed JSON are logged and skipped.
type Extractor struct {
	logger *observability.Logger
}

func NewExtractor(logger *observability.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract returns every distinct tool call found in content. Identical
// (name, arguments) pairs matched by more than one pattern are returned
// once. A nil result means no calls were found.
func (e *Extractor) Extract(ctx context.Context, content string) []models.ToolCall {
	if !strings.Contains(content, "{") {
		return nil
	}

	var calls []models.ToolCall
	seen := make(map[string]bool)
	patterns := []*regexp.Regexp{inlinePattern, splitPattern, prosePattern, barePattern}

	for _, pattern := range patterns {
		for _, match := range pattern.FindAllStringSubmatchIndex(content, -1) {
			name := content[match[2]:match[3]]
			if strings.EqualFold(name, "PARAMETERS") || strings.EqualFold(name, "USE_TOOL") {
				continue
			}
			// The object must follow the match directly; a brace later in
			// the text belongs to some other fragment.
			rest := strings.TrimLeft(content[match[1]:], " \t\r\n")
			if !strings.HasPrefix(rest, "{") {
				continue
			}
			raw, ok := extractJSONObject(rest)
			if !ok {
				continue
			}
			canonical, err := canonicalize(raw)
			if err != nil {
				e.logger.Warn(ctx, "skipping unparsable tool call fragment",
					"tool", name, "error", err)
				continue
			}
			key := name + "\x00" + string(canonical)
			if seen[key] {
				continue
			}
			seen[key] = true
			calls = append(calls, models.ToolCall{
				ID:    fmt.Sprintf("textcall_%d", len(calls)+1),
				Name:  name,
				Input: json.RawMessage(raw),
			})
		}
	}
	return calls
}

// extractJSONObject returns the first syntactically complete JSON object
// in s, tolerating trailing prose. Brace counting respects string
// literals and escapes.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// canonicalize re-encodes a JSON object with sorted keys so structurally
// equal argument sets compare equal as strings.
func canonicalize(raw string) ([]byte, error) {
	var value map[string]any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, err
	}
	return json.Marshal(value)
}
