package toolconv

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/concierge/pkg/models"
)

// CataloguePrompt serializes the tool catalogue into prompt text for
// providers without native function calling. Callers append it to the
// system prompt for a single call; it must never be persisted back into
// the stored system prompt.
func CataloguePrompt(tools []models.ToolSpec) string {
	if len(tools) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\nYou can use the following tools. To call one, respond with a line in exactly this format:\n")
	b.WriteString("USE_TOOL: <tool_name>\nPARAMETERS: <JSON object>\n")
	b.WriteString("Do not describe the call in prose. Do not claim an action is done unless a tool result says so.\n\nAvailable tools:\n")

	for _, tool := range tools {
		fmt.Fprintf(&b, "\n- %s: %s\n", tool.Name, tool.Description)
		params := describeParameters(tool.Schema)
		if params != "" {
			fmt.Fprintf(&b, "  Parameters: %s\n", params)
		}
	}
	return b.String()
}

func describeParameters(schema json.RawMessage) string {
	var parsed struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &parsed); err != nil || len(parsed.Properties) == 0 {
		return ""
	}

	required := make(map[string]bool, len(parsed.Required))
	for _, name := range parsed.Required {
		required[name] = true
	}

	parts := make([]string, 0, len(parsed.Properties))
	for name, prop := range parsed.Properties {
		part := name + " (" + prop.Type
		if required[name] {
			part += ", required"
		}
		part += ")"
		parts = append(parts, part)
	}
	// Stable ordering keeps prompts reproducible across calls.
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
