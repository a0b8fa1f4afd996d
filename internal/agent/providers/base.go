// Package providers implements the language-model backends behind the
// agent.Provider interface. Anthropic, OpenAI, and Google return
// structured tool calls natively; the text-completion provider covers
// backends that only emit free text, where tool calls are recovered by
// scanning the output.
package providers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/concierge/internal/agent"
)

// ErrEmptyResponse indicates the provider returned no usable content.
var ErrEmptyResponse = errors.New("provider returned empty response")

// Config carries per-provider settings from configuration.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
}

// New creates a provider by name.
func New(name string, cfg Config) (agent.Provider, error) {
	switch strings.ToLower(name) {
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "openai":
		return NewOpenAIProvider(cfg)
	case "google", "gemini":
		return NewGoogleProvider(cfg)
	case "completion":
		return NewCompletionProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
