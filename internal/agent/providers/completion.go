package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/concierge/internal/agent"
	"github.com/haasonsaas/concierge/pkg/models"
)

// CompletionProvider drives text-completion backends that speak the
// legacy completions wire format (including self-hosted compatible
// servers). It has no native function calling: the orchestrator appends
// the tool catalogue to the system prompt and scans the output text for
// embedded calls.
type CompletionProvider struct {
	client       *openai.Client
	defaultModel string
	maxTokens    int
}

// NewCompletionProvider creates a text-completion provider. BaseURL is
// required since these backends are rarely the hosted default.
func NewCompletionProvider(cfg Config) (*CompletionProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("completion: api key is required")
	}
	if cfg.DefaultModel == "" {
		return nil, errors.New("completion: default model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	return &CompletionProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: cfg.DefaultModel,
		maxTokens:    maxTokens,
	}, nil
}

func (p *CompletionProvider) Name() string { return "completion" }

func (p *CompletionProvider) NativeToolCalls() bool { return false }

func (p *CompletionProvider) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	resp, err := p.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:       model,
		Prompt:      flattenTranscript(req.System, req.Messages),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stop:        []string{"\nUser:"},
	})
	if err != nil {
		return nil, fmt.Errorf("completion chat: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Text) == "" {
		return nil, ErrEmptyResponse
	}

	usage := agent.TokenUsage{
		Input:  resp.Usage.PromptTokens,
		Output: resp.Usage.CompletionTokens,
		Total:  resp.Usage.TotalTokens,
	}
	// Some compatible servers report only the combined count.
	usage.EstimateSplit()

	out := &agent.ChatResponse{
		Content:    strings.TrimSpace(resp.Choices[0].Text),
		Tokens:     usage,
		StopReason: agent.StopEndTurn,
	}
	if resp.Choices[0].FinishReason == "length" {
		out.StopReason = agent.StopMaxTokens
	}
	return out, nil
}

// flattenTranscript renders the message list as a plain-text dialogue.
// Tool results appear as bracketed observations so the model can refer
// back to them.
func flattenTranscript(system string, messages []*models.Message) string {
	var b strings.Builder
	if system != "" {
		b.WriteString(system)
		b.WriteString("\n\n")
	}
	for i, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			// The leading system message duplicates the prompt preamble;
			// later ones are injected directives.
			if i == 0 {
				continue
			}
			fmt.Fprintf(&b, "System note: %s\n", msg.Content)
		case models.RoleUser:
			fmt.Fprintf(&b, "User: %s\n", msg.Content)
		case models.RoleAssistant:
			if msg.Content != "" {
				fmt.Fprintf(&b, "Assistant: %s\n", msg.Content)
			}
		case models.RoleTool:
			name := "tool"
			if msg.Meta != nil && msg.Meta.ToolName != "" {
				name = msg.Meta.ToolName
			}
			fmt.Fprintf(&b, "[%s result]: %s\n", name, msg.Content)
		}
	}
	b.WriteString("Assistant:")
	return b.String()
}
