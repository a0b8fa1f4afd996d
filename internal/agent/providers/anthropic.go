package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/concierge/internal/agent"
	"github.com/haasonsaas/concierge/internal/agent/toolconv"
	"github.com/haasonsaas/concierge/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicProvider calls the Anthropic Messages API. Tool calls come
// back as structured tool_use blocks, so no text parsing is needed.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(cfg Config) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.DefaultModel
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: model,
		maxTokens:    maxTokens,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) NativeToolCalls() bool { return true }

func (p *AnthropicProvider) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	if len(req.Tools) > 0 {
		tools, err := toolconv.ToAnthropicTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}

	resp := &agent.ChatResponse{
		Tokens: agent.TokenUsage{
			Input:  int(message.Usage.InputTokens),
			Output: int(message.Usage.OutputTokens),
			Total:  int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
		StopReason: anthropicStopReason(message.StopReason),
	}

	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += variant.Text
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: json.RawMessage(variant.JSON.Input.Raw()),
			})
		}
	}

	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp, nil
}

// convertAnthropicMessages maps the internal transcript to Anthropic
// message params. Tool results travel on the user side; assistant turns
// that carried tool calls replay them as tool_use blocks. The leading
// system message is the stored prompt and rides in params.System;
// system messages injected later in the transcript are delivered as
// user-side notes since the API has no mid-conversation system role.
func convertAnthropicMessages(messages []*models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for i, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			if i == 0 {
				continue
			}
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewTextBlock("System note: "+msg.Content),
			))
		case models.RoleUser:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case models.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range decodeToolCalls(msg) {
				content = append(content, anthropic.NewToolUseBlock(call.ID, call.Input, call.Name))
			}
			if len(content) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(content...))
		case models.RoleTool:
			if msg.Meta == nil || msg.Meta.ToolCallID == "" {
				return nil, fmt.Errorf("tool message %s missing tool call id", msg.ID)
			}
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.Meta.ToolCallID, msg.Content, false),
			))
		default:
			return nil, fmt.Errorf("unsupported role %q", msg.Role)
		}
	}
	return result, nil
}

func anthropicStopReason(reason anthropic.StopReason) agent.StopReason {
	switch reason {
	case anthropic.StopReasonEndTurn:
		return agent.StopEndTurn
	case anthropic.StopReasonToolUse:
		return agent.StopToolUse
	case anthropic.StopReasonMaxTokens:
		return agent.StopMaxTokens
	default:
		return agent.StopOther
	}
}

// decodeToolCalls recovers the tool calls an assistant message carried,
// stored as raw JSON in its metadata.
func decodeToolCalls(msg *models.Message) []models.ToolCall {
	if msg.Meta == nil || len(msg.Meta.RawPayload) == 0 {
		return nil
	}
	var calls []models.ToolCall
	if err := json.Unmarshal([]byte(msg.Meta.RawPayload), &calls); err != nil {
		return nil
	}
	return calls
}
