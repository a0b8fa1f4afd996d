package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/haasonsaas/concierge/internal/agent"
	"github.com/haasonsaas/concierge/internal/agent/toolconv"
	"github.com/haasonsaas/concierge/pkg/models"
)

const defaultGoogleModel = "gemini-2.0-flash"

// GoogleProvider calls the Gemini API. Gemini function calls carry no
// call id, so synthetic ids are assigned per response.
type GoogleProvider struct {
	client       *genai.Client
	defaultModel string
	maxTokens    int
}

// NewGoogleProvider creates a Gemini provider.
func NewGoogleProvider(cfg Config) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: api key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google client: %w", err)
	}

	model := cfg.DefaultModel
	if model == "" {
		model = defaultGoogleModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &GoogleProvider{client: client, defaultModel: model, maxTokens: maxTokens}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) NativeToolCalls() bool { return true }

func (p *GoogleProvider) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	contents, err := convertGeminiMessages(req.Messages)
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

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		config.Temperature = &temp
	}
	if len(req.Tools) > 0 {
		config.Tools = toolconv.ToGeminiTools(req.Tools)
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("google chat: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}

	out := &agent.ChatResponse{StopReason: agent.StopEndTurn}
	candidate := resp.Candidates[0]

	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
		}
		if part.FunctionCall != nil {
			input, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				continue
			}
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID:    fmt.Sprintf("gemini_call_%d", len(out.ToolCalls)+1),
				Name:  part.FunctionCall.Name,
				Input: input,
			})
		}
	}

	if len(out.ToolCalls) > 0 {
		out.StopReason = agent.StopToolUse
	}
	if candidate.FinishReason == genai.FinishReasonMaxTokens {
		out.StopReason = agent.StopMaxTokens
	}

	if resp.UsageMetadata != nil {
		out.Tokens = agent.TokenUsage{
			Input:  int(resp.UsageMetadata.PromptTokenCount),
			Output: int(resp.UsageMetadata.CandidatesTokenCount),
			Total:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	if out.Content == "" && len(out.ToolCalls) == 0 {
		return nil, ErrEmptyResponse
	}
	return out, nil
}

func convertGeminiMessages(messages []*models.Message) ([]*genai.Content, error) {
	var result []*genai.Content
	for i, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			// The leading system message rides in SystemInstruction; the
			// API has no mid-conversation system turn, so later ones are
			// delivered as user-side notes.
			if i == 0 {
				continue
			}
			result = append(result, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: "System note: " + msg.Content}},
			})
		case models.RoleUser:
			result = append(result, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		case models.RoleAssistant:
			content := &genai.Content{Role: genai.RoleModel}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, call := range decodeToolCalls(msg) {
				var args map[string]any
				if err := json.Unmarshal(call.Input, &args); err != nil {
					continue
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: call.Name, Args: args},
				})
			}
			if len(content.Parts) == 0 {
				continue
			}
			result = append(result, content)
		case models.RoleTool:
			name := ""
			if msg.Meta != nil {
				name = msg.Meta.ToolName
			}
			if name == "" {
				return nil, fmt.Errorf("tool message %s missing tool name", msg.ID)
			}
			result = append(result, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     name,
						Response: map[string]any{"result": msg.Content},
					},
				}},
			})
		}
	}
	return result, nil
}
