package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/concierge/internal/agent/textparse"
	"github.com/haasonsaas/concierge/internal/agent/toolconv"
	"github.com/haasonsaas/concierge/internal/cache"
	"github.com/haasonsaas/concierge/internal/escalation"
	"github.com/haasonsaas/concierge/internal/observability"
	"github.com/haasonsaas/concierge/internal/storage"
	"github.com/haasonsaas/concierge/internal/toolexec"
	"github.com/haasonsaas/concierge/internal/usage"
	"github.com/haasonsaas/concierge/pkg/models"
)

// ToolExecutor runs one tool call through the execution pipeline.
type ToolExecutor interface {
	Execute(ctx context.Context, call models.ToolCall, conv *models.Conversation, client *models.Client) *toolexec.Outcome
}

// EscalationDetector is consumed advisory-only: failures never fail the
// turn.
type EscalationDetector interface {
	AutoDetect(ctx context.Context, conversationID, message, language string) *escalation.Escalation
}

// Config bounds the orchestration loop.
type Config struct {
	MaxIterations int
	HistoryLimit  int
	MaxTokens     int
}

// TurnOptions carries per-message metadata from the caller.
type TurnOptions struct {
	UserID       string
	Channel      models.Channel
	ThreadKey    string
	EmailSubject string
	Language     string
}

// TurnResult is the caller-facing outcome of one processed message.
type TurnResult struct {
	Response          string   `json:"response"`
	ToolsUsed         []string `json:"tools_used,omitempty"`
	TokensUsed        int      `json:"tokens_used"`
	ConversationID    string   `json:"conversation_id"`
	Iterations        int      `json:"iterations"`
	ConversationEnded bool     `json:"conversation_ended"`
}

// Orchestrator drives one user turn through the iteration loop.
type Orchestrator struct {
	providers   map[string]Provider
	coordinator ToolExecutor
	contexts    cache.ContextCache
	stores      storage.StoreSet
	extractor   *textparse.Extractor
	endings     *EndDetector
	escalations EscalationDetector
	tracker     *usage.Tracker
	logger      *observability.Logger
	metrics     *observability.Metrics
	config      Config
	now         func() time.Time
}

func NewOrchestrator(
	providers map[string]Provider,
	coordinator ToolExecutor,
	contexts cache.ContextCache,
	stores storage.StoreSet,
	endings *EndDetector,
	escalations EscalationDetector,
	tracker *usage.Tracker,
	logger *observability.Logger,
	metrics *observability.Metrics,
	config Config,
) *Orchestrator {
	if config.MaxIterations <= 0 {
		config.MaxIterations = 3
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 50
	}
	return &Orchestrator{
		providers:   providers,
		coordinator: coordinator,
		contexts:    contexts,
		stores:      stores,
		extractor:   textparse.NewExtractor(logger),
		endings:     endings,
		escalations: escalations,
		tracker:     tracker,
		logger:      logger,
		metrics:     metrics,
		config:      config,
		now:         time.Now,
	}
}

// ProcessMessage handles one inbound user message end to end and always
// returns a non-empty response unless no fallback content exists
// anywhere in the turn.
func (o *Orchestrator) ProcessMessage(ctx context.Context, client *models.Client, sessionID, userMessage string, opts TurnOptions) (*TurnResult, error) {
	started := o.now()
	ctx = observability.WithClientID(ctx, client.ID)
	ctx = observability.WithSessionID(ctx, sessionID)

	conv, err := o.findOrCreateConversation(ctx, client, sessionID, opts)
	if err != nil {
		return nil, err
	}
	ctx = observability.WithConversationID(ctx, conv.ID)

	content := o.applyChannelMetadata(userMessage, opts)

	// Intake: an explicit end utterance closes the conversation with a
	// canned closing and zero model calls.
	if o.endings.IsEnd(content) {
		return o.endConversation(ctx, conv, content)
	}

	transcript := o.loadContext(ctx, client, conv, sessionID)
	userMsg := o.newMessage(conv.ID, models.RoleUser, content, nil)
	transcript = append(transcript, userMsg)
	newMessages := []*models.Message{userMsg}

	provider, ok := o.providers[client.Provider]
	if !ok {
		return nil, fmt.Errorf("no provider %q configured for client %s", client.Provider, client.ID)
	}

	specs := o.toolSpecs(ctx, client.ID)
	systemPrompt := client.SystemPrompt
	if !provider.NativeToolCalls() && len(specs) > 0 {
		// Appended per call only; persisting it back into the stored
		// system prompt would grow token cost every turn.
		systemPrompt += toolconv.CataloguePrompt(specs)
	}

	result := &TurnResult{ConversationID: conv.ID}
	var totals TokenUsage
	var finalResponse, lastContent, lastToolResult string
	var prevExecuted string
	corrected := false

	for result.Iterations < o.config.MaxIterations && finalResponse == "" {
		result.Iterations++

		resp, err := o.chat(ctx, provider, client, systemPrompt, transcript, specs)
		if err != nil {
			if result.Iterations >= 2 && lastContent != "" {
				o.logger.Warn(ctx, "model call failed, falling back to prior iteration",
					"iteration", result.Iterations, "error", err)
				finalResponse = lastContent
				break
			}
			return nil, fmt.Errorf("model call failed: %w", err)
		}

		resp.Tokens.EstimateSplit()
		totals.Input += resp.Tokens.Input
		totals.Output += resp.Tokens.Output
		totals.Total += resp.Tokens.Total

		toolCalls := resp.ToolCalls
		if !provider.NativeToolCalls() {
			// A stop reason never precludes an embedded call for the
			// text-parsing family; always re-scan.
			toolCalls = o.extractor.Extract(ctx, resp.Content)
		}

		if len(toolCalls) == 0 {
			if resp.Content != "" &&
				!corrected &&
				result.Iterations < o.config.MaxIterations &&
				IsHallucinatedAction(resp.Content, content, len(result.ToolsUsed) > 0) {
				o.logger.Warn(ctx, "hallucinated action claim detected, forcing corrective retry")
				transcript = append(transcript, o.newMessage(conv.ID, models.RoleSystem, CorrectiveReminder, nil))
				corrected = true
				lastContent = resp.Content
				continue
			}
			if resp.Content != "" {
				finalResponse = resp.Content
			}
			break
		}

		// Stuck-loop guard: identical calls to the set just executed
		// mean the model ignored the results. Surface prose instead of
		// re-executing.
		signature := callSignature(toolCalls)
		if signature == prevExecuted && prevExecuted != "" {
			o.logger.Warn(ctx, "identical tool calls repeated, stopping loop", "iteration", result.Iterations)
			if resp.Content != "" {
				finalResponse = resp.Content
			}
			break
		}

		assistantMsg := o.newMessage(conv.ID, models.RoleAssistant, resp.Content, &models.MessageMeta{
			RawPayload: encodeToolCalls(toolCalls),
		})
		transcript = append(transcript, assistantMsg)
		newMessages = append(newMessages, assistantMsg)

		for _, call := range toolCalls {
			outcome := o.coordinator.Execute(ctx, call, conv, client)
			result.ToolsUsed = append(result.ToolsUsed, call.Name)
			lastToolResult = outcome.ResultText

			toolMsg := o.newMessage(conv.ID, models.RoleTool, outcome.ResultText, &models.MessageMeta{
				ToolName:   call.Name,
				ToolCallID: call.ID,
			})
			transcript = append(transcript, toolMsg)
			newMessages = append(newMessages, toolMsg)
		}
		prevExecuted = signature
		if resp.Content != "" {
			lastContent = resp.Content
		}
	}

	// Terminate: never fail the turn when some usable content exists.
	if finalResponse == "" {
		finalResponse = o.fallbackResponse(lastContent, lastToolResult)
		if finalResponse == "" {
			return nil, fmt.Errorf("no response content after %d iterations", result.Iterations)
		}
	}

	assistantFinal := o.newMessage(conv.ID, models.RoleAssistant, finalResponse, nil)
	transcript = append(transcript, assistantFinal)
	newMessages = append(newMessages, assistantFinal)

	o.finalize(ctx, client, conv, sessionID, content, transcript, newMessages, totals, opts)

	result.Response = finalResponse
	result.TokensUsed = totals.Total
	if o.metrics != nil {
		o.metrics.RecordTurn(string(conv.Channel), "ok", o.now().Sub(started).Seconds())
	}
	return result, nil
}

func (o *Orchestrator) chat(ctx context.Context, provider Provider, client *models.Client, system string, transcript []*models.Message, specs []ToolSpec) (*ChatResponse, error) {
	req := &ChatRequest{
		Model:     client.Model,
		System:    system,
		Messages:  transcript,
		MaxTokens: o.config.MaxTokens,
	}
	if provider.NativeToolCalls() {
		req.Tools = specs
	}

	started := o.now()
	resp, err := provider.Chat(ctx, req)
	if o.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		var in, out int
		if resp != nil {
			in, out = resp.Tokens.Input, resp.Tokens.Output
		}
		o.metrics.RecordProviderRequest(provider.Name(), client.Model, status, o.now().Sub(started).Seconds(), in, out)
	}
	return resp, err
}

func (o *Orchestrator) findOrCreateConversation(ctx context.Context, client *models.Client, sessionID string, opts TurnOptions) (*models.Conversation, error) {
	conv, err := o.stores.Conversations.ActiveBySession(ctx, client.ID, sessionID)
	if err == nil {
		return conv, nil
	}
	if err != storage.ErrNotFound {
		return nil, fmt.Errorf("lookup conversation: %w", err)
	}

	channel := opts.Channel
	if channel == "" {
		channel = models.ChannelWidget
	}
	conv = &models.Conversation{
		ID:        uuid.NewString(),
		ClientID:  client.ID,
		SessionID: sessionID,
		UserID:    opts.UserID,
		Channel:   channel,
		ThreadKey: opts.ThreadKey,
		StartedAt: o.now(),
	}
	if err := o.stores.Conversations.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	o.logger.Info(ctx, "conversation started", "conversation_id", conv.ID, "channel", channel)
	return conv, nil
}

// applyChannelMetadata prepends the email subject to the content when
// the message arrived by email and is not already a reply.
func (o *Orchestrator) applyChannelMetadata(message string, opts TurnOptions) string {
	if opts.Channel != models.ChannelEmail || opts.EmailSubject == "" {
		return message
	}
	subject := strings.TrimSpace(opts.EmailSubject)
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return message
	}
	return fmt.Sprintf("Subject: %s\n\n%s", subject, message)
}

// loadContext returns the working transcript with the system prompt as
// element zero, from cache when possible, rebuilt from the durable log
// on miss.
func (o *Orchestrator) loadContext(ctx context.Context, client *models.Client, conv *models.Conversation, sessionID string) []*models.Message {
	if cached, ok := o.contexts.Get(ctx, sessionID); ok && len(cached) > 0 {
		return cached
	}

	transcript := []*models.Message{{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.RoleSystem,
		Content:        client.SystemPrompt,
		CreatedAt:      o.now(),
	}}

	history, err := o.stores.Messages.List(ctx, conv.ID, o.config.HistoryLimit)
	if err != nil {
		o.logger.Warn(ctx, "history load failed, starting fresh", "error", err)
		return transcript
	}
	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			continue
		}
		transcript = append(transcript, msg)
	}
	return transcript
}

func (o *Orchestrator) toolSpecs(ctx context.Context, clientID string) []ToolSpec {
	tools, err := o.stores.Tools.ListEnabled(ctx, clientID)
	if err != nil {
		o.logger.Warn(ctx, "tool catalogue load failed", "error", err)
		return nil
	}
	specs := make([]ToolSpec, 0, len(tools))
	for _, tool := range tools {
		specs = append(specs, ToolSpec{
			Name:        tool.Name,
			Description: tool.Description,
			Schema:      tool.Schema,
		})
	}
	return specs
}

func (o *Orchestrator) endConversation(ctx context.Context, conv *models.Conversation, content string) (*TurnResult, error) {
	closing := o.endings.Closing()
	now := o.now()

	userMsg := o.newMessage(conv.ID, models.RoleUser, content, nil)
	assistantMsg := o.newMessage(conv.ID, models.RoleAssistant, closing, nil)
	for _, msg := range []*models.Message{userMsg, assistantMsg} {
		if err := o.stores.Messages.Append(ctx, msg); err != nil {
			o.logger.Error(ctx, "failed to persist closing message", "error", err)
		}
	}
	if err := o.stores.Conversations.End(ctx, conv.ID, now); err != nil {
		o.logger.Error(ctx, "failed to end conversation", "error", err)
	}
	o.contexts.Clear(ctx, conv.SessionID)
	o.logger.Info(ctx, "conversation ended by user", "conversation_id", conv.ID)

	return &TurnResult{
		Response:          closing,
		ConversationID:    conv.ID,
		ConversationEnded: true,
	}, nil
}

// fallbackResponse extracts something usable when the loop exhausted its
// budget without a final response.
func (o *Orchestrator) fallbackResponse(lastContent, lastToolResult string) string {
	if lastContent != "" {
		return lastContent
	}
	if lastToolResult == "" {
		return ""
	}
	sentence := lastToolResult
	if i := strings.IndexAny(sentence, ".\n"); i > 0 {
		sentence = sentence[:i+1]
	}
	return strings.TrimSpace(sentence)
}

func (o *Orchestrator) finalize(ctx context.Context, client *models.Client, conv *models.Conversation, sessionID, userContent string, transcript, newMessages []*models.Message, totals TokenUsage, opts TurnOptions) {
	for _, msg := range newMessages {
		if err := o.stores.Messages.Append(ctx, msg); err != nil {
			o.logger.Error(ctx, "failed to persist message", "role", msg.Role, "error", err)
		}
	}

	o.contexts.Set(ctx, sessionID, transcript)

	if err := o.tracker.Record(ctx, usage.Turn{
		ClientID:       client.ID,
		ConversationID: conv.ID,
		Provider:       client.Provider,
		Model:          client.Model,
		Messages:       len(newMessages),
		InputTokens:    totals.Input,
		OutputTokens:   totals.Output,
	}); err != nil {
		o.logger.Error(ctx, "failed to record usage", "error", err)
	}

	// Fire-and-forget: escalation advice must never fail or delay the
	// response.
	if o.escalations != nil {
		go func() {
			detachedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error(detachedCtx, "escalation detector panicked", "panic", r)
				}
			}()
			if esc := o.escalations.AutoDetect(detachedCtx, conv.ID, userContent, language(client, opts)); esc != nil {
				o.logger.Info(detachedCtx, "escalation recommended",
					"conversation_id", esc.ConversationID,
					"reason", esc.Reason,
					"triggered_by", esc.TriggeredBy)
			}
		}()
	}
}

func language(client *models.Client, opts TurnOptions) string {
	if opts.Language != "" {
		return opts.Language
	}
	return client.Language
}

func (o *Orchestrator) newMessage(conversationID string, role models.Role, content string, meta *models.MessageMeta) *models.Message {
	return &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Tokens:         estimateTokens(content),
		Meta:           meta,
		CreatedAt:      o.now(),
	}
}

// estimateTokens is the rough chars/4 heuristic used for persisted
// per-message counts; provider-reported usage drives billing.
func estimateTokens(content string) int {
	return (len(content) + 3) / 4
}

// callSignature canonicalizes a set of tool calls for the stuck-loop
// comparison. Order and key order are irrelevant.
func callSignature(calls []models.ToolCall) string {
	parts := make([]string, 0, len(calls))
	for _, call := range calls {
		var args map[string]any
		canonical := string(call.Input)
		if err := json.Unmarshal(call.Input, &args); err == nil {
			if b, err := json.Marshal(args); err == nil {
				canonical = string(b)
			}
		}
		parts = append(parts, call.Name+"("+canonical+")")
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

func encodeToolCalls(calls []models.ToolCall) string {
	b, err := json.Marshal(calls)
	if err != nil {
		return ""
	}
	return string(b)
}
