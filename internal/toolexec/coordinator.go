// Package toolexec validates, deduplicates, and executes tool calls
// against the external workflow engine. Two independent mechanisms keep
// execution at-most-once: a TTL-bounded single-flight lock closes the
// race between concurrent attempts, and the durable execution ledger
// suppresses re-execution of identical successful calls after the lock
// is gone.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/concierge/internal/cache"
	"github.com/haasonsaas/concierge/internal/datetime"
	"github.com/haasonsaas/concierge/internal/observability"
	"github.com/haasonsaas/concierge/internal/storage"
	"github.com/haasonsaas/concierge/internal/workflow"
	"github.com/haasonsaas/concierge/pkg/models"
)

// Outcome is the result of one tool-call attempt. ResultText is the
// tool-result message content handed back to the model; exactly one is
// produced on every path.
type Outcome struct {
	Success         bool
	Name            string
	ExecutionTimeMs int64
	Blocked         bool
	Duplicate       bool
	Contended       bool
	Error           string
	ResultText      string
}

// Config tunes the coordinator.
type Config struct {
	LockTTL        time.Duration
	MaxResultChars int
}

// Coordinator runs the execution pipeline for one tool call.
type Coordinator struct {
	tools   storage.ToolStore
	execs   storage.ExecutionStore
	locker  cache.Locker
	invoker workflow.Invoker
	logger  *observability.Logger
	metrics *observability.Metrics
	config  Config
	now     func() time.Time
}

func NewCoordinator(
	tools storage.ToolStore,
	execs storage.ExecutionStore,
	locker cache.Locker,
	invoker workflow.Invoker,
	logger *observability.Logger,
	metrics *observability.Metrics,
	config Config,
) *Coordinator {
	if config.LockTTL <= 0 {
		config.LockTTL = 60 * time.Second
	}
	if config.MaxResultChars <= 0 {
		config.MaxResultChars = defaultMaxResultChars
	}
	return &Coordinator{
		tools:   tools,
		execs:   execs,
		locker:  locker,
		invoker: invoker,
		logger:  logger,
		metrics: metrics,
		config:  config,
		now:     time.Now,
	}
}

// Execute runs the full pipeline: resolve, validate, normalize, lock,
// dedup, credentials, invoke, shape. Exactly one ToolExecution record is
// written for every attempt except lock contention, where the in-flight
// attempt owns the record.
func (c *Coordinator) Execute(ctx context.Context, call models.ToolCall, conv *models.Conversation, client *models.Client) *Outcome {
	started := c.now()
	outcome := &Outcome{Name: call.Name}

	defer func() {
		outcome.ExecutionTimeMs = c.now().Sub(started).Milliseconds()
		c.observe(outcome)
	}()

	// 1. Resolution.
	tool, err := c.tools.GetByName(ctx, conv.ClientID, call.Name)
	if err != nil {
		if err == storage.ErrNotFound {
			outcome.Error = fmt.Sprintf("unknown tool %q", call.Name)
			outcome.ResultText = fmt.Sprintf("The tool %q does not exist. Use only the tools you were given.", call.Name)
			c.record(ctx, conv.ID, call.Name, call.Input, nil, started, models.ExecutionFailed, outcome.Error)
			return outcome
		}
		outcome.Error = fmt.Sprintf("tool lookup failed: %v", err)
		outcome.ResultText = "Tool lookup failed. Try again."
		return outcome
	}

	rawArgs := map[string]any{}
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &rawArgs); err != nil {
			verr := &ValidationError{Invalid: []string{"arguments are not a JSON object"}}
			outcome.Blocked = true
			outcome.Error = verr.Error()
			outcome.ResultText = verr.Instruction()
			c.record(ctx, conv.ID, call.Name, call.Input, nil, started, models.ExecutionBlocked, outcome.Error)
			return outcome
		}
	}

	// 2. Schema validation with loose-type coercion.
	coerced, verr := validateArgs(tool.Schema, rawArgs)
	if verr != nil {
		outcome.Blocked = true
		outcome.Error = verr.Error()
		outcome.ResultText = verr.Instruction()
		c.record(ctx, conv.ID, call.Name, mustJSON(coerced), nil, started, models.ExecutionBlocked, outcome.Error)
		return outcome
	}

	// 3. Normalization in the tenant's timezone.
	loc := datetime.ResolveTimezone(client.Timezone)
	args := normalizeArgs(coerced, loc, c.now())
	canonical := mustJSON(args)

	// 4. Single-flight lock.
	lockKey := cache.ExecutionLockKey(conv.ID, call.Name, canonical)
	acquired, release, err := c.locker.Acquire(ctx, lockKey, c.config.LockTTL)
	if err != nil {
		outcome.Error = fmt.Sprintf("lock acquire failed: %v", err)
		outcome.ResultText = "Could not start the tool right now. Try again."
		return outcome
	}
	if !acquired {
		outcome.Contended = true
		outcome.ResultText = fmt.Sprintf("The %s request is already in progress. Wait for it to finish instead of calling again.", call.Name)
		return outcome
	}
	defer release()

	// 5. Duplicate detection against the durable ledger.
	if c.isDuplicate(ctx, conv.ID, call.Name, canonical) {
		outcome.Duplicate = true
		outcome.Success = true
		outcome.ResultText = fmt.Sprintf("The %s request with these exact details was already completed in this conversation. Do not repeat it; tell the user it is done.", call.Name)
		c.record(ctx, conv.ID, call.Name, canonical, nil, started, models.ExecutionDuplicate, "")
		return outcome
	}

	// 6. Credential assembly.
	integrations, missing := resolveIntegrations(tool.Integrations, client.Credentials)
	if missing != "" {
		outcome.Error = fmt.Sprintf("integration %q is not configured for this client", missing)
		outcome.ResultText = fmt.Sprintf("The %s tool is not fully configured (missing %s credentials). Tell the user this action is temporarily unavailable.", call.Name, missing)
		c.record(ctx, conv.ID, call.Name, canonical, nil, started, models.ExecutionFailed, outcome.Error)
		return outcome
	}

	// 7. External invocation.
	result, err := c.invoker.Invoke(ctx, tool.WorkflowPath, args, integrations)
	if err != nil {
		outcome.Error = err.Error()
		outcome.ResultText = fmt.Sprintf("The %s tool failed: %v. Apologize and offer to try again or take the request manually.", call.Name, err)
		c.record(ctx, conv.ID, call.Name, canonical, nil, started, models.ExecutionFailed, outcome.Error)
		return outcome
	}

	// 8. Result shaping.
	outcome.ResultText = shapeResult(result.Payload, result.Message, c.config.MaxResultChars)

	switch {
	case result.Blocked:
		outcome.Blocked = true
		outcome.Error = "workflow rejected the submitted data"
		if outcome.ResultText == "" {
			outcome.ResultText = "The tool rejected the submitted data as invalid or placeholder values. Ask the user for the real details."
		}
		c.record(ctx, conv.ID, call.Name, canonical, result.Payload, started, models.ExecutionBlocked, outcome.Error)
	case !result.Success:
		outcome.Error = result.Message
		if outcome.ResultText == "" {
			outcome.ResultText = fmt.Sprintf("The %s tool reported a failure.", call.Name)
		}
		c.record(ctx, conv.ID, call.Name, canonical, result.Payload, started, models.ExecutionFailed, outcome.Error)
	default:
		outcome.Success = true
		if outcome.ResultText == "" {
			outcome.ResultText = "Done."
		}
		c.record(ctx, conv.ID, call.Name, canonical, result.Payload, started, models.ExecutionSuccess, "")
	}
	return outcome
	// 9. Lock release happens in the deferred release on every path.
}

// isDuplicate reports whether a prior successful execution in this
// conversation used structurally equal arguments. Key order never
// matters: both sides compare in canonical form.
func (c *Coordinator) isDuplicate(ctx context.Context, conversationID, tool string, canonical []byte) bool {
	prior, err := c.execs.ListSuccessful(ctx, conversationID, tool)
	if err != nil {
		c.logger.Warn(ctx, "duplicate check failed, allowing execution", "tool", tool, "error", err)
		return false
	}
	for _, exec := range prior {
		if structurallyEqual(exec.Input, canonical) {
			return true
		}
	}
	return false
}

func structurallyEqual(stored json.RawMessage, canonical []byte) bool {
	var decoded map[string]any
	if err := json.Unmarshal(stored, &decoded); err != nil {
		return false
	}
	return string(mustJSON(decoded)) == string(canonical)
}

func resolveIntegrations(required []string, credentials map[string]string) (map[string]string, string) {
	if len(required) == 0 {
		return nil, ""
	}
	out := make(map[string]string, len(required))
	for _, name := range required {
		secret, ok := credentials[name]
		if !ok || secret == "" {
			return nil, name
		}
		out[name] = secret
	}
	return out, ""
}

func (c *Coordinator) record(ctx context.Context, conversationID, tool string, input, output json.RawMessage, started time.Time, status models.ExecutionStatus, errText string) {
	exec := &models.ToolExecution{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Tool:           tool,
		Input:          input,
		Output:         output,
		Success:        status == models.ExecutionSuccess,
		Status:         status,
		DurationMs:     c.now().Sub(started).Milliseconds(),
		Error:          errText,
		CreatedAt:      c.now(),
	}
	if err := c.execs.Create(ctx, exec); err != nil {
		c.logger.Error(ctx, "failed to record tool execution", "tool", tool, "status", status, "error", err)
	}
}

func (c *Coordinator) observe(outcome *Outcome) {
	if c.metrics == nil {
		return
	}
	status := "failed"
	switch {
	case outcome.Contended:
		status = "contended"
	case outcome.Duplicate:
		status = "duplicate"
	case outcome.Blocked:
		status = "blocked"
	case outcome.Success:
		status = "success"
	}
	c.metrics.RecordToolExecution(outcome.Name, status, float64(outcome.ExecutionTimeMs)/1000)
	if outcome.Contended {
		c.metrics.RecordLockContention()
	}
}

// mustJSON marshals a map to canonical JSON. Map keys marshal in sorted
// order, so structurally equal argument sets produce identical bytes.
func mustJSON(m map[string]any) json.RawMessage {
	out, err := json.Marshal(m)
	if err != nil {
		return json.RawMessage("{}")
	}
	return out
}
