package toolexec

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/concierge/internal/cache"
	"github.com/haasonsaas/concierge/internal/observability"
	"github.com/haasonsaas/concierge/internal/storage"
	"github.com/haasonsaas/concierge/internal/workflow"
	"github.com/haasonsaas/concierge/pkg/models"
)

type fakeToolStore struct {
	tools map[string]*models.ToolDefinition
}

func (s *fakeToolStore) GetByName(_ context.Context, _, name string) (*models.ToolDefinition, error) {
	tool, ok := s.tools[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return tool, nil
}

func (s *fakeToolStore) ListEnabled(_ context.Context, _ string) ([]*models.ToolDefinition, error) {
	var out []*models.ToolDefinition
	for _, tool := range s.tools {
		out = append(out, tool)
	}
	return out, nil
}

type fakeInvoker struct {
	mu     sync.Mutex
	calls  atomic.Int32
	result *workflow.Result
	err    error
	delay  time.Duration
	last   map[string]any
	creds  map[string]string
}

func (f *fakeInvoker) Invoke(_ context.Context, _ string, args map[string]any, integrations map[string]string) (*workflow.Result, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.last = args
	f.creds = integrations
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &workflow.Result{Success: true, Message: "done"}, nil
}

func testFixture(invoker workflow.Invoker) (*Coordinator, storage.StoreSet) {
	stores := storage.NewMemoryStores()
	tools := &fakeToolStore{tools: map[string]*models.ToolDefinition{
		"book_table": {
			ClientID:     "client-1",
			Name:         "book_table",
			Description:  "Reserve a table",
			WorkflowPath: "/tools/book",
			Integrations: []string{"crm"},
			Enabled:      true,
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"date": {"type": "string"},
					"people": {"type": "number"}
				},
				"required": ["date"]
			}`),
		},
	}}
	coord := NewCoordinator(tools, stores.Executions, cache.NewMemoryLocker(), invoker,
		observability.NewNopLogger(), nil, Config{LockTTL: time.Minute})
	return coord, stores
}

var (
	testConv   = &models.Conversation{ID: "conv-1", ClientID: "client-1", SessionID: "sess-1"}
	testClient = &models.Client{ID: "client-1", Timezone: "UTC", Credentials: map[string]string{"crm": "key-1"}}
)

func call(input string) models.ToolCall {
	return models.ToolCall{ID: "c1", Name: "book_table", Input: json.RawMessage(input)}
}

func TestExecuteSuccess(t *testing.T) {
	invoker := &fakeInvoker{}
	coord, stores := testFixture(invoker)

	outcome := coord.Execute(context.Background(), call(`{"date":"today","people":"2"}`), testConv, testClient)
	if !outcome.Success || outcome.Blocked || outcome.Duplicate {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.ResultText != "done" {
		t.Errorf("result = %q", outcome.ResultText)
	}

	invoker.mu.Lock()
	defer invoker.mu.Unlock()
	if _, isNumber := invoker.last["people"].(float64); !isNumber {
		t.Errorf("people not coerced to number: %T", invoker.last["people"])
	}
	if date, _ := invoker.last["date"].(string); strings.Contains(date, "today") {
		t.Errorf("date not normalized: %q", date)
	}
	if invoker.creds["crm"] != "key-1" {
		t.Errorf("integrations = %v", invoker.creds)
	}

	execs, _ := stores.Executions.ListSuccessful(context.Background(), "conv-1", "book_table")
	if len(execs) != 1 {
		t.Fatalf("ledger rows = %d", len(execs))
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	coord, _ := testFixture(&fakeInvoker{})
	outcome := coord.Execute(context.Background(),
		models.ToolCall{Name: "nope", Input: json.RawMessage(`{}`)}, testConv, testClient)
	if outcome.Success {
		t.Fatal("unknown tool must fail")
	}
	if !strings.Contains(outcome.ResultText, "does not exist") {
		t.Errorf("result = %q", outcome.ResultText)
	}
}

func TestExecuteValidationBlocked(t *testing.T) {
	invoker := &fakeInvoker{}
	coord, stores := testFixture(invoker)

	outcome := coord.Execute(context.Background(), call(`{}`), testConv, testClient)
	if !outcome.Blocked {
		t.Fatalf("outcome = %+v", outcome)
	}
	if !strings.Contains(outcome.ResultText, "date") {
		t.Errorf("result should name the missing parameter: %q", outcome.ResultText)
	}
	if invoker.calls.Load() != 0 {
		t.Error("blocked call must not reach the workflow engine")
	}

	// The blocked attempt is recorded, just not as a success.
	mem := stores.Executions
	if execs, _ := mem.ListSuccessful(context.Background(), "conv-1", "book_table"); len(execs) != 0 {
		t.Errorf("successful rows = %d", len(execs))
	}
}

func TestExecuteDuplicateDetection(t *testing.T) {
	invoker := &fakeInvoker{}
	coord, _ := testFixture(invoker)
	ctx := context.Background()

	first := coord.Execute(ctx, call(`{"date":"2026-09-01","people":2}`), testConv, testClient)
	if !first.Success {
		t.Fatalf("first = %+v", first)
	}

	// Same arguments, different key order.
	second := coord.Execute(ctx, call(`{"people":2,"date":"2026-09-01"}`), testConv, testClient)
	if !second.Duplicate {
		t.Fatalf("second = %+v", second)
	}
	if !strings.Contains(second.ResultText, "already completed") {
		t.Errorf("result = %q", second.ResultText)
	}
	if invoker.calls.Load() != 1 {
		t.Errorf("external calls = %d, want 1", invoker.calls.Load())
	}

	// Different arguments execute normally.
	third := coord.Execute(ctx, call(`{"date":"2026-09-02"}`), testConv, testClient)
	if !third.Success || third.Duplicate {
		t.Fatalf("third = %+v", third)
	}
	if invoker.calls.Load() != 2 {
		t.Errorf("external calls = %d, want 2", invoker.calls.Load())
	}
}

func TestExecuteConcurrentSingleFlight(t *testing.T) {
	invoker := &fakeInvoker{delay: 50 * time.Millisecond}
	coord, _ := testFixture(invoker)
	ctx := context.Background()

	const attempts = 8
	outcomes := make([]*Outcome, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = coord.Execute(ctx, call(`{"date":"2026-09-01","people":2}`), testConv, testClient)
		}(i)
	}
	wg.Wait()

	if invoker.calls.Load() != 1 {
		t.Fatalf("external calls = %d, want exactly 1", invoker.calls.Load())
	}
	var succeeded, contendedOrDup int
	for _, o := range outcomes {
		switch {
		case o.Success && !o.Duplicate:
			succeeded++
		case o.Contended || o.Duplicate:
			contendedOrDup++
		default:
			t.Errorf("unexpected outcome %+v", o)
		}
	}
	if succeeded != 1 || contendedOrDup != attempts-1 {
		t.Errorf("succeeded = %d contended/duplicate = %d", succeeded, contendedOrDup)
	}
}

func TestExecuteMissingIntegration(t *testing.T) {
	invoker := &fakeInvoker{}
	coord, _ := testFixture(invoker)

	bare := &models.Client{ID: "client-1", Credentials: map[string]string{}}
	outcome := coord.Execute(context.Background(), call(`{"date":"2026-09-01"}`), testConv, bare)
	if outcome.Success {
		t.Fatal("missing integration must fail")
	}
	if !strings.Contains(outcome.ResultText, "crm") {
		t.Errorf("result = %q", outcome.ResultText)
	}
	if invoker.calls.Load() != 0 {
		t.Error("no external call without credentials")
	}
}

func TestExecuteWorkflowBlocked(t *testing.T) {
	invoker := &fakeInvoker{result: &workflow.Result{Blocked: true, Message: "placeholder email detected"}}
	coord, _ := testFixture(invoker)

	outcome := coord.Execute(context.Background(), call(`{"date":"2026-09-01"}`), testConv, testClient)
	if !outcome.Blocked || outcome.Success {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.ResultText != "placeholder email detected" {
		t.Errorf("result = %q", outcome.ResultText)
	}
}

func TestExecuteWorkflowFailureNotDuplicate(t *testing.T) {
	invoker := &fakeInvoker{result: &workflow.Result{Success: false, Message: "no availability"}}
	coord, _ := testFixture(invoker)
	ctx := context.Background()

	first := coord.Execute(ctx, call(`{"date":"2026-09-01"}`), testConv, testClient)
	if first.Success {
		t.Fatalf("first = %+v", first)
	}

	// Failed attempts never feed the duplicate ledger; retries execute.
	invoker.result = &workflow.Result{Success: true, Message: "booked"}
	second := coord.Execute(ctx, call(`{"date":"2026-09-01"}`), testConv, testClient)
	if !second.Success || second.Duplicate {
		t.Fatalf("second = %+v", second)
	}
	if invoker.calls.Load() != 2 {
		t.Errorf("calls = %d", invoker.calls.Load())
	}
}
