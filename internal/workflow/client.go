// Package workflow calls the external workflow engine that actually
// performs tool actions. One POST per invocation; the engine responds
// with an arbitrary JSON or text payload.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/concierge/internal/observability"
	"github.com/haasonsaas/concierge/internal/retry"
)

// Result is the engine's classified outcome. Blocked means the engine
// itself rejected the data (placeholder or invalid values) rather than
// failing to run.
type Result struct {
	Success bool
	Blocked bool
	Payload json.RawMessage
	Message string
}

// Invoker is the coordinator-facing interface.
type Invoker interface {
	Invoke(ctx context.Context, path string, args map[string]any, integrations map[string]string) (*Result, error)
}

// ClientConfig configures the HTTP client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Client is the HTTP implementation of Invoker. Failed calls are retried
// once; the engine is expected to be idempotent per request body within
// the lock window.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *observability.Logger
}

func NewClient(cfg ClientConfig, logger *observability.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Invoke posts the normalized arguments to the tool's workflow path.
// Integration credentials travel under the reserved `_integrations` key.
func (c *Client) Invoke(ctx context.Context, path string, args map[string]any, integrations map[string]string) (*Result, error) {
	endpoint, err := c.resolve(path)
	if err != nil {
		return nil, err
	}

	body := make(map[string]any, len(args)+1)
	for k, v := range args {
		body[k] = v
	}
	if len(integrations) > 0 {
		body["_integrations"] = integrations
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow request: %w", err)
	}

	var result *Result
	err = retry.Do(ctx, retry.Single(500*time.Millisecond), func() error {
		var callErr error
		result, callErr = c.post(ctx, endpoint, payload)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build workflow request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("workflow call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read workflow response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return classify(raw), nil
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// The engine rejected the data itself, not the call.
		result := classify(raw)
		result.Success = false
		result.Blocked = true
		return result, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("workflow returned %d", resp.StatusCode)
	default:
		return nil, retry.Permanent(fmt.Errorf("workflow returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}
}

// classify inspects the payload for engine-level blocked/failure markers
// that arrive with a 2xx status.
func classify(raw []byte) *Result {
	result := &Result{Success: true, Payload: json.RawMessage(raw)}

	var envelope struct {
		Success *bool  `json:"success"`
		Blocked bool   `json:"blocked"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		// Plain-text payloads are fine.
		result.Message = strings.TrimSpace(string(raw))
		return result
	}

	result.Message = envelope.Message
	if envelope.Blocked {
		result.Success = false
		result.Blocked = true
	}
	if envelope.Success != nil && !*envelope.Success {
		result.Success = false
		if envelope.Error != "" && result.Message == "" {
			result.Message = envelope.Error
		}
	}
	return result
}

// resolve accepts either a full URL or a path relative to the base.
func (c *Client) resolve(path string) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		if _, err := url.Parse(path); err != nil {
			return "", fmt.Errorf("invalid workflow url %q: %w", path, err)
		}
		return path, nil
	}
	if c.baseURL == "" {
		return "", fmt.Errorf("relative workflow path %q with no base url configured", path)
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/"), nil
}
