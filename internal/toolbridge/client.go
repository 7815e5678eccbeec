// Package toolbridge provides the HTTP client for the external tool
// server: startup health probe, one-time catalog fetch, and tool calls.
package toolbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quangdm/shopchat/internal/domain"
	"github.com/quangdm/shopchat/internal/metrics"
)

// ToolExecutionError wraps a failed tool invocation. Callers treat it as
// a local failure: it never aborts the surrounding tool-call loop.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// Client talks to the tool server's HTTP surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tools      []domain.ToolDescriptor
}

// New creates a tool bridge client for the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Health probes GET /health. The server must answer 200 before the
// gateway begins serving.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tool server health probe: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tool server health probe: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// FetchTools loads the tool catalog from GET /tools and caches it for the
// process lifetime. Descriptors are immutable once fetched.
func (c *Client) FetchTools(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tools", nil)
	if err != nil {
		return fmt.Errorf("build tools request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch tool catalog: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch tool catalog: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Result struct {
			Tools []domain.ToolDescriptor `json:"tools"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode tool catalog: %w", err)
	}

	c.tools = payload.Result.Tools
	return nil
}

// Tools returns the cached tool catalog.
func (c *Client) Tools() []domain.ToolDescriptor {
	return c.tools
}

// CallTool invokes a named tool via POST /tools/call and normalizes the
// result to a single string.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	body, err := json.Marshal(map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", &ToolExecutionError{Tool: name, Err: fmt.Errorf("marshal arguments: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tools/call", bytes.NewReader(body))
	if err != nil {
		return "", &ToolExecutionError{Tool: name, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		return "", &ToolExecutionError{Tool: name, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		return "", &ToolExecutionError{Tool: name, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		return "", &ToolExecutionError{Tool: name, Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(data), 200))}
	}

	var payload struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		return "", &ToolExecutionError{Tool: name, Err: fmt.Errorf("decode response: %w", err)}
	}

	metrics.ToolCalls.WithLabelValues(name, "ok").Inc()
	return normalizeResult(payload.Result), nil
}

// Close releases idle connections held by the underlying HTTP client.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// normalizeResult flattens a tool result to a single string. Structured
// content arrays are concatenated; everything else is stringified.
func normalizeResult(result json.RawMessage) string {
	if len(result) == 0 {
		return ""
	}

	var wrapper struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(result, &wrapper); err == nil && len(wrapper.Content) > 0 {
		return normalizeContent(wrapper.Content)
	}

	return stringify(result)
}

func normalizeContent(content json.RawMessage) string {
	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		return text
	}

	var items []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(content, &items); err == nil {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if item.Text != "" {
				parts = append(parts, item.Text)
			}
		}
		return strings.Join(parts, "\n")
	}

	return stringify(content)
}

func stringify(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
