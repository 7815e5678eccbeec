// Package llm wraps the OpenAI-compatible chat completion API behind a
// small request/result surface with a typed error hierarchy, so the
// orchestrator's degradation ladder can dispatch on error kind instead
// of provider error text.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/quangdm/shopchat/internal/domain"
	"github.com/quangdm/shopchat/internal/metrics"
)

var (
	// ErrToolUseUnsupported signals that the selected model rejected a
	// tool-enabled completion. The caller should retry context-only.
	ErrToolUseUnsupported = errors.New("model does not support tool use")

	// ErrProviderUnavailable signals a provider or network failure on a
	// completion call.
	ErrProviderUnavailable = errors.New("completion provider unavailable")
)

// ToolCall is a model-issued request to invoke a tool with raw JSON
// arguments.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Message is one entry in a completion request.
type Message struct {
	Role       domain.Role
	Content    string
	ToolCallID string     // set on tool-result messages
	ToolCalls  []ToolCall // set on assistant tool-call messages
}

// Request describes a single completion call.
type Request struct {
	System   string
	Messages []Message
	Tools    []domain.ToolDescriptor
}

// Result is the outcome of a completion call.
type Result struct {
	Text      string
	ToolCalls []ToolCall
}

// ChatModel is the completion surface consumed by the orchestrator.
type ChatModel interface {
	Complete(ctx context.Context, req Request) (*Result, error)
}

// Options configure the completion client.
type Options struct {
	APIKey              string
	BaseURL             string
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Client implements ChatModel on the OpenAI Chat Completions API.
type Client struct {
	client openai.Client
	opts   Options
}

// NewClient creates a completion client from the given options.
func NewClient(opts Options) *Client {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &Client{
		client: openai.NewClient(reqOpts...),
		opts:   opts,
	}
}

// Complete issues one non-streaming chat completion with bounded output
// and fixed temperature.
func (c *Client) Complete(ctx context.Context, req Request) (*Result, error) {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               c.opts.Model,
		Temperature:         openai.Float(c.opts.Temperature),
		MaxCompletionTokens: openai.Int(c.opts.MaxCompletionTokens),
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		metrics.LLMRequests.WithLabelValues("error").Inc()
		return nil, Classify(err, len(req.Tools) > 0)
	}
	if len(resp.Choices) == 0 {
		metrics.LLMRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: no choices returned", ErrProviderUnavailable)
	}

	metrics.LLMRequests.WithLabelValues("ok").Inc()

	choice := resp.Choices[0]
	result := &Result{Text: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

// buildMessages converts the normalized request into SDK message params,
// keeping each tool result adjacent to the assistant call that issued it.
func buildMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch {
		case m.Role == domain.RoleAssistant && len(m.ToolCalls) > 0:
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				},
			})
		case m.ToolCallID != "":
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallID))
		case m.Role == domain.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case m.Role == domain.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return messages
}

// buildTools converts cached descriptors into the SDK tool-schema shape:
// object type with properties and required taken from the input schema.
func buildTools(descriptors []domain.ToolDescriptor) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, len(descriptors))
	for i, d := range descriptors {
		params := openai.FunctionParameters{"type": "object"}
		if props, ok := d.InputSchema["properties"]; ok {
			params["properties"] = props
		}
		if required, ok := d.InputSchema["required"]; ok {
			params["required"] = required
		}
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  params,
			},
		}
	}
	return tools
}

// Classify maps a provider error onto the typed hierarchy. A tool-enabled
// call whose failure mentions tool or function use is treated as
// ErrToolUseUnsupported; everything else is ErrProviderUnavailable.
//
// The substring check can misclassify unrelated failures that happen to
// mention tools; the cost is a harmless extra context-only retry.
func Classify(err error, toolsRequested bool) error {
	message := err.Error()
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		message = apiErr.Message
	}

	if toolsRequested {
		lower := strings.ToLower(message)
		if strings.Contains(lower, "tool") || strings.Contains(lower, "function") {
			return fmt.Errorf("%w: %s", ErrToolUseUnsupported, message)
		}
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
