package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quangdm/shopchat/internal/domain"
)

func TestClassifyToolRelatedFailure(t *testing.T) {
	err := Classify(errors.New("400: this model does not support tool use"), true)
	require.True(t, errors.Is(err, ErrToolUseUnsupported))
}

func TestClassifyFunctionRelatedFailure(t *testing.T) {
	err := Classify(errors.New("function calling is not available for this model"), true)
	require.True(t, errors.Is(err, ErrToolUseUnsupported))
}

func TestClassifyProviderFailure(t *testing.T) {
	err := Classify(errors.New("connection refused"), true)
	require.True(t, errors.Is(err, ErrProviderUnavailable))
	require.False(t, errors.Is(err, ErrToolUseUnsupported))
}

func TestClassifyIgnoresToolHintWithoutToolsRequested(t *testing.T) {
	// A context-only call can never be a tool-compatibility failure.
	err := Classify(errors.New("tool server said no"), false)
	require.True(t, errors.Is(err, ErrProviderUnavailable))
}

func TestBuildToolsUsesInputSchema(t *testing.T) {
	tools := buildTools([]domain.ToolDescriptor{
		{
			Name:        "search-products",
			Description: "Search the catalog",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
				},
				"required": []any{"query"},
			},
		},
	})

	require.Len(t, tools, 1)
	assert.Equal(t, "search-products", tools[0].Function.Name)

	params := map[string]any(tools[0].Function.Parameters)
	assert.Equal(t, "object", params["type"])
	assert.NotNil(t, params["properties"])
	assert.NotNil(t, params["required"])
}

func TestBuildMessagesKeepsToolResultAfterCall(t *testing.T) {
	req := Request{
		System: "you are helpful",
		Messages: []Message{
			{Role: domain.RoleUser, Content: "find shoes"},
			{Role: domain.RoleAssistant, ToolCalls: []ToolCall{
				{ID: "call-1", Name: "search-products", Arguments: `{"query":"shoes"}`},
			}},
			{Role: domain.RoleUser, ToolCallID: "call-1", Content: "3 results"},
		},
	}

	messages := buildMessages(req)
	// system + user + assistant tool call + tool result
	require.Len(t, messages, 4)
	require.NotNil(t, messages[2].OfAssistant)
	require.Len(t, messages[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "call-1", messages[2].OfAssistant.ToolCalls[0].ID)
	require.NotNil(t, messages[3].OfTool)
	assert.Equal(t, "call-1", messages[3].OfTool.ToolCallID)
}
