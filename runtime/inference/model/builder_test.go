package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func weatherSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"city": map[string]any{"type": "string"},
		},
		"required": []any{"city"},
	}
}

func TestBuildMinimalRequest(t *testing.T) {
	req, err := NewRequest("gpt-4o").WithUserText("hi").Build()
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", req.Model)
	require.Len(t, req.Messages, 1)
}

func TestBuildRequiresModel(t *testing.T) {
	_, err := NewRequest("").WithUserText("hi").Build()
	e, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, ErrorKindInvalidRequest, e.Kind())
}

func TestBuildRequiresMessages(t *testing.T) {
	_, err := NewRequest("gpt-4o").Build()
	e, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, ErrorKindInvalidRequest, e.Kind())
}

func TestBuildToolMessageRules(t *testing.T) {
	_, err := NewRequest("m").WithMessage(Message{
		Role:    RoleTool,
		Content: []Content{TextContent{Text: "result"}},
	}).Build()
	e, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, ErrorKindInvalidRequest, e.Kind())

	_, err = NewRequest("m").WithMessage(Message{
		Role:       RoleUser,
		Content:    []Content{TextContent{Text: "hi"}},
		ToolCallID: "t1",
	}).Build()
	require.Error(t, err)

	_, err = NewRequest("m").WithMessage(Message{
		Role:       RoleTool,
		Content:    []Content{ToolResultContent{ToolCallID: "t1", Content: "ok"}},
		ToolCallID: "t1",
	}).Build()
	require.NoError(t, err)
}

func TestBuildRejectsDuplicateToolNames(t *testing.T) {
	_, err := NewRequest("m").
		WithUserText("hi").
		WithTool(Tool{Name: "get_weather", Parameters: weatherSchema()}).
		WithTool(Tool{Name: "get_weather", Parameters: weatherSchema()}).
		Build()
	e, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, ErrorKindInvalidRequest, e.Kind())
	require.Contains(t, e.Message(), "get_weather")
}

func TestBuildRejectsInvalidToolSchema(t *testing.T) {
	_, err := NewRequest("m").
		WithUserText("hi").
		WithTool(Tool{Name: "bad", Parameters: map[string]any{"type": 42}}).
		Build()
	e, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, ErrorKindInvalidRequest, e.Kind())
}

func TestBuildJSONSchemaResponseFormat(t *testing.T) {
	_, err := NewRequest("m").WithUserText("hi").
		WithResponseFormat(ResponseFormat{Kind: ResponseFormatJSONSchema}).
		Build()
	require.Error(t, err)

	_, err = NewRequest("m").WithUserText("hi").
		WithResponseFormat(ResponseFormat{
			Kind: ResponseFormatJSONSchema,
			Name: "weather",
		}).
		Build()
	require.Error(t, err)

	req, err := NewRequest("m").WithUserText("hi").
		WithResponseFormat(ResponseFormat{
			Kind:   ResponseFormatJSONSchema,
			Name:   "weather",
			Schema: weatherSchema(),
			Strict: true,
		}).
		Build()
	require.NoError(t, err)
	require.Equal(t, ResponseFormatJSONSchema, req.ResponseFormat.Kind)
}

func TestResultText(t *testing.T) {
	r := &Result{Content: []Content{
		TextContent{Text: "Hello"},
		ThinkingContent{Text: "hmm"},
		TextContent{Text: ", world"},
		ToolUseContent{ID: "t1", Name: "f", Arguments: map[string]any{}},
	}}
	require.Equal(t, "Hello, world", r.Text())
	require.Len(t, r.ToolUses(), 1)
}

func TestNormalizeStopReason(t *testing.T) {
	require.Equal(t, StopReasonEndTurn, NormalizeStopReason("end_turn"))
	require.Equal(t, StopReasonEndTurn, NormalizeStopReason("stop"))
	require.Equal(t, StopReasonMaxTokens, NormalizeStopReason("length"))
	require.Equal(t, StopReasonMaxTokens, NormalizeStopReason("max_tokens"))
	require.Equal(t, StopReasonStopSequence, NormalizeStopReason("stop_sequence"))
	require.Equal(t, StopReasonToolUse, NormalizeStopReason("tool_calls"))
	require.Equal(t, StopReasonToolUse, NormalizeStopReason("tool_use"))
	require.Equal(t, StopReason("content_filter"), NormalizeStopReason("content_filter"))
}

func TestRequestOptionsBuilders(t *testing.T) {
	opts := NewRequestOptions().
		WithTimeout(0).
		WithMaxRetries(5).
		WithHeaders(map[string]string{"X-Trace": "abc"}).
		WithProxy("http://127.0.0.1:8080")
	require.NotNil(t, opts.MaxRetries)
	require.Equal(t, 5, *opts.MaxRetries)
	require.Equal(t, "abc", opts.ExtraHeaders["X-Trace"])
	require.Equal(t, "http://127.0.0.1:8080", opts.Proxy)
}
