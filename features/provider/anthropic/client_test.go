package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/require"

	"goa.design/infer/runtime/inference/model"
	"goa.design/infer/runtime/inference/registry"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	stream     *ssestream.Stream[sdk.MessageStreamEventUnion]
}

func (s *stubMessagesClient) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.lastParams = body
	if s.stream == nil {
		s.stream = ssestream.NewStream[sdk.MessageStreamEventUnion](&testDecoder{}, nil)
	}
	return s.stream
}

func newTestClient(t *testing.T) (*Client, *stubMessagesClient) {
	t.Helper()
	stub := &stubMessagesClient{}
	c, err := New(stub, nil, Options{DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)
	return c, stub
}

func TestStreamEncodesRequest(t *testing.T) {
	c, stub := newTestClient(t)
	temp := 0.2
	req := &model.Request{
		System:      "Be terse.",
		MaxTokens:   256,
		Temperature: &temp,
		Messages: []model.Message{
			{Role: model.RoleUser, Content: []model.Content{model.TextContent{Text: "weather in NYC?"}}},
		},
		Tools: []model.Tool{{
			Name:        "get_weather",
			Description: "Look up current weather",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"city": map[string]any{"type": "string"}},
			},
		}},
	}

	es, err := c.Stream(context.Background(), req, nil)
	require.NoError(t, err)
	defer es.Close()

	params := stub.lastParams
	require.Equal(t, sdk.Model("claude-sonnet-4-5"), params.Model)
	require.Equal(t, int64(256), params.MaxTokens)
	require.Len(t, params.System, 1)
	require.Equal(t, "Be terse.", params.System[0].Text)
	require.Len(t, params.Messages, 1)
	require.Len(t, params.Tools, 1)
	require.True(t, params.Temperature.Valid())
	require.InDelta(t, 0.2, params.Temperature.Value, 1e-9)
}

func TestStreamRequiresMessages(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Stream(context.Background(), &model.Request{}, nil)
	e, ok := model.AsError(err)
	require.True(t, ok)
	require.Equal(t, model.ErrorKindInvalidRequest, e.Kind())
}

func TestStreamRequiresModelID(t *testing.T) {
	stub := &stubMessagesClient{}
	c, err := New(stub, nil, Options{})
	require.NoError(t, err)
	_, err = c.Stream(context.Background(), &model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: []model.Content{model.TextContent{Text: "hi"}}}},
	}, nil)
	require.Error(t, err)
}

func TestStreamRejectsResponseFormat(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Stream(context.Background(), &model.Request{
		Messages:       []model.Message{{Role: model.RoleUser, Content: []model.Content{model.TextContent{Text: "hi"}}}},
		ResponseFormat: &model.ResponseFormat{Kind: model.ResponseFormatJSONObject},
	}, nil)
	e, ok := model.AsError(err)
	require.True(t, ok)
	require.Equal(t, model.ErrorKindInvalidRequest, e.Kind())
}

func TestToolResultsBecomeUserMessages(t *testing.T) {
	c, stub := newTestClient(t)
	req := &model.Request{
		Messages: []model.Message{
			{Role: model.RoleUser, Content: []model.Content{model.TextContent{Text: "weather?"}}},
			{Role: model.RoleAssistant, Content: []model.Content{
				model.ToolUseContent{ID: "toolu_1", Name: "get_weather", Arguments: map[string]any{"city": "NYC"}},
			}},
			{Role: model.RoleTool, ToolCallID: "toolu_1", Content: []model.Content{
				model.ToolResultContent{ToolCallID: "toolu_1", Content: `{"temp": 71}`},
			}},
		},
	}
	es, err := c.Stream(context.Background(), req, nil)
	require.NoError(t, err)
	defer es.Close()

	require.Len(t, stub.lastParams.Messages, 3)
	require.Equal(t, "assistant", string(stub.lastParams.Messages[1].Role))
	require.Equal(t, "user", string(stub.lastParams.Messages[2].Role))
}

func TestProviderID(t *testing.T) {
	c, _ := newTestClient(t)
	require.Equal(t, "anthropic", c.ProviderID())
}

func TestInitRequiresAPIKey(t *testing.T) {
	_, err := Init(registry.DriverConfig{})
	e, ok := model.AsError(err)
	require.True(t, ok)
	require.Equal(t, model.ErrorKindConfig, e.Kind())
}

func TestInitBuildsProvider(t *testing.T) {
	p, err := Init(registry.DriverConfig{
		APIKey:       "sk-ant-test",
		DefaultModel: "claude-sonnet-4-5",
		Options:      map[string]any{"anthropic_beta": "prompt-caching-2024-07-31"},
	})
	require.NoError(t, err)
	require.Equal(t, "anthropic", p.ProviderID())
}

func TestDecodeAPIError(t *testing.T) {
	e := decodeAPIError(429, []byte(`{"error":{"type":"rate_limit_error","message":"Too many requests"}}`))
	require.Equal(t, 429, e.Status())
	require.Equal(t, "rate_limit_error", e.ProviderCode())
	require.True(t, e.Retryable())

	e = decodeAPIError(500, []byte(`not json`))
	require.Equal(t, 500, e.Status())
	require.Empty(t, e.ProviderCode())
}
