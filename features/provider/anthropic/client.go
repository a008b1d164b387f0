// Package anthropic provides a model.Provider implementation backed by the
// Anthropic Claude Messages API. It translates normalized requests into
// anthropic.Message calls using github.com/anthropics/anthropic-sdk-go and
// maps streaming events (text, thinking, tools, usage) into the shared event
// vocabulary.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/infer/runtime/inference/httpclient"
	"goa.design/infer/runtime/inference/model"
	"goa.design/infer/runtime/inference/registry"
	"goa.design/infer/runtime/inference/stream"
)

// ProviderID is the stable driver identifier for this adapter.
const ProviderID = "anthropic"

// apiVersion is the Messages API version header sent on every request.
const apiVersion = "2023-06-01"

// defaultMaxTokens caps completions when a request does not set MaxTokens;
// the Messages API requires an explicit cap.
const defaultMaxTokens = 4096

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by
	// the adapter. It is satisfied by *sdk.MessageService so callers can pass
	// either a real client or a mock in tests.
	MessagesClient interface {
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// Options configures optional adapter behavior.
	Options struct {
		// DefaultModel is the Claude model identifier used when
		// model.Request.Model is empty.
		DefaultModel string

		// MaxTokens sets the default completion cap when a request does not
		// specify MaxTokens. Zero means defaultMaxTokens.
		MaxTokens int
	}

	// Client implements model.Provider on top of Anthropic Claude Messages.
	Client struct {
		msg          MessagesClient
		cfg          *httpclient.Config
		defaultModel string
		maxTok       int
	}
)

// New builds an adapter from the provided Messages client and options. Use
// NewFromConfig unless tests need to inject a mock.
func New(msg MessagesClient, cfg *httpclient.Config, opts Options) (*Client, error) {
	if msg == nil {
		return nil, model.NewConfigError("anthropic: messages client is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = defaultMaxTokens
	}
	return &Client{
		msg:          msg,
		cfg:          cfg,
		defaultModel: opts.DefaultModel,
		maxTok:       maxTok,
	}, nil
}

// NewFromConfig constructs the adapter over a dispatch config. The config
// must carry the composed x-api-key header (see Init).
func NewFromConfig(cfg *httpclient.Config, opts Options) (*Client, error) {
	sdkOpts := []option.RequestOption{
		option.WithHTTPClient(cfg.HTTPClient(nil)),
		option.WithMaxRetries(0), // dispatch owns retries
	}
	if cfg.BaseURL() != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(cfg.BaseURL()))
	}
	ac := sdk.NewClient(sdkOpts...)
	return New(&ac.Messages, cfg, opts)
}

// Init is the registry constructor for the "anthropic" driver.
func Init(dc registry.DriverConfig) (model.Provider, error) {
	if dc.APIKey == "" {
		return nil, model.NewConfigError("anthropic: api_key is required")
	}
	copts := []httpclient.Option{
		httpclient.WithAPIKeyHeader("x-api-key", dc.APIKey),
		httpclient.WithHeader("anthropic-version", apiVersion),
		httpclient.WithErrorDecoder(decodeAPIError),
	}
	if dc.BaseURL != "" {
		copts = append(copts, httpclient.WithBaseURL(dc.BaseURL))
	}
	if dc.Timeout > 0 {
		copts = append(copts, httpclient.WithTimeout(dc.Timeout))
	}
	if dc.MaxRetries != nil {
		copts = append(copts, httpclient.WithMaxRetries(*dc.MaxRetries))
	}
	if beta, ok := dc.StringOption("anthropic_beta"); ok && beta != "" {
		copts = append(copts, httpclient.WithHeader("anthropic-beta", beta))
	}
	return NewFromConfig(httpclient.New(copts...), Options{DefaultModel: dc.DefaultModel})
}

// ProviderID returns the stable driver identifier.
func (c *Client) ProviderID() string { return ProviderID }

// Stream invokes Messages.NewStreaming and adapts incremental events into the
// normalized vocabulary.
func (c *Client) Stream(ctx context.Context, req *model.Request, opts *model.RequestOptions) (model.EventStream, error) {
	params, err := c.encodeRequest(req)
	if err != nil {
		return nil, err
	}
	var callOpts []option.RequestOption
	if opts != nil && c.cfg != nil {
		callOpts = append(callOpts, option.WithHTTPClient(c.cfg.HTTPClient(opts)))
	}
	s := c.msg.NewStreaming(ctx, *params, callOpts...)
	if err := s.Err(); err != nil {
		return nil, wrapError(err)
	}
	return newEventStream(s), nil
}

// Complete derives the non-streaming form from Stream via the assembler.
func (c *Client) Complete(ctx context.Context, req *model.Request, opts *model.RequestOptions) (*model.Result, error) {
	return stream.Complete(ctx, c, req, opts)
}

func (c *Client) encodeRequest(req *model.Request) (*sdk.MessageNewParams, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, model.NewInvalidRequest("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	if modelID == "" {
		return nil, model.NewInvalidRequest("anthropic: model identifier is required")
	}
	if f := req.ResponseFormat; f != nil && f.Kind != model.ResponseFormatText {
		return nil, model.NewInvalidRequest(fmt.Sprintf("anthropic: response format %q is not supported", f.Kind))
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = sdk.Float(*req.TopP)
	}
	return &params, nil
}

func encodeMessages(msgs []model.Message) ([]sdk.MessageParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	for i, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			// The single system prompt travels in Request.System; system-role
			// transcript entries are not re-encoded for Anthropic.
			return nil, model.NewInvalidRequest(fmt.Sprintf("anthropic: message %d: system role belongs in the system prompt", i))
		case model.RoleTool:
			blocks, err := encodeToolResultBlocks(m)
			if err != nil {
				return nil, err
			}
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case model.RoleUser, model.RoleAssistant:
			blocks, err := encodeContentBlocks(m.Content)
			if err != nil {
				return nil, err
			}
			if len(blocks) == 0 {
				continue
			}
			if m.Role == model.RoleUser {
				conversation = append(conversation, sdk.NewUserMessage(blocks...))
			} else {
				conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
			}
		default:
			return nil, model.NewInvalidRequest(fmt.Sprintf("anthropic: unsupported message role %q", m.Role))
		}
	}
	if len(conversation) == 0 {
		return nil, model.NewInvalidRequest("anthropic: at least one user/assistant message is required")
	}
	return conversation, nil
}

func encodeContentBlocks(content []model.Content) ([]sdk.ContentBlockParamUnion, error) {
	blocks := make([]sdk.ContentBlockParamUnion, 0, len(content))
	for _, part := range content {
		switch v := part.(type) {
		case model.TextContent:
			if v.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(v.Text))
			}
		case model.ToolUseContent:
			if v.Name == "" {
				return nil, model.NewInvalidRequest("anthropic: tool_use block missing name")
			}
			blocks = append(blocks, sdk.NewToolUseBlock(v.ID, v.Arguments, v.Name))
		case model.ImageContent:
			block, err := encodeImage(v)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, block)
		case model.ThinkingContent:
			// Thinking blocks are provider-issued and are not re-encoded.
		case model.ToolResultContent:
			blocks = append(blocks, encodeToolResult(v.ToolCallID, v.Content))
		}
	}
	return blocks, nil
}

func encodeToolResultBlocks(m model.Message) ([]sdk.ContentBlockParamUnion, error) {
	if len(m.Content) == 0 {
		return []sdk.ContentBlockParamUnion{encodeToolResult(m.ToolCallID, nil)}, nil
	}
	blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Content))
	for _, part := range m.Content {
		switch v := part.(type) {
		case model.ToolResultContent:
			blocks = append(blocks, encodeToolResult(v.ToolCallID, v.Content))
		case model.TextContent:
			blocks = append(blocks, encodeToolResult(m.ToolCallID, v.Text))
		default:
			return nil, model.NewInvalidRequest("anthropic: tool messages may only carry tool results")
		}
	}
	return blocks, nil
}

func encodeToolResult(toolCallID string, content any) sdk.ContentBlockParamUnion {
	var text string
	switch c := content.(type) {
	case nil:
		text = ""
	case string:
		text = c
	case []byte:
		text = string(c)
	default:
		if data, err := json.Marshal(c); err == nil {
			text = string(data)
		}
	}
	return sdk.NewToolResultBlock(toolCallID, text, false)
}

func encodeImage(v model.ImageContent) (sdk.ContentBlockParamUnion, error) {
	if v.URL != "" {
		return sdk.NewImageBlock(sdk.URLImageSourceParam{URL: v.URL}), nil
	}
	if len(v.Data) == 0 {
		return sdk.ContentBlockParamUnion{}, model.NewInvalidRequest("anthropic: image block requires url or data")
	}
	mediaType := v.MediaType
	if mediaType == "" {
		mediaType = "image/png"
	}
	return sdk.NewImageBlockBase64(mediaType, base64.StdEncoding.EncodeToString(v.Data)), nil
}

func encodeTools(defs []model.Tool) ([]sdk.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	toolList := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema, err := toolInputSchema(def.Parameters)
		if err != nil {
			return nil, model.NewSerializationError(fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err))
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		toolList = append(toolList, u)
	}
	return toolList, nil
}

func toolInputSchema(schema any) (sdk.ToolInputSchemaParam, error) {
	if schema == nil {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var raw json.RawMessage
	switch v := schema.(type) {
	case json.RawMessage:
		raw = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return sdk.ToolInputSchemaParam{}, err
		}
		raw = data
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

// decodeAPIError maps the Messages API error body shape onto the shared
// taxonomy.
func decodeAPIError(status int, body []byte) *model.Error {
	var payload struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error.Message == "" {
		return model.NewAPIError(status, string(body), "")
	}
	return model.NewAPIError(status, payload.Error.Message, payload.Error.Type)
}

// wrapError normalizes SDK and transport failures surfaced while opening a
// stream.
func wrapError(err error) error {
	if e, ok := model.AsError(err); ok {
		return e
	}
	if errors.Is(err, context.Canceled) {
		return model.NewCanceled(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewTimeoutError("anthropic: request deadline exceeded")
	}
	return model.NewHTTPError(err)
}
