// Package openai provides a model.Provider implementation backed by the
// OpenAI Chat Completions API. It translates normalized requests into
// streaming ChatCompletion calls using github.com/openai/openai-go and maps
// chunk deltas back into the shared event vocabulary.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/openai/openai-go/v2/packages/ssestream"
	"github.com/openai/openai-go/v2/shared"
	"github.com/openai/openai-go/v2/shared/constant"

	"goa.design/infer/runtime/inference/httpclient"
	"goa.design/infer/runtime/inference/model"
	"goa.design/infer/runtime/inference/registry"
	"goa.design/infer/runtime/inference/stream"
)

// ProviderID is the stable driver identifier for this adapter.
const ProviderID = "openai"

type (
	// ChatClient captures the subset of the openai-go client used by the
	// adapter. It is satisfied by the SDK's chat completion service so tests
	// can substitute a fake stream.
	ChatClient interface {
		NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
	}

	// Options configures optional adapter behavior.
	Options struct {
		// DefaultModel is the model identifier used when
		// model.Request.Model is empty.
		DefaultModel string
	}

	// Client implements model.Provider via OpenAI Chat Completions.
	Client struct {
		chat         ChatClient
		cfg          *httpclient.Config
		defaultModel string
	}
)

// New builds an adapter from the provided chat client and options. Use
// NewFromConfig unless tests need to inject a fake.
func New(chat ChatClient, cfg *httpclient.Config, opts Options) (*Client, error) {
	if chat == nil {
		return nil, model.NewConfigError("openai: chat client is required")
	}
	return &Client{chat: chat, cfg: cfg, defaultModel: opts.DefaultModel}, nil
}

// NewFromConfig constructs the adapter over a dispatch config. The config
// must carry the composed Authorization header (see Init).
func NewFromConfig(cfg *httpclient.Config, opts Options) (*Client, error) {
	sdkOpts := []option.RequestOption{
		option.WithHTTPClient(cfg.HTTPClient(nil)),
		option.WithMaxRetries(0), // dispatch owns retries
	}
	if cfg.BaseURL() != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(cfg.BaseURL()))
	}
	oc := sdk.NewClient(sdkOpts...)
	return New(&oc.Chat.Completions, cfg, opts)
}

// Init is the registry constructor for the "openai" driver.
func Init(dc registry.DriverConfig) (model.Provider, error) {
	if dc.APIKey == "" {
		return nil, model.NewConfigError("openai: api_key is required")
	}
	copts := []httpclient.Option{
		httpclient.WithBearerToken(dc.APIKey),
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
	if org, ok := dc.StringOption("organization"); ok && org != "" {
		copts = append(copts, httpclient.WithHeader("OpenAI-Organization", org))
	}
	return NewFromConfig(httpclient.New(copts...), Options{DefaultModel: dc.DefaultModel})
}

// ProviderID returns the stable driver identifier.
func (c *Client) ProviderID() string { return ProviderID }

// Stream opens a Chat Completions stream and adapts chunk deltas into the
// normalized vocabulary. Usage reporting is always requested so MessageEnd
// can carry token counts.
func (c *Client) Stream(ctx context.Context, req *model.Request, opts *model.RequestOptions) (model.EventStream, error) {
	params, err := c.encodeRequest(req)
	if err != nil {
		return nil, err
	}
	var callOpts []option.RequestOption
	if opts != nil && c.cfg != nil {
		callOpts = append(callOpts, option.WithHTTPClient(c.cfg.HTTPClient(opts)))
	}
	s := c.chat.NewStreaming(ctx, *params, callOpts...)
	if err := s.Err(); err != nil {
		return nil, wrapError(err)
	}
	return newEventStream(s), nil
}

// Complete derives the non-streaming form from Stream via the assembler.
func (c *Client) Complete(ctx context.Context, req *model.Request, opts *model.RequestOptions) (*model.Result, error) {
	return stream.Complete(ctx, c, req, opts)
}

func (c *Client) encodeRequest(req *model.Request) (*sdk.ChatCompletionNewParams, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, model.NewInvalidRequest("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	if modelID == "" {
		return nil, model.NewInvalidRequest("openai: model identifier is required")
	}
	messages, err := encodeMessages(req)
	if err != nil {
		return nil, err
	}
	params := sdk.ChatCompletionNewParams{
		Messages: messages,
		Model:    shared.ChatModel(modelID),
		StreamOptions: sdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: sdk.Bool(true),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = sdk.Float(*req.TopP)
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}
	if req.ResponseFormat != nil {
		rf, err := encodeResponseFormat(req.ResponseFormat)
		if err != nil {
			return nil, err
		}
		params.ResponseFormat = rf
	}
	return &params, nil
}

func encodeMessages(req *model.Request) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, sdk.SystemMessage(req.System))
	}
	for i, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, sdk.SystemMessage(textOf(m.Content)))
		case model.RoleUser:
			parts, err := encodeUserParts(m.Content)
			if err != nil {
				return nil, err
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{
				OfUser: &sdk.ChatCompletionUserMessageParam{
					Content: sdk.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: parts,
					},
				},
			})
		case model.RoleAssistant:
			msg, err := encodeAssistant(m.Content)
			if err != nil {
				return nil, err
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: msg})
		case model.RoleTool:
			out = append(out, sdk.ChatCompletionMessageParamUnion{
				OfTool: &sdk.ChatCompletionToolMessageParam{
					ToolCallID: m.ToolCallID,
					Content: sdk.ChatCompletionToolMessageParamContentUnion{
						OfString: param.NewOpt(textOf(m.Content)),
					},
				},
			})
		default:
			return nil, model.NewInvalidRequest(fmt.Sprintf("openai: message %d: unsupported role %q", i, m.Role))
		}
	}
	return out, nil
}

func encodeUserParts(content []model.Content) ([]sdk.ChatCompletionContentPartUnionParam, error) {
	parts := make([]sdk.ChatCompletionContentPartUnionParam, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case model.TextContent:
			parts = append(parts, sdk.ChatCompletionContentPartUnionParam{
				OfText: &sdk.ChatCompletionContentPartTextParam{Text: v.Text},
			})
		case model.ImageContent:
			url := v.URL
			if url == "" {
				if len(v.Data) == 0 {
					return nil, model.NewInvalidRequest("openai: image block requires url or data")
				}
				mediaType := v.MediaType
				if mediaType == "" {
					mediaType = "image/png"
				}
				url = "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(v.Data)
			}
			parts = append(parts, sdk.ChatCompletionContentPartUnionParam{
				OfImageURL: &sdk.ChatCompletionContentPartImageParam{
					ImageURL: sdk.ChatCompletionContentPartImageImageURLParam{URL: url},
				},
			})
		default:
			return nil, model.NewInvalidRequest("openai: unsupported content block for user role")
		}
	}
	return parts, nil
}

func encodeAssistant(content []model.Content) (*sdk.ChatCompletionAssistantMessageParam, error) {
	msg := &sdk.ChatCompletionAssistantMessageParam{}
	var text string
	for _, c := range content {
		switch v := c.(type) {
		case model.TextContent:
			text += v.Text
		case model.ThinkingContent:
			// Reasoning content is provider-issued and is not replayed.
		case model.ToolUseContent:
			args, err := json.Marshal(v.Arguments)
			if err != nil {
				return nil, model.NewSerializationError(fmt.Errorf("openai: tool call %q arguments: %w", v.ID, err))
			}
			msg.ToolCalls = append(msg.ToolCalls, sdk.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &sdk.ChatCompletionMessageFunctionToolCallParam{
					ID: v.ID,
					Function: sdk.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      v.Name,
						Arguments: string(args),
					},
				},
			})
		default:
			return nil, model.NewInvalidRequest("openai: unsupported content block for assistant role")
		}
	}
	if text != "" {
		msg.Content = sdk.ChatCompletionAssistantMessageParamContentUnion{
			OfString: param.NewOpt(text),
		}
	}
	return msg, nil
}

func encodeTools(tools []model.Tool) []sdk.ChatCompletionToolUnionParam {
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		fn := shared.FunctionDefinitionParam{
			Name:       t.Name,
			Parameters: toFunctionParameters(t.Parameters),
		}
		if t.Description != "" {
			fn.Description = param.NewOpt(t.Description)
		}
		if t.Strict {
			fn.Strict = param.NewOpt(true)
		}
		out = append(out, sdk.ChatCompletionToolUnionParam{
			OfFunction: &sdk.ChatCompletionFunctionToolParam{Function: fn},
		})
	}
	return out
}

func toFunctionParameters(schema any) shared.FunctionParameters {
	switch v := schema.(type) {
	case nil:
		return nil
	case map[string]any:
		return shared.FunctionParameters(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil
		}
		return shared.FunctionParameters(m)
	}
}

func encodeResponseFormat(f *model.ResponseFormat) (sdk.ChatCompletionNewParamsResponseFormatUnion, error) {
	switch f.Kind {
	case model.ResponseFormatText:
		return sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfText: &shared.ResponseFormatTextParam{Type: constant.Text("text")},
		}, nil
	case model.ResponseFormatJSONObject:
		return sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: constant.JSONObject("json_object")},
		}, nil
	case model.ResponseFormatJSONSchema:
		js := shared.ResponseFormatJSONSchemaJSONSchemaParam{
			Name:   f.Name,
			Schema: f.Schema,
		}
		if f.Description != "" {
			js.Description = param.NewOpt(f.Description)
		}
		if f.Strict {
			js.Strict = param.NewOpt(true)
		}
		return sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				Type:       constant.JSONSchema("json_schema"),
				JSONSchema: js,
			},
		}, nil
	default:
		return sdk.ChatCompletionNewParamsResponseFormatUnion{}, model.NewInvalidRequest(fmt.Sprintf("openai: unknown response format kind %q", f.Kind))
	}
}

func textOf(content []model.Content) string {
	var out string
	for _, c := range content {
		switch v := c.(type) {
		case model.TextContent:
			out += v.Text
		case model.ToolResultContent:
			if s, ok := v.Content.(string); ok {
				out += s
			} else if data, err := json.Marshal(v.Content); err == nil {
				out += string(data)
			}
		}
	}
	return out
}

// decodeAPIError maps the Chat Completions error body shape onto the shared
// taxonomy.
func decodeAPIError(status int, body []byte) *model.Error {
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error.Message == "" {
		return model.NewAPIError(status, string(body), "")
	}
	code := payload.Error.Code
	if code == "" {
		code = payload.Error.Type
	}
	return model.NewAPIError(status, payload.Error.Message, code)
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
		return model.NewTimeoutError("openai: request deadline exceeded")
	}
	return model.NewHTTPError(err)
}
