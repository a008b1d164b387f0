// Package model defines the provider-agnostic request, content, event, and
// result types shared by every provider adapter. It models assistant output as
// typed content blocks (text, thinking, tool use) plus conversation roles, and
// fixes the error taxonomy all adapters surface.
package model

import (
	"context"
	"strings"
	"time"
)

// Role is the role for a message in a conversation.
type Role string

type (
	// Content is a marker interface implemented by all message content blocks.
	// Concrete implementations capture user-visible text, provider-issued
	// thinking, tool call/result content, and image attachments in a strongly
	// typed form.
	Content interface {
		isContent()
	}

	// TextContent is a plain text content block in a message.
	TextContent struct {
		// Text is the human-readable content for this block.
		Text string
	}

	// ThinkingContent carries provider-issued reasoning content.
	ThinkingContent struct {
		// Text is the provider-visible reasoning text.
		Text string
	}

	// ToolUseContent declares a tool invocation by the assistant.
	//
	// Consumers execute the named tool and correlate results via
	// ToolResultContent.ToolCallID on a subsequent message.
	ToolUseContent struct {
		// ID uniquely identifies this tool call within the conversation.
		ID string

		// Name is the tool identifier requested by the model.
		Name string

		// Arguments is the JSON-compatible arguments value provided by the
		// model. Stream assembly guarantees this parsed from the concatenated
		// argument fragments, or {} when the model sent none.
		Arguments any
	}

	// ToolResultContent carries a tool result provided by the caller side.
	//
	// Tool results are attached to tool-role messages so the model can read
	// them on the next turn.
	ToolResultContent struct {
		// ToolCallID correlates this result to a prior tool use declaration.
		ToolCallID string

		// Content is the result payload, typically a JSON-compatible value or
		// string.
		Content any
	}

	// ImageContent carries an image attached to a user message. Exactly one of
	// URL or Data should be set.
	ImageContent struct {
		// URL locates the image externally (https or data URL).
		URL string

		// Data contains raw image bytes when the image is embedded.
		Data []byte

		// MediaType identifies the encoding of Data (e.g., "image/png").
		MediaType string
	}

	// Message is a single chat message.
	//
	// Messages are ordered and grouped into a transcript passed to providers.
	// Content preserves structure (text, thinking, tool use, tool result)
	// rather than flattening to plain strings.
	Message struct {
		// Role identifies the speaker for this message.
		Role Role

		// Content is the ordered list of content blocks for the message.
		Content []Content

		// ToolCallID correlates a tool-role message to the tool use it answers.
		// Required when Role is RoleTool, forbidden otherwise.
		ToolCallID string
	}

	// Tool describes a tool exposed to the model.
	Tool struct {
		// Name is the tool identifier as seen by the model.
		Name string

		// Description is a concise summary presented to the model to decide
		// when to call the tool.
		Description string

		// Parameters is a JSON Schema describing the tool input payload.
		Parameters any

		// Strict requests strict schema adherence when the provider supports it.
		Strict bool
	}

	// ResponseFormatKind selects the structured-output mode for a request.
	ResponseFormatKind string

	// ResponseFormat directs the model to produce plain text, a JSON object,
	// or JSON conforming to a named schema.
	ResponseFormat struct {
		// Kind selects the output mode.
		Kind ResponseFormatKind

		// Name identifies the schema. Required when Kind is
		// ResponseFormatJSONSchema.
		Name string

		// Description optionally explains the schema to the model.
		Description string

		// Schema is the JSON Schema object the output must conform to.
		// Required when Kind is ResponseFormatJSONSchema.
		Schema any

		// Strict requests strict schema adherence when supported.
		Strict bool
	}

	// Request captures inputs for a completion. Once built it is immutable
	// pure data; it holds no references to I/O resources.
	Request struct {
		// Model is the provider-specific model identifier.
		Model string

		// System is the optional single system prompt.
		System string

		// Messages is the ordered transcript provided to the model.
		Messages []Message

		// MaxTokens caps the number of output tokens when positive.
		MaxTokens int

		// Temperature controls sampling when non-nil.
		Temperature *float64

		// TopP controls nucleus sampling when non-nil.
		TopP *float64

		// Tools lists the tool definitions available to the model.
		Tools []Tool

		// ResponseFormat optionally constrains the output shape.
		ResponseFormat *ResponseFormat
	}

	// StopReason records why generation stopped. The well-known values are
	// normalized across providers; any other provider value is preserved
	// verbatim.
	StopReason string

	// Usage tracks token counts for a completion.
	Usage struct {
		// InputTokens is the number of tokens consumed by inputs.
		InputTokens int

		// OutputTokens is the number of tokens produced by outputs.
		OutputTokens int

		// TotalTokens is the total number of tokens for the call when
		// reported by the provider.
		TotalTokens int
	}

	// Result is the final assembled completion for one assistant message.
	Result struct {
		// ProviderID identifies the provider that produced the message.
		ProviderID string

		// Content is the ordered list of content blocks. Each block is a
		// TextContent, ThinkingContent, or ToolUseContent; never empty after
		// successful assembly.
		Content []Content

		// StopReason records why generation stopped when reported.
		StopReason StopReason

		// Usage reports token consumption when reported.
		Usage *Usage
	}

	// RequestOptions carries per-request overrides. Values are constructed
	// additively and discarded after the call.
	RequestOptions struct {
		// Timeout overrides the per-attempt timeout when positive.
		Timeout time.Duration

		// MaxRetries overrides the retry budget when non-nil.
		MaxRetries *int

		// ExtraHeaders are merged over the client default headers; options
		// win on conflict.
		ExtraHeaders map[string]string

		// Proxy overrides the HTTP proxy URL for this request.
		Proxy string
	}

	// EventStream delivers normalized streaming events.
	//
	// Callers must drain the stream until Recv returns io.EOF or another
	// terminal error, then call Close.
	EventStream interface {
		// Recv returns the next normalized event or an error. io.EOF signals
		// the end of the stream.
		Recv() (Event, error)

		// Close releases any resources associated with the stream.
		Close() error
	}

	// Provider is the provider-agnostic inference capability.
	//
	// Implementations translate Requests into provider wire calls and adapt
	// provider events back into the normalized Event vocabulary. Instances
	// are immutable after construction and safe for concurrent use.
	Provider interface {
		// Stream starts a streaming completion. opts may be nil.
		Stream(ctx context.Context, req *Request, opts *RequestOptions) (EventStream, error)

		// Complete performs a non-streaming completion. opts may be nil.
		// Implementations typically derive this from Stream via the stream
		// assembler.
		Complete(ctx context.Context, req *Request, opts *RequestOptions) (*Result, error)

		// ProviderID returns the stable provider identifier (for example,
		// "openai" or "anthropic").
		ProviderID() string
	}
)

const (
	// RoleSystem is the role for system messages.
	RoleSystem Role = "system"

	// RoleUser is the role for user messages.
	RoleUser Role = "user"

	// RoleAssistant is the role for assistant messages.
	RoleAssistant Role = "assistant"

	// RoleTool is the role for tool result messages.
	RoleTool Role = "tool"
)

const (
	// ResponseFormatText requests plain text output. This is the default.
	ResponseFormatText ResponseFormatKind = "text"

	// ResponseFormatJSONObject requests any syntactically valid JSON object.
	ResponseFormatJSONObject ResponseFormatKind = "json_object"

	// ResponseFormatJSONSchema requests JSON conforming to a named schema.
	ResponseFormatJSONSchema ResponseFormatKind = "json_schema"
)

const (
	// StopReasonEndTurn indicates the model finished its turn normally.
	StopReasonEndTurn StopReason = "end_turn"

	// StopReasonMaxTokens indicates the output token cap was reached.
	StopReasonMaxTokens StopReason = "max_tokens"

	// StopReasonStopSequence indicates a configured stop sequence matched.
	StopReasonStopSequence StopReason = "stop_sequence"

	// StopReasonToolUse indicates the model stopped to request tool calls.
	StopReasonToolUse StopReason = "tool_use"
)

// NormalizeStopReason maps a provider stop reason onto the shared vocabulary.
// Unknown values are preserved verbatim so callers can still branch on them.
func NormalizeStopReason(raw string) StopReason {
	switch raw {
	case "end_turn", "stop":
		return StopReasonEndTurn
	case "max_tokens", "length":
		return StopReasonMaxTokens
	case "stop_sequence":
		return StopReasonStopSequence
	case "tool_use", "tool_calls":
		return StopReasonToolUse
	default:
		return StopReason(raw)
	}
}

// Text returns the concatenation of all TextContent blocks in the result.
func (r *Result) Text() string {
	var b strings.Builder
	for _, c := range r.Content {
		if t, ok := c.(TextContent); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// ToolUses returns the tool invocations requested by the model, in emission
// order.
func (r *Result) ToolUses() []ToolUseContent {
	var out []ToolUseContent
	for _, c := range r.Content {
		if t, ok := c.(ToolUseContent); ok {
			out = append(out, t)
		}
	}
	return out
}

// NewRequestOptions constructs an empty per-request override set.
func NewRequestOptions() *RequestOptions {
	return &RequestOptions{}
}

// WithTimeout overrides the per-attempt timeout for this request.
func (o *RequestOptions) WithTimeout(d time.Duration) *RequestOptions {
	o.Timeout = d
	return o
}

// WithRetries overrides the retry budget for this request.
func (o *RequestOptions) WithRetries(n int) *RequestOptions {
	o.MaxRetries = &n
	return o
}

// WithMaxRetries is a compatibility alias for WithRetries.
func (o *RequestOptions) WithMaxRetries(n int) *RequestOptions {
	return o.WithRetries(n)
}

// WithHeaders merges the given headers into the per-request extras. Later
// calls win on conflicting names.
func (o *RequestOptions) WithHeaders(h map[string]string) *RequestOptions {
	if o.ExtraHeaders == nil {
		o.ExtraHeaders = make(map[string]string, len(h))
	}
	for k, v := range h {
		o.ExtraHeaders[k] = v
	}
	return o
}

// WithProxy overrides the HTTP proxy URL for this request.
func (o *RequestOptions) WithProxy(u string) *RequestOptions {
	o.Proxy = u
	return o
}

func (TextContent) isContent() {}

func (ThinkingContent) isContent() {}

func (ToolUseContent) isContent() {}

func (ToolResultContent) isContent() {}

func (ImageContent) isContent() {}
