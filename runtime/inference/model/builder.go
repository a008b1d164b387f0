package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// RequestBuilder accumulates a Request and validates it on Build. The builder
// is terminal: after Build succeeds the returned Request must not be
// modified, and the builder must not be reused.
type RequestBuilder struct {
	req Request
}

// NewRequest starts a builder for the given model identifier.
func NewRequest(modelID string) *RequestBuilder {
	return &RequestBuilder{req: Request{Model: modelID}}
}

// WithSystem sets the single system prompt.
func (b *RequestBuilder) WithSystem(prompt string) *RequestBuilder {
	b.req.System = prompt
	return b
}

// WithMessage appends a message to the transcript.
func (b *RequestBuilder) WithMessage(m Message) *RequestBuilder {
	b.req.Messages = append(b.req.Messages, m)
	return b
}

// WithUserText appends a user message holding a single text block.
func (b *RequestBuilder) WithUserText(text string) *RequestBuilder {
	return b.WithMessage(Message{Role: RoleUser, Content: []Content{TextContent{Text: text}}})
}

// WithMaxTokens caps the number of output tokens.
func (b *RequestBuilder) WithMaxTokens(n int) *RequestBuilder {
	b.req.MaxTokens = n
	return b
}

// WithTemperature sets the sampling temperature.
func (b *RequestBuilder) WithTemperature(t float64) *RequestBuilder {
	b.req.Temperature = &t
	return b
}

// WithTopP sets the nucleus sampling parameter.
func (b *RequestBuilder) WithTopP(p float64) *RequestBuilder {
	b.req.TopP = &p
	return b
}

// WithTool appends a tool definition.
func (b *RequestBuilder) WithTool(t Tool) *RequestBuilder {
	b.req.Tools = append(b.req.Tools, t)
	return b
}

// WithResponseFormat sets the structured-output directive.
func (b *RequestBuilder) WithResponseFormat(f ResponseFormat) *RequestBuilder {
	b.req.ResponseFormat = &f
	return b
}

// Build validates the accumulated request and returns it. The returned
// request is immutable pure data.
func (b *RequestBuilder) Build() (*Request, error) {
	if b.req.Model == "" {
		return nil, NewInvalidRequest("model is required")
	}
	if len(b.req.Messages) == 0 {
		return nil, NewInvalidRequest("at least one message is required")
	}
	for i, m := range b.req.Messages {
		if m.Role == RoleTool && m.ToolCallID == "" {
			return nil, NewInvalidRequest(fmt.Sprintf("message %d: tool role requires tool_call_id", i))
		}
		if m.Role != RoleTool && m.ToolCallID != "" {
			return nil, NewInvalidRequest(fmt.Sprintf("message %d: tool_call_id is only valid for tool role", i))
		}
	}
	seen := make(map[string]struct{}, len(b.req.Tools))
	for _, t := range b.req.Tools {
		if t.Name == "" {
			return nil, NewInvalidRequest("tool name is required")
		}
		if _, dup := seen[t.Name]; dup {
			return nil, NewInvalidRequest(fmt.Sprintf("duplicate tool name %q", t.Name))
		}
		seen[t.Name] = struct{}{}
		if t.Parameters != nil {
			if err := compileSchema(t.Parameters); err != nil {
				return nil, NewInvalidRequest(fmt.Sprintf("tool %q parameters: %v", t.Name, err))
			}
		}
	}
	if f := b.req.ResponseFormat; f != nil {
		switch f.Kind {
		case ResponseFormatText, ResponseFormatJSONObject:
		case ResponseFormatJSONSchema:
			if f.Name == "" {
				return nil, NewInvalidRequest("json_schema response format requires a name")
			}
			if !isJSONObject(f.Schema) {
				return nil, NewInvalidRequest("json_schema response format requires a JSON object schema")
			}
			if err := compileSchema(f.Schema); err != nil {
				return nil, NewInvalidRequest(fmt.Sprintf("response format schema: %v", err))
			}
		default:
			return nil, NewInvalidRequest(fmt.Sprintf("unknown response format kind %q", f.Kind))
		}
	}
	req := b.req
	return &req, nil
}

// compileSchema round-trips the value through JSON and compiles it so invalid
// schemas are rejected at build time rather than by the provider.
func compileSchema(schema any) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("request.json", doc); err != nil {
		return err
	}
	if _, err := c.Compile("request.json"); err != nil {
		return err
	}
	return nil
}

func isJSONObject(v any) bool {
	switch s := v.(type) {
	case map[string]any:
		return true
	case json.RawMessage:
		var m map[string]any
		return json.Unmarshal(s, &m) == nil
	case nil:
		return false
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return false
		}
		var m map[string]any
		return json.Unmarshal(data, &m) == nil
	}
}
