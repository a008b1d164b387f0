package openai

import (
	"io"
	"strings"

	"github.com/google/uuid"
	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/packages/ssestream"

	"goa.design/infer/runtime/inference/model"
)

// eventStream adapts a Chat Completions SSE stream to model.EventStream. It
// pulls chunks on demand; tool calls stream as incremental deltas with an
// index field, so each index is correlated to the call id announced on its
// first chunk.
type eventStream struct {
	stream *ssestream.Stream[sdk.ChatCompletionChunk]

	queue []model.Event

	started bool
	ended   bool
	done    bool

	// idByIndex maps the wire's tool-call index to the id used in normalized
	// events. Continuation chunks repeat the index but omit the id.
	idByIndex map[int]string

	stopReason model.StopReason
	usage      *model.Usage
}

func newEventStream(s *ssestream.Stream[sdk.ChatCompletionChunk]) *eventStream {
	return &eventStream{
		stream:    s,
		idByIndex: make(map[int]string),
	}
}

// Recv returns the next normalized event, io.EOF after MessageEnd, or the
// wrapped transport error.
func (s *eventStream) Recv() (model.Event, error) {
	for {
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			return ev, nil
		}
		if s.done {
			return nil, io.EOF
		}
		if !s.stream.Next() {
			s.done = true
			if err := s.stream.Err(); err != nil {
				return nil, wrapError(err)
			}
			// The wire has no terminal event; synthesize MessageEnd from the
			// captured finish reason and usage.
			if s.started && !s.ended {
				s.ended = true
				return model.MessageEnd{StopReason: s.stopReason, Usage: s.usage}, nil
			}
			return nil, io.EOF
		}
		s.handle(s.stream.Current())
	}
}

// Close releases the underlying SSE connection.
func (s *eventStream) Close() error {
	s.done = true
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *eventStream) handle(chunk sdk.ChatCompletionChunk) {
	if !s.started {
		s.started = true
		s.queue = append(s.queue, model.MessageStart{ProviderID: ProviderID})
	}

	// Usage arrives on the final chunk (with no choices) when
	// stream_options.include_usage is set, but check every chunk.
	if chunk.Usage.JSON.PromptTokens.Valid() {
		s.usage = &model.Usage{
			InputTokens:  int(chunk.Usage.PromptTokens),
			OutputTokens: int(chunk.Usage.CompletionTokens),
			TotalTokens:  int(chunk.Usage.TotalTokens),
		}
	}

	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]

	if choice.FinishReason != "" {
		s.stopReason = model.NormalizeStopReason(choice.FinishReason)
	}

	if choice.Delta.Content != "" {
		s.queue = append(s.queue, model.MessageDelta{Content: choice.Delta.Content})
	}

	for _, tc := range choice.Delta.ToolCalls {
		idx := int(tc.Index)
		id, open := s.idByIndex[idx]
		if !open {
			id = tc.ID
			if id == "" {
				// Some OpenAI-compatible backends omit ids; synthesize one so
				// downstream correlation still holds.
				id = "call_" + uuid.NewString()
			}
			s.idByIndex[idx] = id
			s.queue = append(s.queue, model.ToolCallStart{ID: id, Name: cleanToolName(tc.Function.Name)})
		}
		if tc.Function.Arguments != "" {
			s.queue = append(s.queue, model.ToolCallDelta{ID: id, Delta: tc.Function.Arguments})
		}
	}
}

// cleanToolName strips the namespace prefixes the model occasionally
// hallucinates onto function names.
func cleanToolName(name string) string {
	for _, prefix := range []string{"tools.", "tool.", "functions.", "function."} {
		name = strings.TrimPrefix(name, prefix)
	}
	return name
}
