package anthropic

import (
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/infer/runtime/inference/model"
)

// eventStream adapts an Anthropic Messages SSE stream to model.EventStream.
// It pulls wire events on demand so backpressure is the consumer's pace; at
// most one assistant message is buffered.
type eventStream struct {
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	// queue holds normalized events decoded from the current wire event.
	queue []model.Event

	// toolByIndex correlates input_json_delta fragments (addressed by block
	// index on the wire) to the tool call id announced in the block start.
	toolByIndex map[int]string

	stopReason model.StopReason
	usage      *model.Usage
	done       bool
}

func newEventStream(s *ssestream.Stream[sdk.MessageStreamEventUnion]) *eventStream {
	return &eventStream{
		stream:      s,
		toolByIndex: make(map[int]string),
	}
}

// Recv returns the next normalized event, io.EOF after message_stop, or the
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

func (s *eventStream) handle(event sdk.MessageStreamEventUnion) {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		s.queue = append(s.queue, model.MessageStart{ProviderID: ProviderID})
		if u := ev.Message.Usage; u.InputTokens != 0 || u.OutputTokens != 0 {
			s.usage = &model.Usage{
				InputTokens:  int(u.InputTokens),
				OutputTokens: int(u.OutputTokens),
				TotalTokens:  int(u.InputTokens + u.OutputTokens),
			}
		}
	case sdk.ContentBlockStartEvent:
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			s.toolByIndex[int(ev.Index)] = toolUse.ID
			s.queue = append(s.queue, model.ToolCallStart{ID: toolUse.ID, Name: toolUse.Name})
		}
	case sdk.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text != "" {
				s.queue = append(s.queue, model.MessageDelta{Content: delta.Text})
			}
		case sdk.ThinkingDelta:
			if delta.Thinking != "" {
				s.queue = append(s.queue, model.ThinkingDelta{Content: delta.Thinking})
			}
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return
			}
			if id, ok := s.toolByIndex[int(ev.Index)]; ok {
				s.queue = append(s.queue, model.ToolCallDelta{ID: id, Delta: delta.PartialJSON})
			}
		}
	case sdk.ContentBlockStopEvent:
		delete(s.toolByIndex, int(ev.Index))
	case sdk.MessageDeltaEvent:
		if raw := string(ev.Delta.StopReason); raw != "" {
			s.stopReason = model.NormalizeStopReason(raw)
		}
		u := s.usage
		if u == nil {
			u = &model.Usage{}
			s.usage = u
		}
		if ev.Usage.InputTokens != 0 {
			u.InputTokens = int(ev.Usage.InputTokens)
		}
		u.OutputTokens = int(ev.Usage.OutputTokens)
		u.TotalTokens = u.InputTokens + u.OutputTokens
	case sdk.MessageStopEvent:
		s.queue = append(s.queue, model.MessageEnd{StopReason: s.stopReason, Usage: s.usage})
	}
}
