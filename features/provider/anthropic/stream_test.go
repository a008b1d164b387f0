package anthropic

import (
	"encoding/json"
	"errors"
	"io"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/require"

	"goa.design/infer/runtime/inference/model"
	"goa.design/infer/runtime/inference/stream"
)

// testDecoder feeds a fixed sequence of SSE events to the ssestream.Stream.
type testDecoder struct {
	events []ssestream.Event
	i      int
	err    error
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *testDecoder) Next() bool {
	if d.err != nil {
		return false
	}
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return d.err }

func sse(t *testing.T, eventType, data string) ssestream.Event {
	t.Helper()
	var probe map[string]any
	require.NoError(t, json.Unmarshal([]byte(data), &probe), "fixture data must be valid JSON")
	return ssestream.Event{Type: eventType, Data: []byte(data)}
}

func wireEvents(t *testing.T) []ssestream.Event {
	return []ssestream.Event{
		sse(t, "message_start", `{"type":"message_start","message":{"id":"msg_1","usage":{"input_tokens":12,"output_tokens":1}}}`),
		sse(t, "content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`),
		sse(t, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Let me check. "}}`),
		sse(t, "content_block_stop", `{"type":"content_block_stop","index":0}`),
		sse(t, "content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather"}}`),
		sse(t, "content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`),
		sse(t, "content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"NYC\"}"}}`),
		sse(t, "content_block_stop", `{"type":"content_block_stop","index":1}`),
		sse(t, "message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":9}}`),
		sse(t, "message_stop", `{"type":"message_stop"}`),
	}
}

func drain(t *testing.T, es model.EventStream) []model.Event {
	t.Helper()
	var events []model.Event
	for {
		ev, err := es.Recv()
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			return events
		}
		events = append(events, ev)
	}
}

func TestStreamNormalizesTextAndToolEvents(t *testing.T) {
	dec := &testDecoder{events: wireEvents(t)}
	es := newEventStream(ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil))
	defer es.Close()

	events := drain(t, es)
	require.Equal(t, []model.Event{
		model.MessageStart{ProviderID: "anthropic"},
		model.MessageDelta{Content: "Let me check. "},
		model.ToolCallStart{ID: "toolu_1", Name: "get_weather"},
		model.ToolCallDelta{ID: "toolu_1", Delta: `{"city":`},
		model.ToolCallDelta{ID: "toolu_1", Delta: `"NYC"}`},
		model.MessageEnd{
			StopReason: model.StopReasonToolUse,
			Usage:      &model.Usage{InputTokens: 12, OutputTokens: 9, TotalTokens: 21},
		},
	}, events)
}

func TestStreamOutputSatisfiesInvariantsAndAssembles(t *testing.T) {
	dec := &testDecoder{events: wireEvents(t)}
	es := newEventStream(ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil))
	defer es.Close()

	res, err := stream.FromStream(es)
	require.NoError(t, err)
	require.Equal(t, "anthropic", res.ProviderID)
	require.Equal(t, []model.Content{
		model.TextContent{Text: "Let me check. "},
		model.ToolUseContent{ID: "toolu_1", Name: "get_weather", Arguments: map[string]any{"city": "NYC"}},
	}, res.Content)
	require.Equal(t, model.StopReasonToolUse, res.StopReason)
}

func TestStreamNormalizesThinkingDeltas(t *testing.T) {
	dec := &testDecoder{events: []ssestream.Event{
		sse(t, "message_start", `{"type":"message_start","message":{"id":"msg_1"}}`),
		sse(t, "content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":""}}`),
		sse(t, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"consider the units"}}`),
		sse(t, "content_block_stop", `{"type":"content_block_stop","index":0}`),
		sse(t, "content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"42"}}`),
		sse(t, "message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":3}}`),
		sse(t, "message_stop", `{"type":"message_stop"}`),
	}}
	es := newEventStream(ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil))
	defer es.Close()

	events := drain(t, es)
	require.Contains(t, events, model.Event(model.ThinkingDelta{Content: "consider the units"}))
	require.Contains(t, events, model.Event(model.MessageDelta{Content: "42"}))
}

func TestStreamSurfacesTransportError(t *testing.T) {
	dec := &testDecoder{err: errors.New("connection reset")}
	es := newEventStream(ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil))
	defer es.Close()

	_, err := es.Recv()
	e, ok := model.AsError(err)
	require.True(t, ok)
	require.Equal(t, model.ErrorKindHTTP, e.Kind())
}

func TestStreamEndsWithoutStopFailsAssembly(t *testing.T) {
	dec := &testDecoder{events: []ssestream.Event{
		sse(t, "message_start", `{"type":"message_start","message":{"id":"msg_1"}}`),
		sse(t, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial"}}`),
	}}
	es := newEventStream(ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil))
	defer es.Close()

	_, err := stream.FromStream(es)
	e, ok := model.AsError(err)
	require.True(t, ok)
	require.Equal(t, model.ErrorKindStreamInvariant, e.Kind())
}
