package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"goa.design/infer/runtime/inference/model"
)

// assembler folds a validated event sequence into a Result. It owns its
// buffers and map; nothing is shared across streams.
type assembler struct {
	validator *Validator

	providerID string
	content    []model.Content

	text     strings.Builder
	textOpen bool

	thinking     strings.Builder
	thinkingOpen bool

	// tools maps tool-call id to its reserved slot in content. Slots are
	// claimed in ToolCallStart order so final placement matches emission
	// order.
	tools map[string]*pendingTool

	stopReason model.StopReason
	usage      *model.Usage
}

type pendingTool struct {
	slot int
	name string
	args strings.Builder
}

func newAssembler() *assembler {
	return &assembler{
		validator: NewValidator(),
		tools:     make(map[string]*pendingTool),
	}
}

// FromStream drains an event stream and assembles the final result. Any
// stream error aborts assembly and is propagated unchanged, except that a
// bare context cancellation is reported as a canceled Error; ordering
// violations and unparseable tool-argument JSON abort with the corresponding
// error kind. No partial result is ever returned.
func FromStream(s model.EventStream) (*model.Result, error) {
	a := newAssembler()
	for {
		ev, err := s.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return a.finish()
			}
			if _, ok := model.AsError(err); !ok && errors.Is(err, context.Canceled) {
				return nil, model.NewCanceled(err)
			}
			return nil, err
		}
		if err := a.observe(ev); err != nil {
			return nil, err
		}
	}
}

// FromEvents assembles a result from an in-memory event slice. It agrees with
// FromStream over a stream delivering the same events.
func FromEvents(events []model.Event) (*model.Result, error) {
	a := newAssembler()
	for _, ev := range events {
		if err := a.observe(ev); err != nil {
			return nil, err
		}
	}
	return a.finish()
}

// Complete runs a streaming call and assembles it into a single result. It is
// the shared derived form of Provider.Complete.
func Complete(ctx context.Context, p model.Provider, req *model.Request, opts *model.RequestOptions) (*model.Result, error) {
	s, err := p.Stream(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return FromStream(s)
}

func (a *assembler) observe(ev model.Event) error {
	if err := a.validator.Observe(ev); err != nil {
		return err
	}
	switch e := ev.(type) {
	case model.MessageStart:
		a.providerID = e.ProviderID
	case model.MessageDelta:
		a.sealThinking()
		a.textOpen = true
		a.text.WriteString(e.Content)
	case model.ThinkingDelta:
		a.sealText()
		a.thinkingOpen = true
		a.thinking.WriteString(e.Content)
	case model.ToolCallStart:
		a.sealText()
		a.sealThinking()
		a.tools[e.ID] = &pendingTool{slot: len(a.content), name: e.Name}
		a.content = append(a.content, model.ToolUseContent{ID: e.ID, Name: e.Name})
	case model.ToolCallDelta:
		a.tools[e.ID].args.WriteString(e.Delta)
	case model.MessageEnd:
		a.sealText()
		a.sealThinking()
		a.stopReason = e.StopReason
		a.usage = e.Usage
	}
	return nil
}

// sealText closes the open text block, eliding it when empty.
func (a *assembler) sealText() {
	if !a.textOpen {
		return
	}
	if s := a.text.String(); s != "" {
		a.content = append(a.content, model.TextContent{Text: s})
	}
	a.text.Reset()
	a.textOpen = false
}

func (a *assembler) sealThinking() {
	if !a.thinkingOpen {
		return
	}
	if s := a.thinking.String(); s != "" {
		a.content = append(a.content, model.ThinkingContent{Text: s})
	}
	a.thinking.Reset()
	a.thinkingOpen = false
}

func (a *assembler) finish() (*model.Result, error) {
	if err := a.validator.Finish(); err != nil {
		return nil, err
	}
	for id, pt := range a.tools {
		raw := pt.args.String()
		if strings.TrimSpace(raw) == "" {
			raw = "{}"
		}
		var args any
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, model.NewDeserializationError(
				fmt.Errorf("tool call %q arguments: %w", id, err))
		}
		a.content[pt.slot] = model.ToolUseContent{ID: id, Name: pt.name, Arguments: args}
	}
	if len(a.content) == 0 {
		return nil, model.NewStreamInvariantViolation("empty assistant message")
	}
	return &model.Result{
		ProviderID: a.providerID,
		Content:    a.content,
		StopReason: a.stopReason,
		Usage:      a.usage,
	}, nil
}
