package model

type (
	// Event is a marker interface implemented by all normalized streaming
	// events. The variant set is closed: adding a kind is a breaking change
	// for every consumer switching over events. Events are pure data and
	// cheap to copy.
	Event interface {
		isEvent()
	}

	// MessageStart opens the assistant message. Adapters emit it exactly once
	// per stream, before any other event.
	MessageStart struct {
		// ProviderID identifies the emitting provider.
		ProviderID string
	}

	// MessageDelta carries a text increment in arrival order.
	MessageDelta struct {
		// Content is the text fragment.
		Content string
	}

	// ThinkingDelta carries a reasoning increment when the provider exposes
	// reasoning content.
	ThinkingDelta struct {
		// Content is the reasoning fragment.
		Content string
	}

	// ToolCallStart announces a tool call on first observation of its id and
	// name.
	ToolCallStart struct {
		// ID is the provider-issued tool call identifier.
		ID string

		// Name is the tool identifier requested by the model.
		Name string
	}

	// ToolCallDelta carries a verbatim argument-JSON fragment for a
	// previously announced tool call. Fragments are not guaranteed to be
	// valid JSON on their own; assembly concatenates per id before parsing.
	ToolCallDelta struct {
		// ID correlates the fragment to its ToolCallStart.
		ID string

		// Delta is the raw JSON fragment.
		Delta string
	}

	// MessageEnd closes the assistant message. Adapters emit it exactly once
	// at stream termination.
	MessageEnd struct {
		// StopReason records why generation stopped when reported.
		StopReason StopReason

		// Usage reports token consumption when reported.
		Usage *Usage
	}
)

func (MessageStart) isEvent() {}

func (MessageDelta) isEvent() {}

func (ThinkingDelta) isEvent() {}

func (ToolCallStart) isEvent() {}

func (ToolCallDelta) isEvent() {}

func (MessageEnd) isEvent() {}
