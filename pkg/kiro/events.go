package kiro

// EventKind discriminates semantic events reconstructed from the frame
// stream.
type EventKind int

const (
	// EventContent is a chunk of assistant text.
	EventContent EventKind = iota

	// EventThinking is a chunk of reasoning text. The frame parser never
	// produces it; translators that split tagged reasoning out of content
	// reuse the event shape.
	EventThinking

	// EventToolUse is a completed tool call with fully reassembled
	// arguments.
	EventToolUse

	// EventContextUsage reports how much of the context window the request
	// consumed, as a percentage.
	EventContextUsage

	// EventEnd closes a successful stream and carries the stop reason.
	EventEnd

	// EventError terminates the stream with a failure. No further events
	// follow it.
	EventError
)

// Stop reasons attached to EventEnd.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// ToolUse is a completed upstream tool call. Args is the concatenation of
// the input fragments in arrival order and may be invalid JSON when the
// upstream truncated the call; consumers decide how to degrade.
type ToolUse struct {
	ID   string
	Name string
	Args string
}

// Event is one element of the reconstructed semantic stream.
type Event struct {
	Kind EventKind

	// Text is set for EventContent and EventThinking.
	Text string

	// Tool is set for EventToolUse.
	Tool *ToolUse

	// ContextUsage is set for EventContextUsage, in percent.
	ContextUsage float64

	// StopReason is set for EventEnd.
	StopReason string

	// Err is set for EventError.
	Err error
}
