// Package llm provides a provider-neutral streaming chat client with tool
// calling, normalized to a single event type.
package llm

import "encoding/json"

// EventType discriminates StreamEvent variants.
type EventType string

const (
	EventTextDelta         EventType = "text_delta"
	EventToolCallBegin     EventType = "tool_call_begin"
	EventToolCallArgsDelta EventType = "tool_call_args_delta"
	EventToolCallEnd       EventType = "tool_call_end"
	EventStop              EventType = "stop"
	EventError             EventType = "error"
	EventUsage             EventType = "usage"
)

// StopReason explains why a stream ended.
type StopReason string

const (
	StopEnd           StopReason = "end"
	StopToolUse       StopReason = "tool_use"
	StopLength        StopReason = "length"
	StopContentFilter StopReason = "content_filter"
	StopCancelled     StopReason = "cancelled"
)

// StreamEvent is the normalized output of every adapter. Tool-related events
// always carry ToolCallID so outputs can be routed when several tools run in
// one turn.
type StreamEvent struct {
	Type EventType

	// text_delta
	Text string

	// tool_call_begin, tool_call_args_delta, tool_call_end
	ToolCallID   string
	ToolName     string
	ArgsFragment string
	Args         json.RawMessage

	// stop
	Stop StopReason

	// error
	Err error

	// usage
	InputTokens  int
	OutputTokens int
}

// TextDelta builds a text_delta event.
func TextDelta(text string) StreamEvent {
	return StreamEvent{Type: EventTextDelta, Text: text}
}

// ToolCallBegin builds a tool_call_begin event.
func ToolCallBegin(id, name string) StreamEvent {
	return StreamEvent{Type: EventToolCallBegin, ToolCallID: id, ToolName: name}
}

// ToolCallArgsDelta builds a tool_call_args_delta event.
func ToolCallArgsDelta(id, fragment string) StreamEvent {
	return StreamEvent{Type: EventToolCallArgsDelta, ToolCallID: id, ArgsFragment: fragment}
}

// ToolCallEnd builds a tool_call_end event.
func ToolCallEnd(id string, args json.RawMessage) StreamEvent {
	return StreamEvent{Type: EventToolCallEnd, ToolCallID: id, Args: args}
}

// Stop builds a stop event.
func Stop(reason StopReason) StreamEvent {
	return StreamEvent{Type: EventStop, Stop: reason}
}

// ErrorEvent builds an error event.
func ErrorEvent(err error) StreamEvent {
	return StreamEvent{Type: EventError, Err: err}
}

// Usage builds a usage event.
func Usage(in, out int) StreamEvent {
	return StreamEvent{Type: EventUsage, InputTokens: in, OutputTokens: out}
}
