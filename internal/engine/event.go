// Package engine orchestrates one conversational turn: it streams from the
// LLM, runs tool calls through permissions and the MCP manager, and persists
// every step to the session store.
package engine

import "github.com/CaptainPhantasy/floyd/internal/permissions"

// EventType discriminates the events a turn emits.
type EventType string

const (
	EventText               EventType = "text"
	EventToolStarted        EventType = "tool_started"
	EventToolFinished       EventType = "tool_finished"
	EventPermissionRequired EventType = "permission_required"
	EventError              EventType = "error"
	EventDone               EventType = "done"
)

// PermissionResponse resolves a permission_required event. Scope once allows
// or denies only the pending call; session and always scopes are recorded on
// the permission manager as well.
type PermissionResponse struct {
	Approve bool
	Scope   permissions.Scope
}

// Event is one item of the turn's outward stream. Tool events always carry
// the call id so outputs can be routed when several tools run in one turn.
type Event struct {
	Type EventType

	// text
	Text string

	// tool_started, tool_finished, permission_required
	ToolCallID string
	ToolName   string

	// tool_finished
	Output  string
	IsError bool

	// permission_required: the consumer must call Respond exactly once.
	Respond func(PermissionResponse)

	// error
	Err error
}
