// Package agenterr classifies failures across the agent core so callers can
// branch on what went wrong without string matching.
package agenterr

import (
	"errors"
	"fmt"
)

// Kind is the failure category attached to an Error.
type Kind string

const (
	KindConfig           Kind = "config"
	KindTransport        Kind = "transport"
	KindProtocol         Kind = "protocol"
	KindToolParse        Kind = "tool_parse"
	KindPermissionDenied Kind = "permission_denied"
	KindTool             Kind = "tool"
	KindStorage          Kind = "storage"
	KindExhaustedTurns   Kind = "exhausted_turns"
	KindCancelled        Kind = "cancelled"
)

// Error carries a Kind alongside the wrapped cause. Op names the operation
// that failed, e.g. "sessions.save" or "mcp.call".
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf is New with a formatted message as the cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err's chain. Unclassified errors report
// KindTool if nil-safe inspection finds nothing better.
func KindOf(err error) (Kind, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}

// Is reports whether err's chain carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
