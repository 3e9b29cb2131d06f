package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/CaptainPhantasy/floyd/internal/backoff"
	"github.com/CaptainPhantasy/floyd/internal/mcp"
	"github.com/CaptainPhantasy/floyd/internal/permissions"
	"github.com/CaptainPhantasy/floyd/pkg/models"
)

const deniedResult = "Permission to run this tool was denied by the user."

// dispatchResult pairs one tool call with its recorded output.
type dispatchResult struct {
	output  string
	isError bool
}

// dispatchBatch runs the authorization and dispatch sub-protocol for every
// tool call of one assistant message. Permissions resolve sequentially in
// declaration order; allowed calls then execute concurrently; results are
// recorded and emitted in declaration order regardless of completion order.
// Every call receives a tool result, so the history stays well-formed even
// under cancellation. Returns false when the turn was cancelled.
func (e *Engine) dispatchBatch(ctx context.Context, events chan<- Event, calls []models.ContentBlock) bool {
	results := make([]dispatchResult, len(calls))
	allowed := make([]bool, len(calls))
	cancelled := false

	for i, call := range calls {
		verdict := e.perms.Check(call.Name)
		if verdict == permissions.VerdictAsk {
			verdict, cancelled = e.askPermission(ctx, events, call)
			if cancelled {
				// Earlier allowed calls have not started yet; they are
				// cancelled too, not empty successes.
				for j := range calls {
					if allowed[j] || j >= i {
						results[j] = dispatchResult{output: "Tool call cancelled.", isError: true}
					}
				}
				break
			}
		}
		if verdict == permissions.VerdictDeny {
			results[i] = dispatchResult{output: deniedResult, isError: true}
			continue
		}
		allowed[i] = true
	}

	if !cancelled {
		var wg sync.WaitGroup
		for i := range calls {
			if !allowed[i] {
				continue
			}
			events <- Event{Type: EventToolStarted, ToolCallID: calls[i].ID, ToolName: calls[i].Name}
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = e.dispatchCall(ctx, calls[i])
			}(i)
		}
		wg.Wait()
	}

	for i, call := range calls {
		toolMsg := &models.Message{
			Role: models.RoleTool,
			Blocks: []models.ContentBlock{{
				Type:      models.BlockToolResult,
				ToolUseID: call.ID,
				Content:   results[i].output,
				IsError:   results[i].isError,
			}},
		}
		if err := e.store.AppendMessage(e.session, toolMsg); err != nil {
			e.logger.Error("failed to save tool result", "tool", call.Name, "error", err)
		}
		events <- Event{
			Type:       EventToolFinished,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Output:     results[i].output,
			IsError:    results[i].isError,
		}
	}
	return !cancelled
}

// askPermission pauses the turn until the consumer resolves the prompt.
// A once-scoped response applies only to this call; session and always
// scopes are recorded on the permission manager too.
func (e *Engine) askPermission(ctx context.Context, events chan<- Event, call models.ContentBlock) (verdict permissions.Verdict, cancelled bool) {
	respCh := make(chan PermissionResponse, 1)
	events <- Event{
		Type:       EventPermissionRequired,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Respond:    func(r PermissionResponse) { respCh <- r },
	}

	select {
	case resp := <-respCh:
		if resp.Scope == permissions.ScopeSession || resp.Scope == permissions.ScopeAlways {
			var err error
			if resp.Approve {
				err = e.perms.Grant(call.Name, resp.Scope)
			} else {
				err = e.perms.Deny(call.Name, resp.Scope)
			}
			if err != nil {
				e.logger.Error("failed to record permission grant", "tool", call.Name, "error", err)
			}
		}
		if resp.Approve {
			return permissions.VerdictAllow, false
		}
		return permissions.VerdictDeny, false
	case <-ctx.Done():
		return permissions.VerdictDeny, true
	}
}

// dispatchCall parses the arguments, calls the tool, and retries transport
// failures with exponential backoff. Errors reported by the tool itself are
// returned to the model verbatim, never retried.
func (e *Engine) dispatchCall(ctx context.Context, call models.ContentBlock) dispatchResult {
	args := normalizeArgs(call.Input)

	policy := backoff.Policy{Base: e.cfg.RetryBaseDelay, Factor: 2}
	for attempt := 1; ; attempt++ {
		result, err := e.dispatcher.CallTool(ctx, call.Name, args)
		if err == nil {
			return dispatchResult{output: e.truncateOutput(result.Text()), isError: result.IsError}
		}
		if retryableDispatch(err) && attempt < e.cfg.MaxDispatchRetries && ctx.Err() == nil {
			e.logger.Warn("tool dispatch failed, retrying",
				"tool", call.Name, "attempt", attempt, "error", err)
			if backoff.Sleep(ctx, policy, attempt) != nil {
				return dispatchResult{output: "Tool call cancelled.", isError: true}
			}
			continue
		}
		return dispatchResult{output: e.truncateOutput(err.Error()), isError: true}
	}
}

// retryableDispatch reports whether the failure is a transport fault rather
// than an answer from the tool.
func retryableDispatch(err error) bool {
	return errors.Is(err, mcp.ErrTransportClosed) || errors.Is(err, mcp.ErrNotConnected)
}

// normalizeArgs guarantees the dispatched arguments are valid JSON. A
// fragment that does not parse is wrapped rather than dropped, so the tool
// sees what the model actually produced.
func normalizeArgs(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	if json.Valid(raw) {
		return raw
	}
	wrapped, err := json.Marshal(map[string]any{"_parseError": true, "_raw": string(raw)})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return wrapped
}

// truncateOutput caps a tool result, marking how much was cut.
func (e *Engine) truncateOutput(s string) string {
	if len(s) <= e.cfg.MaxToolResultBytes {
		return s
	}
	over := len(s) - e.cfg.MaxToolResultBytes
	return s[:e.cfg.MaxToolResultBytes] + fmt.Sprintf("\n[truncated %d bytes]", over)
}
