package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/CaptainPhantasy/floyd/internal/agenterr"
	"github.com/CaptainPhantasy/floyd/internal/llm"
	"github.com/CaptainPhantasy/floyd/internal/mcp"
	"github.com/CaptainPhantasy/floyd/internal/permissions"
	"github.com/CaptainPhantasy/floyd/internal/sessions"
	"github.com/CaptainPhantasy/floyd/pkg/models"
)

// ErrTurnActive is returned by SendMessage while a previous turn is still
// running on this engine.
var ErrTurnActive = errors.New("engine: a turn is already active")

// ToolDispatcher is the slice of the MCP manager the engine needs. Satisfied
// by *mcp.Manager.
type ToolDispatcher interface {
	Descriptors() []models.ToolDescriptor
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (*mcp.ToolCallResult, error)
}

// Config bounds one turn. Zero fields take the defaults.
type Config struct {
	MaxTurns           int           // model iterations per SendMessage, default 10
	ContextTokenLimit  int           // estimated-token trim threshold, default 120000
	MaxDispatchRetries int           // attempts per tool dispatch, default 3
	RetryBaseDelay     time.Duration // backoff seed for dispatch retries, default 1s
	MaxToolResultBytes int           // tool output cap before truncation, default 100000
}

func (c Config) withDefaults() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = 10
	}
	if c.ContextTokenLimit <= 0 {
		c.ContextTokenLimit = 120000
	}
	if c.MaxDispatchRetries <= 0 {
		c.MaxDispatchRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.MaxToolResultBytes <= 0 {
		c.MaxToolResultBytes = 100000
	}
	return c
}

// Phase names reported by Status.
const (
	PhaseIdle        = "idle"
	PhaseStreaming   = "streaming"
	PhaseDispatching = "dispatching"
)

// Status is a snapshot of the engine for the MCP server's agent/status.
type Status struct {
	Phase        string
	SessionID    string
	Turns        int
	InputTokens  int
	OutputTokens int
}

// Engine drives turns for one session. A single turn runs at a time.
type Engine struct {
	client     llm.Client
	dispatcher ToolDispatcher
	perms      *permissions.Manager
	store      *sessions.Store
	session    *models.Session
	cfg        Config
	logger     *slog.Logger

	turnMu sync.Mutex

	statusMu     sync.Mutex
	phase        string
	turns        int
	inputTokens  int
	outputTokens int
}

// New binds an engine to its collaborators. The session's first message is
// expected to be the system prompt when one is used.
func New(client llm.Client, dispatcher ToolDispatcher, perms *permissions.Manager, store *sessions.Store, session *models.Session, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:     client,
		dispatcher: dispatcher,
		perms:      perms,
		store:      store,
		session:    session,
		cfg:        cfg.withDefaults(),
		logger:     logger.With("component", "engine", "session", session.ID),
	}
}

// Status reports the current phase and accumulated token usage.
func (e *Engine) Status() Status {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	phase := e.phase
	if phase == "" {
		phase = PhaseIdle
	}
	return Status{
		Phase:        phase,
		SessionID:    e.session.ID,
		Turns:        e.turns,
		InputTokens:  e.inputTokens,
		OutputTokens: e.outputTokens,
	}
}

func (e *Engine) setPhase(phase string) {
	e.statusMu.Lock()
	e.phase = phase
	e.statusMu.Unlock()
}

func (e *Engine) addUsage(in, out int) {
	e.statusMu.Lock()
	e.inputTokens += in
	e.outputTokens += out
	e.statusMu.Unlock()
}

// SendMessage runs one turn. The returned channel is finite and ends with
// exactly one done or error event. Cancelling ctx seals the turn with a
// cancellation marker and a final done.
func (e *Engine) SendMessage(ctx context.Context, prompt string) (<-chan Event, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, agenterr.Newf(agenterr.KindConfig, "engine.send", "prompt must not be empty")
	}
	if !e.turnMu.TryLock() {
		return nil, ErrTurnActive
	}

	userMsg := &models.Message{Role: models.RoleUser, Content: prompt}
	if err := e.store.AppendMessage(e.session, userMsg); err != nil {
		e.turnMu.Unlock()
		return nil, err
	}

	events := make(chan Event, 16)
	go func() {
		// The lock is released before the channel closes so a consumer that
		// drained the turn can immediately start the next one.
		defer close(events)
		defer e.turnMu.Unlock()
		defer e.setPhase(PhaseIdle)
		e.runTurn(ctx, events)
		e.statusMu.Lock()
		e.turns++
		e.statusMu.Unlock()
	}()
	return events, nil
}

// runTurn is the tool-use loop: stream, dispatch, repeat, bounded by
// MaxTurns.
func (e *Engine) runTurn(ctx context.Context, events chan<- Event) {
	for iteration := 0; iteration < e.cfg.MaxTurns; iteration++ {
		e.trimHistory()
		e.setPhase(PhaseStreaming)

		stream, err := e.openStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				e.sealCancelled(events, "")
				return
			}
			e.sealIncomplete("")
			events <- Event{Type: EventError, Err: err}
			return
		}

		outcome := e.consumeStream(ctx, events, stream)
		switch outcome.kind {
		case outcomeDone:
			e.finalizeAssistant(outcome.text, nil)
			events <- Event{Type: EventDone}
			return
		case outcomeCancelled:
			e.sealCancelled(events, outcome.text)
			return
		case outcomeError:
			e.sealIncomplete(outcome.text)
			events <- Event{Type: EventError, Err: outcome.err}
			return
		case outcomeToolUse:
			e.finalizeAssistant(outcome.text, outcome.calls)
			e.setPhase(PhaseDispatching)
			if !e.dispatchBatch(ctx, events, outcome.calls) {
				// Cancellation arrived during dispatch. Results are already
				// recorded, so seal and finish.
				e.sealCancelled(events, "")
				return
			}
			if ctx.Err() != nil {
				e.sealCancelled(events, "")
				return
			}
		}
	}

	// The model kept calling tools past the iteration bound.
	summary := &models.Message{
		Role:    models.RoleAssistant,
		Content: "The conversation reached the maximum number of tool iterations for a single turn without a final answer.",
	}
	if err := e.store.AppendMessage(e.session, summary); err != nil {
		e.logger.Error("failed to save exhaustion summary", "error", err)
	}
	events <- Event{
		Type: EventError,
		Err:  agenterr.Newf(agenterr.KindExhaustedTurns, "engine.turn", "exceeded %d tool iterations", e.cfg.MaxTurns),
	}
}

// openStream opens the LLM stream, retrying exactly once on a transport
// failure. The retry only covers stream opening: mid-stream failures are not
// retried because partial text would duplicate.
func (e *Engine) openStream(ctx context.Context) (<-chan llm.StreamEvent, error) {
	tools := e.dispatcher.Descriptors()
	stream, err := e.client.Stream(ctx, e.session.Messages, tools)
	if err == nil {
		return stream, nil
	}
	if ctx.Err() != nil || !agenterr.Is(err, agenterr.KindTransport) {
		return nil, err
	}
	e.logger.Warn("stream open failed, retrying once", "error", err)
	return e.client.Stream(ctx, e.session.Messages, tools)
}

type outcomeKind int

const (
	outcomeDone outcomeKind = iota
	outcomeToolUse
	outcomeCancelled
	outcomeError
)

type streamOutcome struct {
	kind  outcomeKind
	text  string
	calls []models.ContentBlock
	err   error
}

// consumeStream drains one LLM stream, yielding text to the caller and
// accumulating tool calls in declaration order.
func (e *Engine) consumeStream(ctx context.Context, events chan<- Event, stream <-chan llm.StreamEvent) streamOutcome {
	var text strings.Builder
	var calls []models.ContentBlock
	callIndex := make(map[string]int)

	for ev := range stream {
		switch ev.Type {
		case llm.EventTextDelta:
			text.WriteString(ev.Text)
			events <- Event{Type: EventText, Text: ev.Text}

		case llm.EventToolCallBegin:
			callIndex[ev.ToolCallID] = len(calls)
			calls = append(calls, models.ContentBlock{
				Type: models.BlockToolUse,
				ID:   ev.ToolCallID,
				Name: ev.ToolName,
			})

		case llm.EventToolCallArgsDelta:
			// Fragments are informational; the final arguments arrive on end.

		case llm.EventToolCallEnd:
			if i, ok := callIndex[ev.ToolCallID]; ok {
				calls[i].Input = ev.Args
			}

		case llm.EventUsage:
			e.addUsage(ev.InputTokens, ev.OutputTokens)

		case llm.EventError:
			return streamOutcome{kind: outcomeError, text: text.String(), calls: calls, err: ev.Err}

		case llm.EventStop:
			switch ev.Stop {
			case llm.StopToolUse:
				return streamOutcome{kind: outcomeToolUse, text: text.String(), calls: calls}
			case llm.StopCancelled:
				return streamOutcome{kind: outcomeCancelled, text: text.String(), calls: calls}
			default:
				return streamOutcome{kind: outcomeDone, text: text.String()}
			}
		}
	}

	// The stream closed without a terminal event.
	if ctx.Err() != nil {
		return streamOutcome{kind: outcomeCancelled, text: text.String(), calls: calls}
	}
	return streamOutcome{
		kind: outcomeError,
		text: text.String(),
		err:  agenterr.Newf(agenterr.KindProtocol, "engine.stream", "stream closed without stop"),
	}
}

// finalizeAssistant appends the assistant message built during streaming.
func (e *Engine) finalizeAssistant(text string, calls []models.ContentBlock) {
	msg := &models.Message{Role: models.RoleAssistant}
	if len(calls) == 0 {
		msg.Content = text
	} else {
		if text != "" {
			msg.Blocks = append(msg.Blocks, models.ContentBlock{Type: models.BlockText, Text: text})
		}
		for i := range calls {
			if len(calls[i].Input) == 0 {
				calls[i].Input = json.RawMessage(`{}`)
			}
		}
		msg.Blocks = append(msg.Blocks, calls...)
	}
	if err := e.store.AppendMessage(e.session, msg); err != nil {
		e.logger.Error("failed to save assistant message", "error", err)
	}
}

// sealCancelled closes the turn after cancellation: partial text is kept,
// unresolved tool calls are dropped, and the message carries an explicit
// cancellation marker. Exactly one done follows.
func (e *Engine) sealCancelled(events chan<- Event, text string) {
	msg := &models.Message{Role: models.RoleAssistant}
	if text != "" {
		msg.Blocks = append(msg.Blocks, models.ContentBlock{Type: models.BlockText, Text: text})
	}
	msg.Blocks = append(msg.Blocks, models.ContentBlock{
		Type: models.BlockCancelled,
		Text: "The turn was cancelled before completion.",
	})
	if err := e.store.AppendMessage(e.session, msg); err != nil {
		e.logger.Error("failed to save cancelled message", "error", err)
	}
	events <- Event{Type: EventDone}
}

// sealIncomplete records the partial assistant message after a stream error.
// Tool calls without results are dropped so the history stays well-formed.
func (e *Engine) sealIncomplete(text string) {
	msg := &models.Message{Role: models.RoleAssistant}
	if text != "" {
		msg.Blocks = append(msg.Blocks, models.ContentBlock{Type: models.BlockText, Text: text})
	}
	msg.Blocks = append(msg.Blocks, models.ContentBlock{
		Type: models.BlockCancelled,
		Text: "The turn was interrupted before completion.",
	})
	if err := e.store.AppendMessage(e.session, msg); err != nil {
		e.logger.Error("failed to save incomplete message", "error", err)
	}
}

// trimHistory removes oldest non-system messages while the estimated token
// count exceeds the limit. The system message is pinned and at least the two
// most recent non-system messages survive. Deletion order is deterministic.
func (e *Engine) trimHistory() {
	for estimateTokens(e.session.Messages) > e.cfg.ContextTokenLimit {
		idx := -1
		nonSystem := 0
		for i, msg := range e.session.Messages {
			if msg.Role == models.RoleSystem {
				continue
			}
			nonSystem++
			if idx < 0 {
				idx = i
			}
		}
		if idx < 0 || nonSystem <= 2 {
			return
		}
		e.session.Messages = append(e.session.Messages[:idx], e.session.Messages[idx+1:]...)
	}
}

// estimateTokens is the cheap length-based estimate: about four characters
// per token.
func estimateTokens(messages []*models.Message) int {
	chars := 0
	for _, msg := range messages {
		chars += len(msg.Content)
		for _, b := range msg.Blocks {
			chars += len(b.Text) + len(b.Content) + len(b.Input)
		}
	}
	return chars / 4
}
