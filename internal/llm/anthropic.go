package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/CaptainPhantasy/floyd/internal/agenterr"
	"github.com/CaptainPhantasy/floyd/pkg/models"
)

// maxEmptyStreamEvents guards against streams that flood with empty events.
const maxEmptyStreamEvents = 300

// anthropicClient adapts the Anthropic messages endpoint to the Client
// contract. The system message becomes the top-level system field; tool-use
// blocks are rebuilt from input_json_delta fragments.
type anthropicClient struct {
	tag       string
	client    anthropic.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

func newAnthropicClient(tag string, opts Options) *anthropicClient {
	requestOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if strings.TrimSpace(opts.BaseURL) != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &anthropicClient{
		tag:       tag,
		client:    anthropic.NewClient(requestOpts...),
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		logger:    opts.Logger.With("component", "llm", "provider", tag),
	}
}

func (c *anthropicClient) Name() string { return c.tag }

func (c *anthropicClient) Stream(ctx context.Context, history []*models.Message, tools []models.ToolDescriptor) (<-chan StreamEvent, error) {
	params, err := c.buildParams(history, tools)
	if err != nil {
		return nil, err
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	events := make(chan StreamEvent, eventBuffer)
	go func() {
		defer close(events)
		c.processStream(ctx, stream, events)
	}()
	return events, nil
}

func (c *anthropicClient) buildParams(history []*models.Message, tools []models.ToolDescriptor) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
	}

	messages, system, err := convertAnthropicMessages(history)
	if err != nil {
		return params, agenterr.New(agenterr.KindProtocol, "llm.anthropic", err)
	}
	params.Messages = messages
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}

	if len(tools) > 0 {
		converted, err := convertAnthropicTools(tools)
		if err != nil {
			return params, agenterr.New(agenterr.KindConfig, "llm.anthropic", err)
		}
		params.Tools = converted
	}
	return params, nil
}

func (c *anthropicClient) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], events chan<- StreamEvent) {
	var (
		toolID       string
		toolArgs     strings.Builder
		inputTokens  int
		outputTokens int
		sawToolUse   bool
		stopReason   StopReason
		emptyEvents  int
	)

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				inputTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				use := block.AsToolUse()
				toolID = use.ID
				toolArgs.Reset()
				sawToolUse = true
				events <- ToolCallBegin(use.ID, use.Name)
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					events <- TextDelta(delta.Text)
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolArgs.WriteString(delta.PartialJSON)
					events <- ToolCallArgsDelta(toolID, delta.PartialJSON)
					processed = true
				}
			case "thinking_delta":
				// Reasoning content stays out of the assistant text stream.
				processed = true
			}

		case "content_block_stop":
			if toolID != "" {
				events <- ToolCallEnd(toolID, c.finalizeArgs(toolID, toolArgs.String()))
				toolID = ""
				processed = true
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				outputTokens = int(delta.Usage.OutputTokens)
			}
			stopReason = mapAnthropicStopReason(string(delta.Delta.StopReason))
			processed = true

		case "message_stop":
			if inputTokens > 0 || outputTokens > 0 {
				events <- Usage(inputTokens, outputTokens)
			}
			if stopReason == "" {
				if sawToolUse {
					stopReason = StopToolUse
				} else {
					stopReason = StopEnd
				}
			}
			events <- Stop(stopReason)
			return

		case "error":
			events <- ErrorEvent(agenterr.Newf(agenterr.KindProtocol, "llm.anthropic", "stream error"))
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				events <- ErrorEvent(agenterr.Newf(agenterr.KindProtocol, "llm.anthropic",
					"stream appears malformed: %d consecutive empty events", emptyEvents))
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			events <- Stop(StopCancelled)
			return
		}
		events <- ErrorEvent(agenterr.New(agenterr.KindTransport, "llm.anthropic", err))
		return
	}
	if ctx.Err() != nil {
		events <- Stop(StopCancelled)
		return
	}
	// The stream ended without message_stop. Treat as a protocol violation.
	events <- ErrorEvent(agenterr.Newf(agenterr.KindProtocol, "llm.anthropic", "stream ended without message_stop"))
}

// finalizeArgs parses the accumulated fragments. A malformed or unterminated
// object never faults the stream: the call ends with empty arguments and a
// diagnostic.
func (c *anthropicClient) finalizeArgs(id, raw string) json.RawMessage {
	if strings.TrimSpace(raw) == "" {
		return json.RawMessage(`{}`)
	}
	if !json.Valid([]byte(raw)) {
		c.logger.Warn("discarding malformed tool arguments", "tool_call_id", id, "bytes", len(raw))
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(raw)
}

func mapAnthropicStopReason(reason string) StopReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return StopEnd
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopLength
	case "refusal":
		return StopContentFilter
	default:
		return ""
	}
}

// convertAnthropicMessages splits history into the system prompt and the
// Anthropic message array. Tool-role messages map to user messages carrying
// tool_result blocks.
func convertAnthropicMessages(history []*models.Message) ([]anthropic.MessageParam, string, error) {
	var out []anthropic.MessageParam
	var system string

	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			system = msg.TextContent()
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, block := range msg.Blocks {
			switch block.Type {
			case models.BlockText:
				if block.Text != "" {
					content = append(content, anthropic.NewTextBlock(block.Text))
				}
			case models.BlockToolUse:
				var input map[string]any
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return nil, "", fmt.Errorf("invalid tool call input for %s: %w", block.ID, err)
				}
				content = append(content, anthropic.NewToolUseBlock(block.ID, input, block.Name))
			case models.BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(block.ToolUseID, block.Content, block.IsError))
			case models.BlockCancelled:
				// The marker is local bookkeeping, not model-visible content.
			}
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, system, nil
}

func convertAnthropicTools(tools []models.ToolDescriptor) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, tool := range tools {
		schema := tool.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		var parsed anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(schema, &parsed); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(parsed, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		out = append(out, param)
	}
	return out, nil
}
