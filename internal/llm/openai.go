package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/CaptainPhantasy/floyd/internal/agenterr"
	"github.com/CaptainPhantasy/floyd/pkg/models"
)

// openaiClient adapts any provider exposing the OpenAI chat-completions
// schema, which covers OpenAI itself plus the GLM and DeepSeek endpoints.
// Tool call arguments are reassembled from incremental tool_calls deltas
// keyed by index.
type openaiClient struct {
	tag       string
	client    *openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

func newOpenAIClient(tag string, opts Options) *openaiClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if strings.TrimSpace(opts.BaseURL) != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &openaiClient{
		tag:       tag,
		client:    openai.NewClientWithConfig(cfg),
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		logger:    opts.Logger.With("component", "llm", "provider", tag),
	}
}

func (c *openaiClient) Name() string { return c.tag }

func (c *openaiClient) Stream(ctx context.Context, history []*models.Message, tools []models.ToolDescriptor) (<-chan StreamEvent, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: convertOpenAIMessages(history),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if c.maxTokens > 0 {
		req.MaxTokens = c.maxTokens
	}
	if len(tools) > 0 {
		req.Tools = c.convertTools(tools)
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, agenterr.New(agenterr.KindTransport, "llm.openai", err)
	}

	events := make(chan StreamEvent, eventBuffer)
	go func() {
		defer close(events)
		defer stream.Close()
		c.processStream(ctx, stream, events)
	}()
	return events, nil
}

// pendingCall accumulates one tool call across delta chunks.
type pendingCall struct {
	id    string
	name  string
	args  strings.Builder
	began bool
}

func (c *openaiClient) processStream(ctx context.Context, stream *openai.ChatCompletionStream, events chan<- StreamEvent) {
	pending := make(map[int]*pendingCall)
	var (
		inputTokens  int
		outputTokens int
		finish       StopReason
	)

	flushCalls := func() {
		indexes := make([]int, 0, len(pending))
		for idx := range pending {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			call := pending[idx]
			if call.id == "" || call.name == "" {
				continue
			}
			events <- ToolCallEnd(call.id, c.finalizeArgs(call.id, call.args.String()))
		}
		pending = make(map[int]*pendingCall)
	}

	for {
		response, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				events <- Stop(StopCancelled)
				return
			}
			if errors.Is(err, io.EOF) {
				flushCalls()
				if inputTokens > 0 || outputTokens > 0 {
					events <- Usage(inputTokens, outputTokens)
				}
				if finish == "" {
					finish = StopEnd
				}
				events <- Stop(finish)
				return
			}
			events <- ErrorEvent(agenterr.New(agenterr.KindTransport, "llm.openai", err))
			return
		}

		if response.Usage != nil {
			inputTokens = response.Usage.PromptTokens
			outputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			events <- TextDelta(delta.Content)
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call := pending[index]
			if call == nil {
				call = &pendingCall{}
				pending[index] = call
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			if !call.began && call.id != "" && call.name != "" {
				call.began = true
				events <- ToolCallBegin(call.id, call.name)
			}
			if tc.Function.Arguments != "" {
				call.args.WriteString(tc.Function.Arguments)
				if call.began {
					events <- ToolCallArgsDelta(call.id, tc.Function.Arguments)
				}
			}
		}

		if choice.FinishReason != "" {
			finish = mapOpenAIFinishReason(string(choice.FinishReason))
			if choice.FinishReason == openai.FinishReasonToolCalls {
				flushCalls()
			}
		}
	}
}

func (c *openaiClient) finalizeArgs(id, raw string) json.RawMessage {
	if strings.TrimSpace(raw) == "" {
		return json.RawMessage(`{}`)
	}
	if !json.Valid([]byte(raw)) {
		c.logger.Warn("discarding malformed tool arguments", "tool_call_id", id, "bytes", len(raw))
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(raw)
}

func mapOpenAIFinishReason(reason string) StopReason {
	switch reason {
	case "stop":
		return StopEnd
	case "tool_calls", "function_call":
		return StopToolUse
	case "length":
		return StopLength
	case "content_filter":
		return StopContentFilter
	default:
		return StopEnd
	}
}

// convertOpenAIMessages maps history onto the OpenAI shape: the system
// message joins the array, assistant tool uses become tool_calls, and each
// tool result becomes its own role-"tool" message.
func convertOpenAIMessages(history []*models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case models.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.TextContent(),
			})
		case models.RoleUser:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.TextContent(),
			})
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.TextContent(),
			}
			for _, use := range msg.ToolUses() {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   use.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      use.Name,
						Arguments: string(use.Input),
					},
				})
			}
			out = append(out, oaiMsg)
		case models.RoleTool:
			for _, block := range msg.Blocks {
				if block.Type != models.BlockToolResult {
					continue
				}
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    block.Content,
					ToolCallID: block.ToolUseID,
				})
			}
		}
	}
	return out
}

func (c *openaiClient) convertTools(tools []models.ToolDescriptor) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.InputSchema, &schemaMap); err != nil {
			// One bad schema must not break the rest of the catalogue.
			c.logger.Warn("replacing invalid tool schema", "tool", tool.Name, "error", err)
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return out
}
