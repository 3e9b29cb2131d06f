package llm

import (
	"log/slog"
	"testing"

	"github.com/CaptainPhantasy/floyd/pkg/models"
)

func TestConvertAnthropicMessagesSystemExtraction(t *testing.T) {
	history := []*models.Message{
		{Role: models.RoleSystem, Content: "you are terse"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Blocks: []models.ContentBlock{
			{Type: models.BlockText, Text: "on it"},
			{Type: models.BlockToolUse, ID: "t1", Name: "read", Input: []byte(`{"path":"a.txt"}`)},
		}},
		{Role: models.RoleTool, Blocks: []models.ContentBlock{
			{Type: models.BlockToolResult, ToolUseID: "t1", Content: "contents"},
		}},
	}

	out, system, err := convertAnthropicMessages(history)
	if err != nil {
		t.Fatalf("convertAnthropicMessages() error = %v", err)
	}
	if system != "you are terse" {
		t.Errorf("system = %q", system)
	}
	// System messages leave the array entirely.
	if len(out) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out))
	}
	if out[0].Role != "user" || out[1].Role != "assistant" || out[2].Role != "user" {
		t.Errorf("roles = %s %s %s", out[0].Role, out[1].Role, out[2].Role)
	}
}

func TestConvertAnthropicMessagesSkipsCancelledAndEmpty(t *testing.T) {
	history := []*models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Blocks: []models.ContentBlock{
			{Type: models.BlockCancelled},
		}},
	}

	out, _, err := convertAnthropicMessages(history)
	if err != nil {
		t.Fatalf("convertAnthropicMessages() error = %v", err)
	}
	if len(out) != 1 {
		t.Errorf("cancelled-only message should be dropped, got %d messages", len(out))
	}
}

func TestConvertAnthropicMessagesBadToolInput(t *testing.T) {
	history := []*models.Message{
		{Role: models.RoleAssistant, Blocks: []models.ContentBlock{
			{Type: models.BlockToolUse, ID: "t1", Name: "read", Input: []byte(`{broken`)},
		}},
	}
	if _, _, err := convertAnthropicMessages(history); err == nil {
		t.Fatal("expected error for invalid tool input JSON")
	}
}

func TestConvertAnthropicTools(t *testing.T) {
	tools := []models.ToolDescriptor{
		{Name: "read", Description: "read a file", InputSchema: []byte(`{"type":"object","properties":{"path":{"type":"string"}}}`)},
		{Name: "noop", Description: "does nothing"},
	}

	out, err := convertAnthropicTools(tools)
	if err != nil {
		t.Fatalf("convertAnthropicTools() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(out))
	}
	for i, tool := range out {
		if tool.OfTool == nil {
			t.Fatalf("tool %d has no definition", i)
		}
	}
	if out[0].OfTool.Name != "read" {
		t.Errorf("tool name = %q", out[0].OfTool.Name)
	}
	if out[0].OfTool.Description.Value != "read a file" {
		t.Errorf("description = %q", out[0].OfTool.Description.Value)
	}
}

func TestAnthropicFinalizeArgs(t *testing.T) {
	client := &anthropicClient{logger: slog.Default()}

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", "{}"},
		{"whitespace", "  \n", "{}"},
		{"valid", `{"x":1}`, `{"x":1}`},
		{"unterminated", `{"x":1`, "{}"},
		{"garbage", "not json", "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(client.finalizeArgs("t1", tt.raw)); got != tt.want {
				t.Errorf("finalizeArgs(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestMapAnthropicStopReason(t *testing.T) {
	tests := []struct {
		in   string
		want StopReason
	}{
		{"end_turn", StopEnd},
		{"stop_sequence", StopEnd},
		{"tool_use", StopToolUse},
		{"max_tokens", StopLength},
		{"refusal", StopContentFilter},
		{"", StopReason("")},
	}
	for _, tt := range tests {
		if got := mapAnthropicStopReason(tt.in); got != tt.want {
			t.Errorf("mapAnthropicStopReason(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMapOpenAIFinishReason(t *testing.T) {
	tests := []struct {
		in   string
		want StopReason
	}{
		{"stop", StopEnd},
		{"tool_calls", StopToolUse},
		{"function_call", StopToolUse},
		{"length", StopLength},
		{"content_filter", StopContentFilter},
		{"unknown", StopEnd},
	}
	for _, tt := range tests {
		if got := mapOpenAIFinishReason(tt.in); got != tt.want {
			t.Errorf("mapOpenAIFinishReason(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
