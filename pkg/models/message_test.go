package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMessageRoundTripPreservesUnknownFields(t *testing.T) {
	raw := []byte(`{"id":"m1","role":"user","content":"hi","created_at":"2025-01-02T03:04:05Z","x_vendor":{"a":1},"legacy_flag":true}`)

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if msg.ID != "m1" || msg.Role != RoleUser || msg.Content != "hi" {
		t.Fatalf("known fields not decoded: %+v", msg)
	}
	if len(msg.Extra) != 2 {
		t.Fatalf("expected 2 preserved fields, got %d", len(msg.Extra))
	}

	out, err := json.Marshal(&msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("Unmarshal(round trip) error = %v", err)
	}
	if string(decoded["x_vendor"]) != `{"a":1}` {
		t.Errorf("x_vendor not preserved: %s", decoded["x_vendor"])
	}
	if string(decoded["legacy_flag"]) != "true" {
		t.Errorf("legacy_flag not preserved: %s", decoded["legacy_flag"])
	}
}

func TestMessageTextContent(t *testing.T) {
	msg := &Message{
		Blocks: []ContentBlock{
			{Type: BlockText, Text: "hello "},
			{Type: BlockToolUse, ID: "t1", Name: "search"},
			{Type: BlockText, Text: "world"},
		},
	}
	if got := msg.TextContent(); got != "hello world" {
		t.Errorf("TextContent() = %q", got)
	}

	msg.Content = "direct"
	if got := msg.TextContent(); got != "direct" {
		t.Errorf("TextContent() with Content set = %q", got)
	}
}

func TestMessageToolUsesOrder(t *testing.T) {
	msg := &Message{
		Blocks: []ContentBlock{
			{Type: BlockToolUse, ID: "a", Name: "first"},
			{Type: BlockText, Text: "between"},
			{Type: BlockToolUse, ID: "b", Name: "second"},
		},
	}
	uses := msg.ToolUses()
	if len(uses) != 2 {
		t.Fatalf("expected 2 tool uses, got %d", len(uses))
	}
	if uses[0].ID != "a" || uses[1].ID != "b" {
		t.Errorf("tool uses out of order: %v", uses)
	}
}

func TestMessageCancelled(t *testing.T) {
	msg := &Message{Blocks: []ContentBlock{{Type: BlockText, Text: "partial"}}}
	if msg.Cancelled() {
		t.Error("expected not cancelled")
	}
	msg.Blocks = append(msg.Blocks, ContentBlock{Type: BlockCancelled})
	if !msg.Cancelled() {
		t.Error("expected cancelled")
	}
}

func TestSessionRoundTripPreservesUnknownFields(t *testing.T) {
	raw := []byte(`{"id":"s1","title":"t","messages":[],"created_at":"2025-01-02T03:04:05Z","updated_at":"2025-01-02T03:04:05Z","pinned":true}`)

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	out, err := json.Marshal(&sess)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("Unmarshal(round trip) error = %v", err)
	}
	if string(decoded["pinned"]) != "true" {
		t.Errorf("pinned not preserved: %s", decoded["pinned"])
	}
}

func TestSessionSnapshotIsIndependent(t *testing.T) {
	sess := &Session{
		ID:        "s1",
		Messages:  []*Message{{ID: "m1", Role: RoleUser, Content: "hi", CreatedAt: time.Now()}},
		CreatedAt: time.Now(),
	}
	snap := sess.Snapshot()

	sess.Messages[0].Content = "mutated"
	sess.Messages = append(sess.Messages, &Message{ID: "m2"})

	if snap.Messages[0].Content != "hi" {
		t.Errorf("snapshot message mutated: %q", snap.Messages[0].Content)
	}
	if len(snap.Messages) != 1 {
		t.Errorf("snapshot length changed: %d", len(snap.Messages))
	}
}
