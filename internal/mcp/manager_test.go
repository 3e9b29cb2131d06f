package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/CaptainPhantasy/floyd/internal/config"
)

func twoServerManager(t *testing.T) (*Manager, func()) {
	t.Helper()

	svcA := &fakeToolService{tools: []*Tool{
		{Name: "echo", InputSchema: []byte(`{"type":"object"}`)},
		{Name: "shared", InputSchema: []byte(`{"type":"object"}`)},
	}}
	svcB := &fakeToolService{tools: []*Tool{
		{Name: "shared", InputSchema: []byte(`{"type":"object"}`)},
		{Name: "broken", InputSchema: []byte(`{"type":123}`)},
	}}

	urlA, cleanupA := startTestServer(t, svcA)
	urlB, cleanupB := startTestServer(t, svcB)

	manager := NewManager(nil)
	summary := manager.ConnectFromConfig(context.Background(), []config.MCPServer{
		wsServerEntry("a", urlA),
		wsServerEntry("b", urlB),
	})
	if len(summary.Connected) != 2 || len(summary.Failed) != 0 {
		t.Fatalf("summary = %+v", summary)
	}

	return manager, func() {
		manager.CloseAll()
		cleanupA()
		cleanupB()
	}
}

func TestManagerFirstRegisteredWins(t *testing.T) {
	manager, cleanup := twoServerManager(t)
	defer cleanup()

	owner, ok := manager.Owner("shared")
	if !ok || owner != "a" {
		t.Errorf("shared owner = %q, %v", owner, ok)
	}

	names := map[string]bool{}
	for _, tool := range manager.ListTools() {
		if names[tool.Name] {
			t.Errorf("duplicate tool %q in catalogue", tool.Name)
		}
		names[tool.Name] = true
	}
	if !names["echo"] || !names["shared"] {
		t.Errorf("catalogue missing expected tools: %v", names)
	}
	if names["broken"] {
		t.Error("schema-invalid tool should not be registered")
	}
}

func TestManagerCollisionDiagnostics(t *testing.T) {
	manager, cleanup := twoServerManager(t)
	defer cleanup()

	collisions := manager.Collisions()
	var sawNameClash, sawBadSchema bool
	for _, c := range collisions {
		switch c.Tool {
		case "shared":
			sawNameClash = c.Winner == "a" && c.Loser == "b"
		case "broken":
			sawBadSchema = c.Loser == "b" && c.Winner == ""
		}
	}
	if !sawNameClash {
		t.Errorf("missing name-clash diagnostic: %+v", collisions)
	}
	if !sawBadSchema {
		t.Errorf("missing bad-schema diagnostic: %+v", collisions)
	}
}

func TestManagerCallToolRoutesToOwner(t *testing.T) {
	manager, cleanup := twoServerManager(t)
	defer cleanup()

	result, err := manager.CallTool(context.Background(), "echo", json.RawMessage(`{"n":1}`))
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if result.Text() != `{"n":1}` {
		t.Errorf("result = %q", result.Text())
	}
}

func TestManagerCallToolUnknown(t *testing.T) {
	manager, cleanup := twoServerManager(t)
	defer cleanup()

	_, err := manager.CallTool(context.Background(), "nonexistent", nil)
	if !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("expected ErrToolUnavailable, got %v", err)
	}
}

func TestManagerDisconnectRebuildsRegistry(t *testing.T) {
	manager, cleanup := twoServerManager(t)
	defer cleanup()

	if err := manager.Disconnect("a"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	// shared now belongs to the surviving server.
	owner, ok := manager.Owner("shared")
	if !ok || owner != "b" {
		t.Errorf("shared owner after disconnect = %q, %v", owner, ok)
	}
	if _, ok := manager.Owner("echo"); ok {
		t.Error("echo should be gone with its server")
	}
	if _, err := manager.CallTool(context.Background(), "echo", nil); !errors.Is(err, ErrToolUnavailable) {
		t.Errorf("expected ErrToolUnavailable for departed tool, got %v", err)
	}
}

func TestManagerConnectFailureIsolated(t *testing.T) {
	svc := &fakeToolService{tools: []*Tool{{Name: "echo"}}}
	url, cleanup := startTestServer(t, svc)
	defer cleanup()

	manager := NewManager(nil)
	defer manager.CloseAll()

	unreachable := config.MCPServer{
		Name:    "down",
		Enabled: true,
		Timeout: time.Second,
		Transport: config.TransportSpec{
			Type: config.TransportWebSocket,
			URL:  "ws://127.0.0.1:1", // nothing listens here
		},
	}
	summary := manager.ConnectFromConfig(context.Background(), []config.MCPServer{
		unreachable,
		wsServerEntry("up", url),
	})

	if len(summary.Connected) != 1 || summary.Connected[0] != "up" {
		t.Errorf("connected = %v", summary.Connected)
	}
	if _, failed := summary.Failed["down"]; !failed {
		t.Errorf("failed = %v", summary.Failed)
	}
	if len(manager.ListTools()) != 1 {
		t.Errorf("catalogue = %+v", manager.ListTools())
	}
}

func TestManagerDescriptors(t *testing.T) {
	manager, cleanup := twoServerManager(t)
	defer cleanup()

	descriptors := manager.Descriptors()
	if len(descriptors) != len(manager.ListTools()) {
		t.Fatalf("descriptor count %d != catalogue %d", len(descriptors), len(manager.ListTools()))
	}
	for _, d := range descriptors {
		if d.Name == "" {
			t.Error("descriptor with empty name")
		}
	}
}
