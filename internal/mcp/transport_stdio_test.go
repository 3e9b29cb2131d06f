package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CaptainPhantasy/floyd/internal/config"
)

// echoScript replies to every request with a canned result carrying the
// request's id back.
const echoScript = `while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  if [ -n "$id" ]; then
    printf '{"jsonrpc":"2.0","id":%s,"result":{"echo":true}}\n' "$id"
  fi
done`

func stdioServer(script string) config.MCPServer {
	return config.MCPServer{
		Name:    "scripted",
		Enabled: true,
		Timeout: 5 * time.Second,
		Transport: config.TransportSpec{
			Type:    config.TransportStdio,
			Command: "/bin/sh",
			Args:    []string{"-c", script},
		},
	}
}

func TestStdioTransportCall(t *testing.T) {
	transport := newStdioTransport(stdioServer(echoScript))
	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer transport.Close()

	result, err := transport.Call(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if string(result) != `{"echo":true}` {
		t.Errorf("result = %s", result)
	}

	// Sequential calls get distinct ids and still route correctly.
	if _, err := transport.Call(context.Background(), "ping", map[string]any{"n": 2}); err != nil {
		t.Fatalf("second Call() error = %v", err)
	}
}

func TestStdioTransportServerError(t *testing.T) {
	script := `while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  if [ -n "$id" ]; then
    printf '{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"method not found"}}\n' "$id"
  fi
done`
	transport := newStdioTransport(stdioServer(script))
	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer transport.Close()

	_, err := transport.Call(context.Background(), "bogus", nil)
	var rpcErr *JSONRPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected JSONRPCError, got %v", err)
	}
	if rpcErr.Code != ErrCodeMethodNotFound {
		t.Errorf("code = %d", rpcErr.Code)
	}
}

func TestStdioTransportChildExitFailsPending(t *testing.T) {
	// The child reads one request then exits without responding.
	transport := newStdioTransport(stdioServer(`read line; exit 0`))
	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer transport.Close()

	_, err := transport.Call(context.Background(), "ping", nil)
	if !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
	if transport.Connected() {
		t.Error("transport should report disconnected after child exit")
	}
}

func TestStdioTransportCallContextCancelled(t *testing.T) {
	// The child swallows input and never answers.
	transport := newStdioTransport(stdioServer(`while IFS= read -r line; do :; done`))
	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := transport.Call(ctx, "ping", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestStdioTransportNotifyNoResponse(t *testing.T) {
	transport := newStdioTransport(stdioServer(echoScript))
	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer transport.Close()

	if err := transport.Notify(context.Background(), "notifications/initialized", nil); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	// A call after the notification still routes to the right id.
	if _, err := transport.Call(context.Background(), "ping", nil); err != nil {
		t.Fatalf("Call() after Notify() error = %v", err)
	}
}
