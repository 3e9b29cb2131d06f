package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/CaptainPhantasy/floyd/internal/config"
)

// Transport carries JSON-RPC traffic to one MCP server.
type Transport interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Close tears the connection down. Pending calls fail with
	// ErrTransportClosed.
	Close() error

	// Call sends a request and waits for the matching response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Connected reports whether the transport is usable.
	Connected() bool
}

// newTransport builds the transport named by the server entry.
func newTransport(cfg config.MCPServer) (Transport, error) {
	switch cfg.Transport.Type {
	case config.TransportStdio:
		return newStdioTransport(cfg), nil
	case config.TransportWebSocket:
		return newWSTransport(cfg), nil
	default:
		return nil, fmt.Errorf("unknown transport type %q for server %s", cfg.Transport.Type, cfg.Name)
	}
}
