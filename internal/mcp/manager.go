package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/CaptainPhantasy/floyd/internal/config"
	"github.com/CaptainPhantasy/floyd/pkg/models"
)

// Summary reports the outcome of ConnectFromConfig. One server failing never
// stops the others.
type Summary struct {
	Connected []string
	Failed    map[string]error
}

// Collision records a tool that was not registered, either because another
// server registered the name first or because its schema did not compile.
type Collision struct {
	Tool   string
	Winner string // server that kept the name, empty for schema failures
	Loser  string // server whose tool was dropped
	Reason string
}

// registeredTool binds an aggregated tool to its owning server.
type registeredTool struct {
	server string
	tool   *Tool
}

// Manager aggregates the tool catalogues of several MCP servers behind one
// flat namespace. Name collisions resolve first-registered-wins, in the
// order servers appear in the config.
type Manager struct {
	logger *slog.Logger

	mu         sync.RWMutex
	clients    map[string]*Client
	order      []string // connect order, drives registration priority
	registry   map[string]*registeredTool
	catalogue  []*registeredTool // registration order
	collisions []Collision
}

// NewManager builds an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger.With("component", "mcp"),
		clients:  make(map[string]*Client),
		registry: make(map[string]*registeredTool),
	}
}

// ConnectFromConfig dials every enabled server in parallel and registers the
// tools of the ones that connected. Registration order follows the config
// order regardless of which connection finished first.
func (m *Manager) ConnectFromConfig(ctx context.Context, servers []config.MCPServer) Summary {
	summary := Summary{Failed: make(map[string]error)}

	type result struct {
		name   string
		client *Client
		err    error
	}
	results := make([]result, len(servers))

	var wg sync.WaitGroup
	for i, server := range servers {
		wg.Add(1)
		go func(i int, server config.MCPServer) {
			defer wg.Done()
			client, err := NewClient(server, m.logger)
			if err != nil {
				results[i] = result{name: server.Name, err: err}
				return
			}
			if err := client.Connect(ctx); err != nil {
				results[i] = result{name: server.Name, err: err}
				return
			}
			results[i] = result{name: server.Name, client: client}
		}(i, server)
	}
	wg.Wait()

	m.mu.Lock()
	for _, r := range results {
		if r.err != nil {
			summary.Failed[r.name] = r.err
			m.logger.Error("failed to connect to MCP server", "server", r.name, "error", r.err)
			continue
		}
		m.clients[r.name] = r.client
		m.order = append(m.order, r.name)
		summary.Connected = append(summary.Connected, r.name)
	}
	m.rebuildRegistryLocked()
	m.mu.Unlock()

	m.logger.Info("MCP servers connected",
		"connected", len(summary.Connected),
		"failed", len(summary.Failed))
	return summary
}

// Disconnect closes one server and drops its tools from the registry.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, exists := m.clients[name]
	if !exists {
		return ErrServerNotFound
	}
	err := client.Close()
	delete(m.clients, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.rebuildRegistryLocked()
	m.logger.Info("disconnected from MCP server", "server", name)
	return err
}

// CloseAll disconnects every server.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.Error("failed to close MCP client", "server", name, "error", err)
		}
		delete(m.clients, name)
	}
	m.order = nil
	m.rebuildRegistryLocked()
}

// ListTools returns the aggregated catalogue in registration order.
func (m *Manager) ListTools() []*Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Tool, 0, len(m.catalogue))
	for _, reg := range m.catalogue {
		out = append(out, reg.tool)
	}
	return out
}

// Descriptors converts the catalogue into the neutral tool descriptor form
// used by the LLM layer.
func (m *Manager) Descriptors() []models.ToolDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ToolDescriptor, 0, len(m.catalogue))
	for _, reg := range m.catalogue {
		out = append(out, models.ToolDescriptor{
			Name:        reg.tool.Name,
			Description: reg.tool.Description,
			InputSchema: reg.tool.InputSchema,
		})
	}
	return out
}

// Collisions returns diagnostics for tools dropped during registration.
func (m *Manager) Collisions() []Collision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Collision, len(m.collisions))
	copy(out, m.collisions)
	return out
}

// Owner reports which server provides the named tool.
func (m *Manager) Owner(tool string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.registry[tool]
	if !ok {
		return "", false
	}
	return reg.server, true
}

// CallTool routes the call to the server that registered the name. A tool
// whose owner has dropped off triggers a registry rebuild and reports
// ErrToolUnavailable.
func (m *Manager) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResult, error) {
	m.mu.RLock()
	reg, ok := m.registry[name]
	var client *Client
	if ok {
		client = m.clients[reg.server]
	}
	m.mu.RUnlock()

	if !ok || client == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolUnavailable, name)
	}
	if !client.Connected() {
		m.mu.Lock()
		m.rebuildRegistryLocked()
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (server %s disconnected)", ErrToolUnavailable, name, reg.server)
	}
	return client.CallTool(ctx, name, arguments)
}

// ServerStatus describes one connected server.
type ServerStatus struct {
	Name      string     `json:"name"`
	Connected bool       `json:"connected"`
	Server    ServerInfo `json:"server"`
	Tools     int        `json:"tools"`
}

// Status reports every server in connect order.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerStatus, 0, len(m.order))
	for _, name := range m.order {
		client := m.clients[name]
		out = append(out, ServerStatus{
			Name:      name,
			Connected: client.Connected(),
			Server:    client.ServerInfo(),
			Tools:     len(client.Tools()),
		})
	}
	return out
}

// rebuildRegistryLocked rebuilds the flat namespace from the live clients in
// connect order. Callers hold m.mu.
func (m *Manager) rebuildRegistryLocked() {
	m.registry = make(map[string]*registeredTool)
	m.catalogue = nil
	m.collisions = nil

	for _, name := range m.order {
		client, exists := m.clients[name]
		if !exists || !client.Connected() {
			continue
		}
		for _, tool := range client.Tools() {
			if err := compileSchema(tool); err != nil {
				m.collisions = append(m.collisions, Collision{
					Tool:   tool.Name,
					Loser:  name,
					Reason: fmt.Sprintf("invalid schema: %v", err),
				})
				m.logger.Warn("skipping tool with invalid schema",
					"server", name, "tool", tool.Name, "error", err)
				continue
			}
			if existing, taken := m.registry[tool.Name]; taken {
				m.collisions = append(m.collisions, Collision{
					Tool:   tool.Name,
					Winner: existing.server,
					Loser:  name,
					Reason: "name already registered",
				})
				m.logger.Warn("tool name collision",
					"tool", tool.Name, "winner", existing.server, "loser", name)
				continue
			}
			reg := &registeredTool{server: name, tool: tool}
			m.registry[tool.Name] = reg
			m.catalogue = append(m.catalogue, reg)
		}
	}
}

// compileSchema verifies a tool's input schema is a valid JSON Schema. An
// absent schema passes; callers treat it as accept-anything.
func compileSchema(tool *Tool) error {
	if len(tool.InputSchema) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(tool.InputSchema))); err != nil {
		return err
	}
	_, err := compiler.Compile("schema.json")
	return err
}
