package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/CaptainPhantasy/floyd/internal/agenterr"
)

// Transport kinds accepted in the MCP server list.
const (
	TransportStdio     = "stdio"
	TransportWebSocket = "websocket"
)

// MCPConfigNames are the file names probed under .floyd/, in order.
var MCPConfigNames = []string{"mcp.json", "mcp.config.json"}

// TransportSpec describes how to reach one MCP server.
type TransportSpec struct {
	Type    string            `json:"type"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`

	Extra map[string]any `json:"-"`
}

// MCPServer is one entry in the MCP server list.
type MCPServer struct {
	Name      string        `json:"name"`
	Enabled   bool          `json:"enabled"`
	Transport TransportSpec `json:"transport"`
	Timeout   time.Duration `json:"-"`

	Extra map[string]any `json:"-"`
}

// MCPConfig is the parsed .floyd/mcp.json. Unknown fields at every level are
// preserved and written back by Save.
type MCPConfig struct {
	Version string
	Servers []MCPServer

	Extra map[string]any
	path  string
}

// DefaultMCPTimeout is applied to servers that do not set one.
const DefaultMCPTimeout = 30 * time.Second

// LoadMCPConfig probes dir/.floyd for the MCP config file. A missing file is
// not an error: an empty config bound to the primary path is returned so that
// Save creates it.
func LoadMCPConfig(dir string) (*MCPConfig, error) {
	base := filepath.Join(dir, ".floyd")
	for _, name := range MCPConfigNames {
		path := filepath.Join(base, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, agenterr.New(agenterr.KindConfig, "config.mcp", err)
		}
		cfg, err := decodeMCPConfig(raw)
		if err != nil {
			return nil, agenterr.New(agenterr.KindConfig, "config.mcp", err)
		}
		cfg.path = path
		return cfg, nil
	}
	return &MCPConfig{
		Version: "1.0",
		path:    filepath.Join(base, MCPConfigNames[0]),
	}, nil
}

// Path returns the file this config was loaded from (or will be saved to).
func (c *MCPConfig) Path() string { return c.path }

// EnabledServers returns the enabled entries, defaults applied.
func (c *MCPConfig) EnabledServers() []MCPServer {
	var out []MCPServer
	for _, s := range c.Servers {
		if !s.Enabled {
			continue
		}
		if s.Timeout <= 0 {
			s.Timeout = DefaultMCPTimeout
		}
		out = append(out, s)
	}
	return out
}

// Save writes the config back to its path, re-emitting preserved unknown
// fields alongside the known ones.
func (c *MCPConfig) Save() error {
	if c.path == "" {
		return agenterr.Newf(agenterr.KindConfig, "config.mcp", "config has no backing path")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return agenterr.New(agenterr.KindConfig, "config.mcp", err)
	}
	data, err := json.MarshalIndent(c.encode(), "", "  ")
	if err != nil {
		return agenterr.New(agenterr.KindConfig, "config.mcp", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return agenterr.New(agenterr.KindConfig, "config.mcp", err)
	}
	return nil
}

func decodeMCPConfig(raw map[string]any) (*MCPConfig, error) {
	cfg := &MCPConfig{}
	extra := map[string]any{}
	for key, value := range raw {
		switch key {
		case "version":
			cfg.Version, _ = value.(string)
		case "servers":
			list, ok := value.([]any)
			if !ok {
				return nil, fmt.Errorf("servers must be a list")
			}
			for i, entry := range list {
				m, ok := entry.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("servers[%d] must be an object", i)
				}
				server, err := decodeMCPServer(m)
				if err != nil {
					return nil, fmt.Errorf("servers[%d]: %w", i, err)
				}
				cfg.Servers = append(cfg.Servers, server)
			}
		default:
			extra[key] = value
		}
	}
	if len(extra) > 0 {
		cfg.Extra = extra
	}
	return cfg, nil
}

func decodeMCPServer(m map[string]any) (MCPServer, error) {
	var server MCPServer
	extra := map[string]any{}
	for key, value := range m {
		switch key {
		case "name":
			server.Name, _ = value.(string)
		case "enabled":
			server.Enabled, _ = value.(bool)
		case "timeout_seconds":
			if secs, ok := toFloat(value); ok {
				server.Timeout = time.Duration(secs * float64(time.Second))
			}
		case "transport":
			tm, ok := value.(map[string]any)
			if !ok {
				return server, fmt.Errorf("transport must be an object")
			}
			spec, err := decodeTransportSpec(tm)
			if err != nil {
				return server, err
			}
			server.Transport = spec
		default:
			extra[key] = value
		}
	}
	if server.Name == "" {
		return server, fmt.Errorf("server entry missing name")
	}
	if len(extra) > 0 {
		server.Extra = extra
	}
	return server, nil
}

func decodeTransportSpec(m map[string]any) (TransportSpec, error) {
	var spec TransportSpec
	extra := map[string]any{}
	for key, value := range m {
		switch key {
		case "type":
			spec.Type, _ = value.(string)
		case "command":
			spec.Command, _ = value.(string)
		case "args":
			if list, ok := value.([]any); ok {
				for _, a := range list {
					if s, ok := a.(string); ok {
						spec.Args = append(spec.Args, s)
					}
				}
			}
		case "env":
			if em, ok := value.(map[string]any); ok {
				spec.Env = map[string]string{}
				for k, v := range em {
					if s, ok := v.(string); ok {
						spec.Env[k] = s
					}
				}
			}
		case "url":
			spec.URL, _ = value.(string)
		default:
			extra[key] = value
		}
	}
	switch spec.Type {
	case TransportStdio:
		if spec.Command == "" {
			return spec, fmt.Errorf("stdio transport requires command")
		}
	case TransportWebSocket:
		if spec.URL == "" {
			return spec, fmt.Errorf("websocket transport requires url")
		}
	default:
		return spec, fmt.Errorf("unknown transport type %q", spec.Type)
	}
	if len(extra) > 0 {
		spec.Extra = extra
	}
	return spec, nil
}

func (c *MCPConfig) encode() map[string]any {
	out := map[string]any{}
	for k, v := range c.Extra {
		out[k] = v
	}
	if c.Version != "" {
		out["version"] = c.Version
	}
	servers := make([]any, 0, len(c.Servers))
	for _, s := range c.Servers {
		servers = append(servers, s.encode())
	}
	out["servers"] = servers
	return out
}

func (s MCPServer) encode() map[string]any {
	out := map[string]any{}
	for k, v := range s.Extra {
		out[k] = v
	}
	out["name"] = s.Name
	out["enabled"] = s.Enabled
	if s.Timeout > 0 {
		out["timeout_seconds"] = s.Timeout.Seconds()
	}
	transport := map[string]any{}
	for k, v := range s.Transport.Extra {
		transport[k] = v
	}
	transport["type"] = s.Transport.Type
	if s.Transport.Command != "" {
		transport["command"] = s.Transport.Command
	}
	if len(s.Transport.Args) > 0 {
		transport["args"] = s.Transport.Args
	}
	if len(s.Transport.Env) > 0 {
		transport["env"] = s.Transport.Env
	}
	if s.Transport.URL != "" {
		transport["url"] = s.Transport.URL
	}
	out["transport"] = transport
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
