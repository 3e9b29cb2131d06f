// Package config loads the agent's configuration: provider defaults, the MCP
// server list, and the permission rules file.
package config

import (
	"fmt"
	"os"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// LoadRaw reads a JSON5 config file into a raw map. Environment variables in
// the file contents are expanded before parsing, so values like
// "${HOME}/bin/server" resolve at load time.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json5.Unmarshal([]byte(os.ExpandEnv(string(data))), &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}
