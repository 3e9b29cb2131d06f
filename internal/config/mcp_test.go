package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMCPFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	base := filepath.Join(dir, ".floyd")
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(base, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMCPConfig(t *testing.T) {
	dir := t.TempDir()
	writeMCPFile(t, dir, "mcp.json", `{
		"version": "1.0",
		"servers": [
			{"name": "files", "enabled": true,
			 "transport": {"type": "stdio", "command": "mcp-files", "args": ["--root", "."]}},
			{"name": "browser", "enabled": false,
			 "transport": {"type": "websocket", "url": "ws://localhost:9100"}}
		]
	}`)

	cfg, err := LoadMCPConfig(dir)
	if err != nil {
		t.Fatalf("LoadMCPConfig() error = %v", err)
	}
	if len(cfg.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(cfg.Servers))
	}
	if cfg.Servers[0].Transport.Type != TransportStdio || cfg.Servers[0].Transport.Command != "mcp-files" {
		t.Errorf("stdio transport decoded wrong: %+v", cfg.Servers[0].Transport)
	}
	if cfg.Servers[1].Transport.URL != "ws://localhost:9100" {
		t.Errorf("websocket transport decoded wrong: %+v", cfg.Servers[1].Transport)
	}

	enabled := cfg.EnabledServers()
	if len(enabled) != 1 || enabled[0].Name != "files" {
		t.Errorf("EnabledServers() = %+v", enabled)
	}
	if enabled[0].Timeout != DefaultMCPTimeout {
		t.Errorf("default timeout not applied: %v", enabled[0].Timeout)
	}
}

func TestLoadMCPConfigVariantName(t *testing.T) {
	dir := t.TempDir()
	writeMCPFile(t, dir, "mcp.config.json", `{"version":"1.0","servers":[]}`)

	cfg, err := LoadMCPConfig(dir)
	if err != nil {
		t.Fatalf("LoadMCPConfig() error = %v", err)
	}
	if filepath.Base(cfg.Path()) != "mcp.config.json" {
		t.Errorf("expected variant path, got %s", cfg.Path())
	}
}

func TestLoadMCPConfigMissingFile(t *testing.T) {
	cfg, err := LoadMCPConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadMCPConfig() error = %v", err)
	}
	if len(cfg.Servers) != 0 {
		t.Errorf("expected empty config, got %+v", cfg.Servers)
	}
}

func TestMCPConfigRoundTripPreservesUnknownFields(t *testing.T) {
	dir := t.TempDir()
	writeMCPFile(t, dir, "mcp.json", `{
		"version": "1.0",
		"future_top_level": {"nested": 1},
		"servers": [
			{"name": "files", "enabled": true, "future_server_field": "keep",
			 "transport": {"type": "stdio", "command": "mcp-files", "future_transport_field": 7}}
		]
	}`)

	cfg, err := LoadMCPConfig(dir)
	if err != nil {
		t.Fatalf("LoadMCPConfig() error = %v", err)
	}
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, err := LoadMCPConfig(dir)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if _, ok := reloaded.Extra["future_top_level"]; !ok {
		t.Error("top-level unknown field lost")
	}
	if reloaded.Servers[0].Extra["future_server_field"] != "keep" {
		t.Error("server-level unknown field lost")
	}
	if _, ok := reloaded.Servers[0].Transport.Extra["future_transport_field"]; !ok {
		t.Error("transport-level unknown field lost")
	}
}

func TestLoadMCPConfigRejectsBadTransport(t *testing.T) {
	dir := t.TempDir()
	writeMCPFile(t, dir, "mcp.json", `{"servers":[{"name":"x","enabled":true,"transport":{"type":"carrier-pigeon"}}]}`)

	if _, err := LoadMCPConfig(dir); err == nil {
		t.Fatal("expected error for unknown transport type")
	}
}

func TestLoadMCPConfigExpandsEnv(t *testing.T) {
	t.Setenv("FLOYD_TEST_CMD", "mcp-files")
	dir := t.TempDir()
	writeMCPFile(t, dir, "mcp.json", `{"servers":[{"name":"files","enabled":true,"transport":{"type":"stdio","command":"${FLOYD_TEST_CMD}"}}]}`)

	cfg, err := LoadMCPConfig(dir)
	if err != nil {
		t.Fatalf("LoadMCPConfig() error = %v", err)
	}
	if cfg.Servers[0].Transport.Command != "mcp-files" {
		t.Errorf("env not expanded: %q", cfg.Servers[0].Transport.Command)
	}
}
