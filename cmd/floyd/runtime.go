package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"

	"github.com/CaptainPhantasy/floyd/internal/config"
	"github.com/CaptainPhantasy/floyd/internal/engine"
	"github.com/CaptainPhantasy/floyd/internal/llm"
	"github.com/CaptainPhantasy/floyd/internal/mcp"
	"github.com/CaptainPhantasy/floyd/internal/permissions"
	"github.com/CaptainPhantasy/floyd/internal/sessions"
)

// floydDir is the config root. The store nests its own sessions/ directory
// under it, so sessions land at .floyd/sessions/<id>.json.
func floydDir(dir string) string {
	return filepath.Join(dir, ".floyd")
}

func buildLLMClient(opts *rootOpts) (llm.Client, error) {
	return llm.New(llm.Options{
		Provider:  opts.provider,
		Model:     opts.model,
		APIKey:    opts.apiKey,
		MaxTokens: opts.maxTokens,
	})
}

// buildPermissions loads the rules file and wires "always" grants back to it.
func buildPermissions(dir string) (*permissions.Manager, error) {
	rules, err := config.LoadPermissionRules(dir)
	if err != nil {
		return nil, err
	}
	writer := func(updated []permissions.Rule) error {
		out := make([]config.PermissionRule, 0, len(updated))
		for _, r := range updated {
			out = append(out, config.PermissionRule{Pattern: r.Pattern, Verdict: string(r.Verdict)})
		}
		return config.SavePermissionRules(dir, out)
	}
	return permissions.NewManager(permissions.FromConfig(rules), writer, nil), nil
}

// connectMCP loads .floyd/mcp.json and connects every enabled server.
func connectMCP(ctx context.Context, dir string) (*mcp.Manager, mcp.Summary, error) {
	cfg, err := config.LoadMCPConfig(dir)
	if err != nil {
		return nil, mcp.Summary{}, err
	}
	manager := mcp.NewManager(nil)
	summary := manager.ConnectFromConfig(ctx, cfg.EnabledServers())
	return manager, summary, nil
}

func openStore(dir string) *sessions.Store {
	return sessions.NewStore(floydDir(dir), slog.Default())
}

// agentService adapts the manager and an optional engine to the MCP server's
// ToolService. Without an engine, agent/status reports idle.
type agentService struct {
	manager *mcp.Manager
	engine  *engine.Engine
}

func (s *agentService) ListTools() []*mcp.Tool { return s.manager.ListTools() }

func (s *agentService) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*mcp.ToolCallResult, error) {
	return s.manager.CallTool(ctx, name, arguments)
}

func (s *agentService) AgentStatus() mcp.AgentStatus {
	if s.engine == nil {
		return mcp.AgentStatus{Phase: engine.PhaseIdle}
	}
	st := s.engine.Status()
	return mcp.AgentStatus{
		Phase:        st.Phase,
		SessionID:    st.SessionID,
		Turns:        st.Turns,
		InputTokens:  st.InputTokens,
		OutputTokens: st.OutputTokens,
	}
}
