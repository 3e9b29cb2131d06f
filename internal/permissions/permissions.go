// Package permissions computes allow/ask/deny verdicts for tool names from an
// ordered rule list plus runtime grants.
package permissions

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/CaptainPhantasy/floyd/internal/config"
)

// Verdict is the outcome of a permission check.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictAsk   Verdict = "ask"
	VerdictDeny  Verdict = "deny"
)

// Scope controls how long a grant or denial lasts.
type Scope string

const (
	// ScopeOnce is consumed by the next Check for the same tool.
	ScopeOnce Scope = "once"
	// ScopeSession lasts until the process exits.
	ScopeSession Scope = "session"
	// ScopeAlways is appended to the persistent rules file.
	ScopeAlways Scope = "always"
)

// Rule pairs a glob pattern with a verdict. Rules are evaluated in order;
// first match wins.
type Rule struct {
	Pattern string
	Verdict Verdict
}

// RuleWriter persists the rule list when an "always" grant is recorded.
type RuleWriter func(rules []Rule) error

// Manager evaluates verdicts. Check is lock-free over a copy-on-write rules
// snapshot; grants are guarded by a mutex.
type Manager struct {
	rules  atomic.Value // []Rule
	writer RuleWriter
	logger *slog.Logger

	mu      sync.Mutex
	once    map[string]Verdict
	session map[string]Verdict
}

// NewManager builds a manager over an ordered rule list. writer may be nil
// when "always" grants need not persist (tests, ephemeral runs).
func NewManager(rules []Rule, writer RuleWriter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		writer:  writer,
		logger:  logger.With("component", "permissions"),
		once:    make(map[string]Verdict),
		session: make(map[string]Verdict),
	}
	m.rules.Store(append([]Rule(nil), rules...))
	return m
}

// FromConfig converts loaded config rules into manager rules.
func FromConfig(rules []config.PermissionRule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, Rule{Pattern: r.Pattern, Verdict: Verdict(r.Verdict)})
	}
	return out
}

// Check returns the verdict for a tool name. A pending one-shot grant is
// consumed by this call. Evaluation order: once, session, rules, default ask.
func (m *Manager) Check(toolName string) Verdict {
	m.mu.Lock()
	if v, ok := m.once[toolName]; ok {
		delete(m.once, toolName)
		m.mu.Unlock()
		return v
	}
	if v, ok := m.session[toolName]; ok {
		m.mu.Unlock()
		return v
	}
	m.mu.Unlock()

	rules := m.rules.Load().([]Rule)
	for _, rule := range rules {
		if matchPattern(rule.Pattern, toolName) {
			return rule.Verdict
		}
	}
	return VerdictAsk
}

// Grant records an allow for the tool at the given scope.
func (m *Manager) Grant(toolName string, scope Scope) error {
	return m.record(toolName, VerdictAllow, scope)
}

// Deny records a deny for the tool at the given scope.
func (m *Manager) Deny(toolName string, scope Scope) error {
	return m.record(toolName, VerdictDeny, scope)
}

func (m *Manager) record(toolName string, verdict Verdict, scope Scope) error {
	switch scope {
	case ScopeOnce:
		m.mu.Lock()
		m.once[toolName] = verdict
		m.mu.Unlock()
		return nil
	case ScopeSession:
		m.mu.Lock()
		m.session[toolName] = verdict
		m.mu.Unlock()
		return nil
	case ScopeAlways:
		m.mu.Lock()
		m.session[toolName] = verdict
		m.mu.Unlock()
		return m.appendRule(Rule{Pattern: toolName, Verdict: verdict})
	default:
		m.logger.Warn("ignoring grant with unknown scope", "scope", scope, "tool", toolName)
		return nil
	}
}

// Reset removes any session or always override for the tool. Persisted rules
// matching the exact name are dropped and the file rewritten.
func (m *Manager) Reset(toolName string) error {
	m.mu.Lock()
	delete(m.once, toolName)
	delete(m.session, toolName)
	m.mu.Unlock()

	old := m.rules.Load().([]Rule)
	kept := make([]Rule, 0, len(old))
	removed := false
	for _, rule := range old {
		if rule.Pattern == toolName {
			removed = true
			continue
		}
		kept = append(kept, rule)
	}
	if !removed {
		return nil
	}
	m.rules.Store(kept)
	return m.persist(kept)
}

// Rules returns a copy of the current rule snapshot.
func (m *Manager) Rules() []Rule {
	return append([]Rule(nil), m.rules.Load().([]Rule)...)
}

func (m *Manager) appendRule(rule Rule) error {
	old := m.rules.Load().([]Rule)
	// Prepend so the explicit grant beats broad catch-all rules.
	updated := make([]Rule, 0, len(old)+1)
	updated = append(updated, rule)
	updated = append(updated, old...)
	m.rules.Store(updated)
	return m.persist(updated)
}

func (m *Manager) persist(rules []Rule) error {
	if m.writer == nil {
		return nil
	}
	if err := m.writer(rules); err != nil {
		m.logger.Error("failed to persist permission rules", "error", err)
		return err
	}
	return nil
}

// matchPattern supports exact names, the bare wildcard `*`, and trailing-star
// prefixes like `read-*`.
func matchPattern(pattern, toolName string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if pattern == toolName {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(toolName, pattern[:len(pattern)-1])
	}
	return false
}
