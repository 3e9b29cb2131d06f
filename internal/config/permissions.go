package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/CaptainPhantasy/floyd/internal/agenterr"
)

// PermissionRule is one ordered entry in the rules file. Patterns support `*`
// and `prefix-*` globs; verdict is allow, ask, or deny.
type PermissionRule struct {
	Pattern string `yaml:"pattern"`
	Verdict string `yaml:"verdict"`
}

// PermissionRulesName is the rules file under .floyd/.
const PermissionRulesName = "permissions.yaml"

type permissionRulesFile struct {
	Rules []PermissionRule `yaml:"rules"`
}

// LoadPermissionRules reads dir/.floyd/permissions.yaml. A missing file means
// no rules.
func LoadPermissionRules(dir string) ([]PermissionRule, error) {
	path := filepath.Join(dir, ".floyd", PermissionRulesName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, agenterr.New(agenterr.KindConfig, "config.permissions", err)
	}
	var file permissionRulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, agenterr.New(agenterr.KindConfig, "config.permissions", err)
	}
	for i, rule := range file.Rules {
		switch rule.Verdict {
		case "allow", "ask", "deny":
		default:
			return nil, agenterr.Newf(agenterr.KindConfig, "config.permissions",
				"rule %d: invalid verdict %q", i, rule.Verdict)
		}
		if rule.Pattern == "" {
			return nil, agenterr.Newf(agenterr.KindConfig, "config.permissions",
				"rule %d: empty pattern", i)
		}
	}
	return file.Rules, nil
}

// SavePermissionRules writes the ordered rule list to dir/.floyd/permissions.yaml.
func SavePermissionRules(dir string, rules []PermissionRule) error {
	base := filepath.Join(dir, ".floyd")
	if err := os.MkdirAll(base, 0o755); err != nil {
		return agenterr.New(agenterr.KindConfig, "config.permissions", err)
	}
	data, err := yaml.Marshal(permissionRulesFile{Rules: rules})
	if err != nil {
		return agenterr.New(agenterr.KindConfig, "config.permissions", err)
	}
	path := filepath.Join(base, PermissionRulesName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return agenterr.New(agenterr.KindConfig, "config.permissions", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return agenterr.New(agenterr.KindConfig, "config.permissions", fmt.Errorf("replacing %s: %w", path, err))
	}
	return nil
}
