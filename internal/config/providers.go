package config

import (
	"os"
	"strings"

	"github.com/CaptainPhantasy/floyd/internal/agenterr"
)

// ProviderDefaults are the built-in settings for one provider tag. Caller
// options are merged over these by the LLM client factory.
type ProviderDefaults struct {
	Tag       string
	Shape     string // "openai" or "anthropic"
	BaseURL   string
	Model     string
	MaxTokens int
	APIKeyEnv string
}

var providerDefaults = map[string]ProviderDefaults{
	"glm": {
		Tag:       "glm",
		Shape:     "openai",
		BaseURL:   "https://api.z.ai/api/paas/v4",
		Model:     "glm-4.6",
		MaxTokens: 8192,
		APIKeyEnv: "ZAI_API_KEY",
	},
	"anthropic": {
		Tag:       "anthropic",
		Shape:     "anthropic",
		BaseURL:   "https://api.anthropic.com",
		Model:     "claude-sonnet-4-20250514",
		MaxTokens: 8192,
		APIKeyEnv: "ANTHROPIC_API_KEY",
	},
	"openai": {
		Tag:       "openai",
		Shape:     "openai",
		BaseURL:   "https://api.openai.com/v1",
		Model:     "gpt-4o",
		MaxTokens: 8192,
		APIKeyEnv: "OPENAI_API_KEY",
	},
	"deepseek": {
		Tag:       "deepseek",
		Shape:     "openai",
		BaseURL:   "https://api.deepseek.com",
		Model:     "deepseek-chat",
		MaxTokens: 8192,
		APIKeyEnv: "DEEPSEEK_API_KEY",
	},
}

// DefaultsFor returns the defaults for a provider tag.
func DefaultsFor(tag string) (ProviderDefaults, error) {
	d, ok := providerDefaults[strings.ToLower(strings.TrimSpace(tag))]
	if !ok {
		return ProviderDefaults{}, agenterr.Newf(agenterr.KindConfig, "config.provider", "unknown provider %q", tag)
	}
	return d, nil
}

// ProviderTags lists the supported provider tags.
func ProviderTags() []string {
	return []string{"anthropic", "deepseek", "glm", "openai"}
}

// ResolveAPIKey returns the caller-supplied key when non-empty, otherwise the
// provider's environment variable. Missing credentials are a config error.
func ResolveAPIKey(d ProviderDefaults, supplied string) (string, error) {
	if strings.TrimSpace(supplied) != "" {
		return supplied, nil
	}
	if key := os.Getenv(d.APIKeyEnv); key != "" {
		return key, nil
	}
	return "", agenterr.Newf(agenterr.KindConfig, "config.credentials",
		"no API key for provider %q: set %s or pass one explicitly", d.Tag, d.APIKeyEnv)
}
