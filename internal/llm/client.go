package llm

import (
	"context"
	"log/slog"

	"github.com/CaptainPhantasy/floyd/internal/agenterr"
	"github.com/CaptainPhantasy/floyd/internal/config"
	"github.com/CaptainPhantasy/floyd/pkg/models"
)

// eventBuffer sizes the stream channel so upstream framing is never lost
// while a consumer pauses.
const eventBuffer = 64

// Client is the provider-neutral streaming contract. The returned channel is
// finite: it ends with exactly one stop or one error event. Adapters close
// the transport and emit stop(cancelled) when ctx is cancelled.
type Client interface {
	Stream(ctx context.Context, history []*models.Message, tools []models.ToolDescriptor) (<-chan StreamEvent, error)
	Name() string
}

// Options configure New. Zero fields fall back to the provider defaults.
type Options struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	MaxTokens int
	Logger    *slog.Logger
}

// New maps a provider tag to the matching adapter, merging caller options
// over the provider defaults.
func New(opts Options) (Client, error) {
	defaults, err := config.DefaultsFor(opts.Provider)
	if err != nil {
		return nil, err
	}
	key, err := config.ResolveAPIKey(defaults, opts.APIKey)
	if err != nil {
		return nil, err
	}
	if opts.Model == "" {
		opts.Model = defaults.Model
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaults.BaseURL
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaults.MaxTokens
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.APIKey = key

	switch defaults.Shape {
	case "anthropic":
		return newAnthropicClient(defaults.Tag, opts), nil
	case "openai":
		return newOpenAIClient(defaults.Tag, opts), nil
	default:
		return nil, agenterr.Newf(agenterr.KindConfig, "llm.new", "provider %q has no adapter", opts.Provider)
	}
}
