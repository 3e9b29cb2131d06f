// Package main provides the CLI entry point for the floyd agent runtime.
//
// Floyd drives multi-turn conversations with an LLM provider, executes tools
// over the Model Context Protocol, and persists sessions on disk.
//
// # Basic Usage
//
// Start an interactive chat:
//
//	floyd chat
//
// Expose the agent over the MCP WebSocket server:
//
//	floyd serve --addr localhost:3000
//
// Inspect configured MCP servers:
//
//	floyd mcp list
//	floyd mcp status
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - OPENAI_API_KEY: OpenAI API key
//   - ZAI_API_KEY: GLM API key
//   - DEEPSEEK_API_KEY: DeepSeek API key
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CaptainPhantasy/floyd/internal/config"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootOpts are the persistent flags shared by every subcommand.
type rootOpts struct {
	dir       string
	provider  string
	model     string
	apiKey    string
	maxTokens int
	verbose   bool
}

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	opts := &rootOpts{}

	rootCmd := &cobra.Command{
		Use:   "floyd",
		Short: "Floyd - MCP-native AI agent runtime",
		Long: fmt.Sprintf(`Floyd drives a tool-using conversation with an LLM provider and executes
tools over the Model Context Protocol.

Supported providers: %s
Configuration lives under .floyd/ in the working directory.`, strings.Join(config.ProviderTags(), ", ")),
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if opts.verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.dir, "dir", "C", ".", "Working directory holding the .floyd config")
	flags.StringVar(&opts.provider, "provider", "anthropic", "LLM provider tag")
	flags.StringVar(&opts.model, "model", "", "Model override (defaults per provider)")
	flags.StringVar(&opts.apiKey, "api-key", "", "API key (defaults to the provider's env var)")
	flags.IntVar(&opts.maxTokens, "max-tokens", 0, "Max output tokens per response")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(
		buildChatCmd(opts),
		buildServeCmd(opts),
		buildMcpCmd(opts),
		buildSessionsCmd(opts),
	)
	return rootCmd
}
