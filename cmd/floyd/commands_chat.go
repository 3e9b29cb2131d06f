package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CaptainPhantasy/floyd/internal/agenterr"
	"github.com/CaptainPhantasy/floyd/internal/engine"
	"github.com/CaptainPhantasy/floyd/internal/permissions"
	"github.com/CaptainPhantasy/floyd/pkg/models"
)

const defaultSystemPrompt = "You are Floyd, a capable assistant with access to tools. " +
	"Use them when they help, and answer directly when they do not."

func buildChatCmd(opts *rootOpts) *cobra.Command {
	var (
		sessionID string
		system    string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with tool execution",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(opts, sessionID, system)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Resume an existing session by id")
	cmd.Flags().StringVar(&system, "system", defaultSystemPrompt, "System prompt for new sessions")
	return cmd
}

func runChat(opts *rootOpts, sessionID, system string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := buildLLMClient(opts)
	if err != nil {
		return err
	}
	perms, err := buildPermissions(opts.dir)
	if err != nil {
		return err
	}

	manager, summary, err := connectMCP(ctx, opts.dir)
	if err != nil {
		return err
	}
	defer manager.CloseAll()
	for name, connErr := range summary.Failed {
		fmt.Fprintf(os.Stderr, "warning: MCP server %s unavailable: %v\n", name, connErr)
	}

	store := openStore(opts.dir)
	var session *models.Session
	if sessionID != "" {
		session, err = store.Load(sessionID)
		if err != nil {
			return err
		}
	} else {
		session, err = store.Create(opts.dir)
		if err != nil {
			return err
		}
		sysMsg := &models.Message{Role: models.RoleSystem, Content: system}
		if err := store.AppendMessage(session, sysMsg); err != nil {
			return err
		}
	}

	eng := engine.New(client, manager, perms, store, session, engine.Config{}, nil)

	fmt.Printf("floyd %s | provider %s | session %s\n", version, client.Name(), session.ID)
	fmt.Printf("%d tools available. Ctrl-C cancels a turn, Ctrl-D exits.\n\n", len(manager.ListTools()))

	stdin := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !stdin.Scan() {
			fmt.Println()
			return stdin.Err()
		}
		prompt := strings.TrimSpace(stdin.Text())
		if prompt == "" {
			continue
		}
		if prompt == "/quit" || prompt == "/exit" {
			return nil
		}

		// Each turn gets its own cancel scope so Ctrl-C ends the turn, not
		// the program.
		turnCtx, cancelTurn := signal.NotifyContext(ctx, os.Interrupt)
		runChatTurn(turnCtx, eng, prompt, stdin)
		cancelTurn()

		if ctx.Err() != nil {
			return nil
		}
	}
}

func runChatTurn(ctx context.Context, eng *engine.Engine, prompt string, stdin *bufio.Scanner) {
	events, err := eng.SendMessage(ctx, prompt)
	if err != nil {
		fmt.Fprintln(os.Stderr, agenterr.Humanize(err))
		return
	}

	for ev := range events {
		switch ev.Type {
		case engine.EventText:
			fmt.Print(ev.Text)
		case engine.EventToolStarted:
			fmt.Printf("\n[%s] running...\n", ev.ToolName)
		case engine.EventToolFinished:
			if ev.IsError {
				fmt.Printf("[%s] failed: %s\n", ev.ToolName, firstLine(ev.Output))
			} else {
				fmt.Printf("[%s] done\n", ev.ToolName)
			}
		case engine.EventPermissionRequired:
			ev.Respond(promptPermission(stdin, ev.ToolName))
		case engine.EventError:
			fmt.Fprintf(os.Stderr, "\n%s\n", agenterr.Humanize(ev.Err))
		case engine.EventDone:
			fmt.Println()
		}
	}
}

// promptPermission asks the user on stdin how to resolve a permission pause.
func promptPermission(stdin *bufio.Scanner, tool string) engine.PermissionResponse {
	fmt.Printf("\nAllow tool %q? [y]es once / [s]ession / [a]lways / [n]o: ", tool)
	if !stdin.Scan() {
		return engine.PermissionResponse{Approve: false, Scope: permissions.ScopeOnce}
	}
	switch strings.ToLower(strings.TrimSpace(stdin.Text())) {
	case "y", "yes":
		return engine.PermissionResponse{Approve: true, Scope: permissions.ScopeOnce}
	case "s", "session":
		return engine.PermissionResponse{Approve: true, Scope: permissions.ScopeSession}
	case "a", "always":
		return engine.PermissionResponse{Approve: true, Scope: permissions.ScopeAlways}
	default:
		return engine.PermissionResponse{Approve: false, Scope: permissions.ScopeOnce}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
