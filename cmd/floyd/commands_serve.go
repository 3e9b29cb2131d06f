package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CaptainPhantasy/floyd/internal/mcp"
)

func buildServeCmd(opts *rootOpts) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the agent over the MCP WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", mcp.DefaultServerAddr, "Listen address")
	return cmd
}

func runServe(opts *rootOpts, addr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager, summary, err := connectMCP(ctx, opts.dir)
	if err != nil {
		return err
	}
	defer manager.CloseAll()
	for name, connErr := range summary.Failed {
		slog.Warn("MCP server unavailable", "server", name, "error", connErr)
	}

	srv := mcp.NewServer(addr, &agentService{manager: manager}, slog.Default())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	fmt.Printf("floyd MCP server listening on ws://%s (%d tools)\n", addr, len(manager.ListTools()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
