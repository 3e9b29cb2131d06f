package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/CaptainPhantasy/floyd/internal/config"
)

func buildMcpCmd(opts *rootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Inspect configured MCP servers",
	}
	cmd.AddCommand(buildMcpListCmd(opts), buildMcpStatusCmd(opts))
	return cmd
}

func buildMcpListCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List servers from .floyd/mcp.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadMCPConfig(opts.dir)
			if err != nil {
				return err
			}
			if len(cfg.Servers) == 0 {
				fmt.Println("No MCP servers configured.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTRANSPORT\tTARGET\tENABLED")
			for _, s := range cfg.Servers {
				target := s.Transport.Command
				if s.Transport.Type == config.TransportWebSocket {
					target = s.Transport.URL
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", s.Name, s.Transport.Type, target, s.Enabled)
			}
			return w.Flush()
		},
	}
}

func buildMcpStatusCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Connect to every enabled server and report tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			manager, summary, err := connectMCP(ctx, opts.dir)
			if err != nil {
				return err
			}
			defer manager.CloseAll()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERVER\tCONNECTED\tVERSION\tTOOLS")
			for _, st := range manager.Status() {
				fmt.Fprintf(w, "%s\t%t\t%s\t%d\n", st.Name, st.Connected, st.Server.Version, st.Tools)
			}
			w.Flush()

			for name, connErr := range summary.Failed {
				fmt.Fprintf(os.Stderr, "connect %s: %v\n", name, connErr)
			}
			if collisions := manager.Collisions(); len(collisions) > 0 {
				fmt.Println("\nTool name collisions:")
				for _, c := range collisions {
					fmt.Printf("  %s: kept %s, shadowed %s\n", c.Tool, c.Winner, c.Loser)
				}
			}
			return nil
		},
	}
}
