package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/replog/replog/internal/daemon"
	"github.com/replog/replog/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the sync daemon with a monitoring dashboard (foreground)",
	Long: `Run replog as a long-lived process. The daemon keeps the sync engine
running, watches the config file for backend flag changes, and serves
a WebSocket dashboard with sync state broadcasts.

Dashboard endpoints:
  ws://<addr>/ws       real-time sync state and record updates
  http://<addr>/health liveness check
  http://<addr>/metrics Prometheus metrics

Press Ctrl+C to stop.`,
	Run: func(cmd *cobra.Command, args []string) {
		appCfg := loadConfig()
		if err := os.MkdirAll(appCfg.DataDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating data directory: %v\n", err)
			os.Exit(1)
		}

		d, err := daemon.New(appCfg, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Starting replog daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Data dir:  %s\n", appCfg.DataDir)
		fmt.Printf("   Dashboard: http://%s\n", appCfg.DashboardAddr)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		// Start blocks and shuts itself down when ctx is cancelled.
		if err := d.Start(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("\nDaemon stopped")
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
