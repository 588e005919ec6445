package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/replog/replog/internal/backend"
	"github.com/replog/replog/internal/ui"
)

var backendCmd = &cobra.Command{
	Use:     "backend",
	GroupID: "advanced",
	Short:   "Inspect and switch the storage backend",
}

var backendInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the active backend and registered alternatives",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		mgr := newManager(cfg)
		defer mgr.Close()

		info := mgr.BackendInfo()
		fmt.Printf("\nActive backend: %s (%s)\n", ui.RenderAccent(info.ActiveName), info.Active)
		fmt.Printf("Environment:    %s\n", info.Environment)
		fmt.Printf("Relay flag:     %v\n", info.Flags.UseRelayBackend)
		fmt.Printf("Registered:\n")
		for _, t := range info.Available {
			marker := " "
			if t == info.Active {
				marker = ui.RenderPass("*")
			}
			fmt.Printf("  %s %s (%s)\n", marker, t.DisplayName(), t)
		}
		fmt.Println()
	},
}

var backendSwitchCmd = &cobra.Command{
	Use:   "switch <pulse|relay>",
	Short: "Switch the active backend at runtime",
	Long: `Switch the active backend. Each backend keeps its own local store, so
switching back and forth loses nothing. Restricted to development
environments; production builds pin the startup flag.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		mgr := newManager(cfg)
		defer mgr.Close()

		target := backend.Type(args[0])
		if err := mgr.SwitchBackend(ctx, target); err != nil {
			fmt.Fprintf(os.Stderr, "%s Switch failed: %v\n", ui.RenderError("✗"), err)
			os.Exit(1)
		}
		fmt.Printf("%s Active backend is now %s\n", ui.RenderPass("✓"), target.DisplayName())
	},
}

func init() {
	backendCmd.AddCommand(backendInfoCmd)
	backendCmd.AddCommand(backendSwitchCmd)
	rootCmd.AddCommand(backendCmd)
}
