package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/replog/replog/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Force a sync cycle now",
	Long: `Run a sync cycle immediately instead of waiting for the next interval.
Records parked in the error state get their retry budget back and are
pushed again.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		_, mgr, repo := activeRepo(ctx)
		defer mgr.Close()

		fmt.Printf("%s Syncing...\n", ui.RenderAccent("🔄"))
		if err := repo.ForceSync(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "%s Sync failed: %v\n", ui.RenderError("✗"), err)
			os.Exit(1)
		}

		info := repo.SyncSnapshot()
		fmt.Printf("%s Sync complete\n", ui.RenderPass("✓"))
		if info.Pending > 0 {
			fmt.Printf("   Pending: %d\n", info.Pending)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync and backend status",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg, mgr, repo := activeRepo(ctx)
		defer mgr.Close()

		info := mgr.BackendInfo()
		sync := repo.SyncSnapshot()

		online := ui.RenderPass("online")
		if !sync.Online {
			online = ui.RenderWarn("offline")
		}

		fmt.Printf("\n%s replog status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Backend:     %s (%s)\n", info.ActiveName, info.Active)
		fmt.Printf("Environment: %s\n", info.Environment)
		fmt.Printf("Network:     %s\n", online)
		fmt.Printf("Pending:     %d\n", sync.Pending)
		if sync.Syncing {
			fmt.Printf("Syncing:     yes\n")
		}
		if sync.LastSyncAt != nil {
			fmt.Printf("Last sync:   %s\n", sync.LastSyncAt.Local().Format("2006-01-02 15:04:05"))
		}
		for _, msg := range sync.Errors {
			fmt.Printf("%s %s\n", ui.RenderError("✗"), msg)
		}
		if acct, ok := repo.CurrentUser(ctx); ok {
			kind := "signed in"
			if acct.IsAnonymous {
				kind = "anonymous, local only"
			}
			fmt.Printf("Account:     %s (%s)\n", acct.ID, kind)
		} else {
			fmt.Printf("Account:     none\n")
		}
		fmt.Printf("Data dir:    %s\n", cfg.DataDir)
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}
