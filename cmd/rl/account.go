package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/replog/replog/internal/ui"
)

var accountCmd = &cobra.Command{
	Use:     "account",
	GroupID: "records",
	Short:   "Manage the local account",
}

var accountShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current account",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		_, mgr, repo := activeRepo(ctx)
		defer mgr.Close()

		acct, ok := repo.CurrentUser(ctx)
		if !ok {
			fmt.Println("No account yet. One is created on first use, or run 'rl account signin'.")
			return
		}

		fmt.Printf("\nID:      %s\n", ui.RenderAccent(acct.ID))
		if acct.Email != "" {
			fmt.Printf("Email:   %s\n", acct.Email)
		}
		if acct.IsAnonymous {
			fmt.Printf("Type:    anonymous (data stays on this device)\n")
		} else {
			fmt.Printf("Type:    authenticated\n")
		}
		fmt.Printf("Created: %s\n", acct.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		if acct.LastSyncAt != nil {
			fmt.Printf("Synced:  %s\n", acct.LastSyncAt.Local().Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	},
}

var accountSigninCmd = &cobra.Command{
	Use:   "signin",
	Short: "Create an anonymous local session",
	Long: `Create an anonymous account. Anonymous data never leaves the device;
upgrade with 'rl account upgrade' to start syncing.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		_, mgr, repo := activeRepo(ctx)
		defer mgr.Close()

		acct, err := repo.SignInAnonymously(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error signing in: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Signed in anonymously as %s\n", ui.RenderPass("✓"), ui.RenderMuted(acct.ID))
	},
}

var accountUpgradeCmd = &cobra.Command{
	Use:   "upgrade <email>",
	Short: "Upgrade the anonymous account to an authenticated one",
	Long: `Attach an email to the anonymous account. The account ID and all local
records are preserved, and existing records start syncing.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		_, mgr, repo := activeRepo(ctx)
		defer mgr.Close()

		acct, err := repo.UpgradeAccount(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error upgrading account: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Account upgraded: %s\n", ui.RenderPass("✓"), acct.Email)
		fmt.Println("   Existing records will sync on the next cycle.")
	},
}

func init() {
	accountCmd.AddCommand(accountShowCmd)
	accountCmd.AddCommand(accountSigninCmd)
	accountCmd.AddCommand(accountUpgradeCmd)
	rootCmd.AddCommand(accountCmd)
}
