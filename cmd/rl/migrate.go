package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/replog/replog/internal/backend"
	"github.com/replog/replog/internal/ui"
)

var migrateCmd = &cobra.Command{
	Use:     "migrate <source> <target>",
	GroupID: "advanced",
	Short:   "Copy user data between backends",
	Long: `Copy the signed-in user's records and account from one backend to the
other. Records keep their IDs and timestamps; they arrive pending on
the target and sync to its remote.

  rl migrate pulse relay`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		mgr := newManager(cfg)
		defer mgr.Close()

		source, target := backend.Type(args[0]), backend.Type(args[1])
		fmt.Printf("%s Migrating %s -> %s...\n", ui.RenderAccent("🔄"), source, target)

		result, err := mgr.MigrateUserData(ctx, source, target)
		if err != nil {
			if result != nil && result.Migrated > 0 {
				fmt.Fprintf(os.Stderr, "%s Partial migration: %d records copied before failure: %v\n",
					ui.RenderWarn("⚠"), result.Migrated, err)
				fmt.Fprintf(os.Stderr, "   Re-run 'rl verify %s %s' then migrate again to converge.\n", source, target)
			} else {
				fmt.Fprintf(os.Stderr, "%s Migration failed: %v\n", ui.RenderError("✗"), err)
			}
			os.Exit(1)
		}

		fmt.Printf("%s Migrated %d records\n", ui.RenderPass("✓"), result.Migrated)
	},
}

var verifyCmd = &cobra.Command{
	Use:     "verify <source> <target>",
	GroupID: "advanced",
	Short:   "Verify data consistency between backends",
	Long: `Diff the user's records between two backends by ID, name, and
timestamps. Run after a migration to confirm nothing drifted.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		mgr := newManager(cfg)
		defer mgr.Close()

		source, target := backend.Type(args[0]), backend.Type(args[1])

		src, err := mgr.AuthBackend(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		acct, ok := src.CurrentUser(ctx)
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: no account to verify\n")
			os.Exit(1)
		}

		report, err := mgr.ValidateDataConsistency(ctx, source, target, acct.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s Verification failed: %v\n", ui.RenderError("✗"), err)
			os.Exit(1)
		}

		fmt.Printf("\n%s: %d records, %s: %d records\n",
			source, report.SourceRecords, target, report.TargetRecords)
		if report.Consistent() {
			fmt.Printf("%s Backends are consistent\n", ui.RenderPass("✓"))
			return
		}
		fmt.Printf("%s %d discrepancies:\n", ui.RenderError("✗"), len(report.Discrepancies))
		for _, d := range report.Discrepancies {
			fmt.Printf("   %s: %s\n", ui.RenderMuted(d.RecordID), d.Detail)
		}
		os.Exit(1)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(verifyCmd)
}
