package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/replog/replog/internal/backend"
	"github.com/replog/replog/internal/store"
	"github.com/replog/replog/internal/transfer"
	"github.com/replog/replog/internal/ui"
)

func backendStore(repo backend.Repository) *store.Store {
	sp, ok := repo.(interface{ Store() (*store.Store, error) })
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: backend does not expose its local store\n")
		os.Exit(1)
	}
	st, err := sp.Store()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return st
}

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "advanced",
	Short:   "Export records to JSONL or YAML",
	Long: `Export the user's records from the local store. Writes JSONL by
default, one record per line; --format yaml writes a single document
including the account. With no file argument, writes to stdout.

  rl export backup.jsonl
  rl export --format yaml backup.yaml`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		_, mgr, repo := activeRepo(ctx)
		defer mgr.Close()

		format, _ := cmd.Flags().GetString("format")
		userID := currentUser(ctx, repo)
		st := backendStore(repo)

		out := os.Stdout
		toFile := len(args) == 1
		if toFile {
			f, err := os.Create(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating export file: %v\n", err)
				os.Exit(1)
			}
			defer f.Close()
			out = f
		}

		var n int
		var err error
		switch strings.ToLower(format) {
		case "jsonl":
			n, err = transfer.ExportJSONL(ctx, st, userID, out)
		case "yaml":
			n, err = transfer.ExportYAML(ctx, st, userID, out)
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown format %q (want jsonl or yaml)\n", format)
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s Export failed: %v\n", ui.RenderError("✗"), err)
			os.Exit(1)
		}
		if toFile {
			fmt.Printf("%s Exported %d records to %s\n", ui.RenderPass("✓"), n, args[0])
		}
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "advanced",
	Short:   "Import records from a JSONL export or a TOML plan",
	Long: `Import records into the local store. They arrive pending and sync like
ordinary local writes.

JSONL imports (*.jsonl) are idempotent: records that already exist with
an equal or newer timestamp are skipped. TOML plans (*.toml) create new
records:

  [[exercise]]
  name = "Bench Press"
  at = "2026-08-30T10:00:00Z"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		_, mgr, repo := activeRepo(ctx)
		defer mgr.Close()

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		userID := currentUser(ctx, repo)
		st := backendStore(repo)

		var result *transfer.ImportResult
		var err error
		if strings.HasSuffix(args[0], ".toml") {
			var plan *transfer.Plan
			plan, err = transfer.LoadPlan(args[0])
			if err == nil {
				result, err = transfer.ApplyPlan(ctx, st, plan, userID, dryRun)
			}
		} else {
			result, err = transfer.ImportJSONLFile(ctx, st, args[0], transfer.ImportOptions{
				UserID: userID,
				DryRun: dryRun,
			})
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s Import failed: %v\n", ui.RenderError("✗"), err)
			os.Exit(1)
		}

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d records (%d skipped)\n", ui.RenderPass("✓"), verb, result.Imported, result.Skipped)
		for _, msg := range result.Errors {
			fmt.Printf("   %s %s\n", ui.RenderWarn("⚠"), msg)
		}
		if !dryRun && result.Imported > 0 {
			if err := repo.ForceSync(ctx); err != nil {
				fmt.Printf("   %s Background sync will retry: %v\n", ui.RenderWarn("⚠"), err)
			}
		}
	},
}

func init() {
	exportCmd.Flags().String("format", "jsonl", "export format (jsonl or yaml)")
	importCmd.Flags().Bool("dry-run", false, "validate without writing")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
