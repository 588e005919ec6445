package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/replog/replog/internal/loadtest"
	"github.com/replog/replog/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Benchmark concurrent reads against a seeded local store",
	Long: `Create a throwaway local store seeded with synthetic records, run
concurrent readers against it, and report latency statistics.

With --verify the readers run against a live writer instead and check
the read contract on every result: tombstones never surface and no
record belongs to another user.

  rl loadtest --records 5000 --readers 50
  rl loadtest --verify --duration 5s`,
	Run: func(cmd *cobra.Command, args []string) {
		records, _ := cmd.Flags().GetInt("records")
		readers, _ := cmd.Flags().GetInt("readers")
		queries, _ := cmd.Flags().GetInt("queries")
		tombstones, _ := cmd.Flags().GetFloat64("tombstones")
		verify, _ := cmd.Flags().GetBool("verify")
		duration, _ := cmd.Flags().GetDuration("duration")

		if records <= 0 || readers <= 0 || queries <= 0 {
			fmt.Fprintln(os.Stderr, "Error: --records, --readers, and --queries must be positive")
			os.Exit(1)
		}
		if tombstones < 0 || tombstones > 1 {
			fmt.Fprintln(os.Stderr, "Error: --tombstones must be between 0.0 and 1.0")
			os.Exit(1)
		}

		dir, err := os.MkdirTemp("", "replog-loadtest-")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)

		fmt.Printf("Seeding %d records (%.0f%% tombstoned)...\n", records, tombstones*100)
		ts, err := loadtest.CreateTestStore(filepath.Join(dir, "loadtest.db"), records, tombstones)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer ts.Close()

		if verify {
			fmt.Printf("Verifying read consistency: %d readers for %v...\n", readers, duration)
			if err := ts.VerifyConcurrentConsistency(readers, duration); err != nil {
				fmt.Fprintf(os.Stderr, "%s Consistency check failed: %v\n", ui.RenderError("✗"), err)
				os.Exit(1)
			}
			fmt.Printf("%s No tombstones or foreign records surfaced\n", ui.RenderPass("✓"))
			return
		}

		fmt.Printf("Running %d readers x %d queries each...\n", readers, queries)
		stats, err := ts.RunConcurrentReads(readers, queries)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		stats.PrintStats()
	},
}

func init() {
	loadtestCmd.Flags().Int("records", 1000, "Number of records to seed")
	loadtestCmd.Flags().Int("readers", 20, "Number of concurrent readers")
	loadtestCmd.Flags().Int("queries", 10, "Queries per reader")
	loadtestCmd.Flags().Float64("tombstones", 0.2, "Fraction of seeded records tombstoned (0.0-1.0)")
	loadtestCmd.Flags().Bool("verify", false, "Run consistency verification instead of latency measurement")
	loadtestCmd.Flags().Duration("duration", 3*time.Second, "Verification run length")
	rootCmd.AddCommand(loadtestCmd)
}
