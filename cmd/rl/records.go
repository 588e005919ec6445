package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/replog/replog/internal/model"
	"github.com/replog/replog/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add <name>",
	GroupID: "records",
	Short:   "Add an exercise record",
	Long: `Add an exercise to the local store. The record is visible immediately
and syncs to the backend in the background.

The --at flag accepts natural language dates as well as RFC3339:

  rl add "Bench Press"
  rl add "Squat" --at yesterday
  rl add "Deadlift" --at "2026-08-30T10:00:00Z"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		_, mgr, repo := activeRepo(ctx)
		defer mgr.Close()

		input := model.ExerciseInput{Name: args[0]}
		if atFlag, _ := cmd.Flags().GetString("at"); atFlag != "" {
			at, err := parseWhen(atFlag)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			input.At = at
		}

		userID := currentUser(ctx, repo)
		ex, err := repo.AddExercise(ctx, userID, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error adding exercise: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Added %s (%s)\n", ui.RenderPass("✓"), ex.Name, ui.RenderMuted(ex.ID))
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "records",
	Short:   "List exercise records",
	Long: `List the user's exercises from the local store, oldest first.
Never touches the network.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		_, mgr, repo := activeRepo(ctx)
		defer mgr.Close()

		userID := currentUser(ctx, repo)
		records, err := repo.ListExercises(ctx, userID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing exercises: %v\n", err)
			os.Exit(1)
		}

		if len(records) == 0 {
			fmt.Println("No exercises recorded yet. Try 'rl add \"Bench Press\"'.")
			return
		}

		for _, rec := range records {
			marker := ui.RenderPass("✓")
			switch rec.SyncStatus {
			case model.SyncPending:
				marker = ui.RenderWarn("…")
			case model.SyncError:
				marker = ui.RenderError("✗")
			}
			fmt.Printf("%s %-30s %s  %s\n",
				marker,
				rec.Name,
				rec.CreatedAt.Local().Format("2006-01-02 15:04"),
				ui.RenderMuted(rec.ID))
		}
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	GroupID: "records",
	Short:   "Delete an exercise record",
	Long: `Delete an exercise. The record disappears from reads immediately; the
remote copy is removed in the background. Deleting an unknown ID is a
no-op.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		_, mgr, repo := activeRepo(ctx)
		defer mgr.Close()

		userID := currentUser(ctx, repo)
		if err := repo.DeleteExercise(ctx, userID, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting exercise: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), args[0])
	},
}

// parseWhen accepts RFC3339, a bare date, or natural language
// ("yesterday", "last monday at 6pm").
func parseWhen(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	result, err := w.Parse(s, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", s, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", s)
	}
	return result.Time, nil
}

func init() {
	addCmd.Flags().String("at", "", "backdate the record (natural language or RFC3339)")
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
}
