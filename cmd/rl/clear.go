package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/replog/replog/internal/backend"
	"github.com/replog/replog/internal/ui"
)

var clearCmd = &cobra.Command{
	Use:     "clear",
	GroupID: "advanced",
	Short:   "Wipe the active backend's data",
	Long: `Delete all local and remote data for the active backend. Refused in
production environments. Prompts for confirmation unless --force is
given.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		mgr := newManager(cfg)
		defer mgr.Close()

		force, _ := cmd.Flags().GetBool("force")
		if !force {
			var confirmed bool
			prompt := huh.NewConfirm().
				Title(fmt.Sprintf("Wipe all %s data?", mgr.ActiveType().DisplayName())).
				Description("Local records, account, and remote copies will be deleted.").
				Affirmative("Wipe it").
				Negative("Cancel").
				Value(&confirmed)
			if err := prompt.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if !confirmed {
				fmt.Println("Cancelled.")
				return
			}
		}

		if err := mgr.ClearAllData(ctx); err != nil {
			if errors.Is(err, backend.ErrProductionRestricted) {
				fmt.Fprintf(os.Stderr, "%s Refused: clear is a development-only operation\n", ui.RenderError("✗"))
			} else {
				fmt.Fprintf(os.Stderr, "%s Clear failed: %v\n", ui.RenderError("✗"), err)
			}
			os.Exit(1)
		}
		fmt.Printf("%s All %s data cleared\n", ui.RenderPass("✓"), mgr.ActiveType().DisplayName())
	},
}

func init() {
	clearCmd.Flags().Bool("force", false, "skip the confirmation prompt")
	rootCmd.AddCommand(clearCmd)
}
