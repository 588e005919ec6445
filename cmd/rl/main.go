// Command rl is the replog CLI: local-first exercise tracking with
// background sync to a configurable backend provider.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/replog/replog/internal/backend"
	_ "github.com/replog/replog/internal/backend/pulse"
	_ "github.com/replog/replog/internal/backend/relay"
	"github.com/replog/replog/internal/config"
	"github.com/replog/replog/internal/manager"
)

var dataDir string

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Local-first exercise tracking",
	Long: `replog tracks exercises in a local store and syncs them to a remote
backend in the background. Reads never touch the network; writes land
locally first and propagate when the backend is reachable.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", config.DefaultDirName, "data directory")
	rootCmd.AddGroup(
		&cobra.Group{ID: "records", Title: "Record Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)
}

func loadConfig() *config.Config {
	cfg, err := config.Load(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func newManager(cfg *config.Config) *manager.Manager {
	return manager.New(cfg, log.New(os.Stderr, "[rl] ", log.LstdFlags))
}

// activeRepo loads config, ensures the data directory exists, and
// returns the initialized active backend.
func activeRepo(ctx context.Context) (*config.Config, *manager.Manager, backend.Repository) {
	cfg := loadConfig()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating data directory: %v\n", err)
		os.Exit(1)
	}
	mgr := newManager(cfg)
	repo, err := mgr.ActiveStorageBackend(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing backend: %v\n", err)
		os.Exit(1)
	}
	return cfg, mgr, repo
}

// currentUser returns the current account ID, signing in anonymously
// if none exists yet. First use of any record command creates the
// local anonymous session.
func currentUser(ctx context.Context, repo backend.Repository) string {
	if acct, ok := repo.CurrentUser(ctx); ok {
		return acct.ID
	}
	acct, err := repo.SignInAnonymously(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating session: %v\n", err)
		os.Exit(1)
	}
	return acct.ID
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
