// Package config centralises configuration for replog.
//
// Configuration is resolved once at startup from .replog/config.yaml with
// REPLOG_* environment variable overrides. The backend feature flag and
// the runtime environment are part of this surface; both gate behavior
// elsewhere (backend selection, production restrictions).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment names. Anything other than production counts as a
// development build for the purpose of dev-only operations.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// DefaultDirName is the per-project data directory holding the config
// file and the local stores.
const DefaultDirName = ".replog"

// ConfigFileName is the config file inside the data directory.
const ConfigFileName = "config.yaml"

// FeatureFlags holds startup-resolved flags. The struct is passed and
// returned by value so callers always get a defensive copy.
type FeatureFlags struct {
	// UseRelayBackend selects the Relay backend (request/response
	// provider) instead of the default Pulse backend. Resolved once at
	// startup; mutable at runtime only in non-production builds.
	UseRelayBackend bool
}

// Config captures runtime configuration values.
type Config struct {
	Environment string
	DataDir     string
	Flags       FeatureFlags

	// Pulse provider (backend A): a WebSocket endpoint.
	PulseEndpoint string

	// Relay provider (backend B): a remote libSQL database plus a
	// notification channel endpoint.
	RelayURL       string
	RelayAuthToken string
	RelayNotifyURL string

	// SessionToken is the provider-issued JWT for the signed-in user.
	// Empty for anonymous (local-only) sessions.
	SessionToken string
	JWTSecret    string
	JWTIssuer    string

	// Sync engine tuning.
	SyncInterval time.Duration
	ProbeURL     string

	// Dashboard / daemon.
	DashboardAddr string
	DaemonLogFile string
}

// Load reads configuration for the given data directory. A missing
// config file is not an error; defaults and environment variables apply.
func Load(dataDir string) (*Config, error) {
	if dataDir == "" {
		dataDir = DefaultDirName
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(dataDir, ConfigFileName))
	v.SetConfigType("yaml")
	v.SetEnvPrefix("REPLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("environment", EnvDevelopment)
	v.SetDefault("use_relay_backend", false)
	v.SetDefault("pulse_endpoint", "wss://pulse.replog.dev/v1/stream")
	v.SetDefault("relay_url", "")
	v.SetDefault("relay_auth_token", "")
	v.SetDefault("relay_notify_url", "")
	v.SetDefault("session_token", "")
	v.SetDefault("jwt_secret", "dev-secret-change-me")
	v.SetDefault("jwt_issuer", "replog.identity")
	v.SetDefault("sync_interval", "30s")
	v.SetDefault("probe_url", "")
	v.SetDefault("dashboard_addr", "127.0.0.1:7878")
	v.SetDefault("daemon_log_file", "")

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(v.ConfigFileUsed()); statErr == nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine.
	}

	cfg := &Config{
		Environment:    strings.ToLower(v.GetString("environment")),
		DataDir:        dataDir,
		Flags:          FeatureFlags{UseRelayBackend: v.GetBool("use_relay_backend")},
		PulseEndpoint:  v.GetString("pulse_endpoint"),
		RelayURL:       v.GetString("relay_url"),
		RelayAuthToken: v.GetString("relay_auth_token"),
		RelayNotifyURL: v.GetString("relay_notify_url"),
		SessionToken:   v.GetString("session_token"),
		JWTSecret:      v.GetString("jwt_secret"),
		JWTIssuer:      v.GetString("jwt_issuer"),
		SyncInterval:   v.GetDuration("sync_interval"),
		ProbeURL:       v.GetString("probe_url"),
		DashboardAddr:  v.GetString("dashboard_addr"),
		DaemonLogFile:  v.GetString("daemon_log_file"),
	}

	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 30 * time.Second
	}

	return cfg, nil
}

// SaveUseRelayFlag writes the backend feature flag to the config file
// so a backend switch survives the process. Other keys already in the
// file are preserved; a missing file is created.
func (c *Config) SaveUseRelayFlag(useRelay bool) error {
	v := viper.New()
	v.SetConfigFile(c.ConfigPath())
	v.SetConfigType("yaml")
	_ = v.ReadInConfig()

	v.Set("use_relay_backend", useRelay)

	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := v.WriteConfigAs(c.ConfigPath()); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	c.Flags.UseRelayBackend = useRelay
	return nil
}

// IsProduction reports whether dev-only operations must be refused.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// ConfigPath returns the path of the config file for this data dir.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.DataDir, ConfigFileName)
}

// StorePath returns the local store database path.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "replog.db")
}
