package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Config holds the connection-level defaults for the client: where the GFN
// API lives, which ICE servers to offer before the server issues its own
// list, and how to log. Per-session parameters (resolution, fps, codec,
// bitrate, reflex, region) are NOT part of this struct — they arrive as an
// immutable StreamingOptions value per session (see internal/session).
type Config struct {
	APIBaseURL string   `mapstructure:"api_base_url"`
	AuthToken  string   `mapstructure:"auth_token"`
	ICEServers []string `mapstructure:"ice_servers"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// LogFile, if set, mirrors logs to a size-rotated file in addition to
	// stdout. LogMaxSizeMB/LogMaxBackups are ignored when LogFile is empty.
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	SessionReadyTimeoutSeconds  int `mapstructure:"session_ready_timeout_seconds"`
	SignalingHandshakeTimeoutMs int `mapstructure:"signaling_handshake_timeout_ms"`
	InputHandshakeTimeoutMs     int `mapstructure:"input_handshake_timeout_ms"`
}

func Default() *Config {
	return &Config{
		APIBaseURL: "https://session.geforcenow.com",
		ICEServers: []string{"stun:stun.l.google.com:19302"},

		LogLevel:  "info",
		LogFormat: "text",

		LogMaxSizeMB:  50,
		LogMaxBackups: 3,

		SessionReadyTimeoutSeconds:  300,
		SignalingHandshakeTimeoutMs: 15000,
		InputHandshakeTimeoutMs:     10000,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("gfn-client")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("GFN")
	// Unmarshal only sees keys viper already knows; bind the token
	// explicitly so GFN_AUTH_TOKEN works without a config file entry.
	_ = viper.BindEnv("auth_token")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		return nil, fmt.Errorf("config: %w", errors.Join(result.Fatals...))
	}
	for _, w := range result.Warnings {
		slog.Warn("config validation", "error", w)
	}

	return cfg, nil
}

// configDir is read-only for this package: per spec.md §6, persisted
// settings (region, resolution, fps, codec, bitrate, reflex) are owned by
// the application shell's excluded settings collaborator, not the core.
// This package only ever reads a config file from this directory, never
// writes one.
func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "gfn-client")
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "gfn-client")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "gfn-client")
		}
		return filepath.Join(os.Getenv("HOME"), ".config", "gfn-client")
	}
}
