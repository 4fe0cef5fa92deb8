package config

import "context"

// Package config provides configuration management for opsprobe.
//
// Responsibilities:
//   - Load configuration from YAML files, environment variables, and defaults
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration hot-reload for tunable settings
//   - Keep sensitive data (oracle API keys) out of config files
//
// Configuration sources (priority order, high to low):
//  1. Environment variables (OPSPROBE_* prefix)
//  2. YAML config file (default: /etc/opsprobe/config.yaml)
//  3. Built-in defaults

// Config contains all configuration fields.
type Config struct {
	Server struct {
		Port int
		// AllowedOrigins is the list of origins permitted to open WebSocket
		// connections. ["*"] allows any origin (development only).
		AllowedOrigins []string
	}

	Oracle struct {
		Provider       string // "openai" | "custom"
		BaseURL        string
		Model          string
		MaxTokens      int
		TimeoutSeconds int
		APIKey         string // environment only, never from file
	}

	Workflow struct {
		// Confidence tier thresholds (inclusive lower bounds).
		ThresholdHigh float64
		ThresholdMid  float64
		ThresholdLow  float64

		// Iteration limits per workflow type.
		MaxIterationsQuery    int
		MaxIterationsAction   int
		MaxIterationsIncident int

		// Epsilon is the diminishing-returns confidence delta cutoff.
		Epsilon float64

		// SessionBudgetSeconds is the wall-clock budget per session.
		SessionBudgetSeconds int

		OracleRetries int
		SummaryTopN   int
	}

	Checkpoint struct {
		TTLHours             int
		SweepIntervalMinutes int
	}

	Database struct {
		SQLitePath string
	}

	DataSources struct {
		PrometheusURL        string
		LokiURL              string
		AlertmanagerURL      string
		SourceTimeoutSeconds int
	}

	Cache struct {
		Enabled    bool
		TTLSeconds int
	}

	Logging struct {
		Level        string
		Format       string
		AuditLogPath string
		AppLogPath   string
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration file changes and emits reloaded configs.
	Watch(ctx context.Context) <-chan Config

	// Reload re-reads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a configuration manager for the given config path.
func NewConfigManager(configPath string) (ConfigManager, error) {
	return &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}, nil
}

// NewConfigManagerWithDefaults creates a config manager with the default path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/opsprobe/config.yaml")
}
