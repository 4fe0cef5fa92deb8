package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()
	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("OPSPROBE")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// The config file is optional: defaults plus environment variables are a
	// complete configuration on their own.
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	m.unmarshalConfig()
	m.applyEnvOverrides()
	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		m.unmarshalConfig()
		m.applyEnvOverrides()
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update
		}
	})
	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	m.unmarshalConfig()
	m.applyEnvOverrides()
	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	m.viper.SetDefault("oracle.provider", defaults.Oracle.Provider)
	m.viper.SetDefault("oracle.base_url", defaults.Oracle.BaseURL)
	m.viper.SetDefault("oracle.model", defaults.Oracle.Model)
	m.viper.SetDefault("oracle.max_tokens", defaults.Oracle.MaxTokens)
	m.viper.SetDefault("oracle.timeout_seconds", defaults.Oracle.TimeoutSeconds)

	m.viper.SetDefault("workflow.threshold_high", defaults.Workflow.ThresholdHigh)
	m.viper.SetDefault("workflow.threshold_mid", defaults.Workflow.ThresholdMid)
	m.viper.SetDefault("workflow.threshold_low", defaults.Workflow.ThresholdLow)
	m.viper.SetDefault("workflow.max_iterations_query", defaults.Workflow.MaxIterationsQuery)
	m.viper.SetDefault("workflow.max_iterations_action", defaults.Workflow.MaxIterationsAction)
	m.viper.SetDefault("workflow.max_iterations_incident", defaults.Workflow.MaxIterationsIncident)
	m.viper.SetDefault("workflow.epsilon", defaults.Workflow.Epsilon)
	m.viper.SetDefault("workflow.session_budget_seconds", defaults.Workflow.SessionBudgetSeconds)
	m.viper.SetDefault("workflow.oracle_retries", defaults.Workflow.OracleRetries)
	m.viper.SetDefault("workflow.summary_top_n", defaults.Workflow.SummaryTopN)

	m.viper.SetDefault("checkpoint.ttl_hours", defaults.Checkpoint.TTLHours)
	m.viper.SetDefault("checkpoint.sweep_interval_minutes", defaults.Checkpoint.SweepIntervalMinutes)

	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	m.viper.SetDefault("datasources.prometheus_url", defaults.DataSources.PrometheusURL)
	m.viper.SetDefault("datasources.loki_url", defaults.DataSources.LokiURL)
	m.viper.SetDefault("datasources.alertmanager_url", defaults.DataSources.AlertmanagerURL)
	m.viper.SetDefault("datasources.source_timeout_seconds", defaults.DataSources.SourceTimeoutSeconds)

	m.viper.SetDefault("cache.enabled", defaults.Cache.Enabled)
	m.viper.SetDefault("cache.ttl_seconds", defaults.Cache.TTLSeconds)

	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.audit_log_path", defaults.Logging.AuditLogPath)
	m.viper.SetDefault("logging.app_log_path", defaults.Logging.AppLogPath)
}

// unmarshalConfig copies viper values into the Config struct.
func (m *viperConfigManager) unmarshalConfig() {
	cfg := &Config{}

	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	cfg.Oracle.Provider = m.viper.GetString("oracle.provider")
	cfg.Oracle.BaseURL = m.viper.GetString("oracle.base_url")
	cfg.Oracle.Model = m.viper.GetString("oracle.model")
	cfg.Oracle.MaxTokens = m.viper.GetInt("oracle.max_tokens")
	cfg.Oracle.TimeoutSeconds = m.viper.GetInt("oracle.timeout_seconds")

	cfg.Workflow.ThresholdHigh = m.viper.GetFloat64("workflow.threshold_high")
	cfg.Workflow.ThresholdMid = m.viper.GetFloat64("workflow.threshold_mid")
	cfg.Workflow.ThresholdLow = m.viper.GetFloat64("workflow.threshold_low")
	cfg.Workflow.MaxIterationsQuery = m.viper.GetInt("workflow.max_iterations_query")
	cfg.Workflow.MaxIterationsAction = m.viper.GetInt("workflow.max_iterations_action")
	cfg.Workflow.MaxIterationsIncident = m.viper.GetInt("workflow.max_iterations_incident")
	cfg.Workflow.Epsilon = m.viper.GetFloat64("workflow.epsilon")
	cfg.Workflow.SessionBudgetSeconds = m.viper.GetInt("workflow.session_budget_seconds")
	cfg.Workflow.OracleRetries = m.viper.GetInt("workflow.oracle_retries")
	cfg.Workflow.SummaryTopN = m.viper.GetInt("workflow.summary_top_n")

	cfg.Checkpoint.TTLHours = m.viper.GetInt("checkpoint.ttl_hours")
	cfg.Checkpoint.SweepIntervalMinutes = m.viper.GetInt("checkpoint.sweep_interval_minutes")

	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	cfg.DataSources.PrometheusURL = m.viper.GetString("datasources.prometheus_url")
	cfg.DataSources.LokiURL = m.viper.GetString("datasources.loki_url")
	cfg.DataSources.AlertmanagerURL = m.viper.GetString("datasources.alertmanager_url")
	cfg.DataSources.SourceTimeoutSeconds = m.viper.GetInt("datasources.source_timeout_seconds")

	cfg.Cache.Enabled = m.viper.GetBool("cache.enabled")
	cfg.Cache.TTLSeconds = m.viper.GetInt("cache.ttl_seconds")

	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.AuditLogPath = m.viper.GetString("logging.audit_log_path")
	cfg.Logging.AppLogPath = m.viper.GetString("logging.app_log_path")

	m.config = cfg
}

// applyEnvOverrides applies environment variable overrides for sensitive data.
// API keys never come from the config file.
func (m *viperConfigManager) applyEnvOverrides() {
	if apiKey := os.Getenv("OPSPROBE_ORACLE_API_KEY"); apiKey != "" {
		m.config.Oracle.APIKey = apiKey
	}
	if addr := os.Getenv("OPSPROBE_PROMETHEUS_URL"); addr != "" {
		m.config.DataSources.PrometheusURL = addr
	}
	if addr := os.Getenv("OPSPROBE_LOKI_URL"); addr != "" {
		m.config.DataSources.LokiURL = addr
	}
	if addr := os.Getenv("OPSPROBE_ALERTMANAGER_URL"); addr != "" {
		m.config.DataSources.AlertmanagerURL = addr
	}
}
