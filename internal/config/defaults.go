package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8085
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

	// Oracle defaults
	cfg.Oracle.Provider = "openai"
	cfg.Oracle.BaseURL = "https://api.openai.com/v1"
	cfg.Oracle.Model = "gpt-4o-mini"
	cfg.Oracle.MaxTokens = 2048
	cfg.Oracle.TimeoutSeconds = 120

	// Workflow defaults
	cfg.Workflow.ThresholdHigh = 0.85
	cfg.Workflow.ThresholdMid = 0.70
	cfg.Workflow.ThresholdLow = 0.50
	cfg.Workflow.MaxIterationsQuery = 3
	cfg.Workflow.MaxIterationsAction = 6
	cfg.Workflow.MaxIterationsIncident = 10
	cfg.Workflow.Epsilon = 0.02
	cfg.Workflow.SessionBudgetSeconds = 300
	cfg.Workflow.OracleRetries = 2
	cfg.Workflow.SummaryTopN = 10

	// Checkpoint defaults
	cfg.Checkpoint.TTLHours = 720
	cfg.Checkpoint.SweepIntervalMinutes = 60

	// Database defaults
	cfg.Database.SQLitePath = "/var/lib/opsprobe/opsprobe.db"

	// Data source defaults
	cfg.DataSources.PrometheusURL = "http://localhost:9090"
	cfg.DataSources.LokiURL = "http://localhost:3100"
	cfg.DataSources.AlertmanagerURL = "http://localhost:9093"
	cfg.DataSources.SourceTimeoutSeconds = 30

	// Cache defaults
	cfg.Cache.Enabled = true
	cfg.Cache.TTLSeconds = 60

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.AuditLogPath = "logs/audit.log"
	cfg.Logging.AppLogPath = "logs/app.log"

	return cfg
}
