package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	validProviders := map[string]bool{"openai": true, "custom": true}
	if !validProviders[c.Oracle.Provider] {
		errs = append(errs, &ValidationError{
			Field:   "oracle.provider",
			Message: fmt.Sprintf("invalid provider '%s', must be one of: openai, custom", c.Oracle.Provider),
		})
	}
	if c.Oracle.Model == "" {
		errs = append(errs, &ValidationError{
			Field:   "oracle.model",
			Message: "oracle model is required",
		})
	}
	if c.Oracle.MaxTokens < 1 {
		errs = append(errs, &ValidationError{
			Field:   "oracle.max_tokens",
			Message: fmt.Sprintf("max_tokens must be at least 1, got %d", c.Oracle.MaxTokens),
		})
	}
	if c.Oracle.TimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "oracle.timeout_seconds",
			Message: fmt.Sprintf("timeout must be at least 1 second, got %d", c.Oracle.TimeoutSeconds),
		})
	}

	// Thresholds must be ordered so every confidence score lands in exactly
	// one tier.
	if !(c.Workflow.ThresholdLow < c.Workflow.ThresholdMid && c.Workflow.ThresholdMid < c.Workflow.ThresholdHigh) {
		errs = append(errs, &ValidationError{
			Field:   "workflow.thresholds",
			Message: fmt.Sprintf("thresholds must satisfy low < mid < high, got %.2f / %.2f / %.2f",
				c.Workflow.ThresholdLow, c.Workflow.ThresholdMid, c.Workflow.ThresholdHigh),
		})
	}
	for _, t := range []struct {
		field string
		value float64
	}{
		{"workflow.threshold_high", c.Workflow.ThresholdHigh},
		{"workflow.threshold_mid", c.Workflow.ThresholdMid},
		{"workflow.threshold_low", c.Workflow.ThresholdLow},
	} {
		if t.value < 0 || t.value > 1 {
			errs = append(errs, &ValidationError{
				Field:   t.field,
				Message: fmt.Sprintf("threshold must be between 0 and 1, got %.2f", t.value),
			})
		}
	}

	for _, it := range []struct {
		field string
		value int
	}{
		{"workflow.max_iterations_query", c.Workflow.MaxIterationsQuery},
		{"workflow.max_iterations_action", c.Workflow.MaxIterationsAction},
		{"workflow.max_iterations_incident", c.Workflow.MaxIterationsIncident},
	} {
		if it.value < 1 {
			errs = append(errs, &ValidationError{
				Field:   it.field,
				Message: fmt.Sprintf("iteration limit must be at least 1, got %d", it.value),
			})
		}
	}

	if c.Workflow.Epsilon < 0 || c.Workflow.Epsilon >= 1 {
		errs = append(errs, &ValidationError{
			Field:   "workflow.epsilon",
			Message: fmt.Sprintf("epsilon must be in [0, 1), got %.3f", c.Workflow.Epsilon),
		})
	}
	if c.Workflow.SessionBudgetSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "workflow.session_budget_seconds",
			Message: fmt.Sprintf("session budget must be at least 1 second, got %d", c.Workflow.SessionBudgetSeconds),
		})
	}
	if c.Workflow.OracleRetries < 0 {
		errs = append(errs, &ValidationError{
			Field:   "workflow.oracle_retries",
			Message: fmt.Sprintf("oracle_retries cannot be negative, got %d", c.Workflow.OracleRetries),
		})
	}

	if c.Checkpoint.TTLHours < 1 {
		errs = append(errs, &ValidationError{
			Field:   "checkpoint.ttl_hours",
			Message: fmt.Sprintf("ttl_hours must be at least 1, got %d", c.Checkpoint.TTLHours),
		})
	}
	if c.Checkpoint.SweepIntervalMinutes < 1 {
		errs = append(errs, &ValidationError{
			Field:   "checkpoint.sweep_interval_minutes",
			Message: fmt.Sprintf("sweep interval must be at least 1 minute, got %d", c.Checkpoint.SweepIntervalMinutes),
		})
	}

	if c.Database.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required",
		})
	}

	for _, ds := range []struct {
		field string
		value string
	}{
		{"datasources.prometheus_url", c.DataSources.PrometheusURL},
		{"datasources.loki_url", c.DataSources.LokiURL},
		{"datasources.alertmanager_url", c.DataSources.AlertmanagerURL},
	} {
		if ds.value == "" {
			continue // unset source is simply not registered
		}
		if u, err := url.Parse(ds.value); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, &ValidationError{
				Field:   ds.field,
				Message: fmt.Sprintf("invalid URL %q", ds.value),
			})
		}
	}
	if c.DataSources.SourceTimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "datasources.source_timeout_seconds",
			Message: fmt.Sprintf("source timeout must be at least 1 second, got %d", c.DataSources.SourceTimeoutSeconds),
		})
	}

	if c.Cache.TTLSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "cache.ttl_seconds",
			Message: fmt.Sprintf("ttl_seconds cannot be negative, got %d", c.Cache.TTLSeconds),
		})
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, text", c.Logging.Format),
		})
	}

	return errs
}
