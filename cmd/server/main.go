package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opsprobe/opsprobe/internal/audit"
	"github.com/opsprobe/opsprobe/internal/cache"
	"github.com/opsprobe/opsprobe/internal/checkpoint"
	"github.com/opsprobe/opsprobe/internal/config"
	"github.com/opsprobe/opsprobe/internal/datasource"
	"github.com/opsprobe/opsprobe/internal/db"
	"github.com/opsprobe/opsprobe/internal/oracle"
	"github.com/opsprobe/opsprobe/internal/server"
	"github.com/opsprobe/opsprobe/internal/session"
	"github.com/opsprobe/opsprobe/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "opsprobe: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	ctx := context.Background()

	configPath := os.Getenv("OPSPROBE_CONFIG")
	if configPath == "" {
		configPath = "/etc/opsprobe/config.yaml"
	}
	cfgMgr, err := config.NewConfigManager(configPath)
	if err != nil {
		return err
	}
	if err := cfgMgr.Load(ctx); err != nil {
		return err
	}
	if err := cfgMgr.Validate(ctx); err != nil {
		return err
	}
	cfg := cfgMgr.Get(ctx)

	store, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer store.Close()

	auditLog, err := audit.NewLogger(&audit.Config{
		AuditLogPath: cfg.Logging.AuditLogPath,
		AppLogPath:   cfg.Logging.AppLogPath,
		MaxSize:      100,
		MaxBackups:   10,
		MaxAge:       30,
		Compress:     true,
		LogLevel:     cfg.Logging.Level,
	}, audit.WithSink(db.NewAuditSink(store)))
	if err != nil {
		return fmt.Errorf("init audit logger: %w", err)
	}
	defer auditLog.Close()

	_ = auditLog.Log(ctx, audit.NewEvent(audit.EventConfigLoaded).
		WithResult(audit.ResultSuccess).
		WithDescription(fmt.Sprintf("Configuration loaded from %s", configPath)))

	checkpoints := checkpoint.NewManager(store, auditLog)
	defer checkpoints.Close()
	checkpoints.StartSweeper(
		time.Duration(cfg.Checkpoint.SweepIntervalMinutes)*time.Minute,
		time.Duration(cfg.Checkpoint.TTLHours)*time.Hour,
	)

	oracleClient, err := oracle.NewHTTPClient(oracle.HTTPConfig{
		APIKey:    cfg.Oracle.APIKey,
		Model:     cfg.Oracle.Model,
		BaseURL:   cfg.Oracle.BaseURL,
		MaxTokens: cfg.Oracle.MaxTokens,
		Timeout:   time.Duration(cfg.Oracle.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("init oracle client: %w", err)
	}
	advisor := oracle.NewAdvisor(oracleClient)

	sourceTimeout := time.Duration(cfg.DataSources.SourceTimeoutSeconds) * time.Second
	registry := datasource.NewRegistry()
	if cfg.DataSources.PrometheusURL != "" {
		registry.Register(datasource.NewPrometheusCollector(cfg.DataSources.PrometheusURL, sourceTimeout))
	}
	if cfg.DataSources.LokiURL != "" {
		registry.Register(datasource.NewLokiCollector(cfg.DataSources.LokiURL, sourceTimeout))
	}
	if cfg.DataSources.AlertmanagerURL != "" {
		registry.Register(datasource.NewAlertmanagerCollector(cfg.DataSources.AlertmanagerURL, sourceTimeout))
	}

	var resultCache cache.Cache
	if cfg.Cache.Enabled {
		resultCache = cache.New(time.Duration(cfg.Cache.TTLSeconds) * time.Second)
	} else {
		resultCache = cache.Noop()
	}
	defer resultCache.Close()

	gatherer := datasource.NewGatherer(registry, resultCache, auditLog,
		datasource.WithSourceTimeout(sourceTimeout),
		datasource.WithCacheTTL(time.Duration(cfg.Cache.TTLSeconds)*time.Second),
	)

	thresholds := workflow.Thresholds{
		High: cfg.Workflow.ThresholdHigh,
		Mid:  cfg.Workflow.ThresholdMid,
		Low:  cfg.Workflow.ThresholdLow,
	}
	policy := workflow.NewPolicy(map[workflow.Type]workflow.Thresholds{
		workflow.TypeQuery:    thresholds,
		workflow.TypeIncident: thresholds,
		workflow.TypeAction:   thresholds,
	})
	governor := workflow.NewGovernor(map[workflow.Type]int{
		workflow.TypeQuery:    cfg.Workflow.MaxIterationsQuery,
		workflow.TypeAction:   cfg.Workflow.MaxIterationsAction,
		workflow.TypeIncident: cfg.Workflow.MaxIterationsIncident,
	}, cfg.Workflow.Epsilon)

	machine := workflow.NewMachine(advisor, gatherer, policy, governor, auditLog,
		workflow.WithOracleRetries(cfg.Workflow.OracleRetries, 500*time.Millisecond),
		workflow.WithSummaryTopN(cfg.Workflow.SummaryTopN),
	)

	sessions := session.NewManager(machine, checkpoints, auditLog,
		session.WithBudget(time.Duration(cfg.Workflow.SessionBudgetSeconds)*time.Second),
	)

	srv, err := server.NewServer(cfg, sessions, store, auditLog)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	// Hot-reload: audit config changes. Only settings read per-request pick
	// up new values without a restart.
	go func() {
		for range cfgMgr.Watch(ctx) {
			_ = auditLog.Log(ctx, audit.NewEvent(audit.EventConfigChanged).
				WithResult(audit.ResultSuccess).
				WithDescription("Configuration file changed and reloaded"))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	return srv.Stop()
}
