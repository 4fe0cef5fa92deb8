package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Sink receives flushed audit events for durable storage. Persist failures
// are logged to the application log and never block event flow.
type Sink interface {
	Persist(ctx context.Context, event *Event) error
}

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// LogSession logs session lifecycle events
	LogSessionStarted(ctx context.Context, sessionID string) error
	LogSessionCompleted(ctx context.Context, sessionID string, duration time.Duration) error
	LogSessionEscalated(ctx context.Context, sessionID, reason string) error
	LogSessionFailed(ctx context.Context, sessionID string, err error) error

	// LogTransition logs a workflow state transition
	LogTransition(ctx context.Context, sessionID, from, to string) error

	// LogCheckpointWriteFailure logs a failed checkpoint persist
	LogCheckpointWriteFailure(ctx context.Context, sessionID string, err error) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// AppLogPath is the path to the application log file
	AppLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// LogLevel is the minimum log level (debug, info, warn, error)
	LogLevel string
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		AppLogPath:   "logs/app.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
		LogLevel:     "info",
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	config      *Config
	sink        Sink
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// Option configures a Logger.
type Option func(*auditLogger)

// WithSink attaches a durable sink that receives every flushed event.
func WithSink(sink Sink) Option {
	return func(l *auditLogger) { l.sink = sink }
}

// NewLogger creates a new audit logger
func NewLogger(config *Config, opts ...Option) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.LogLevel, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	appRotator := &lumberjack.Logger{
		Filename:   config.AppLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	appCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(appRotator),
		level,
	)

	appLogger := zap.New(appCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	// Audit log is append-only and always records at INFO.
	auditRotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(auditRotator),
		zapcore.InfoLevel,
	)

	auditZapLogger := zap.New(auditCore)

	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: auditZapLogger,
		config:      config,
		buffer:      make([]*Event, 0, 100),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(logger)
	}

	go logger.autoFlush()

	return logger, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	if len(l.buffer) >= 100 {
		return l.flushLocked()
	}

	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)

		if l.sink != nil {
			if err := l.sink.Persist(context.Background(), event); err != nil {
				l.appLogger.Warn("failed to persist audit event",
					zap.Error(err),
					zap.String("event_type", string(event.EventType)),
				)
			}
		}
	}

	l.buffer = l.buffer[:0]

	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogSessionStarted logs when an investigation session starts
func (l *auditLogger) LogSessionStarted(ctx context.Context, sessionID string) error {
	event := NewEvent(EventSessionStarted).
		WithSession(sessionID).
		WithCorrelationID(sessionID).
		WithResult(ResultPending).
		WithDescription(fmt.Sprintf("Session %s started", sessionID))

	return l.Log(ctx, event)
}

// LogSessionCompleted logs when an investigation session completes
func (l *auditLogger) LogSessionCompleted(ctx context.Context, sessionID string, duration time.Duration) error {
	event := NewEvent(EventSessionCompleted).
		WithSession(sessionID).
		WithCorrelationID(sessionID).
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithDescription(fmt.Sprintf("Session %s completed", sessionID))

	return l.Log(ctx, event)
}

// LogSessionEscalated logs when an investigation session is escalated to a human
func (l *auditLogger) LogSessionEscalated(ctx context.Context, sessionID, reason string) error {
	event := NewEvent(EventSessionEscalated).
		WithSession(sessionID).
		WithCorrelationID(sessionID).
		WithResult(ResultDenied).
		WithMetadata("reason", reason).
		WithDescription(fmt.Sprintf("Session %s escalated: %s", sessionID, reason))

	return l.Log(ctx, event)
}

// LogSessionFailed logs when an investigation session fails
func (l *auditLogger) LogSessionFailed(ctx context.Context, sessionID string, err error) error {
	event := NewEvent(EventSessionFailed).
		WithSession(sessionID).
		WithCorrelationID(sessionID).
		WithError(err, "session_error").
		WithDescription(fmt.Sprintf("Session %s failed", sessionID))

	return l.Log(ctx, event)
}

// LogTransition logs a workflow state transition
func (l *auditLogger) LogTransition(ctx context.Context, sessionID, from, to string) error {
	event := NewEvent(EventStateTransition).
		WithSession(sessionID).
		WithCorrelationID(sessionID).
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("Session %s state: %s -> %s", sessionID, from, to))

	return l.Log(ctx, event)
}

// LogCheckpointWriteFailure logs a failed checkpoint persist
func (l *auditLogger) LogCheckpointWriteFailure(ctx context.Context, sessionID string, err error) error {
	event := NewEvent(EventCheckpointWriteFailed).
		WithSession(sessionID).
		WithCorrelationID(sessionID).
		WithError(err, "checkpoint_write_error").
		WithDescription(fmt.Sprintf("Checkpoint write failed for session %s", sessionID))

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	if err := l.auditLogger.Sync(); err != nil {
		return err
	}

	return l.appLogger.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
		err = l.Sync()
	})
	return err
}
