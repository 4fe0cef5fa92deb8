package audit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink records every persisted event.
type captureSink struct {
	mu     sync.Mutex
	events []*Event
	err    error
}

func (c *captureSink) Persist(ctx context.Context, e *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, e)
	return nil
}

func (c *captureSink) snapshot() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Event(nil), c.events...)
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.AuditLogPath = filepath.Join(dir, "audit.log")
	cfg.AppLogPath = filepath.Join(dir, "app.log")
	return cfg
}

func TestLoggerFlushesToSink(t *testing.T) {
	sink := &captureSink{}
	logger, err := NewLogger(testConfig(t), WithSink(sink))
	require.NoError(t, err)
	defer logger.Close()

	ctx := context.Background()
	require.NoError(t, logger.LogSessionStarted(ctx, "s-1"))
	require.NoError(t, logger.LogTransition(ctx, "s-1", "CATEGORIZING", "COLLECTING"))
	require.NoError(t, logger.Sync())

	events := sink.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, EventSessionStarted, events[0].EventType)
	assert.Equal(t, "s-1", events[0].SessionID)
	assert.Equal(t, EventStateTransition, events[1].EventType)
}

func TestLoggerSinkFailureDoesNotBlockLogging(t *testing.T) {
	sink := &captureSink{err: errors.New("db closed")}
	logger, err := NewLogger(testConfig(t), WithSink(sink))
	require.NoError(t, err)
	defer logger.Close()

	ctx := context.Background()
	require.NoError(t, logger.LogSessionCompleted(ctx, "s-1", time.Second))
	assert.NoError(t, logger.Sync())
}

func TestLoggerWithoutSink(t *testing.T) {
	logger, err := NewLogger(testConfig(t))
	require.NoError(t, err)
	defer logger.Close()

	require.NoError(t, logger.LogSessionEscalated(context.Background(), "s-1", "timeout"))
	assert.NoError(t, logger.Sync())
}

func TestLoggerRejectsBadLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.LogLevel = "loudest"
	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func TestLoggerCloseIsIdempotent(t *testing.T) {
	logger, err := NewLogger(testConfig(t))
	require.NoError(t, err)

	require.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}

func TestEventBuilders(t *testing.T) {
	e := NewEvent(EventDecisionReached).
		WithSession("s-1").
		WithCorrelationID("c-1").
		WithSource("metrics").
		WithAction("decide").
		WithResult(ResultSuccess).
		WithMetadata("tier", "HIGH").
		WithDuration(1500 * time.Millisecond)

	assert.Equal(t, EventDecisionReached, e.EventType)
	assert.Equal(t, "s-1", e.SessionID)
	assert.Equal(t, "c-1", e.CorrelationID)
	assert.Equal(t, "metrics", e.Source)
	assert.Equal(t, ResultSuccess, e.Result)
	assert.Equal(t, "HIGH", e.Metadata["tier"])
	assert.Equal(t, int64(1500), e.DurationMs)
	assert.False(t, e.Timestamp.IsZero())

	failed := NewEvent(EventSessionFailed).WithError(errors.New("boom"), "session_error")
	assert.Equal(t, ResultFailure, failed.Result)
	assert.Equal(t, "boom", failed.Error)
	assert.Equal(t, "session_error", failed.ErrorCode)
}
