package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsprobe/opsprobe/internal/audit"
)

func TestAuditSinkPersistsEvents(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sink.db"))
	require.NoError(t, err)
	defer store.Close()

	sink := NewAuditSink(store)
	ctx := context.Background()

	e := audit.NewEvent(audit.EventSessionStarted).
		WithSession("s-1").
		WithCorrelationID("s-1").
		WithResult(audit.ResultPending).
		WithMetadata("workflow_type", "INCIDENT")
	require.NoError(t, sink.Persist(ctx, e))

	recs, err := store.QueryAuditEvents(ctx, AuditQuery{SessionID: "s-1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "session.started", recs[0].EventType)
	assert.Equal(t, "s-1", recs[0].CorrelationID)
	assert.Equal(t, "pending", recs[0].Result)
	assert.Contains(t, recs[0].Metadata, `"workflow_type":"INCIDENT"`)
}
