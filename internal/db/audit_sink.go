package db

import (
	"context"
	"encoding/json"

	"github.com/opsprobe/opsprobe/internal/audit"
)

// auditSink persists flushed audit events into the audit_events table.
type auditSink struct {
	store Store
}

// NewAuditSink adapts a Store into an audit.Sink.
func NewAuditSink(store Store) audit.Sink {
	return &auditSink{store: store}
}

func (s *auditSink) Persist(ctx context.Context, event *audit.Event) error {
	metadata := ""
	if len(event.Metadata) > 0 {
		if b, err := json.Marshal(event.Metadata); err == nil {
			metadata = string(b)
		}
	}
	return s.store.AppendAuditEvent(ctx, &AuditRecord{
		CorrelationID: event.CorrelationID,
		EventType:     string(event.EventType),
		Description:   event.Description,
		SessionID:     event.SessionID,
		Action:        event.Action,
		Result:        string(event.Result),
		Metadata:      metadata,
		Timestamp:     event.Timestamp,
	})
}
