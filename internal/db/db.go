package db

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("db: record not found")

// CheckpointRecord is the persisted form of a workflow checkpoint. For a given
// (thread_id, checkpoint_ns) the record with the greatest sequence timestamp is
// authoritative; older records are retained until TTL expiry for audit/replay.
type CheckpointRecord struct {
	ID         int64
	ThreadID   string
	Namespace  string
	SequenceTS time.Time
	StateBlob  string
	Metadata   string
}

// CheckpointSummary is the listing projection of a checkpoint (no blob).
type CheckpointSummary struct {
	ThreadID   string    `json:"thread_id"`
	Namespace  string    `json:"checkpoint_ns"`
	SequenceTS time.Time `json:"sequence_ts"`
	SizeBytes  int       `json:"size_bytes"`
}

// AuditRecord is a persisted audit event.
type AuditRecord struct {
	ID            int64     `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	EventType     string    `json:"event_type"`
	Description   string    `json:"description,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	Action        string    `json:"action,omitempty"`
	Result        string    `json:"result"`
	Metadata      string    `json:"metadata,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// AuditQuery filters persisted audit events.
type AuditQuery struct {
	SessionID string
	EventType string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// Store is the durable persistence layer shared by all sessions. Mutation is
// always scoped by (thread_id, checkpoint_ns), so callers need no cross-session
// coordination beyond per-key write serialization.
type Store interface {
	// SaveCheckpoint appends a new checkpoint record.
	SaveCheckpoint(ctx context.Context, rec *CheckpointRecord) error

	// LatestCheckpoint returns the record with the greatest sequence timestamp
	// for the key, or ErrNotFound.
	LatestCheckpoint(ctx context.Context, threadID, namespace string) (*CheckpointRecord, error)

	// ListCheckpoints returns checkpoint summaries, newest first. An empty
	// threadID lists across all threads.
	ListCheckpoints(ctx context.Context, threadID string, limit int) ([]*CheckpointSummary, error)

	// DeleteCheckpoints removes all checkpoints for the key and returns how
	// many were deleted.
	DeleteCheckpoints(ctx context.Context, threadID, namespace string) (int64, error)

	// DeleteExpiredCheckpoints removes checkpoints with a sequence timestamp
	// before the cutoff and returns how many were deleted.
	DeleteExpiredCheckpoints(ctx context.Context, cutoff time.Time) (int64, error)

	// AppendAuditEvent persists one audit event.
	AppendAuditEvent(ctx context.Context, rec *AuditRecord) error

	// QueryAuditEvents returns audit events matching the query, newest first.
	QueryAuditEvents(ctx context.Context, q AuditQuery) ([]*AuditRecord, error)

	Ping(ctx context.Context) error
	Close() error
}
