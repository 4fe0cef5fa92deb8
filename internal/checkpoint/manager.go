package checkpoint

// Package checkpoint persists workflow session snapshots so investigations
// survive process restarts.
//
// Responsibilities:
//   - Save a snapshot after every state machine transition (best-effort: a
//     write failure is logged and never aborts the in-memory investigation)
//   - Load the authoritative (most recent) snapshot for a (thread, namespace)
//   - Serialize writes per key; keep reads tear-free via an atomic swap of the
//     in-process latest-snapshot reference
//   - Expire old checkpoints with a background TTL sweep (soft deletion: an
//     expired-but-unswept checkpoint still loads)

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opsprobe/opsprobe/internal/audit"
	"github.com/opsprobe/opsprobe/internal/db"
	"github.com/opsprobe/opsprobe/internal/metrics"
	"github.com/opsprobe/opsprobe/internal/workflow"
)

// blobVersion is the state_blob envelope version. Bump on incompatible
// session schema changes.
const blobVersion = 1

// envelope is the versioned wire form of a checkpointed session.
type envelope struct {
	Version int               `json:"version"`
	Session *workflow.Session `json:"session"`
}

// Manager persists and restores workflow session snapshots.
type Manager interface {
	// Save persists a snapshot. Fire-and-forget: failures are logged and
	// counted, never surfaced into the caller's critical path.
	Save(ctx context.Context, threadID, namespace string, s *workflow.Session)

	// Load returns the most recent snapshot for the key. ok is false when no
	// usable checkpoint exists (missing or corrupt blobs start fresh).
	Load(ctx context.Context, threadID, namespace string) (s *workflow.Session, ok bool)

	// List returns checkpoint summaries, newest first. Empty threadID lists all.
	List(ctx context.Context, threadID string) ([]*db.CheckpointSummary, error)

	// Delete removes all checkpoints for the key, reporting whether any existed.
	Delete(ctx context.Context, threadID, namespace string) (bool, error)

	// SweepExpired deletes checkpoints older than ttl and returns the count.
	SweepExpired(ctx context.Context, ttl time.Duration) (int64, error)

	// StartSweeper runs SweepExpired on the given interval until Close.
	StartSweeper(interval, ttl time.Duration)

	Close() error
}

type manager struct {
	store    db.Store
	auditLog audit.Logger

	// keyLocks serializes writes per (thread, namespace).
	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex

	// latest caches the newest snapshot per key. Values are immutable session
	// clones swapped in whole, so concurrent readers see either the prior or
	// the new snapshot, never a partial one. savedAt mirrors the store's
	// sequence_ts so the TTL sweep can age entries out of the cache too.
	latestMu sync.RWMutex
	latest   map[string]*cachedSnapshot

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a checkpoint manager backed by the given store.
// auditLog may be nil.
func NewManager(store db.Store, auditLog audit.Logger) Manager {
	return &manager{
		store:    store,
		auditLog: auditLog,
		keyLocks: make(map[string]*sync.Mutex),
		latest:   make(map[string]*cachedSnapshot),
		stopCh:   make(chan struct{}),
	}
}

// cachedSnapshot pairs an immutable session clone with its persisted
// sequence timestamp.
type cachedSnapshot struct {
	session *workflow.Session
	savedAt time.Time
}

func key(threadID, namespace string) string {
	return threadID + "\x00" + namespace
}

func (m *manager) lockFor(k string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.keyLocks[k]
	if !ok {
		l = &sync.Mutex{}
		m.keyLocks[k] = l
	}
	return l
}

// Save persists a snapshot of the session.
func (m *manager) Save(ctx context.Context, threadID, namespace string, s *workflow.Session) {
	k := key(threadID, namespace)
	l := m.lockFor(k)
	l.Lock()
	defer l.Unlock()

	snap := s.Clone()

	blob, err := json.Marshal(envelope{Version: blobVersion, Session: snap})
	if err != nil {
		m.writeFailed(ctx, threadID, fmt.Errorf("marshal state blob: %w", err))
		return
	}

	meta, _ := json.Marshal(map[string]interface{}{
		"workflow_type": snap.WorkflowType,
		"status":        snap.Status,
		"iteration":     snap.Iteration,
	})

	rec := &db.CheckpointRecord{
		ThreadID:   threadID,
		Namespace:  namespace,
		SequenceTS: time.Now().UTC(),
		StateBlob:  string(blob),
		Metadata:   string(meta),
	}
	if err := m.store.SaveCheckpoint(ctx, rec); err != nil {
		m.writeFailed(ctx, threadID, err)
		return
	}

	m.latestMu.Lock()
	m.latest[k] = &cachedSnapshot{session: snap, savedAt: rec.SequenceTS}
	m.latestMu.Unlock()

	metrics.CheckpointWrites.WithLabelValues("ok").Inc()
}

func (m *manager) writeFailed(ctx context.Context, threadID string, err error) {
	metrics.CheckpointWrites.WithLabelValues("error").Inc()
	if m.auditLog != nil {
		_ = m.auditLog.LogCheckpointWriteFailure(ctx, threadID, err)
	}
}

// Load returns the most recent snapshot for the key.
func (m *manager) Load(ctx context.Context, threadID, namespace string) (*workflow.Session, bool) {
	k := key(threadID, namespace)

	m.latestMu.RLock()
	cached := m.latest[k]
	m.latestMu.RUnlock()
	if cached != nil {
		return cached.session.Clone(), true
	}

	rec, err := m.store.LatestCheckpoint(ctx, threadID, namespace)
	if err != nil {
		// A missing or unreadable checkpoint must not block a new
		// investigation; the caller starts fresh.
		if !errors.Is(err, db.ErrNotFound) && m.auditLog != nil {
			_ = m.auditLog.Log(ctx, audit.NewEvent(audit.EventCheckpointWriteFailed).
				WithSession(threadID).
				WithError(err, "checkpoint_read_error").
				WithDescription("Checkpoint read failed, starting fresh"))
		}
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal([]byte(rec.StateBlob), &env); err != nil || env.Session == nil {
		return nil, false
	}
	if env.Version != blobVersion {
		return nil, false
	}

	m.latestMu.Lock()
	m.latest[k] = &cachedSnapshot{session: env.Session, savedAt: rec.SequenceTS}
	m.latestMu.Unlock()

	return env.Session.Clone(), true
}

func (m *manager) List(ctx context.Context, threadID string) ([]*db.CheckpointSummary, error) {
	return m.store.ListCheckpoints(ctx, threadID, 0)
}

func (m *manager) Delete(ctx context.Context, threadID, namespace string) (bool, error) {
	k := key(threadID, namespace)
	l := m.lockFor(k)
	l.Lock()
	defer l.Unlock()

	m.latestMu.Lock()
	delete(m.latest, k)
	m.latestMu.Unlock()

	n, err := m.store.DeleteCheckpoints(ctx, threadID, namespace)
	if err != nil {
		return false, fmt.Errorf("delete checkpoints: %w", err)
	}

	m.mu.Lock()
	delete(m.keyLocks, k)
	m.mu.Unlock()

	return n > 0, nil
}

func (m *manager) SweepExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	n, err := m.store.DeleteExpiredCheckpoints(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep expired checkpoints: %w", err)
	}

	// Age the in-process cache with the same cutoff so Load cannot keep
	// serving a checkpoint the store no longer holds.
	m.latestMu.Lock()
	var sweptKeys []string
	for k, c := range m.latest {
		if c.savedAt.Before(cutoff) {
			delete(m.latest, k)
			sweptKeys = append(sweptKeys, k)
		}
	}
	m.latestMu.Unlock()

	m.mu.Lock()
	for _, k := range sweptKeys {
		delete(m.keyLocks, k)
	}
	m.mu.Unlock()
	if n > 0 {
		metrics.CheckpointsSwept.Add(float64(n))
		if m.auditLog != nil {
			_ = m.auditLog.Log(ctx, audit.NewEvent(audit.EventCheckpointSwept).
				WithResult(audit.ResultSuccess).
				WithDescription(fmt.Sprintf("TTL sweep removed %d checkpoint(s)", n)))
		}
	}
	return n, nil
}

// StartSweeper runs the TTL sweep on a fixed interval until Close.
func (m *manager) StartSweeper(interval, ttl time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				_, _ = m.SweepExpired(ctx, ttl)
				cancel()
			case <-m.stopCh:
				return
			}
		}
	}()
}

func (m *manager) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	return nil
}
