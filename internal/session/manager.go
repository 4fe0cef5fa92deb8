package session

// Package session owns the lifecycle of investigation sessions: creating or
// resuming them, driving the workflow machine to a terminal state under the
// wall-clock budget, checkpointing after every transition, and streaming
// snapshots to subscribers.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/opsprobe/opsprobe/internal/audit"
	"github.com/opsprobe/opsprobe/internal/checkpoint"
	"github.com/opsprobe/opsprobe/internal/db"
	"github.com/opsprobe/opsprobe/internal/metrics"
	"github.com/opsprobe/opsprobe/internal/workflow"
)

// DefaultSessionBudget bounds the wall-clock time one investigation may take
// before it is escalated with reason "timeout".
const DefaultSessionBudget = 300 * time.Second

// CheckpointNamespace is the namespace all session checkpoints live under.
const CheckpointNamespace = "sessions"

var (
	// ErrSessionNotFound is returned when no checkpoint exists for a session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidWorkflowType is returned for workflow types outside
	// QUERY / INCIDENT / ACTION.
	ErrInvalidWorkflowType = errors.New("invalid workflow type")

	// ErrEmptyQuery is returned when a request carries no signal text.
	ErrEmptyQuery = errors.New("query is required")

	// ErrSessionBudgetExceeded is returned when the wall-clock budget forced
	// the session into escalation with reason "timeout". The accompanying
	// Response still carries the execution path.
	ErrSessionBudgetExceeded = errors.New("session budget exceeded")
)

// Request starts or resumes an investigation.
type Request struct {
	// SessionID resumes an existing session when set; empty starts a new one.
	SessionID    string `json:"session_id,omitempty"`
	WorkflowType string `json:"workflow_type"`
	Query        string `json:"query"`
}

// Terminal response statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Response is the terminal outcome of an investigation run.
type Response struct {
	Success         bool     `json:"success"`
	SessionID       string   `json:"session_id"`
	Status          string   `json:"status"`
	Result          string   `json:"result,omitempty"`
	ConfidenceScore float64  `json:"confidence_score"`
	Iteration       int      `json:"iteration"`
	ExecutionPath   []string `json:"execution_path"`
}

// Manager runs investigations.
type Manager interface {
	// Investigate drives a session to a terminal state and returns the outcome.
	// Concurrent requests for the same session ID share one run.
	Investigate(ctx context.Context, req Request) (*Response, error)

	// Get returns the latest snapshot of a session.
	Get(ctx context.Context, sessionID string) (*workflow.Session, error)

	// List returns checkpoint summaries for a session (all sessions when
	// sessionID is empty), newest first.
	List(ctx context.Context, sessionID string) ([]*db.CheckpointSummary, error)

	// Delete removes a session's checkpoints, reporting whether any existed.
	Delete(ctx context.Context, sessionID string) (bool, error)

	// Subscribe streams session snapshots after each transition. The returned
	// cancel func must be called when the subscriber is done.
	Subscribe(sessionID string) (<-chan *workflow.Session, func())
}

type manager struct {
	machine     *workflow.Machine
	checkpoints checkpoint.Manager
	auditLog    audit.Logger
	budget      time.Duration

	group singleflight.Group

	subMu sync.Mutex
	subs  map[string]map[chan *workflow.Session]struct{}
}

// Option configures a Manager.
type Option func(*manager)

// WithBudget overrides the per-session wall-clock budget.
func WithBudget(d time.Duration) Option {
	return func(m *manager) { m.budget = d }
}

// NewManager creates a session manager. auditLog may be nil.
func NewManager(machine *workflow.Machine, checkpoints checkpoint.Manager, auditLog audit.Logger, opts ...Option) Manager {
	m := &manager{
		machine:     machine,
		checkpoints: checkpoints,
		auditLog:    auditLog,
		budget:      DefaultSessionBudget,
		subs:        make(map[string]map[chan *workflow.Session]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func parseWorkflowType(s string) (workflow.Type, error) {
	switch workflow.Type(strings.ToUpper(strings.TrimSpace(s))) {
	case workflow.TypeQuery:
		return workflow.TypeQuery, nil
	case workflow.TypeIncident:
		return workflow.TypeIncident, nil
	case workflow.TypeAction:
		return workflow.TypeAction, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidWorkflowType, s)
	}
}

// Investigate drives a session to its terminal state.
func (m *manager) Investigate(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" && req.SessionID == "" {
		return nil, ErrEmptyQuery
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	// Single-flight per session: a duplicate request while a run is in flight
	// attaches to that run instead of advancing the same snapshot twice.
	v, err, _ := m.group.Do(sessionID, func() (interface{}, error) {
		return m.run(ctx, sessionID, req)
	})
	// A budget timeout returns both the outcome and an error; keep the
	// response so callers still see the execution path.
	resp, _ := v.(*Response)
	return resp, err
}

func (m *manager) run(ctx context.Context, sessionID string, req Request) (*Response, error) {
	s, resumed := m.loadOrCreate(ctx, sessionID, req)
	if s == nil {
		wt, err := parseWorkflowType(req.WorkflowType)
		if err != nil {
			return nil, err
		}
		s = workflow.NewSession(sessionID, wt, req.Query)
	}

	if s.Terminal() {
		// Idempotent resume: a finished session returns its recorded outcome
		// without re-running anything.
		return finish(s)
	}

	if m.auditLog != nil {
		if resumed {
			_ = m.auditLog.Log(ctx, audit.NewEvent(audit.EventSessionResumed).
				WithSession(sessionID).
				WithCorrelationID(sessionID).
				WithResult(audit.ResultSuccess).
				WithDescription(fmt.Sprintf("Session %s resumed at %s, iteration %d", sessionID, s.Status, s.Iteration)))
		} else {
			_ = m.auditLog.LogSessionStarted(ctx, sessionID)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, m.budget)
	defer cancel()

	start := time.Now()
	final, err := m.machine.Run(runCtx, s, func(snap *workflow.Session) {
		m.checkpoints.Save(context.WithoutCancel(runCtx), sessionID, CheckpointNamespace, snap)
		m.publish(sessionID, snap)
	})
	metrics.SessionDuration.WithLabelValues(string(final.WorkflowType)).Observe(time.Since(start).Seconds())

	if err != nil {
		if m.auditLog != nil {
			_ = m.auditLog.LogSessionFailed(ctx, sessionID, err)
		}
		metrics.SessionsTotal.WithLabelValues(string(final.WorkflowType), "failed").Inc()
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	return finish(final)
}

// loadOrCreate resumes from the latest checkpoint when one exists. A missing
// or unreadable checkpoint never blocks the request; the caller starts fresh.
func (m *manager) loadOrCreate(ctx context.Context, sessionID string, req Request) (*workflow.Session, bool) {
	if req.SessionID == "" {
		return nil, false
	}
	s, ok := m.checkpoints.Load(ctx, sessionID, CheckpointNamespace)
	if !ok {
		return nil, false
	}
	return s, true
}

// finish assembles the caller-facing outcome for a terminal session. A budget
// timeout is surfaced as a timeout-class error alongside the response.
func finish(s *workflow.Session) (*Response, error) {
	resp := buildResponse(s)
	if timedOut(s) {
		resp.Success = false
		resp.Status = StatusFailed
		return resp, fmt.Errorf("session %s: %w", s.SessionID, ErrSessionBudgetExceeded)
	}
	return resp, nil
}

func timedOut(s *workflow.Session) bool {
	return s.Decision != nil &&
		s.Decision.ActionClass == workflow.ActionEscalate &&
		s.Decision.Reasoning == workflow.ReasonTimeout
}

func buildResponse(s *workflow.Session) *Response {
	// The terminal marker is bookkeeping; callers read the states visited.
	path := s.ExecutionPath
	if n := len(path); n > 0 && path[n-1] == string(workflow.StateTerminated) {
		path = path[:n-1]
	}
	return &Response{
		Success:         true,
		SessionID:       s.SessionID,
		Status:          StatusCompleted,
		Result:          s.Result,
		ConfidenceScore: s.ConfidenceScore,
		Iteration:       s.Iteration,
		ExecutionPath:   path,
	}
}

func (m *manager) Get(ctx context.Context, sessionID string) (*workflow.Session, error) {
	s, ok := m.checkpoints.Load(ctx, sessionID, CheckpointNamespace)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *manager) List(ctx context.Context, sessionID string) ([]*db.CheckpointSummary, error) {
	return m.checkpoints.List(ctx, sessionID)
}

func (m *manager) Delete(ctx context.Context, sessionID string) (bool, error) {
	return m.checkpoints.Delete(ctx, sessionID, CheckpointNamespace)
}

// ─── Subscriptions ────────────────────────────────────────────────────────────

// Subscribe registers a snapshot stream for a session.
func (m *manager) Subscribe(sessionID string) (<-chan *workflow.Session, func()) {
	ch := make(chan *workflow.Session, 16)

	m.subMu.Lock()
	if m.subs[sessionID] == nil {
		m.subs[sessionID] = make(map[chan *workflow.Session]struct{})
	}
	m.subs[sessionID][ch] = struct{}{}
	m.subMu.Unlock()

	cancel := func() {
		m.subMu.Lock()
		if set, ok := m.subs[sessionID]; ok {
			if _, live := set[ch]; live {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(m.subs, sessionID)
			}
		}
		m.subMu.Unlock()
	}
	return ch, cancel
}

// publish fans a snapshot out to subscribers. Slow subscribers drop updates
// rather than stalling the workflow.
func (m *manager) publish(sessionID string, snap *workflow.Session) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs[sessionID] {
		select {
		case ch <- snap:
		default:
		}
	}
}
