package session

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsprobe/opsprobe/internal/checkpoint"
	"github.com/opsprobe/opsprobe/internal/db"
	"github.com/opsprobe/opsprobe/internal/workflow"
)

// countingOracle answers every call successfully and counts categorizations,
// with an optional delay to widen concurrency windows.
type countingOracle struct {
	categorizeCalls atomic.Int64
	delay           time.Duration
}

func (o *countingOracle) Categorize(ctx context.Context, query string) (workflow.Categorization, error) {
	o.categorizeCalls.Add(1)
	if o.delay > 0 {
		select {
		case <-time.After(o.delay):
		case <-ctx.Done():
			return workflow.Categorization{}, ctx.Err()
		}
	}
	return workflow.Categorization{Category: "general", Confidence: 0.7, InitialDataTypes: []string{"metrics"}}, nil
}

func (o *countingOracle) Analyze(ctx context.Context, s *workflow.Session, sum workflow.EvidenceSummary) (workflow.Analysis, error) {
	return workflow.Analysis{Confidence: 0.9, Summary: "clear"}, nil
}

func (o *countingOracle) AssessCompleteness(ctx context.Context, s *workflow.Session, sum workflow.EvidenceSummary) (workflow.Completeness, error) {
	return workflow.Completeness{IsSufficient: true, Confidence: 0.9}, nil
}

func (o *countingOracle) RecommendAction(ctx context.Context, s *workflow.Session, rec workflow.DecisionRecord) (string, error) {
	return "plan", nil
}

type staticGatherer struct{}

func (staticGatherer) Gather(ctx context.Context, s *workflow.Session, missing []string) ([]workflow.Evidence, error) {
	return []workflow.Evidence{{ID: "ev-1", Source: workflow.SourceMetrics, Confidence: 0.7}}, nil
}

func newTestManager(t *testing.T, oracle workflow.Oracle, opts ...Option) Manager {
	t.Helper()
	store, err := db.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	ckpt := checkpoint.NewManager(store, nil)
	t.Cleanup(func() {
		_ = ckpt.Close()
		_ = store.Close()
	})

	machine := workflow.NewMachine(oracle, staticGatherer{}, workflow.NewPolicy(nil), workflow.NewGovernor(nil, 0), nil,
		workflow.WithOracleRetries(0, time.Millisecond))
	return NewManager(machine, ckpt, nil, opts...)
}

func TestInvestigateRunsToCompletion(t *testing.T) {
	m := newTestManager(t, &countingOracle{})

	resp, err := m.Investigate(context.Background(), Request{
		WorkflowType: "QUERY",
		Query:        "why is latency high?",
	})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, 1, resp.Iteration)
	assert.NotEmpty(t, resp.Result)
	assert.Equal(t, []string{
		"CATEGORIZING", "COLLECTING", "ANALYZING", "EVALUATING_COMPLETENESS",
		"DECIDING", "REPORTING",
	}, resp.ExecutionPath)
}

func TestInvestigateValidatesInput(t *testing.T) {
	m := newTestManager(t, &countingOracle{})

	_, err := m.Investigate(context.Background(), Request{WorkflowType: "QUERY"})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = m.Investigate(context.Background(), Request{WorkflowType: "NONSENSE", Query: "q"})
	assert.ErrorIs(t, err, ErrInvalidWorkflowType)
}

func TestInvestigateAcceptsLowercaseWorkflowType(t *testing.T) {
	m := newTestManager(t, &countingOracle{})

	resp, err := m.Investigate(context.Background(), Request{WorkflowType: "incident", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resp.Status)
}

func TestGetAfterInvestigate(t *testing.T) {
	m := newTestManager(t, &countingOracle{})
	ctx := context.Background()

	resp, err := m.Investigate(ctx, Request{WorkflowType: "QUERY", Query: "q"})
	require.NoError(t, err)

	snap, err := m.Get(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.True(t, snap.Terminal())
	// The snapshot keeps the terminal marker; the response drops it.
	require.NotEmpty(t, snap.ExecutionPath)
	assert.Equal(t, string(workflow.StateTerminated), snap.ExecutionPath[len(snap.ExecutionPath)-1])
	assert.Equal(t, resp.ExecutionPath, snap.ExecutionPath[:len(snap.ExecutionPath)-1])

	_, err = m.Get(ctx, "missing-id")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// Re-submitting a finished session returns its recorded outcome without
// re-running the workflow.
func TestResumeTerminalSessionIsIdempotent(t *testing.T) {
	oracle := &countingOracle{}
	m := newTestManager(t, oracle)
	ctx := context.Background()

	first, err := m.Investigate(ctx, Request{WorkflowType: "QUERY", Query: "q"})
	require.NoError(t, err)
	callsAfterFirst := oracle.categorizeCalls.Load()

	second, err := m.Investigate(ctx, Request{SessionID: first.SessionID})
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, first.ExecutionPath, second.ExecutionPath)
	assert.Equal(t, callsAfterFirst, oracle.categorizeCalls.Load())
}

// Resuming an unknown session with full request data starts fresh.
func TestResumeMissingCheckpointStartsFresh(t *testing.T) {
	m := newTestManager(t, &countingOracle{})

	resp, err := m.Investigate(context.Background(), Request{
		SessionID:    "never-seen",
		WorkflowType: "QUERY",
		Query:        "q",
	})
	require.NoError(t, err)
	assert.Equal(t, "never-seen", resp.SessionID)
	assert.Equal(t, StatusCompleted, resp.Status)
}

// Concurrent requests for the same session share one run.
func TestConcurrentRequestsSingleFlight(t *testing.T) {
	oracle := &countingOracle{delay: 50 * time.Millisecond}
	m := newTestManager(t, oracle)

	const n = 5
	var wg sync.WaitGroup
	responses := make([]*Response, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			responses[idx], errs[idx] = m.Investigate(context.Background(), Request{
				SessionID:    "shared-session",
				WorkflowType: "QUERY",
				Query:        "q",
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	// One categorization, not five.
	assert.Equal(t, int64(1), oracle.categorizeCalls.Load())
	for _, resp := range responses {
		assert.Equal(t, responses[0].Result, resp.Result)
	}
}

func TestDeleteSession(t *testing.T) {
	m := newTestManager(t, &countingOracle{})
	ctx := context.Background()

	resp, err := m.Investigate(ctx, Request{WorkflowType: "QUERY", Query: "q"})
	require.NoError(t, err)

	existed, err := m.Delete(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = m.Get(ctx, resp.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	m := newTestManager(t, &countingOracle{})

	updates, cancel := m.Subscribe("sub-session")
	defer cancel()

	_, err := m.Investigate(context.Background(), Request{
		SessionID:    "sub-session",
		WorkflowType: "QUERY",
		Query:        "q",
	})
	require.NoError(t, err)

	var states []string
	for {
		select {
		case snap := <-updates:
			states = append(states, string(snap.Status))
			if snap.Terminal() {
				assert.Contains(t, states, string(workflow.StateCollecting))
				assert.Contains(t, states, string(workflow.StateTerminated))
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for snapshots")
		}
	}
}

// The wall-clock budget forces escalation with reason "timeout", surfaced to
// the caller as a timeout-class error that still carries the execution path.
func TestSessionBudgetForcesTimeoutEscalation(t *testing.T) {
	oracle := &countingOracle{delay: 200 * time.Millisecond}
	m := newTestManager(t, oracle, WithBudget(50*time.Millisecond))

	resp, err := m.Investigate(context.Background(), Request{WorkflowType: "INCIDENT", Query: "q"})
	require.ErrorIs(t, err, ErrSessionBudgetExceeded)

	require.NotNil(t, resp)
	assert.False(t, resp.Success)
	assert.Equal(t, StatusFailed, resp.Status)
	assert.Contains(t, resp.ExecutionPath, string(workflow.StateEscalating))
	assert.Contains(t, resp.Result, "timeout")
}
