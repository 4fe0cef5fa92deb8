package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opsprobe/opsprobe/internal/audit"
	"github.com/opsprobe/opsprobe/internal/metrics"
)

// Escalation reasons used when the machine forces a session off the happy path.
const (
	ReasonOracleUnavailable = "oracle unavailable"
	ReasonTimeout           = "timeout"
)

// Categorization is the oracle's classification of the incoming signal.
type Categorization struct {
	Category         string   `json:"category"`
	Confidence       float64  `json:"confidence"`
	InitialDataTypes []string `json:"initial_data_types,omitempty"`
}

// Analysis is the oracle's reading of the accumulated evidence.
type Analysis struct {
	Hypotheses []Hypothesis `json:"hypotheses"`
	Confidence float64      `json:"confidence"`
	Summary    string       `json:"summary"`
}

// Completeness is the oracle's evidence-sufficiency assessment. Returned as a
// value, not signalled through errors: "not enough data yet" is an ordinary
// outcome the transition table consumes.
type Completeness struct {
	IsSufficient     bool     `json:"is_sufficient"`
	Confidence       float64  `json:"confidence"`
	MissingDataTypes []string `json:"missing_data_types,omitempty"`
}

// Oracle is the machine's view of the external reasoning capability. Responses
// are non-deterministic; every call may fail or return garbage, and the machine
// must degrade to escalation rather than crash.
type Oracle interface {
	Categorize(ctx context.Context, query string) (Categorization, error)
	Analyze(ctx context.Context, s *Session, summary EvidenceSummary) (Analysis, error)
	AssessCompleteness(ctx context.Context, s *Session, summary EvidenceSummary) (Completeness, error)
	RecommendAction(ctx context.Context, s *Session, rec DecisionRecord) (string, error)
}

// Gatherer collects evidence from the configured data sources. Implementations
// fan out to independent sources and merge partial results; a degraded source
// is not an error.
type Gatherer interface {
	Gather(ctx context.Context, s *Session, missing []string) ([]Evidence, error)
}

// Machine drives one session through the investigation state machine.
// It is stateless across calls: all session state lives in the snapshot.
type Machine struct {
	oracle   Oracle
	gatherer Gatherer
	policy   Policy
	governor Governor
	auditLog audit.Logger

	// oracleRetries is the number of retries (not attempts) before a failing
	// oracle call forces escalation.
	oracleRetries int
	retryBackoff  time.Duration

	// summaryTopN bounds how many evidence items are surfaced to the oracle.
	summaryTopN int
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithOracleRetries overrides the oracle retry bound.
func WithOracleRetries(n int, backoff time.Duration) MachineOption {
	return func(m *Machine) {
		m.oracleRetries = n
		m.retryBackoff = backoff
	}
}

// WithSummaryTopN overrides how many evidence items summaries carry.
func WithSummaryTopN(n int) MachineOption {
	return func(m *Machine) { m.summaryTopN = n }
}

// NewMachine creates a workflow machine. auditLog may be nil.
func NewMachine(oracle Oracle, gatherer Gatherer, policy Policy, governor Governor, auditLog audit.Logger, opts ...MachineOption) *Machine {
	m := &Machine{
		oracle:        oracle,
		gatherer:      gatherer,
		policy:        policy,
		governor:      governor,
		auditLog:      auditLog,
		oracleRetries: 2,
		retryBackoff:  500 * time.Millisecond,
		summaryTopN:   10,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Governor exposes the machine's iteration governor.
func (m *Machine) Governor() Governor { return m.governor }

// Advance executes exactly one state transition and returns the resulting
// snapshot. The input session is never mutated. Re-invoking Advance on a
// checkpointed snapshot with the same inputs reproduces the same next state.
func (m *Machine) Advance(ctx context.Context, s *Session) (*Session, error) {
	if s.Terminal() {
		return s, nil
	}

	next := s.Clone()

	var err error
	switch next.Status {
	case StateCategorizing:
		err = m.categorize(ctx, next)
	case StateCollecting:
		err = m.collect(ctx, next)
	case StateAnalyzing:
		err = m.analyze(ctx, next)
	case StateEvaluatingCompleteness:
		err = m.evaluateCompleteness(ctx, next)
	case StateDeciding:
		m.decide(next)
	case StateActing:
		m.act(ctx, next)
	case StateEscalating:
		m.escalate(ctx, next)
	case StateReporting:
		m.report(ctx, next)
	default:
		return nil, fmt.Errorf("advance: unknown state %q", next.Status)
	}
	if err != nil {
		return nil, err
	}

	if s.Status != next.Status && m.auditLog != nil {
		_ = m.auditLog.LogTransition(ctx, next.SessionID, string(s.Status), string(next.Status))
	}
	metrics.WorkflowTransitions.WithLabelValues(string(next.WorkflowType), string(next.Status)).Inc()

	return next, nil
}

// Run drives the session to a terminal state, invoking afterTransition (when
// non-nil) with every intermediate snapshot so the caller can checkpoint.
func (m *Machine) Run(ctx context.Context, s *Session, afterTransition func(*Session)) (*Session, error) {
	for !s.Terminal() {
		next, err := m.Advance(ctx, s)
		if err != nil {
			return s, err
		}
		s = next
		if afterTransition != nil {
			afterTransition(s)
		}
	}
	return s, nil
}

// ─── Transitions ──────────────────────────────────────────────────────────────

func (m *Machine) categorize(ctx context.Context, s *Session) error {
	var cat Categorization
	err := m.callOracle(ctx, s, func(ctx context.Context) error {
		var callErr error
		cat, callErr = m.oracle.Categorize(ctx, s.InitialQuery)
		return callErr
	})
	if err != nil {
		m.forceEscalation(s, escalationReason(err))
		return nil
	}

	s.Category = cat.Category
	s.MissingDataTypes = cat.InitialDataTypes
	s.Iteration = 1
	s.enterState(StateCollecting)
	return nil
}

func (m *Machine) collect(ctx context.Context, s *Session) error {
	if ctx.Err() != nil {
		m.forceEscalation(s, ReasonTimeout)
		return nil
	}

	items, err := m.gatherer.Gather(ctx, s, s.MissingDataTypes)
	if err != nil {
		// Total collection failure is still not fatal: the analyze phase
		// works with whatever evidence earlier iterations produced.
		if m.auditLog != nil {
			_ = m.auditLog.Log(ctx, audit.NewEvent(audit.EventSourceDegraded).
				WithSession(s.SessionID).
				WithError(err, "collect_error").
				WithDescription(fmt.Sprintf("Evidence collection degraded in iteration %d", s.Iteration)))
		}
	}
	s.Evidence = append(s.Evidence, items...)
	metrics.EvidenceCollected.WithLabelValues(string(s.WorkflowType)).Add(float64(len(items)))

	s.enterState(StateAnalyzing)
	return nil
}

func (m *Machine) analyze(ctx context.Context, s *Session) error {
	summary := NewEvidenceStoreFrom(s.Evidence).Summarize(m.summaryTopN)

	var analysis Analysis
	err := m.callOracle(ctx, s, func(ctx context.Context) error {
		var callErr error
		analysis, callErr = m.oracle.Analyze(ctx, s, summary)
		return callErr
	})
	if err != nil {
		m.forceEscalation(s, escalationReason(err))
		return nil
	}

	s.Hypotheses = mergeHypotheses(s.Hypotheses, analysis.Hypotheses)
	s.ConfidenceScore = clamp01(analysis.Confidence)
	s.enterState(StateEvaluatingCompleteness)
	return nil
}

func (m *Machine) evaluateCompleteness(ctx context.Context, s *Session) error {
	summary := NewEvidenceStoreFrom(s.Evidence).Summarize(m.summaryTopN)

	var comp Completeness
	err := m.callOracle(ctx, s, func(ctx context.Context) error {
		var callErr error
		comp, callErr = m.oracle.AssessCompleteness(ctx, s, summary)
		return callErr
	})
	if err != nil {
		m.forceEscalation(s, escalationReason(err))
		return nil
	}

	s.ConfidenceScore = clamp01(comp.Confidence)
	s.ConfidenceHistory = append(s.ConfidenceHistory, s.ConfidenceScore)
	s.MissingDataTypes = comp.MissingDataTypes

	if !comp.IsSufficient && m.governor.ShouldContinue(s) {
		s.Iteration++
		metrics.WorkflowIterations.WithLabelValues(string(s.WorkflowType)).Inc()
		s.enterState(StateCollecting)
		return nil
	}

	s.enterState(StateDeciding)
	return nil
}

func (m *Machine) decide(s *Session) {
	budgetExhausted := !m.governor.ShouldContinue(s)
	rec := m.policy.Decide(s.WorkflowType, s.ConfidenceScore, budgetExhausted)
	s.Decision = &rec
	metrics.DecisionsTotal.WithLabelValues(string(s.WorkflowType), string(rec.ActionClass)).Inc()

	switch {
	case rec.ActionClass == ActionEscalate:
		s.enterState(StateEscalating)
	case s.WorkflowType == TypeQuery:
		// QUERY workflows never execute actions, invasive or otherwise.
		s.enterState(StateReporting)
	default:
		s.enterState(StateActing)
	}
}

func (m *Machine) act(ctx context.Context, s *Session) {
	rec := DecisionRecord{}
	if s.Decision != nil {
		rec = *s.Decision
	}

	var plan string
	err := m.callOracle(ctx, s, func(ctx context.Context) error {
		var callErr error
		plan, callErr = m.oracle.RecommendAction(ctx, s, rec)
		return callErr
	})
	if err != nil {
		m.forceEscalation(s, escalationReason(err))
		return
	}

	s.Result = plan
	s.enterState(StateReporting)
}

func (m *Machine) escalate(ctx context.Context, s *Session) {
	reason := "escalated"
	if s.Decision != nil && s.Decision.Reasoning != "" {
		reason = s.Decision.Reasoning
	}
	if s.Result == "" {
		s.Result = fmt.Sprintf("escalated after %d iteration(s): %s", s.Iteration, reason)
	}

	if m.auditLog != nil {
		_ = m.auditLog.LogSessionEscalated(ctx, s.SessionID, reason)
	}
	metrics.SessionsTotal.WithLabelValues(string(s.WorkflowType), "escalated").Inc()

	s.enterState(StateTerminated)
}

func (m *Machine) report(ctx context.Context, s *Session) {
	if s.Result == "" {
		s.Result = buildReport(s)
	}

	if m.auditLog != nil {
		_ = m.auditLog.LogSessionCompleted(ctx, s.SessionID, time.Since(s.CreatedAt))
	}
	metrics.SessionsTotal.WithLabelValues(string(s.WorkflowType), "completed").Inc()

	s.enterState(StateTerminated)
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// callOracle invokes fn with the configured retry bound. A context expiry is
// returned as-is so the caller can distinguish the session budget running out
// from the oracle being down.
func (m *Machine) callOracle(ctx context.Context, s *Session, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= m.oracleRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.DeadlineExceeded) || errors.Is(lastErr, context.Canceled) {
			return lastErr
		}
		if attempt < m.oracleRetries {
			metrics.OracleRetries.Inc()
			if m.auditLog != nil {
				_ = m.auditLog.Log(ctx, audit.NewEvent(audit.EventOracleRetry).
					WithSession(s.SessionID).
					WithError(lastErr, "oracle_error").
					WithDescription(fmt.Sprintf("Oracle call failed (attempt %d), retrying", attempt+1)))
			}
			select {
			case <-time.After(m.retryBackoff * time.Duration(attempt+1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// forceEscalation routes the session into ESCALATING with the given reason.
func (m *Machine) forceEscalation(s *Session, reason string) {
	s.Decision = &DecisionRecord{
		Tier:        TierInsufficient,
		ActionClass: ActionEscalate,
		Reasoning:   reason,
	}
	s.enterState(StateEscalating)
}

func escalationReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReasonTimeout
	}
	return ReasonOracleUnavailable
}

// mergeHypotheses replaces prior hypotheses that reappear (matched by
// description) and appends new ones. Refuted hypotheses are kept for the
// record.
func mergeHypotheses(existing, updates []Hypothesis) []Hypothesis {
	out := append([]Hypothesis(nil), existing...)
	for _, u := range updates {
		replaced := false
		for i := range out {
			if out[i].Description == u.Description {
				out[i] = u
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, u)
		}
	}
	return out
}

func buildReport(s *Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Investigation %s (%s) finished after %d iteration(s) with confidence %.2f.",
		s.SessionID, s.WorkflowType, s.Iteration, s.ConfidenceScore)
	if s.Category != "" {
		fmt.Fprintf(&b, " Category: %s.", s.Category)
	}
	for _, h := range s.Hypotheses {
		if h.Status == HypothesisValidated {
			fmt.Fprintf(&b, "\nValidated: %s (%.2f)", h.Description, h.Confidence)
		}
	}
	if s.Decision != nil {
		fmt.Fprintf(&b, "\nDecision: %s / %s (%s)", s.Decision.Tier, s.Decision.ActionClass, s.Decision.Reasoning)
	}
	return b.String()
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
