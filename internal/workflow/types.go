package workflow

// Package workflow implements the iterative investigation loop for monitoring
// signals (metrics, logs, alerts).
//
// Responsibilities:
//   - Model the investigation session: identity, workflow type, iteration count,
//     confidence score, gathered evidence, and working hypotheses
//   - Drive the state machine
//     (CATEGORIZING -> COLLECTING -> ANALYZING -> EVALUATING_COMPLETENESS ->
//     {COLLECTING | DECIDING} -> {ACTING | ESCALATING | REPORTING} -> TERMINATED)
//   - Map confidence scores to decision tiers via a pure policy function
//   - Bound iteration with per-workflow-type limits and a diminishing-returns cutoff
//   - Absorb oracle and data-source failures into escalation instead of crashes
//
// The orchestration entry point is Machine.Advance, which consumes an immutable
// session snapshot and returns the next one. Callers (the session manager)
// checkpoint between transitions.

import (
	"time"
)

// Type categorizes an investigation workflow.
type Type string

const (
	TypeQuery    Type = "QUERY"
	TypeIncident Type = "INCIDENT"
	TypeAction   Type = "ACTION"
)

// State tracks a session's position in the investigation state machine.
type State string

const (
	StateCategorizing           State = "CATEGORIZING"
	StateCollecting             State = "COLLECTING"
	StateAnalyzing              State = "ANALYZING"
	StateEvaluatingCompleteness State = "EVALUATING_COMPLETENESS"
	StateDeciding               State = "DECIDING"
	StateActing                 State = "ACTING"
	StateEscalating             State = "ESCALATING"
	StateReporting              State = "REPORTING"
	StateTerminated             State = "TERMINATED"
)

// Source identifies where a piece of evidence came from.
type Source string

const (
	SourceMetrics       Source = "metrics"
	SourceLogs          Source = "logs"
	SourceAlerts        Source = "alerts"
	SourceMemory        Source = "memory"
	SourceDocumentation Source = "documentation"
)

// Tier is the confidence tier produced by the confidence policy.
type Tier string

const (
	TierInsufficient Tier = "INSUFFICIENT"
	TierLow          Tier = "LOW"
	TierMedium       Tier = "MEDIUM"
	TierHigh         Tier = "HIGH"
)

// ActionClass governs how aggressive subsequent actions may be.
type ActionClass string

const (
	ActionGatherMore    ActionClass = "GATHER_MORE"
	ActionNonInvasive   ActionClass = "NON_INVASIVE_MITIGATION"
	ActionInvasive      ActionClass = "INVASIVE_ACTION"
	ActionEscalate      ActionClass = "ESCALATE"
)

// HypothesisStatus tracks the lifecycle of a hypothesis.
type HypothesisStatus string

const (
	HypothesisProposed  HypothesisStatus = "proposed"
	HypothesisValidated HypothesisStatus = "validated"
	HypothesisRefuted   HypothesisStatus = "refuted"
)

// Evidence is one discrete, sourced, confidence-scored fact gathered during an
// investigation. Immutable once created; never deleted, only superseded by new
// evidence in later iterations.
type Evidence struct {
	ID          string    `json:"id"`
	Source      Source    `json:"source"`
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence"`
	CollectedAt time.Time `json:"collected_at"`

	// RawRef is an opaque handle to the underlying data; the raw payload is
	// never embedded in the session.
	RawRef string `json:"raw_ref,omitempty"`
}

// Hypothesis is a candidate explanation produced by the analyze phase.
type Hypothesis struct {
	Description           string           `json:"description"`
	Confidence            float64          `json:"confidence"`
	SupportingEvidenceIDs []string         `json:"supporting_evidence_ids,omitempty"`
	Status                HypothesisStatus `json:"status"`
}

// DecisionRecord is the output of the confidence policy. It is attached to a
// session transition but not persisted outside the checkpoint blob.
type DecisionRecord struct {
	Tier        Tier        `json:"tier"`
	ActionClass ActionClass `json:"action_class"`
	Reasoning   string      `json:"reasoning"`
}

// Session is the complete state of one investigation. Machine.Advance never
// mutates a Session in place; it returns a new snapshot so that checkpointing
// happens atomically between transitions.
type Session struct {
	SessionID    string `json:"session_id"`
	WorkflowType Type   `json:"workflow_type"`
	InitialQuery string `json:"initial_query"`

	// Iteration counts completed collect/analyze rounds. Monotonically
	// non-decreasing within a session.
	Iteration int   `json:"iteration"`
	Status    State `json:"status"`

	// Category is the oracle's classification of the incoming signal.
	Category string `json:"category,omitempty"`

	ConfidenceScore   float64   `json:"confidence_score"`
	ConfidenceHistory []float64 `json:"confidence_history,omitempty"`

	Evidence   []Evidence   `json:"evidence,omitempty"`
	Hypotheses []Hypothesis `json:"hypotheses,omitempty"`

	// MissingDataTypes is carried from the last completeness assessment into
	// the next collection round.
	MissingDataTypes []string `json:"missing_data_types,omitempty"`

	// Decision is set when the deciding state runs.
	Decision *DecisionRecord `json:"decision,omitempty"`

	// Result is the workflow-type-specific outcome, set by the reporting or
	// escalating state.
	Result string `json:"result,omitempty"`

	// ExecutionPath records every state the session entered, in order.
	ExecutionPath []string `json:"execution_path"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates a session at the initial state.
func NewSession(id string, wt Type, query string) *Session {
	now := time.Now().UTC()
	return &Session{
		SessionID:     id,
		WorkflowType:  wt,
		InitialQuery:  query,
		Status:        StateCategorizing,
		ExecutionPath: []string{string(StateCategorizing)},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy of the session. Advance operates on clones so the
// caller's snapshot stays valid for checkpointing.
func (s *Session) Clone() *Session {
	cp := *s
	cp.ConfidenceHistory = append([]float64(nil), s.ConfidenceHistory...)
	cp.Evidence = append([]Evidence(nil), s.Evidence...)
	cp.Hypotheses = make([]Hypothesis, len(s.Hypotheses))
	for i, h := range s.Hypotheses {
		cp.Hypotheses[i] = h
		cp.Hypotheses[i].SupportingEvidenceIDs = append([]string(nil), h.SupportingEvidenceIDs...)
	}
	cp.MissingDataTypes = append([]string(nil), s.MissingDataTypes...)
	cp.ExecutionPath = append([]string(nil), s.ExecutionPath...)
	if s.Decision != nil {
		d := *s.Decision
		cp.Decision = &d
	}
	return &cp
}

// Terminal reports whether the session has reached its final state.
func (s *Session) Terminal() bool {
	return s.Status == StateTerminated
}

// enterState records a transition into the execution path.
func (s *Session) enterState(st State) {
	s.Status = st
	s.ExecutionPath = append(s.ExecutionPath, string(st))
	s.UpdatedAt = time.Now().UTC()
}
