package workflow

import "math"

// Default iteration limits per workflow type.
const (
	DefaultMaxIterationsQuery    = 3
	DefaultMaxIterationsAction   = 6
	DefaultMaxIterationsIncident = 10

	// DefaultEpsilon is the diminishing-returns cutoff: when the last two
	// confidence deltas both fall below it, more data has stopped helping.
	DefaultEpsilon = 0.02
)

// Governor bounds how many collection rounds a session may run. Pure and
// non-suspending: it inspects the session snapshot only.
type Governor struct {
	maxIterations map[Type]int
	epsilon       float64
}

// NewGovernor creates a governor with per-type limit overrides. A zero or
// negative epsilon falls back to the default.
func NewGovernor(limits map[Type]int, epsilon float64) Governor {
	m := map[Type]int{
		TypeQuery:    DefaultMaxIterationsQuery,
		TypeAction:   DefaultMaxIterationsAction,
		TypeIncident: DefaultMaxIterationsIncident,
	}
	for wt, n := range limits {
		if n > 0 {
			m[wt] = n
		}
	}
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return Governor{maxIterations: m, epsilon: epsilon}
}

// MaxIterations returns the iteration limit for a workflow type.
func (g Governor) MaxIterations(wt Type) int {
	if n, ok := g.maxIterations[wt]; ok {
		return n
	}
	return DefaultMaxIterationsQuery
}

// ShouldContinue reports whether the session may loop back to COLLECTING.
// It returns false once the iteration limit is reached, or when the last two
// confidence deltas are both below epsilon.
func (g Governor) ShouldContinue(s *Session) bool {
	if s.Iteration >= g.MaxIterations(s.WorkflowType) {
		return false
	}

	h := s.ConfidenceHistory
	if len(h) >= 3 {
		d1 := math.Abs(h[len(h)-1] - h[len(h)-2])
		d2 := math.Abs(h[len(h)-2] - h[len(h)-3])
		if d1 < g.epsilon && d2 < g.epsilon {
			return false
		}
	}

	return true
}
