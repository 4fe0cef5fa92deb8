package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sessionAt(wt Type, iteration int, history []float64) *Session {
	s := NewSession("t-1", wt, "q")
	s.Iteration = iteration
	s.ConfidenceHistory = history
	return s
}

func TestGovernorIterationLimits(t *testing.T) {
	g := NewGovernor(nil, 0)

	assert.Equal(t, 3, g.MaxIterations(TypeQuery))
	assert.Equal(t, 6, g.MaxIterations(TypeAction))
	assert.Equal(t, 10, g.MaxIterations(TypeIncident))

	assert.True(t, g.ShouldContinue(sessionAt(TypeQuery, 2, nil)))
	assert.False(t, g.ShouldContinue(sessionAt(TypeQuery, 3, nil)))
	assert.False(t, g.ShouldContinue(sessionAt(TypeQuery, 4, nil)))

	assert.True(t, g.ShouldContinue(sessionAt(TypeIncident, 9, nil)))
	assert.False(t, g.ShouldContinue(sessionAt(TypeIncident, 10, nil)))
}

func TestGovernorOverrides(t *testing.T) {
	g := NewGovernor(map[Type]int{TypeQuery: 5}, 0)
	assert.Equal(t, 5, g.MaxIterations(TypeQuery))
	assert.True(t, g.ShouldContinue(sessionAt(TypeQuery, 4, nil)))

	// Non-positive overrides are ignored.
	g = NewGovernor(map[Type]int{TypeQuery: 0}, 0)
	assert.Equal(t, 3, g.MaxIterations(TypeQuery))
}

func TestGovernorDiminishingReturns(t *testing.T) {
	g := NewGovernor(nil, 0.02)

	// Fewer than three history entries: the cutoff never fires.
	assert.True(t, g.ShouldContinue(sessionAt(TypeIncident, 2, []float64{0.4, 0.41})))

	// Last two deltas both below epsilon: stop.
	assert.False(t, g.ShouldContinue(sessionAt(TypeIncident, 3, []float64{0.40, 0.41, 0.415})))

	// One delta at or above epsilon: keep going.
	assert.True(t, g.ShouldContinue(sessionAt(TypeIncident, 3, []float64{0.40, 0.45, 0.46})))
	assert.True(t, g.ShouldContinue(sessionAt(TypeIncident, 3, []float64{0.40, 0.41, 0.45})))

	// Deltas are absolute: oscillation below epsilon still stops.
	assert.False(t, g.ShouldContinue(sessionAt(TypeIncident, 3, []float64{0.50, 0.49, 0.50})))
}
