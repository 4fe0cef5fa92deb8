package workflow

import "fmt"

// Thresholds are the confidence cut points for one workflow type. Boundary
// values belong to the higher tier (inclusive lower bound).
type Thresholds struct {
	High float64 `json:"high"`
	Mid  float64 `json:"mid"`
	Low  float64 `json:"low"`
}

// DefaultThresholds returns the canonical threshold table.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.85, Mid: 0.70, Low: 0.50}
}

// Policy maps a confidence score to a decision tier and action class. It is a
// pure function of its inputs: no clock, no I/O, no hidden state.
type Policy struct {
	thresholds map[Type]Thresholds
}

// NewPolicy creates a policy with per-workflow-type threshold overrides.
// Types absent from overrides use the defaults.
func NewPolicy(overrides map[Type]Thresholds) Policy {
	t := map[Type]Thresholds{
		TypeQuery:    DefaultThresholds(),
		TypeIncident: DefaultThresholds(),
		TypeAction:   DefaultThresholds(),
	}
	for wt, th := range overrides {
		t[wt] = th
	}
	return Policy{thresholds: t}
}

// ThresholdsFor returns the active thresholds for a workflow type.
func (p Policy) ThresholdsFor(wt Type) Thresholds {
	if th, ok := p.thresholds[wt]; ok {
		return th
	}
	return DefaultThresholds()
}

// Decide maps score to a DecisionRecord. budgetExhausted indicates the
// iteration governor has refused further collection rounds; it only changes
// the outcome for the INSUFFICIENT tier, which escalates instead of asking
// for more data it will never get.
func (p Policy) Decide(wt Type, score float64, budgetExhausted bool) DecisionRecord {
	th := p.ThresholdsFor(wt)

	switch {
	case score >= th.High:
		return DecisionRecord{
			Tier:        TierHigh,
			ActionClass: ActionInvasive,
			Reasoning:   fmt.Sprintf("confidence %.2f >= %.2f", score, th.High),
		}
	case score >= th.Mid:
		return DecisionRecord{
			Tier:        TierMedium,
			ActionClass: ActionNonInvasive,
			Reasoning:   fmt.Sprintf("confidence %.2f in [%.2f, %.2f)", score, th.Mid, th.High),
		}
	case score >= th.Low:
		return DecisionRecord{
			Tier:        TierLow,
			ActionClass: ActionGatherMore,
			Reasoning:   fmt.Sprintf("confidence %.2f in [%.2f, %.2f)", score, th.Low, th.Mid),
		}
	default:
		rec := DecisionRecord{
			Tier:        TierInsufficient,
			ActionClass: ActionGatherMore,
			Reasoning:   fmt.Sprintf("confidence %.2f < %.2f", score, th.Low),
		}
		if budgetExhausted {
			rec.ActionClass = ActionEscalate
			rec.Reasoning += ", iteration budget exhausted"
		}
		return rec
	}
}
