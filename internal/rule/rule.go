// Package rule provides the signal predicates evaluated against a bar series
// and the ordered rule sets that combine them per instrument.
//
// A Rule is a pure function of its series and per-instrument parameters: the
// same input always yields the same Outcome, and evaluation has no side
// effects. Rules decide whether their condition holds at the last bar only.
package rule

import (
	"time"

	"equity-alerts/internal/model"
	"equity-alerts/internal/series"
)

// Outcome is the result of evaluating a Rule.
type Outcome struct {
	Fired    bool
	Evidence *model.Evidence
}

// NotFired is the Outcome for a condition that does not hold, including the
// insufficient-history case.
func NotFired() Outcome { return Outcome{} }

// Fire builds a fired Outcome.
func Fire(price float64, at time.Time, rationale string) Outcome {
	return Outcome{
		Fired:    true,
		Evidence: &model.Evidence{Price: price, At: at, Rationale: rationale},
	}
}

// Rule is the interface that all signal predicates implement.
type Rule interface {
	// Name returns the rule's name, unique within its Set.
	Name() string

	// MinBars is the fewest bars the rule needs to say anything. Shorter
	// series are never passed to Evaluate by a Set.
	MinBars() int

	// Evaluate reports whether the condition holds at the last bar.
	Evaluate(s *series.Series, p model.Params) Outcome
}

// Direction selects the side of a crossing or breakout.
type Direction int

const (
	Up Direction = iota
	Down
)

func (d Direction) String() string {
	if d == Down {
		return "down"
	}
	return "up"
}
