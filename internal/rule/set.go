package rule

import (
	"errors"
	"fmt"
	"strings"

	"equity-alerts/internal/model"
	"equity-alerts/internal/series"
)

var (
	ErrUnknownMode   = errors.New("rule: unknown set mode")
	ErrDuplicateRule = errors.New("rule: duplicate rule name")
	ErrUnknownType   = errors.New("rule: unknown rule type")
)

// Mode selects how a Set combines fired rules for one instrument.
type Mode string

const (
	// FirstMatch stops at the first fired rule in declared order.
	FirstMatch Mode = "first_match"
	// AllMatches reports every fired rule.
	AllMatches Mode = "all_matches"
)

// ParseMode validates a configured mode. There is no default.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.TrimSpace(s)); m {
	case FirstMatch, AllMatches:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q (want %s or %s)", ErrUnknownMode, s, FirstMatch, AllMatches)
}

// Fired pairs a rule name with its fired Outcome.
type Fired struct {
	Rule    string
	Outcome Outcome
}

// Set is an ordered collection of uniquely named rules.
type Set struct {
	mode  Mode
	rules []Rule
}

// NewSet validates names and mode and builds a Set.
func NewSet(mode Mode, rules ...Rule) (*Set, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.Name()] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, r.Name())
		}
		seen[r.Name()] = true
	}
	return &Set{mode: mode, rules: rules}, nil
}

func (s *Set) Mode() Mode    { return s.mode }
func (s *Set) Len() int      { return len(s.rules) }
func (s *Set) Rules() []Rule { return append([]Rule(nil), s.rules...) }

// Names returns the rule names in declared order.
func (s *Set) Names() []string {
	names := make([]string, len(s.rules))
	for i, r := range s.rules {
		names[i] = r.Name()
	}
	return names
}

// MinBars is the smallest history any rule in the set can use.
func (s *Set) MinBars() int {
	m := 0
	for i, r := range s.rules {
		if i == 0 || r.MinBars() < m {
			m = r.MinBars()
		}
	}
	return m
}

// Evaluate runs the rules in declared order against ser. Rules whose MinBars
// exceeds the series length are skipped. An empty series is a caller error.
func (s *Set) Evaluate(ser *series.Series, p model.Params) ([]Fired, error) {
	if ser.Empty() {
		return nil, fmt.Errorf("evaluate %s: %w", ser.Symbol(), series.ErrEmptySeries)
	}
	var fired []Fired
	for _, r := range s.rules {
		if ser.Len() < max(r.MinBars(), 1) {
			continue
		}
		out := r.Evaluate(ser, p)
		if !out.Fired {
			continue
		}
		fired = append(fired, Fired{Rule: r.Name(), Outcome: out})
		if s.mode == FirstMatch {
			break
		}
	}
	return fired, nil
}
