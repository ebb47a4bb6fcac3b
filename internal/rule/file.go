package rule

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"equity-alerts/internal/model"
)

// Spec is one rule entry of a rule file. Zero-valued parameters take the
// defaults of the rule's type.
type Spec struct {
	Name          string `yaml:"name"`
	Type          string `yaml:"type"`
	Fast          int    `yaml:"fast"`
	Slow          int    `yaml:"slow"`
	Period        int    `yaml:"period"`
	VolumePeriod  int    `yaml:"volume_period"`
	WindowMinutes int    `yaml:"window_minutes"`
	Confirm       string `yaml:"confirm"`
}

// Exchange holds the trading hours block of a rule file.
type Exchange struct {
	Timezone string   `yaml:"timezone"`
	Open     string   `yaml:"open"`
	Close    string   `yaml:"close"`
	Holidays []string `yaml:"holidays"`
}

// Profile is a named scan configuration: what to fetch, which rules to run
// and how to deliver what they find.
type Profile struct {
	Interval        string   `yaml:"interval"`
	Range           string   `yaml:"range"`
	Mode            string   `yaml:"mode"`
	MinBars         int      `yaml:"min_bars"`
	GateMarketHours bool     `yaml:"gate_market_hours"`
	Delivery        string   `yaml:"delivery"`
	Symbols         []string `yaml:"symbols"`
	Rules           []Spec   `yaml:"rules"`
}

// File is a parsed rule file.
type File struct {
	Exchange Exchange           `yaml:"exchange"`
	Universe []model.Instrument `yaml:"universe"`
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadFile reads and parses a rule file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates rule file contents.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rule file: %w", err)
	}
	if len(f.Universe) == 0 {
		return nil, errors.New("universe is empty")
	}
	seen := make(map[string]bool, len(f.Universe))
	for _, inst := range f.Universe {
		if inst.Symbol == "" {
			return nil, errors.New("universe entry without symbol")
		}
		if seen[inst.Symbol] {
			return nil, fmt.Errorf("duplicate symbol %s in universe", inst.Symbol)
		}
		seen[inst.Symbol] = true
	}
	if len(f.Profiles) == 0 {
		return nil, errors.New("no profiles defined")
	}
	for name, p := range f.Profiles {
		if _, err := ParseMode(p.Mode); err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
		if len(p.Rules) == 0 {
			return nil, fmt.Errorf("profile %s: no rules", name)
		}
		for _, sym := range p.Symbols {
			if !seen[sym] {
				return nil, fmt.Errorf("profile %s: symbol %s not in universe", name, sym)
			}
		}
	}
	return &f, nil
}

// ProfileNames returns the defined profile names, sorted.
func (f *File) ProfileNames() []string {
	names := make([]string, 0, len(f.Profiles))
	for n := range f.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Instruments returns the universe entries a profile scans, in declared
// universe order.
func (f *File) Instruments(p Profile) []model.Instrument {
	if len(p.Symbols) == 0 {
		return append([]model.Instrument(nil), f.Universe...)
	}
	want := make(map[string]bool, len(p.Symbols))
	for _, s := range p.Symbols {
		want[s] = true
	}
	var out []model.Instrument
	for _, inst := range f.Universe {
		if want[inst.Symbol] {
			out = append(out, inst)
		}
	}
	return out
}

// BuildSet constructs the profile's Set. open anchors the opening-window rules.
func (p Profile) BuildSet(open model.TimeOfDay) (*Set, error) {
	mode, err := ParseMode(p.Mode)
	if err != nil {
		return nil, err
	}
	rules := make([]Rule, 0, len(p.Rules))
	for _, spec := range p.Rules {
		r, err := Build(spec, open)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return NewSet(mode, rules...)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Build constructs a Rule from its Spec.
func Build(spec Spec, open model.TimeOfDay) (Rule, error) {
	name := spec.Name
	if name == "" {
		name = spec.Type
	}

	switch spec.Type {
	case "ema_cross_up", "ema_cross_down":
		dir := Up
		if spec.Type == "ema_cross_down" {
			dir = Down
		}
		return NewCrossover(name, AvgEMA, orDefault(spec.Fast, 9), orDefault(spec.Slow, 20), dir), nil

	case "sma_cross_up", "sma_cross_down":
		dir := Up
		if spec.Type == "sma_cross_down" {
			dir = Down
		}
		return NewCrossover(name, AvgSMA, orDefault(spec.Fast, 1), orDefault(spec.Slow, 20), dir), nil

	case "opening_range_breakout", "opening_range_breakdown":
		dir := Up
		if spec.Type == "opening_range_breakdown" {
			dir = Down
		}
		window := time.Duration(orDefault(spec.WindowMinutes, 60)) * time.Minute
		return NewOpeningRange(name, dir, open, window, orDefault(spec.VolumePeriod, 20)), nil

	case "close_above_sma_volume":
		return NewCloseVsSMA(name, Up, orDefault(spec.Period, 50), orDefault(spec.VolumePeriod, 20)), nil

	case "close_below_sma":
		return NewCloseVsSMA(name, Down, orDefault(spec.Period, 20), 0), nil

	case "inside_day":
		return NewInsideBar(name), nil

	case "first_red_open":
		confirm := open.Add(30 * time.Minute)
		if spec.Confirm != "" {
			c, err := model.ParseTimeOfDay(spec.Confirm)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", name, err)
			}
			confirm = c
		}
		first := time.Duration(orDefault(spec.WindowMinutes, 5)) * time.Minute
		return NewFirstRedOpen(name, open, first, confirm), nil
	}
	return nil, fmt.Errorf("%w: %q (rule %s)", ErrUnknownType, spec.Type, name)
}
