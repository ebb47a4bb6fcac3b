package scanner

import (
	"fmt"

	"equity-alerts/internal/datasource"
	"equity-alerts/internal/model"
	"equity-alerts/internal/rule"
)

// Delivery selects how a tick's alerts are sent.
type Delivery string

const (
	// PerAlert sends one message per alert, with a chart when enabled.
	PerAlert Delivery = "per_alert"
	// Batch sends one combined message per tick.
	Batch Delivery = "batch"
)

// ParseDelivery validates a delivery mode. Empty means PerAlert.
func ParseDelivery(s string) (Delivery, error) {
	switch Delivery(s) {
	case "", PerAlert:
		return PerAlert, nil
	case Batch:
		return Batch, nil
	}
	return "", fmt.Errorf("unknown delivery %q (want per_alert or batch)", s)
}

// Profile is a resolved scan configuration.
type Profile struct {
	Name            string
	Interval        datasource.Interval
	Range           datasource.Range
	Rules           *rule.Set
	MinBars         int
	GateMarketHours bool
	Delivery        Delivery
}

// BuildProfile resolves the named profile of a rule file. open is the
// exchange open, used by time-of-day rules.
func BuildProfile(name string, p rule.Profile, open model.TimeOfDay) (Profile, error) {
	interval, err := datasource.ParseInterval(p.Interval)
	if err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", name, err)
	}
	rng, err := datasource.ParseRange(p.Range)
	if err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", name, err)
	}
	delivery, err := ParseDelivery(p.Delivery)
	if err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", name, err)
	}
	set, err := p.BuildSet(open)
	if err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", name, err)
	}
	return Profile{
		Name:            name,
		Interval:        interval,
		Range:           rng,
		Rules:           set,
		MinBars:         p.MinBars,
		GateMarketHours: p.GateMarketHours,
		Delivery:        delivery,
	}, nil
}
