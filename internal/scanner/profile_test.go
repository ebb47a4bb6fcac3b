package scanner

import (
	"testing"

	"equity-alerts/internal/datasource"
	"equity-alerts/internal/model"
	"equity-alerts/internal/rule"
)

const ruleFile = `
universe:
  - symbol: AAPL
profiles:
  intraday:
    interval: 5m
    range: 5d
    mode: all_matches
    min_bars: 21
    gate_market_hours: true
    delivery: batch
    rules:
      - type: ema_cross_up
      - type: ema_cross_down
`

func TestBuildProfile(t *testing.T) {
	f, err := rule.Parse([]byte(ruleFile))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p, err := BuildProfile("intraday", f.Profiles["intraday"], model.MustTimeOfDay("09:30"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Interval != datasource.FiveMinutes || p.Range != datasource.FiveDays {
		t.Errorf("unexpected interval/range %s/%s", p.Interval, p.Range)
	}
	if p.Delivery != Batch || !p.GateMarketHours || p.MinBars != 21 {
		t.Errorf("unexpected profile %+v", p)
	}
	if p.Rules.Mode() != rule.AllMatches || p.Rules.Len() != 2 {
		t.Errorf("expected 2 all_matches rules, got %s/%d", p.Rules.Mode(), p.Rules.Len())
	}
}

func TestBuildProfile_Invalid(t *testing.T) {
	base := rule.Profile{Interval: "1m", Range: "1d", Mode: "first_match", Rules: []rule.Spec{{Type: "inside_day"}}}
	open := model.MustTimeOfDay("09:30")

	bad := base
	bad.Interval = "2m"
	if _, err := BuildProfile("x", bad, open); err == nil {
		t.Error("expected error for unknown interval")
	}
	bad = base
	bad.Delivery = "carrier_pigeon"
	if _, err := BuildProfile("x", bad, open); err == nil {
		t.Error("expected error for unknown delivery")
	}
	if p, err := BuildProfile("x", base, open); err != nil || p.Delivery != PerAlert {
		t.Errorf("expected per_alert default, got %v (err %v)", p.Delivery, err)
	}
}
