package rule

import (
	"errors"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"equity-alerts/internal/model"
	"equity-alerts/internal/series"
)

var (
	ny   = mustLoad("America/New_York")
	open = model.MustTimeOfDay("09:30")
)

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func at(h, m int) time.Time {
	return time.Date(2026, 6, 1, h, m, 0, 0, ny)
}

// closes builds a 1-minute series from 09:30 with the given closes.
func closes(values ...float64) *series.Series {
	bars := make([]model.Bar, len(values))
	for i, v := range values {
		bars[i] = model.Bar{TS: at(9, 30).Add(time.Duration(i) * time.Minute), Open: v, High: v, Low: v, Close: v, Volume: 1000}
	}
	return series.New("TEST", bars, ny)
}

// ────────────────────────────────────────────────────────────
// Crossings
// ────────────────────────────────────────────────────────────

func TestCrossedAbove_EqualThenAbove(t *testing.T) {
	fast := []float64{10, 10, 11}
	slow := []float64{10, 10, 10.5}

	for i, want := range []bool{false, false, true} {
		if got := CrossedAbove(fast, slow, i); got != want {
			t.Errorf("index %d: expected %v, got %v", i, want, got)
		}
	}
}

func TestCrossedBelow(t *testing.T) {
	fast := []float64{11, 10, 9}
	slow := []float64{10, 10, 10}
	if CrossedBelow(fast, slow, 1) {
		t.Error("index 1: equal is not below")
	}
	if !CrossedBelow(fast, slow, 2) {
		t.Error("index 2: expected cross below")
	}
}

func TestEMACrossUp(t *testing.T) {
	r := NewCrossover("ema_cross_up", AvgEMA, 2, 5, Up)

	// Flat then a jump: the fast line crosses on the jump bar only.
	s := closes(10, 10, 10, 10, 12)
	out := r.Evaluate(s, model.Params{})
	if !out.Fired {
		t.Fatal("expected cross up on the jump bar")
	}
	if out.Evidence == nil || out.Evidence.Price != 12 {
		t.Errorf("unexpected evidence %+v", out.Evidence)
	}

	// One bar later both lines are still rising, fast already above: no new cross.
	if r.Evaluate(closes(10, 10, 10, 10, 12, 13), model.Params{}).Fired {
		t.Error("expected no cross on continuation")
	}
}

func TestEMACrossDown(t *testing.T) {
	r := NewCrossover("ema_cross_down", AvgEMA, 2, 5, Down)
	if !r.Evaluate(closes(10, 10, 10, 8), model.Params{}).Fired {
		t.Error("expected cross down")
	}
}

func TestSMACross_CloseOverSMA(t *testing.T) {
	r := NewCrossover("sma_cross_up", AvgSMA, 1, 3, Up)
	if r.MinBars() != 4 {
		t.Errorf("expected MinBars 4, got %d", r.MinBars())
	}
	// prev close 9 <= SMA3(10,10,9)=9.67, now close 12 > SMA3(10,9,12)=10.33
	if !r.Evaluate(closes(10, 10, 9, 12), model.Params{}).Fired {
		t.Error("expected close to cross above SMA3")
	}
}

func TestInsufficientHistory_NotAnError(t *testing.T) {
	rules := []Rule{
		NewCrossover("e", AvgEMA, 9, 20, Up),
		NewCrossover("s", AvgSMA, 1, 20, Up),
		NewOpeningRange("o", Up, open, time.Hour, 20),
		NewCloseVsSMA("c", Up, 50, 20),
		NewInsideBar("i"),
		NewFirstRedOpen("f", open, 5*time.Minute, model.MustTimeOfDay("10:00")),
	}
	s := closes(10)
	for _, r := range rules {
		if out := r.Evaluate(s, model.Params{}); out.Fired {
			t.Errorf("%s: expected not fired on one bar", r.Name())
		}
	}
}

// ────────────────────────────────────────────────────────────
// Opening range
// ────────────────────────────────────────────────────────────

// orbSeries is 09:30..10:30 with high 100, close 99 and volume 1000, then a
// 10:31 bar closing at 100.5 with the given volume.
func orbSeries(lastVolume int64) *series.Series {
	var bars []model.Bar
	for ts := at(9, 30); !ts.After(at(10, 30)); ts = ts.Add(time.Minute) {
		bars = append(bars, model.Bar{TS: ts, Open: 99, High: 100, Low: 98, Close: 99, Volume: 1000})
	}
	bars = append(bars, model.Bar{TS: at(10, 31), Open: 99.5, High: 100.6, Low: 99.4, Close: 100.5, Volume: lastVolume})
	return series.New("SPY", bars, ny)
}

func TestOpeningRangeBreakout_Volume(t *testing.T) {
	r := NewOpeningRange("orb", Up, open, time.Hour, 20)

	// mean including the last bar: (19*1000+1500)/20 = 1025
	out := r.Evaluate(orbSeries(1500), model.Params{})
	if !out.Fired {
		t.Fatal("expected breakout with volume 1500")
	}
	if out.Evidence.Price != 100.5 || !out.Evidence.At.Equal(at(10, 31)) {
		t.Errorf("unexpected evidence %+v", out.Evidence)
	}
	if !strings.Contains(out.Evidence.Rationale, "100.00") {
		t.Errorf("rationale should mention the range high: %s", out.Evidence.Rationale)
	}

	// (19*1000+900)/20 = 995 > 900
	if r.Evaluate(orbSeries(900), model.Params{}).Fired {
		t.Error("expected no breakout with volume 900")
	}
}

func TestOpeningRange_EmptyWindow(t *testing.T) {
	var bars []model.Bar
	for i := 0; i < 25; i++ {
		bars = append(bars, model.Bar{TS: at(11, i), Close: 200, High: 200, Low: 200, Open: 200, Volume: 5000})
	}
	r := NewOpeningRange("orb", Up, open, time.Hour, 20)
	if r.Evaluate(series.New("SPY", bars, ny), model.Params{}).Fired {
		t.Error("expected not fired without opening-window bars")
	}
}

func TestOpeningRangeBreakdown(t *testing.T) {
	var bars []model.Bar
	for ts := at(9, 30); !ts.After(at(10, 30)); ts = ts.Add(time.Minute) {
		bars = append(bars, model.Bar{TS: ts, Open: 99, High: 100, Low: 98, Close: 99, Volume: 1000})
	}
	bars = append(bars, model.Bar{TS: at(10, 31), Open: 98.5, High: 98.6, Low: 97, Close: 97.5, Volume: 3000})
	r := NewOpeningRange("orbd", Down, open, time.Hour, 20)
	if !r.Evaluate(series.New("SPY", bars, ny), model.Params{}).Fired {
		t.Error("expected breakdown below 98")
	}
}

// ────────────────────────────────────────────────────────────
// Daily rules
// ────────────────────────────────────────────────────────────

func daily(bars ...model.Bar) *series.Series {
	for i := range bars {
		bars[i].TS = time.Date(2026, 5, 1+i, 16, 0, 0, 0, ny)
	}
	return series.New("QQQ", bars, ny)
}

func TestCloseVsSMA(t *testing.T) {
	above := NewCloseVsSMA("close_above_sma_volume", Up, 3, 3)
	s := daily(
		model.Bar{Close: 10, Volume: 100},
		model.Bar{Close: 10, Volume: 100},
		model.Bar{Close: 13, Volume: 400},
	)
	// SMA3 = 11, close 13 above; vol mean 200, 400 above
	if !above.Evaluate(s, model.Params{}).Fired {
		t.Error("expected close above SMA with volume")
	}

	quiet := daily(
		model.Bar{Close: 10, Volume: 100},
		model.Bar{Close: 10, Volume: 100},
		model.Bar{Close: 13, Volume: 100},
	)
	if above.Evaluate(quiet, model.Params{}).Fired {
		t.Error("expected volume filter to block")
	}

	below := NewCloseVsSMA("close_below_sma", Down, 3, 0)
	if below.Evaluate(s, model.Params{}).Fired {
		t.Error("close is above SMA")
	}
	if !below.Evaluate(daily(model.Bar{Close: 10}, model.Bar{Close: 10}, model.Bar{Close: 7}), model.Params{}).Fired {
		t.Error("expected close below SMA")
	}
}

func TestInsideBar(t *testing.T) {
	r := NewInsideBar("inside_day")
	in := daily(model.Bar{High: 10, Low: 5}, model.Bar{High: 9, Low: 6})
	if !r.Evaluate(in, model.Params{}).Fired {
		t.Error("expected inside day")
	}
	touch := daily(model.Bar{High: 10, Low: 5}, model.Bar{High: 10, Low: 6})
	if r.Evaluate(touch, model.Params{}).Fired {
		t.Error("equal high is not inside")
	}
}

// ────────────────────────────────────────────────────────────
// First red open
// ────────────────────────────────────────────────────────────

func firstRedSeries(confirmRed bool) *series.Series {
	var bars []model.Bar
	price := 440.0
	for ts := at(9, 30); !ts.After(at(10, 5)); ts = ts.Add(time.Minute) {
		b := model.Bar{TS: ts, Open: price, High: price + 0.2, Low: price - 0.6, Close: price - 0.5, Volume: 10000}
		if ts.Equal(at(10, 0)) && !confirmRed {
			b.Close = price + 0.5
		}
		bars = append(bars, b)
		price = b.Close
	}
	return series.New("SPY", bars, ny)
}

func TestFirstRedOpen(t *testing.T) {
	r := NewFirstRedOpen("first_red_open", open, 5*time.Minute, model.MustTimeOfDay("10:00"))
	p := model.Params{MinVolume: 100000, StrikeDistance: 10, OptionPriceMin: 0.25, OptionPriceMax: 0.30}

	out := r.Evaluate(firstRedSeries(true), p)
	if !out.Fired {
		t.Fatal("expected first red open to fire")
	}
	// 36 bars each down 0.5 from 440 → last close 422.00, strike 412
	if !strings.Contains(out.Evidence.Rationale, "put strike 412") {
		t.Errorf("unexpected rationale: %s", out.Evidence.Rationale)
	}
	if !strings.Contains(out.Evidence.Rationale, "0.25-0.30") {
		t.Errorf("expected premium range in rationale: %s", out.Evidence.Rationale)
	}

	if r.Evaluate(firstRedSeries(false), p).Fired {
		t.Error("expected no fire when the 10:00 candle is green")
	}
	if r.Evaluate(firstRedSeries(true), model.Params{MinVolume: 10_000_000}).Fired {
		t.Error("expected volume floor to block")
	}
}

func TestFirstRedOpen_IgnoresBarsAfterConfirmWindow(t *testing.T) {
	r := NewFirstRedOpen("first_red_open", open, 5*time.Minute, model.MustTimeOfDay("10:00"))

	var bars []model.Bar
	price := 440.0
	for ts := at(9, 30); !ts.After(at(14, 0)); ts = ts.Add(time.Minute) {
		bars = append(bars, model.Bar{TS: ts, Open: price, High: price + 0.1, Low: price - 0.2, Close: price - 0.01, Volume: 1000})
		price -= 0.01
	}
	day := series.New("SPY", bars, ny)

	// 36 bars through 10:05 is 36000 shares; the whole day is 271000
	if r.Evaluate(day, model.Params{MinVolume: 100000}).Fired {
		t.Error("expected afternoon volume not to satisfy the morning floor")
	}

	out := r.Evaluate(day, model.Params{MinVolume: 30000, StrikeDistance: 10})
	if !out.Fired {
		t.Fatal("expected fire on morning volume")
	}
	if !out.Evidence.At.Equal(at(10, 5)) {
		t.Errorf("expected trigger at 10:05, got %v", out.Evidence.At)
	}
	// close at 10:05 is 440 - 36*0.01 = 439.64
	if !strings.Contains(out.Evidence.Rationale, "put strike 430") {
		t.Errorf("expected strike off the 10:05 close, got %s", out.Evidence.Rationale)
	}
}

// ────────────────────────────────────────────────────────────
// Sets
// ────────────────────────────────────────────────────────────

type stubRule struct {
	name  string
	fire  bool
	calls *int
}

func (s stubRule) Name() string { return s.name }
func (s stubRule) MinBars() int { return 1 }
func (s stubRule) Evaluate(*series.Series, model.Params) Outcome {
	if s.calls != nil {
		*s.calls++
	}
	if s.fire {
		return Fire(1, time.Time{}, s.name)
	}
	return NotFired()
}

func TestSet_FirstMatchStops(t *testing.T) {
	var calls int
	set, err := NewSet(FirstMatch,
		stubRule{name: "a", fire: false, calls: &calls},
		stubRule{name: "b", fire: true, calls: &calls},
		stubRule{name: "c", fire: true, calls: &calls},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fired, err := set.Evaluate(closes(1), model.Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fired) != 1 || fired[0].Rule != "b" {
		t.Errorf("expected only b, got %+v", fired)
	}
	if calls != 2 {
		t.Errorf("expected evaluation to stop after b, got %d calls", calls)
	}
}

func TestSet_AllMatches(t *testing.T) {
	set, _ := NewSet(AllMatches,
		stubRule{name: "a", fire: true},
		stubRule{name: "b", fire: false},
		stubRule{name: "c", fire: true},
	)
	fired, _ := set.Evaluate(closes(1), model.Params{})
	if len(fired) != 2 || fired[0].Rule != "a" || fired[1].Rule != "c" {
		t.Errorf("expected a and c in order, got %+v", fired)
	}
}

func TestSet_Validation(t *testing.T) {
	if _, err := NewSet("", stubRule{name: "a"}); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("expected ErrUnknownMode, got %v", err)
	}
	if _, err := NewSet(AllMatches, stubRule{name: "a"}, stubRule{name: "a"}); !errors.Is(err, ErrDuplicateRule) {
		t.Errorf("expected ErrDuplicateRule, got %v", err)
	}
}

func TestSet_EmptySeries(t *testing.T) {
	set, _ := NewSet(AllMatches, stubRule{name: "a", fire: true})
	if _, err := set.Evaluate(series.New("XYZ", nil, ny), model.Params{}); !errors.Is(err, series.ErrEmptySeries) {
		t.Errorf("expected ErrEmptySeries, got %v", err)
	}
}

func TestSet_SkipsRulesAboveMinBars(t *testing.T) {
	set, _ := NewSet(AllMatches, NewCrossover("slow", AvgSMA, 1, 50, Up), stubRule{name: "b", fire: true})
	fired, err := set.Evaluate(closes(1, 2, 3), model.Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fired) != 1 || fired[0].Rule != "b" {
		t.Errorf("expected only b, got %+v", fired)
	}
}

func TestSet_Deterministic(t *testing.T) {
	set, _ := NewSet(AllMatches, NewOpeningRange("orb", Up, open, time.Hour, 20), NewCrossover("ema", AvgEMA, 9, 20, Up))
	s := orbSeries(1500)
	first, _ := set.Evaluate(s, model.Params{})
	for i := 0; i < 5; i++ {
		again, _ := set.Evaluate(s, model.Params{})
		if len(again) != len(first) {
			t.Fatalf("run %d: expected %d fired, got %d", i, len(first), len(again))
		}
		for j := range again {
			if again[j].Rule != first[j].Rule || *again[j].Outcome.Evidence != *first[j].Outcome.Evidence {
				t.Errorf("run %d: outcome %d differs", i, j)
			}
		}
	}
}
