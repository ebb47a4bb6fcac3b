package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"equity-alerts/internal/datasource"
	"equity-alerts/internal/ledger"
	"equity-alerts/internal/markethours"
	"equity-alerts/internal/model"
	"equity-alerts/internal/rule"
	"equity-alerts/internal/series"
)

// alwaysRule fires at the last bar of any non-empty series.
type alwaysRule struct{ name string }

func (r alwaysRule) Name() string { return r.name }
func (r alwaysRule) MinBars() int { return 1 }
func (r alwaysRule) Evaluate(s *series.Series, _ model.Params) rule.Outcome {
	b, _ := s.Last()
	return rule.Fire(b.Close, b.TS, "always")
}

type fakeSource struct {
	mu      sync.Mutex
	series  map[string]*series.Series
	errs    map[string]error
	calls   int
	block   chan struct{}
	started chan struct{}
	once    sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{series: map[string]*series.Series{}, errs: map[string]error{}}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) FetchBars(ctx context.Context, symbol string, _ datasource.Interval, _ datasource.Range) (*series.Series, error) {
	f.mu.Lock()
	f.calls++
	ser, err := f.series[symbol], f.errs[symbol]
	f.mu.Unlock()

	if f.block != nil {
		f.once.Do(func() { close(f.started) })
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if ser == nil {
		return nil, datasource.ErrNoData
	}
	return ser, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var ny = markethours.NYSE()

// monday10 is 10:00 New York on Monday 2026-03-02.
var monday10 = time.Date(2026, 3, 2, 10, 0, 0, 0, ny.Location())

func bars(symbol string, end time.Time, n int) *series.Series {
	out := make([]model.Bar, n)
	for i := range out {
		px := 100 + float64(i)
		out[i] = model.Bar{
			TS:     end.Add(-time.Duration(n-1-i) * time.Minute),
			Open:   px - 0.5,
			High:   px + 1,
			Low:    px - 1,
			Close:  px,
			Volume: 1000,
		}
	}
	return series.New(symbol, out, ny.Location())
}

func universe(symbols ...string) []model.Instrument {
	out := make([]model.Instrument, len(symbols))
	for i, s := range symbols {
		out[i] = model.Instrument{Symbol: s}
	}
	return out
}

func newScanner(t *testing.T, src datasource.Source, store ledger.Store, mode rule.Mode, gate bool, symbols ...string) *Scanner {
	t.Helper()
	set, err := rule.NewSet(mode, alwaysRule{"breakout"}, alwaysRule{"volume_spike"})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	n := 0
	sc, err := New(Config{
		Profile: Profile{
			Name:            "intraday",
			Interval:        datasource.OneMinute,
			Range:           datasource.OneDayRange,
			Rules:           set,
			GateMarketHours: gate,
			Delivery:        PerAlert,
		},
		Universe:    universe(symbols...),
		Calendar:    ny,
		Concurrency: 2,
	}, src, store, WithIDs(func() string { n++; return fmt.Sprintf("id-%d", n) }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sc
}

func TestTick_NoRepeatWithinSession(t *testing.T) {
	src := newFakeSource()
	src.series["AAPL"] = bars("AAPL", monday10, 30)
	store := ledger.NewMemory()
	sc := newScanner(t, src, store, rule.FirstMatch, true, "AAPL")
	ctx := context.Background()

	rep, err := sc.Tick(ctx, monday10)
	if err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if len(rep.Alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(rep.Alerts))
	}
	a := rep.Alerts[0]
	if a.Instrument != "AAPL" || a.Rule != "breakout" || a.Session != "2026-03-02" || a.ID != "id-1" {
		t.Errorf("unexpected alert %+v", a)
	}
	if a.Evidence == nil || a.Evidence.Price != 129 {
		t.Errorf("expected evidence at last close 129, got %+v", a.Evidence)
	}
	if rep.Series["AAPL"] == nil {
		t.Error("expected evaluated series to be attached")
	}

	rep, err = sc.Tick(ctx, monday10.Add(time.Minute))
	if err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if len(rep.Alerts) != 0 {
		t.Errorf("expected no repeat within the session, got %d alerts", len(rep.Alerts))
	}

	logged, _ := store.SessionAlerts(ctx, "2026-03-02")
	if len(logged) != 1 {
		t.Errorf("expected 1 logged alert, got %d", len(logged))
	}
}

func TestTick_SessionReset(t *testing.T) {
	src := newFakeSource()
	src.series["MSFT"] = bars("MSFT", monday10, 30)
	sc := newScanner(t, src, ledger.NewMemory(), rule.FirstMatch, true, "MSFT")
	ctx := context.Background()

	if rep, _ := sc.Tick(ctx, monday10); len(rep.Alerts) != 1 || !rep.Reset {
		t.Fatalf("expected first tick to reset and alert, got %+v", rep)
	}

	tuesday := monday10.AddDate(0, 0, 1)
	src.series["MSFT"] = bars("MSFT", tuesday, 30)
	rep, err := sc.Tick(ctx, tuesday)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !rep.Reset {
		t.Error("expected session reset on the next trading day")
	}
	if len(rep.Alerts) != 1 || rep.Alerts[0].Session != "2026-03-03" {
		t.Errorf("expected one alert for 2026-03-03, got %+v", rep.Alerts)
	}
}

func TestTick_NoDataSymbol(t *testing.T) {
	src := newFakeSource()
	src.series["EMPTY"] = series.New("EMPTY", nil, ny.Location())
	sc := newScanner(t, src, ledger.NewMemory(), rule.AllMatches, true, "XYZ", "EMPTY")

	rep, err := sc.Tick(context.Background(), monday10)
	if err != nil {
		t.Fatalf("expected no error for missing data, got %v", err)
	}
	if len(rep.Alerts) != 0 {
		t.Errorf("expected zero alerts, got %d", len(rep.Alerts))
	}
	if len(rep.Skipped) != 2 || rep.Skipped[0] != "XYZ" || rep.Skipped[1] != "EMPTY" {
		t.Errorf("expected XYZ and EMPTY skipped, got %v", rep.Skipped)
	}
	if len(rep.Failed) != 0 {
		t.Errorf("expected no failures, got %v", rep.Failed)
	}
}

func TestTick_OneFailingSourceIsolated(t *testing.T) {
	symbols := []string{"AAPL", "MSFT", "NVDA", "TSLA", "AMZN"}
	src := newFakeSource()
	for _, s := range symbols {
		src.series[s] = bars(s, monday10, 30)
	}
	src.errs["NVDA"] = errors.New("upstream 503")
	sc := newScanner(t, src, ledger.NewMemory(), rule.FirstMatch, true, symbols...)

	rep, err := sc.Tick(context.Background(), monday10)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(rep.Alerts) != 4 {
		t.Fatalf("expected 4 alerts, got %d", len(rep.Alerts))
	}
	want := []string{"AAPL", "MSFT", "TSLA", "AMZN"}
	for i, a := range rep.Alerts {
		if a.Instrument != want[i] {
			t.Errorf("alert %d: expected %s, got %s", i, want[i], a.Instrument)
		}
	}
	if len(rep.Failed) != 1 || rep.Failed[0].Instrument != "NVDA" {
		t.Errorf("expected NVDA to fail, got %v", rep.Failed)
	}
}

func TestTick_GatedOutsideMarketHours(t *testing.T) {
	src := newFakeSource()
	src.series["AAPL"] = bars("AAPL", monday10, 30)
	store := ledger.NewMemory()
	sc := newScanner(t, src, store, rule.FirstMatch, true, "AAPL")

	early := time.Date(2026, 3, 2, 8, 0, 0, 0, ny.Location())
	rep, err := sc.Tick(context.Background(), early)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !rep.Gated || len(rep.Alerts) != 0 {
		t.Errorf("expected gated tick without alerts, got %+v", rep)
	}
	if src.callCount() != 0 {
		t.Errorf("expected no fetches while gated, got %d", src.callCount())
	}
	if store.Session() != "2026-03-02" {
		t.Errorf("expected ledger to adopt the session before gating, got %q", store.Session())
	}

	// Ungated profiles scan at any hour.
	sc = newScanner(t, src, ledger.NewMemory(), rule.FirstMatch, false, "AAPL")
	if rep, _ := sc.Tick(context.Background(), early); rep.Gated || len(rep.Alerts) != 1 {
		t.Errorf("expected ungated tick to alert, got %+v", rep)
	}
}

func TestTick_HolidayIsGated(t *testing.T) {
	src := newFakeSource()
	sc := newScanner(t, src, ledger.NewMemory(), rule.FirstMatch, true, "AAPL")
	goodFriday := time.Date(2026, 4, 3, 11, 0, 0, 0, ny.Location())
	if rep, _ := sc.Tick(context.Background(), goodFriday); !rep.Gated {
		t.Error("expected holiday tick to be gated")
	}
}

func TestTick_FirstMatchVersusAllMatches(t *testing.T) {
	src := newFakeSource()
	src.series["AAPL"] = bars("AAPL", monday10, 30)

	first := newScanner(t, src, ledger.NewMemory(), rule.FirstMatch, true, "AAPL")
	rep, _ := first.Tick(context.Background(), monday10)
	if len(rep.Alerts) != 1 || rep.Alerts[0].Rule != "breakout" {
		t.Errorf("first_match: expected only breakout, got %+v", rep.Alerts)
	}

	all := newScanner(t, src, ledger.NewMemory(), rule.AllMatches, true, "AAPL")
	rep, _ = all.Tick(context.Background(), monday10)
	if len(rep.Alerts) != 2 || rep.Alerts[0].Rule != "breakout" || rep.Alerts[1].Rule != "volume_spike" {
		t.Errorf("all_matches: expected breakout then volume_spike, got %+v", rep.Alerts)
	}
}

func TestTick_MinBarsSkips(t *testing.T) {
	src := newFakeSource()
	src.series["AAPL"] = bars("AAPL", monday10, 5)
	sc := newScanner(t, src, ledger.NewMemory(), rule.FirstMatch, true, "AAPL")
	sc.cfg.Profile.MinBars = 10

	rep, err := sc.Tick(context.Background(), monday10)
	if err != nil {
		t.Fatalf("expected short history not to be an error, got %v", err)
	}
	if len(rep.Alerts) != 0 || len(rep.Skipped) != 1 {
		t.Errorf("expected AAPL skipped for short history, got %+v", rep)
	}
}

func TestTick_OverlappingTickRejected(t *testing.T) {
	src := newFakeSource()
	src.series["AAPL"] = bars("AAPL", monday10, 30)
	src.block = make(chan struct{})
	src.started = make(chan struct{})
	sc := newScanner(t, src, ledger.NewMemory(), rule.FirstMatch, true, "AAPL")

	done := make(chan error, 1)
	go func() {
		_, err := sc.Tick(context.Background(), monday10)
		done <- err
	}()
	<-src.started

	if _, err := sc.Tick(context.Background(), monday10); !errors.Is(err, ErrTickInProgress) {
		t.Errorf("expected ErrTickInProgress, got %v", err)
	}
	close(src.block)
	if err := <-done; err != nil {
		t.Errorf("first tick: %v", err)
	}
}

func TestTick_Deterministic(t *testing.T) {
	symbols := []string{"AAPL", "MSFT", "NVDA"}
	run := func() []string {
		src := newFakeSource()
		for _, s := range symbols {
			src.series[s] = bars(s, monday10, 30)
		}
		sc := newScanner(t, src, ledger.NewMemory(), rule.AllMatches, true, symbols...)
		rep, _ := sc.Tick(context.Background(), monday10)
		var keys []string
		for _, a := range rep.Alerts {
			keys = append(keys, a.Key())
		}
		return keys
	}
	a, b := run(), run()
	if fmt.Sprint(a) != fmt.Sprint(b) {
		t.Errorf("expected identical results, got %v and %v", a, b)
	}
}

// failingLedger fails RecordAlerted for one instrument.
type failingLedger struct {
	*ledger.Memory
	failFor string
}

func (f *failingLedger) RecordAlerted(ctx context.Context, instrument, rule string, session model.SessionDate) error {
	if instrument == f.failFor {
		return errors.New("disk full")
	}
	return f.Memory.RecordAlerted(ctx, instrument, rule, session)
}

func TestTick_LedgerWriteFailureSuppressesAlert(t *testing.T) {
	src := newFakeSource()
	src.series["AAPL"] = bars("AAPL", monday10, 30)
	src.series["MSFT"] = bars("MSFT", monday10, 30)
	sc := newScanner(t, src, &failingLedger{Memory: ledger.NewMemory(), failFor: "AAPL"}, rule.FirstMatch, true, "AAPL", "MSFT")

	rep, err := sc.Tick(context.Background(), monday10)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(rep.Alerts) != 1 || rep.Alerts[0].Instrument != "MSFT" {
		t.Errorf("expected only MSFT to alert, got %+v", rep.Alerts)
	}
	if len(rep.Failed) != 1 || rep.Failed[0].Instrument != "AAPL" {
		t.Errorf("expected AAPL failure, got %v", rep.Failed)
	}
}

func TestNew_Validation(t *testing.T) {
	src := newFakeSource()
	if _, err := New(Config{Calendar: ny}, src, ledger.NewMemory()); err == nil {
		t.Error("expected error for profile without rules")
	}
	set, _ := rule.NewSet(rule.FirstMatch, alwaysRule{"x"})
	if _, err := New(Config{Profile: Profile{Rules: set}}, src, ledger.NewMemory()); err == nil {
		t.Error("expected error for missing calendar")
	}
}
