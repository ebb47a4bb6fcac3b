// Package scanner runs one profile over a universe: each tick fetches bars,
// evaluates the profile's rule set per instrument and filters what fired
// through the session dedup ledger, so an (instrument, rule) pair alerts at
// most once per trading session.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"equity-alerts/internal/datasource"
	"equity-alerts/internal/ledger"
	"equity-alerts/internal/logger"
	"equity-alerts/internal/markethours"
	"equity-alerts/internal/metrics"
	"equity-alerts/internal/model"
	"equity-alerts/internal/series"
)

// ErrTickInProgress is returned when Tick is called while another tick of
// the same Scanner is still running.
var ErrTickInProgress = errors.New("scanner: tick in progress")

const (
	defaultFetchTimeout = 15 * time.Second
	defaultConcurrency  = 4
)

// Config describes what a Scanner scans.
type Config struct {
	Profile  Profile
	Universe []model.Instrument
	Calendar *markethours.Calendar

	// FetchTimeout bounds each bar fetch. Zero means 15s.
	FetchTimeout time.Duration
	// Concurrency bounds in-flight fetches. Zero means 4.
	Concurrency int
}

// Failure is an instrument that could not be evaluated this tick.
type Failure struct {
	Instrument string
	Err        error
}

// TickReport is the outcome of one tick.
type TickReport struct {
	Profile string
	Session model.SessionDate
	At      time.Time

	// Gated is set when the tick ran outside market hours and did nothing
	// beyond the session reset.
	Gated bool
	Reset bool

	// Alerts are the new alerts in universe order, already recorded in the ledger.
	Alerts []model.Alert
	// Skipped instruments had no data or too little history.
	Skipped []string
	Failed  []Failure

	// Series holds the evaluated series of every instrument that alerted.
	Series map[string]*series.Series
}

// Scanner evaluates one profile against a universe.
type Scanner struct {
	cfg   Config
	src   datasource.Source
	store ledger.Store
	prom  *metrics.Metrics
	newID func() string

	mu sync.Mutex
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithMetrics records tick metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) { s.prom = m }
}

// WithIDs replaces the alert ID generator.
func WithIDs(fn func() string) Option {
	return func(s *Scanner) { s.newID = fn }
}

// New creates a Scanner.
func New(cfg Config, src datasource.Source, store ledger.Store, opts ...Option) (*Scanner, error) {
	if cfg.Profile.Rules == nil || cfg.Profile.Rules.Len() == 0 {
		return nil, fmt.Errorf("scanner: profile %q has no rules", cfg.Profile.Name)
	}
	if cfg.Calendar == nil {
		return nil, errors.New("scanner: calendar is required")
	}
	if src == nil || store == nil {
		return nil, errors.New("scanner: source and ledger store are required")
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	s := &Scanner{
		cfg:   cfg,
		src:   src,
		store: store,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	if s.prom == nil {
		s.prom = metrics.NewMetricsWith(prometheus.NewRegistry())
	}
	return s, nil
}

// Profile returns the scanned profile.
func (s *Scanner) Profile() Profile { return s.cfg.Profile }

// Universe returns the scanned instruments in declared order.
func (s *Scanner) Universe() []model.Instrument {
	return append([]model.Instrument(nil), s.cfg.Universe...)
}

// Calendar returns the exchange calendar.
func (s *Scanner) Calendar() *markethours.Calendar { return s.cfg.Calendar }

type fetched struct {
	ser *series.Series
	err error
}

// Tick runs one scan at now. It returns the new alerts, each already
// recorded in the ledger; the caller delivers them. Per-instrument problems
// are reported in the TickReport, not as an error. The error is non-nil only
// when the ledger cannot be reset, ctx ends, or another tick is running.
func (s *Scanner) Tick(ctx context.Context, now time.Time) (*TickReport, error) {
	if !s.mu.TryLock() {
		s.prom.TicksTotal.WithLabelValues(s.cfg.Profile.Name, "busy").Inc()
		return nil, ErrTickInProgress
	}
	defer s.mu.Unlock()

	start := time.Now()
	defer func() { s.prom.TickDuration.Observe(time.Since(start).Seconds()) }()

	p := s.cfg.Profile
	cal := s.cfg.Calendar
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(p.Name, now))
	session := cal.SessionDate(now)
	rep := &TickReport{Profile: p.Name, Session: session, At: now}

	reset, err := s.store.ResetIfNewSession(ctx, session)
	if err != nil {
		s.prom.LedgerErrors.Inc()
		s.prom.TicksTotal.WithLabelValues(p.Name, "error").Inc()
		return nil, fmt.Errorf("reset ledger for %s: %w", session, err)
	}
	if reset {
		rep.Reset = true
		s.prom.LedgerResets.Inc()
		slog.Info("scanner: new session", append(logger.LogWithTrace(ctx), "session", session.String())...)
	}

	open := cal.IsMarketOpen(now)
	if open {
		s.prom.MarketState.Set(1)
	} else {
		s.prom.MarketState.Set(0)
	}
	if p.GateMarketHours && !open {
		rep.Gated = true
		s.prom.TicksTotal.WithLabelValues(p.Name, "gated").Inc()
		slog.Debug("scanner: outside market hours", append(logger.LogWithTrace(ctx), "status", cal.StatusString(now))...)
		return rep, nil
	}

	results := s.fetchAll(ctx)
	if err := ctx.Err(); err != nil {
		s.prom.TicksTotal.WithLabelValues(p.Name, "error").Inc()
		return nil, err
	}

	for i, inst := range s.cfg.Universe {
		s.merge(ctx, rep, inst, results[i], now)
	}

	s.prom.TicksTotal.WithLabelValues(p.Name, "ok").Inc()
	slog.Info("scanner: tick done", append(logger.LogWithTrace(ctx),
		"profile", p.Name, "session", session.String(), "alerts", len(rep.Alerts),
		"skipped", len(rep.Skipped), "failed", len(rep.Failed))...)
	return rep, nil
}

// fetchAll fetches every instrument with bounded concurrency. Results are
// indexed like the universe.
func (s *Scanner) fetchAll(ctx context.Context) []fetched {
	results := make([]fetched, len(s.cfg.Universe))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, inst := range s.cfg.Universe {
		i, inst := i, inst
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
			defer cancel()
			t0 := time.Now()
			ser, err := s.src.FetchBars(fctx, inst.Symbol, s.cfg.Profile.Interval, s.cfg.Profile.Range)
			s.prom.FetchDuration.Observe(time.Since(t0).Seconds())
			results[i] = fetched{ser: ser, err: err}
			return nil
		})
	}
	g.Wait()
	return results
}

// merge evaluates one instrument and folds its new alerts into rep.
func (s *Scanner) merge(ctx context.Context, rep *TickReport, inst model.Instrument, res fetched, now time.Time) {
	p := s.cfg.Profile
	sym := inst.Key()
	log := append(logger.LogWithTrace(ctx), "instrument", sym)

	switch {
	case errors.Is(res.err, datasource.ErrNoData):
		rep.Skipped = append(rep.Skipped, sym)
		s.prom.InstrumentsSkipped.WithLabelValues("no_data").Inc()
		return
	case res.err != nil:
		s.fail(rep, sym, res.err, "fetch")
		s.prom.FetchFailures.WithLabelValues(s.src.Name()).Inc()
		slog.Warn("scanner: fetch failed", append(log, "error", res.err)...)
		return
	case res.ser == nil || res.ser.Empty():
		rep.Skipped = append(rep.Skipped, sym)
		s.prom.InstrumentsSkipped.WithLabelValues("empty").Inc()
		return
	case res.ser.Len() < p.MinBars:
		rep.Skipped = append(rep.Skipped, sym)
		s.prom.InstrumentsSkipped.WithLabelValues("short").Inc()
		return
	}

	fired, err := p.Rules.Evaluate(res.ser, inst.Params)
	if err != nil {
		s.fail(rep, sym, err, "evaluate")
		slog.Warn("scanner: evaluate failed", append(log, "error", err)...)
		return
	}

	for _, f := range fired {
		seen, err := s.store.HasAlerted(ctx, sym, f.Rule)
		if err != nil {
			s.prom.LedgerErrors.Inc()
			s.fail(rep, sym, fmt.Errorf("check ledger: %w", err), "ledger")
			slog.Warn("scanner: ledger check failed", append(log, "rule", f.Rule, "error", err)...)
			return
		}
		if seen {
			s.prom.SuppressedTotal.WithLabelValues(f.Rule).Inc()
			continue
		}

		a := model.Alert{
			ID:         s.newID(),
			Instrument: sym,
			Rule:       f.Rule,
			Profile:    p.Name,
			Session:    rep.Session,
			FiredAt:    now,
			Evidence:   f.Outcome.Evidence,
		}
		if err := s.store.RecordAlerted(ctx, sym, f.Rule, rep.Session); err != nil {
			s.prom.LedgerErrors.Inc()
			s.fail(rep, sym, fmt.Errorf("record ledger: %w", err), "ledger")
			slog.Warn("scanner: ledger record failed", append(log, "rule", f.Rule, "error", err)...)
			return
		}
		if err := s.store.AppendAlert(ctx, a); err != nil {
			s.prom.LedgerErrors.Inc()
			slog.Warn("scanner: alert log append failed", append(log, "rule", f.Rule, "error", err)...)
		}

		rep.Alerts = append(rep.Alerts, a)
		if rep.Series == nil {
			rep.Series = make(map[string]*series.Series)
		}
		rep.Series[sym] = res.ser
		s.prom.AlertsTotal.WithLabelValues(f.Rule).Inc()
		slog.Info("scanner: alert", append(log, "rule", f.Rule, "id", a.ID)...)
	}
}

func (s *Scanner) fail(rep *TickReport, sym string, err error, reason string) {
	rep.Failed = append(rep.Failed, Failure{Instrument: sym, Err: err})
	s.prom.InstrumentsSkipped.WithLabelValues(reason).Inc()
}
