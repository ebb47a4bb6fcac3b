package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"

	"equity-alerts/config"
	"equity-alerts/internal/datasource"
	"equity-alerts/internal/model"
	"equity-alerts/internal/notification"
	"equity-alerts/internal/series"
	sqlitestore "equity-alerts/internal/store/sqlite"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		RulesFile:       filepath.Join("..", "..", "config", "rules.yaml"),
		Profile:         "daily",
		DataSource:      "parquet",
		ParquetDir:      t.TempDir(),
		BreakerFailures: 5,
		BreakerReset:    time.Second,
		LedgerBackend:   "memory",
		Notifiers:       []string{"log"},
		FetchTimeout:    time.Second,
		DeliveryTimeout: time.Second,
		ScanInterval:    time.Minute,
		Concurrency:     2,
	}
}

func TestNew_WiresDailyProfile(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	if len(a.Universe) != 16 {
		t.Errorf("expected full universe, got %d", len(a.Universe))
	}
	if a.Profile.Interval != datasource.OneDay || a.Profile.Rules.Len() != 4 {
		t.Errorf("unexpected profile %+v", a.Profile)
	}
	if a.Source.Name() != "parquet" {
		t.Errorf("expected parquet source, got %s", a.Source.Name())
	}

	sc, err := a.Scanner()
	if err != nil {
		t.Fatalf("scanner: %v", err)
	}
	// No bar files recorded: every instrument is skipped, nothing fails.
	rep, err := sc.Tick(context.Background(), time.Date(2026, 3, 2, 16, 30, 0, 0, a.Calendar.Location()))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(rep.Alerts) != 0 || len(rep.Skipped) != 16 || len(rep.Failed) != 0 {
		t.Errorf("unexpected report: %d alerts, %d skipped, %d failed", len(rep.Alerts), len(rep.Skipped), len(rep.Failed))
	}
	a.OnTick(rep, nil)
	if a.Hub.Seq() != 1 {
		t.Errorf("expected tick published to stream, seq=%d", a.Hub.Seq())
	}
}

func TestNew_InsideDayAlertFromParquet(t *testing.T) {
	cfg := testConfig(t)

	loc, _ := time.LoadLocation("America/New_York")
	// 70 rising daily bars; the last one sits inside a wide previous bar.
	bars := make([]model.Bar, 70)
	start := time.Date(2025, 12, 21, 16, 0, 0, 0, loc)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = model.Bar{
			TS:     start.AddDate(0, 0, i),
			Open:   c - 0.5,
			High:   c + 1,
			Low:    c - 2,
			Close:  c,
			Volume: 1000,
		}
	}
	bars[68].High, bars[68].Low = 175, 160
	path := datasource.BarsPath(cfg.ParquetDir, "SPY", datasource.OneDay)
	if err := datasource.WriteBarsFile(path, series.New("SPY", bars, loc)); err != nil {
		t.Fatalf("write bars: %v", err)
	}

	a, err := New(context.Background(), cfg, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()
	sc, _ := a.Scanner()
	rep, err := sc.Tick(context.Background(), time.Date(2026, 3, 2, 16, 30, 0, 0, loc))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(rep.Alerts) != 1 || rep.Alerts[0].Instrument != "SPY" || rep.Alerts[0].Rule != "inside_day" {
		t.Fatalf("expected SPY inside_day, got %+v", rep.Alerts)
	}
	if err := a.Dispatcher().Deliver(context.Background(), a.Profile.Delivery, rep); err != nil {
		t.Errorf("deliver: %v", err)
	}
}

func TestNew_UnknownProfile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Profile = "weekly"
	_, err := New(context.Background(), cfg, prometheus.NewRegistry())
	var ce *config.ConfigError
	if !errors.As(err, &ce) {
		t.Errorf("expected ConfigError, got %v", err)
	}
}

func TestBuildStore_SQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.LedgerBackend = "sqlite"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "ledger.db")

	s, probe, err := BuildStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*sqlitestore.Store); !ok {
		t.Errorf("expected sqlite store, got %T", s)
	}
	if probe == nil {
		t.Error("expected a liveness probe")
	}
}

func TestBuildNotifier(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notifiers = []string{"log", "fax"}
	if _, err := BuildNotifier(cfg); err == nil {
		t.Error("expected error for unknown notifier")
	}
	cfg.Notifiers = nil
	n, err := BuildNotifier(cfg)
	if err != nil || n == nil {
		t.Errorf("expected log fallback, got %v", err)
	}
}

func TestBuildNotifier_RedisPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Notifiers = []string{"redis"}
	cfg.RedisAddr = mr.Addr()
	cfg.RedisPrefix = "t"

	n, err := BuildNotifier(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer n.(io.Closer).Close()

	a := model.Alert{ID: "a1", Instrument: "SPY", Rule: "inside_day", Session: "2026-03-02"}
	if err := n.Send(context.Background(), notification.Message{Title: "x", Alerts: []model.Alert{a}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !mr.Exists("t:latest:SPY:inside_day") {
		t.Error("expected latest key for SPY inside_day")
	}

	cfg.RedisAddr = "127.0.0.1:1"
	if _, err := BuildNotifier(cfg); err == nil {
		t.Error("expected error when redis is unreachable")
	}
}

func TestRouter_HealthAndProfile(t *testing.T) {
	cfg := testConfig(t)
	cfg.APIJWTSecret = "s3cret"
	a, err := New(context.Background(), cfg, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()
	h, err := a.Router()
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var health map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&health)
	if health["ledger_backend"] != "memory" {
		t.Errorf("unexpected health %v", health)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected protected profile endpoint, got %d", rec.Code)
	}
}
