// cmd/scanner polls bars for the configured profile, alerts at most once per
// (instrument, rule) per session, and serves the API, metrics and stream.
//
// Usage:
//
//	go run ./cmd/scanner            # loop every SCAN_INTERVAL_SEC
//	go run ./cmd/scanner --once     # single tick, for cron
//	go run ./cmd/scanner --issue-token ops --token-ttl 720h
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"equity-alerts/config"
	"equity-alerts/internal/app"
	"equity-alerts/internal/logger"
	"equity-alerts/internal/metrics"
	"equity-alerts/internal/scanner"
)

func main() {
	once := flag.Bool("once", false, "Run a single tick and exit")
	profile := flag.String("profile", "", "Profile to scan (overrides PROFILE)")
	subject := flag.String("issue-token", "", "Print an API bearer token for this subject and exit")
	ttl := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of the token printed by --issue-token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Init("scanner", slog.LevelInfo)
		fatal("config", err)
	}
	if *profile != "" {
		cfg.Profile = *profile
	}
	logger.Init("scanner", logger.ParseLevel(cfg.LogLevel))

	if *subject != "" {
		if err := issueToken(os.Stdout, cfg.APIJWTSecret, *subject, *ttl); err != nil {
			fatal("issue-token", err)
		}
		return
	}
	slog.Info("starting", "profile", cfg.Profile, "source", cfg.DataSource, "ledger", cfg.LedgerBackend, "notifiers", cfg.Notifiers)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		fatal("init", err)
	}
	defer a.Close()

	sc, err := a.Scanner()
	if err != nil {
		fatal("scanner", err)
	}
	runner := &scanner.Runner{
		Scanner:    sc,
		Dispatcher: a.Dispatcher(),
		Interval:   cfg.ScanInterval,
		OnTick:     a.OnTick,
	}
	slog.Info("market", "status", a.Calendar.StatusString(time.Now()), "instruments", len(a.Universe))

	if *once {
		rep, err := runner.RunOnce(ctx)
		if err != nil {
			fatal("tick", err)
		}
		slog.Info("tick complete", "session", rep.Session.String(), "alerts", len(rep.Alerts),
			"skipped", len(rep.Skipped), "failed", len(rep.Failed), "gated", rep.Gated)
		return
	}

	router, err := a.Router()
	if err != nil {
		fatal("router", err)
	}
	srv := metrics.NewServer(cfg.HTTPAddr, router)
	srv.Start()
	a.Health.StartLivenessChecker(ctx, 10*time.Second, a.Probe)

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("scanner loop", "error", err)
	}

	slog.Info("shutdown signal received, cleaning up...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	srv.Stop(shutdownCtx)
}

func fatal(stage string, err error) {
	slog.Error("fatal", "stage", stage, "error", err)
	os.Exit(1)
}
