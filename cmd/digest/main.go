// cmd/digest sends the end-of-session summary of every alert the ledger
// holds for a session, and can export those alerts to Parquet.
//
// Usage:
//
//	go run ./cmd/digest                       # today's session
//	go run ./cmd/digest --date=2026-03-02 --export=data/exports
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"equity-alerts/config"
	"equity-alerts/internal/app"
	"equity-alerts/internal/archive"
	"equity-alerts/internal/logger"
	"equity-alerts/internal/model"
	"equity-alerts/internal/notification"
)

func main() {
	date := flag.String("date", "", "Session date YYYY-MM-DD (default: current session)")
	export := flag.String("export", "", "Directory to write alerts_{date}.parquet into")
	dryRun := flag.Bool("dry-run", false, "Log the summary instead of sending it")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Init("digest", slog.LevelInfo)
		fatal("config", err)
	}
	logger.Init("digest", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		fatal("init", err)
	}
	defer a.Close()

	session := a.Calendar.SessionDate(time.Now())
	if *date != "" {
		if session, err = model.ParseSessionDate(*date); err != nil {
			fatal("date", err)
		}
	}

	alerts, err := a.Store.SessionAlerts(ctx, session)
	if err != nil {
		fatal("ledger", err)
	}
	msg := notification.DigestMessage(session, alerts, a.Calendar.Location())
	slog.Info("digest", "session", session.String(), "alerts", len(alerts))

	if *dryRun {
		notification.NewLogNotifier().Send(ctx, msg)
	} else if err := a.Dispatcher().Send(ctx, msg); err != nil {
		slog.Warn("digest delivery failed", "error", err)
	}

	if *export != "" {
		path, n, err := archive.ExportSession(ctx, a.Store, session, *export)
		if err != nil {
			fatal("export", err)
		}
		slog.Info("exported", "path", path, "alerts", n)
	}
}

func fatal(stage string, err error) {
	slog.Error("fatal", "stage", stage, "error", err)
	os.Exit(1)
}
