package scanner

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// TickHook observes every finished tick, for health and live streams.
type TickHook func(rep *TickReport, err error)

// Runner drives a Scanner on a fixed interval and delivers what it finds.
type Runner struct {
	Scanner    *Scanner
	Dispatcher *Dispatcher
	Interval   time.Duration
	OnTick     TickHook

	now func() time.Time
}

// RunOnce performs one tick plus delivery.
func (r *Runner) RunOnce(ctx context.Context) (*TickReport, error) {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	rep, err := r.Scanner.Tick(ctx, now())
	if r.OnTick != nil {
		r.OnTick(rep, err)
	}
	if err != nil {
		return nil, err
	}
	if derr := r.Dispatcher.Deliver(ctx, r.Scanner.Profile().Delivery, rep); derr != nil {
		slog.Warn("scanner: some deliveries failed", "profile", rep.Profile, "alerts", len(rep.Alerts))
	}
	return rep, nil
}

// Run ticks immediately and then every Interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	slog.Info("scanner: loop started", "profile", r.Scanner.Profile().Name, "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, ErrTickInProgress) {
				slog.Error("scanner: tick failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			slog.Info("scanner: loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
