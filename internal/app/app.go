// Package app assembles the scanner process from configuration: data
// source, ledger backend, notifiers, metrics and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"equity-alerts/config"
	"equity-alerts/internal/api"
	"equity-alerts/internal/chart"
	"equity-alerts/internal/datasource"
	"equity-alerts/internal/gateway"
	"equity-alerts/internal/ledger"
	"equity-alerts/internal/markethours"
	"equity-alerts/internal/metrics"
	"equity-alerts/internal/model"
	"equity-alerts/internal/notification"
	"equity-alerts/internal/rule"
	"equity-alerts/internal/scanner"
	pgstore "equity-alerts/internal/store/postgres"
	redisstore "equity-alerts/internal/store/redis"
	sqlitestore "equity-alerts/internal/store/sqlite"
)

// Probe checks ledger liveness for /healthz.
type Probe func(ctx context.Context, h *metrics.HealthStatus)

// App is a wired scanner process.
type App struct {
	Cfg      *config.Config
	Rules    *rule.File
	Calendar *markethours.Calendar
	Profile  scanner.Profile
	Universe []model.Instrument

	Source   datasource.Source
	Breaker  *datasource.Breaker
	Store    ledger.Store
	Probe    Probe
	Hub      *gateway.Hub
	Notifier notification.Notifier

	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus
}

// New wires an App. Metrics are registered on reg.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	cal, err := config.Calendar(rules.Exchange)
	if err != nil {
		return nil, err
	}
	rp, ok := rules.Profiles[cfg.Profile]
	if !ok {
		return nil, &config.ConfigError{Problems: []string{
			fmt.Sprintf("PROFILE %q not in %s (have %v)", cfg.Profile, cfg.RulesFile, rules.ProfileNames()),
		}}
	}
	profile, err := scanner.BuildProfile(cfg.Profile, rp, cal.Open())
	if err != nil {
		return nil, &config.ConfigError{Problems: []string{err.Error()}}
	}

	a := &App{
		Cfg:      cfg,
		Rules:    rules,
		Calendar: cal,
		Profile:  profile,
		Universe: rules.Instruments(rp),
		Metrics:  metrics.NewMetricsWith(reg),
		Health:   metrics.NewHealthStatus(cfg.LedgerBackend),
	}
	a.Health.StaleAfter = 3 * cfg.ScanInterval

	a.Source, a.Breaker, err = BuildSource(cfg, cal.Location(), a.onBreakerChange)
	if err != nil {
		return nil, err
	}
	a.Store, a.Probe, err = BuildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Hub = gateway.NewHub(1000, a.Metrics.StreamClients)
	a.Notifier, err = BuildNotifier(cfg, a.Hub)
	if err != nil {
		a.Store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) onBreakerChange(from, to datasource.State) {
	slog.Warn("datasource breaker state change", "source", a.Cfg.DataSource, "from", from.String(), "to", to.String())
	a.Metrics.SourceBreakerState.Set(float64(to))
	if to == datasource.StateOpen {
		a.Metrics.SourceBreakerTrips.Inc()
	}
	a.Health.SetSourceBreaker(to.String())
}

// Scanner builds the profile's scanner.
func (a *App) Scanner() (*scanner.Scanner, error) {
	return scanner.New(scanner.Config{
		Profile:      a.Profile,
		Universe:     a.Universe,
		Calendar:     a.Calendar,
		FetchTimeout: a.Cfg.FetchTimeout,
		Concurrency:  a.Cfg.Concurrency,
	}, a.Source, a.Store, scanner.WithMetrics(a.Metrics))
}

// Dispatcher builds the delivery side, with charts when enabled.
func (a *App) Dispatcher() *scanner.Dispatcher {
	opts := []scanner.DispatcherOption{scanner.WithDeliveryMetrics(a.Metrics)}
	if a.Cfg.Charts {
		opts = append(opts, scanner.WithCharts(chart.NewRenderer()))
	}
	return scanner.NewDispatcher(a.Notifier, a.Calendar.Location(), a.Cfg.DeliveryTimeout, opts...)
}

// OnTick feeds health and the live stream.
func (a *App) OnTick(rep *scanner.TickReport, err error) {
	a.Health.RecordTick(time.Now(), err)
	a.Hub.PublishTick(rep, err)
}

// Router builds the HTTP handler.
func (a *App) Router() (http.Handler, error) {
	var auth *api.JWTManager
	if a.Cfg.APIJWTSecret != "" {
		var err error
		if auth, err = api.NewJWTManager(a.Cfg.APIJWTSecret); err != nil {
			return nil, err
		}
	}
	return api.NewRouter(api.Deps{
		Alerts:   a.Store,
		Calendar: a.Calendar,
		Profile:  a.Profile,
		Universe: a.Universe,
		Health:   a.Health,
		Metrics:  metrics.Handler(),
		Stream:   a.Hub,
		Auth:     auth,
	}), nil
}

// Close releases the ledger and stream clients.
func (a *App) Close() error {
	a.Hub.Close()
	if c, ok := a.Notifier.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("close notifier", "error", err)
		}
	}
	return a.Store.Close()
}

// BuildSource creates the configured data source behind a circuit breaker.
// onChange, when non-nil, observes breaker transitions.
func BuildSource(cfg *config.Config, loc *time.Location, onChange func(from, to datasource.State)) (datasource.Source, *datasource.Breaker, error) {
	var src datasource.Source
	switch cfg.DataSource {
	case "yahoo":
		src = datasource.NewYahoo(cfg.YahooBaseURL, loc, cfg.FetchTimeout)
	case "alpaca":
		src = datasource.NewAlpaca(datasource.AlpacaConfig{
			APIKey:    cfg.AlpacaAPIKey,
			APISecret: cfg.AlpacaAPISecret,
			Feed:      cfg.AlpacaFeed,
		}, loc)
	case "parquet":
		src = datasource.NewParquetFiles(cfg.ParquetDir, loc)
	default:
		return nil, nil, &config.ConfigError{Problems: []string{fmt.Sprintf("unknown data source %q", cfg.DataSource)}}
	}
	var opts []datasource.BreakerOption
	if onChange != nil {
		opts = append(opts, datasource.OnTransition(onChange))
	}
	cb := datasource.NewBreaker(cfg.BreakerFailures, cfg.BreakerReset, opts...)
	return datasource.WithBreaker(src, cb), cb, nil
}

// BuildStore opens the configured ledger backend and its liveness probe.
func BuildStore(ctx context.Context, cfg *config.Config) (ledger.Store, Probe, error) {
	switch cfg.LedgerBackend {
	case "memory":
		return ledger.NewMemory(), nil, nil
	case "redis":
		s, err := redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis ledger: %w", err)
		}
		return s, func(ctx context.Context, h *metrics.HealthStatus) { h.CheckRedis(ctx, s.Client()) }, nil
	case "sqlite":
		s, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		return s, func(ctx context.Context, h *metrics.HealthStatus) { h.CheckSQL(ctx, s.DB()) }, nil
	case "postgres":
		s, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		return s, func(ctx context.Context, h *metrics.HealthStatus) { h.CheckSQL(ctx, s.DB().DB) }, nil
	}
	return nil, nil, &config.ConfigError{Problems: []string{fmt.Sprintf("unknown ledger backend %q", cfg.LedgerBackend)}}
}

// BuildNotifier fans out to every configured channel plus extra.
func BuildNotifier(cfg *config.Config, extra ...notification.Notifier) (notification.Notifier, error) {
	var ns []notification.Notifier
	for _, name := range cfg.Notifiers {
		switch name {
		case "log":
			ns = append(ns, notification.NewLogNotifier())
		case "telegram":
			ns = append(ns, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
		case "webhook":
			ns = append(ns, notification.NewWebhookNotifier(cfg.WebhookURL))
		case "redis":
			p, err := redisstore.DialPublisher(redisstore.Config{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
				Prefix:   cfg.RedisPrefix,
			})
			if err != nil {
				notification.NewMulti(ns...).Close()
				return nil, fmt.Errorf("open redis publisher: %w", err)
			}
			ns = append(ns, p)
		default:
			return nil, &config.ConfigError{Problems: []string{fmt.Sprintf("unknown notifier %q", name)}}
		}
	}
	ns = append(ns, extra...)
	if len(ns) == 0 {
		ns = append(ns, notification.NewLogNotifier())
	}
	return notification.NewMulti(ns...), nil
}
