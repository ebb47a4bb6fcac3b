package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the scanner.
type Metrics struct {
	TicksTotal    *prometheus.CounterVec // labels: profile, outcome=ok|gated|busy|error
	TickDuration  prometheus.Histogram
	FetchDuration prometheus.Histogram

	AlertsTotal        *prometheus.CounterVec // labels: rule
	SuppressedTotal    *prometheus.CounterVec // labels: rule (already alerted this session)
	InstrumentsSkipped *prometheus.CounterVec // labels: reason=no_data|empty|short|fetch|evaluate|ledger
	FetchFailures      *prometheus.CounterVec // labels: source

	DeliveryTotal    *prometheus.CounterVec // labels: result=sent|failed
	DeliveryFailures *prometheus.CounterVec // labels: channel

	LedgerResets prometheus.Counter
	LedgerErrors prometheus.Counter

	// Data source circuit breaker
	SourceBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	SourceBreakerTrips prometheus.Counter

	// Market session state
	MarketState prometheus.Gauge // 0=closed, 1=open

	// Live alert stream
	StreamClients prometheus.Gauge
}

// NewMetrics registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_ticks_total",
			Help: "Scan ticks by profile and outcome",
		}, []string{"profile", "outcome"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_tick_duration_seconds",
			Help:    "Wall time of one scan tick including fetches",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_fetch_duration_seconds",
			Help:    "Latency of a single instrument bar fetch",
			Buckets: prometheus.DefBuckets,
		}),

		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_alerts_total",
			Help: "Alerts emitted by rule",
		}, []string{"rule"}),
		SuppressedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_alerts_suppressed_total",
			Help: "Fired rules suppressed because the pair already alerted this session",
		}, []string{"rule"}),
		InstrumentsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_instruments_skipped_total",
			Help: "Instruments skipped during a tick by reason",
		}, []string{"reason"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_fetch_failures_total",
			Help: "Bar fetch failures by data source",
		}, []string{"source"}),

		DeliveryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_deliveries_total",
			Help: "Notification deliveries by result",
		}, []string{"result"}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_delivery_failures_total",
			Help: "Notification delivery failures by channel",
		}, []string{"channel"}),

		LedgerResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_ledger_resets_total",
			Help: "Session boundaries crossed by the dedup ledger",
		}),
		LedgerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_ledger_errors_total",
			Help: "Ledger read/write failures",
		}),

		SourceBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_source_circuit_breaker_state",
			Help: "Data source circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		SourceBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_source_circuit_breaker_trips_total",
			Help: "Times the data source circuit breaker tripped open",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),

		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_stream_clients",
			Help: "Connected live alert stream clients",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.TickDuration,
		m.FetchDuration,
		m.AlertsTotal,
		m.SuppressedTotal,
		m.InstrumentsSkipped,
		m.FetchFailures,
		m.DeliveryTotal,
		m.DeliveryFailures,
		m.LedgerResets,
		m.LedgerErrors,
		m.SourceBreakerState,
		m.SourceBreakerTrips,
		m.MarketState,
		m.StreamClients,
	)

	return m
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler { return promhttp.Handler() }

// Server runs an HTTP server for the given handler.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates an HTTP server on addr.
func NewServer(addr string, h http.Handler) *Server {
	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("http server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
