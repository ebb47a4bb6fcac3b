package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// HealthStatus represents the scanner's health.
type HealthStatus struct {
	mu sync.RWMutex

	LedgerBackend string
	LedgerOK      bool
	LedgerLatency time.Duration
	LastCheckAt   time.Time

	LastTickAt    time.Time
	LastTickError string
	SourceBreaker string

	// A tick older than this marks the process degraded; 0 disables the check.
	StaleAfter time.Duration
	StartedAt  time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(ledgerBackend string) *HealthStatus {
	return &HealthStatus{
		LedgerBackend: ledgerBackend,
		LedgerOK:      true,
		SourceBreaker: "closed",
		StartedAt:     time.Now(),
	}
}

// RecordTick notes a finished tick and its error, if any.
func (h *HealthStatus) RecordTick(at time.Time, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastTickAt = at
	h.LastTickError = ""
	if err != nil {
		h.LastTickError = err.Error()
	}
}

func (h *HealthStatus) SetSourceBreaker(state string) {
	h.mu.Lock()
	h.SourceBreaker = state
	h.mu.Unlock()
}

func (h *HealthStatus) setLedger(ok bool, latency time.Duration) {
	h.mu.Lock()
	h.LedgerOK = ok
	h.LedgerLatency = latency
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	h.setLedger(err == nil, time.Since(start))
}

// CheckSQL pings a database/sql handle (SQLite or Postgres).
func (h *HealthStatus) CheckSQL(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	h.setLedger(err == nil, time.Since(start))
}

// StartLivenessChecker runs probe every interval until ctx ends.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, interval time.Duration, probe func(ctx context.Context, h *HealthStatus)) {
	if probe == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				probe(probeCtx, h)
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	stale := h.StaleAfter > 0 && !h.LastTickAt.IsZero() && time.Since(h.LastTickAt) > h.StaleAfter
	if stale || h.SourceBreaker == "open" || h.LastTickError != "" {
		overallStatus = "degraded"
	}
	if !h.LedgerOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	tickAge := ""
	lastTick := ""
	if !h.LastTickAt.IsZero() {
		tickAge = time.Since(h.LastTickAt).Round(time.Millisecond).String()
		lastTick = h.LastTickAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		LedgerBackend   string  `json:"ledger_backend"`
		LedgerOK        bool    `json:"ledger_ok"`
		LedgerLatencyMs float64 `json:"ledger_latency_ms"`
		LastTickAt      string  `json:"last_tick_at"`
		TickAge         string  `json:"tick_age"`
		LastTickError   string  `json:"last_tick_error,omitempty"`
		SourceBreaker   string  `json:"source_breaker"`
		LastCheckAt     string  `json:"last_check_at,omitempty"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LedgerBackend:   h.LedgerBackend,
		LedgerOK:        h.LedgerOK,
		LedgerLatencyMs: float64(h.LedgerLatency.Microseconds()) / 1000.0,
		LastTickAt:      lastTick,
		TickAge:         tickAge,
		LastTickError:   h.LastTickError,
		SourceBreaker:   h.SourceBreaker,
	}
	if !h.LastCheckAt.IsZero() {
		status.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}
