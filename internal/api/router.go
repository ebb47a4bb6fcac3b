// Package api serves the read-only HTTP surface: session alert queries,
// the active profile, market status, the live stream, health and metrics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"equity-alerts/internal/ledger"
	"equity-alerts/internal/markethours"
	"equity-alerts/internal/model"
	"equity-alerts/internal/notification"
	"equity-alerts/internal/scanner"
)

// Deps are the collaborators the router reads from. Nil handlers are not mounted.
type Deps struct {
	Alerts   ledger.AlertLog
	Calendar *markethours.Calendar
	Profile  scanner.Profile
	Universe []model.Instrument

	Health  http.Handler
	Metrics http.Handler
	Stream  http.Handler

	// Auth guards everything under /api/v1 except /health. Nil leaves it open.
	Auth *JWTManager
	Now  func() time.Time
}

type server struct {
	Deps
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	s := &server{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if d.Health != nil {
		r.Method(http.MethodGet, "/healthz", d.Health)
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Group(func(r chi.Router) {
			if d.Auth != nil {
				r.Use(d.Auth.Middleware)
			}
			r.Get("/market", s.market)
			r.Get("/profile", s.profile)
			r.Get("/sessions/{date}/alerts", s.sessionAlerts)
			r.Get("/sessions/{date}/summary", s.sessionSummary)
			if d.Stream != nil {
				r.Method(http.MethodGet, "/stream", d.Stream)
			}
		})
	})
	return r
}

// session resolves the {date} path parameter; "today" means the current
// exchange session.
func (s *server) session(w http.ResponseWriter, r *http.Request) (model.SessionDate, bool) {
	raw := chi.URLParam(r, "date")
	if raw == "today" {
		return s.Calendar.SessionDate(s.Now()), true
	}
	d, err := model.ParseSessionDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD or today")
		return "", false
	}
	return d, true
}

func (s *server) sessionAlerts(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	alerts, err := s.Alerts.SessionAlerts(r.Context(), session)
	if err != nil {
		slog.Error("api: session alerts", "session", session.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "ledger unavailable")
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": session,
		"count":   len(alerts),
		"alerts":  alerts,
	})
}

func (s *server) sessionSummary(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	alerts, err := s.Alerts.SessionAlerts(r.Context(), session)
	if err != nil {
		slog.Error("api: session summary", "session", session.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "ledger unavailable")
		return
	}
	msg := notification.DigestMessage(session, alerts, s.Calendar.Location())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": session,
		"title":   msg.Title,
		"body":    msg.Body,
	})
}

func (s *server) profile(w http.ResponseWriter, r *http.Request) {
	p := s.Profile
	resp := map[string]interface{}{
		"name":              p.Name,
		"interval":          p.Interval,
		"range":             p.Range,
		"min_bars":          p.MinBars,
		"gate_market_hours": p.GateMarketHours,
		"delivery":          p.Delivery,
		"universe":          s.Universe,
	}
	if p.Rules != nil {
		resp["mode"] = p.Rules.Mode()
		resp["rules"] = p.Rules.Names()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) market(w http.ResponseWriter, r *http.Request) {
	now := s.Now()
	c := s.Calendar
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"open":        c.IsMarketOpen(now),
		"trading_day": c.IsTradingDay(now),
		"session":     c.SessionDate(now),
		"status":      c.StatusString(now),
		"next_open":   c.NextOpen(now).Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
