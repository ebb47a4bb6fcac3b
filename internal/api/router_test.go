package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"equity-alerts/internal/datasource"
	"equity-alerts/internal/ledger"
	"equity-alerts/internal/markethours"
	"equity-alerts/internal/model"
	"equity-alerts/internal/rule"
	"equity-alerts/internal/scanner"
)

var cal = markethours.NYSE()

func testRouter(t *testing.T, auth *JWTManager) (http.Handler, *ledger.Memory) {
	t.Helper()
	store := ledger.NewMemory()
	ctx := context.Background()
	store.RecordAlerted(ctx, "AAPL", "ema_cross_up", "2026-03-02")
	store.AppendAlert(ctx, model.Alert{
		ID: "a1", Instrument: "AAPL", Rule: "ema_cross_up", Session: "2026-03-02",
		FiredAt:  time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
		Evidence: &model.Evidence{Price: 231.5, At: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)},
	})

	set, err := rule.NewSet(rule.FirstMatch, rule.NewInsideBar("inside_day"))
	if err != nil {
		t.Fatal(err)
	}
	return NewRouter(Deps{
		Alerts:   store,
		Calendar: cal,
		Profile:  scanner.Profile{Name: "daily", Interval: datasource.OneDay, Range: datasource.ThreeMonths, Rules: set},
		Universe: []model.Instrument{{Symbol: "AAPL"}},
		Health:   http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) }),
		Auth:     auth,
		Now:      func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, cal.Location()) },
	}), store
}

func get(h http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_SessionAlerts(t *testing.T) {
	h, _ := testRouter(t, nil)

	for _, path := range []string{"/api/v1/sessions/2026-03-02/alerts", "/api/v1/sessions/today/alerts"} {
		rec := get(h, path, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		var body struct {
			Session string        `json:"session"`
			Count   int           `json:"count"`
			Alerts  []model.Alert `json:"alerts"`
		}
		json.NewDecoder(rec.Body).Decode(&body)
		if body.Session != "2026-03-02" || body.Count != 1 || body.Alerts[0].Instrument != "AAPL" {
			t.Errorf("%s: unexpected body %+v", path, body)
		}
	}

	rec := get(h, "/api/v1/sessions/2026-03-03/alerts", "")
	if !strings.Contains(rec.Body.String(), `"alerts":[]`) {
		t.Errorf("expected empty alert list, got %s", rec.Body.String())
	}

	if rec := get(h, "/api/v1/sessions/yesterday/alerts", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad date, got %d", rec.Code)
	}
}

func TestRouter_SessionSummary(t *testing.T) {
	h, _ := testRouter(t, nil)
	rec := get(h, "/api/v1/sessions/2026-03-05/summary", "")
	if !strings.Contains(rec.Body.String(), "No valid signals this session.") {
		t.Errorf("expected no-signal summary, got %s", rec.Body.String())
	}
	rec = get(h, "/api/v1/sessions/2026-03-02/summary", "")
	if !strings.Contains(rec.Body.String(), "AAPL") {
		t.Errorf("expected AAPL in summary, got %s", rec.Body.String())
	}
}

func TestRouter_ProfileAndMarket(t *testing.T) {
	h, _ := testRouter(t, nil)

	var prof map[string]interface{}
	json.NewDecoder(get(h, "/api/v1/profile", "").Body).Decode(&prof)
	if prof["name"] != "daily" || prof["mode"] != "first_match" {
		t.Errorf("unexpected profile %v", prof)
	}

	var mkt map[string]interface{}
	json.NewDecoder(get(h, "/api/v1/market", "").Body).Decode(&mkt)
	if mkt["open"] != true || mkt["session"] != "2026-03-02" {
		t.Errorf("unexpected market %v", mkt)
	}

	if rec := get(h, "/healthz", ""); rec.Body.String() != "ok" {
		t.Errorf("expected health handler mounted, got %q", rec.Body.String())
	}
}

func TestRouter_JWT(t *testing.T) {
	jm, err := NewJWTManager("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	h, _ := testRouter(t, jm)

	if rec := get(h, "/api/v1/health", ""); rec.Code != http.StatusOK {
		t.Errorf("expected open health endpoint, got %d", rec.Code)
	}
	if rec := get(h, "/api/v1/profile", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	if rec := get(h, "/api/v1/profile", "garbage"); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad token, got %d", rec.Code)
	}

	token, err := jm.GenerateToken("dashboard", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if rec := get(h, "/api/v1/profile", token); rec.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", rec.Code)
	}
	if rec := get(h, "/api/v1/market?token="+token, ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200 with query token, got %d", rec.Code)
	}

	other, _ := NewJWTManager("other-secret")
	forged, _ := other.GenerateToken("dashboard", time.Hour)
	if rec := get(h, "/api/v1/profile", forged); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for token signed with another key, got %d", rec.Code)
	}
	expired, _ := jm.GenerateToken("dashboard", -time.Minute)
	if rec := get(h, "/api/v1/profile", expired); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for expired token, got %d", rec.Code)
	}

	if _, err := NewJWTManager(""); err == nil {
		t.Error("expected error for empty secret")
	}
}
