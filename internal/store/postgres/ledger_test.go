package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"equity-alerts/internal/ledger/ledgertest"
	"equity-alerts/internal/model"
)

func TestRowMapping(t *testing.T) {
	fired := time.Date(2026, 6, 1, 14, 31, 0, 0, time.UTC)
	a := model.Alert{
		ID: "a1", Instrument: "SPY", Rule: "orb", Session: "2026-06-01", FiredAt: fired,
		Evidence: &model.Evidence{Price: 530.25, At: fired, Rationale: "breakout"},
	}
	got := toRow(a).toAlert()
	if got.ID != a.ID || got.Session != a.Session || !got.FiredAt.Equal(fired) {
		t.Errorf("unexpected alert %+v", got)
	}
	if got.Evidence == nil || got.Evidence.Rationale != "breakout" {
		t.Errorf("evidence lost: %+v", got.Evidence)
	}

	bare := toRow(model.Alert{ID: "a2", FiredAt: fired}).toAlert()
	if bare.Evidence != nil {
		t.Errorf("expected nil evidence, got %+v", bare.Evidence)
	}
}

// Runs against a real database when TEST_DATABASE_URL is set.
func TestStore_Conformance(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()
	for _, table := range []string{"ledger_state", "ledger_alerted", "ledger_alerts"} {
		if _, err := s.db.ExecContext(ctx, "TRUNCATE "+table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	ledgertest.RunConformance(t, s)
}
