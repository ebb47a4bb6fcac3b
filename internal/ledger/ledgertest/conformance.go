// Package ledgertest holds the shared contract test for ledger backends.
package ledgertest

import (
	"context"
	"errors"
	"testing"
	"time"

	"equity-alerts/internal/ledger"
	"equity-alerts/internal/model"
)

// RunConformance exercises the ledger.Store contract. Backend packages call it from
// their own tests.
func RunConformance(t *testing.T, s ledger.Store) {
	t.Helper()
	ctx := context.Background()

	reset, err := s.ResetIfNewSession(ctx, "2026-06-01")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !reset {
		t.Error("expected first session adoption to report a reset")
	}
	if again, _ := s.ResetIfNewSession(ctx, "2026-06-01"); again {
		t.Error("expected no reset for the same session")
	}

	if ok, err := s.HasAlerted(ctx, "SPY", "ema_cross_up"); err != nil || ok {
		t.Fatalf("expected not alerted, got %v err=%v", ok, err)
	}
	for i := 0; i < 2; i++ { // idempotent
		if err := s.RecordAlerted(ctx, "SPY", "ema_cross_up", "2026-06-01"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if ok, _ := s.HasAlerted(ctx, "SPY", "ema_cross_up"); !ok {
		t.Error("expected SPY/ema_cross_up alerted")
	}
	if ok, _ := s.HasAlerted(ctx, "SPY", "ema_cross_down"); ok {
		t.Error("other rule must not be marked")
	}
	if ok, _ := s.HasAlerted(ctx, "QQQ", "ema_cross_up"); ok {
		t.Error("other instrument must not be marked")
	}

	fired := time.Date(2026, 6, 1, 14, 31, 0, 0, time.UTC)
	a := model.Alert{
		ID: "a1", Instrument: "SPY", Rule: "ema_cross_up", Profile: "intraday",
		Session: "2026-06-01", FiredAt: fired,
		Evidence: &model.Evidence{Price: 530.25, At: fired, Rationale: "EMA9 crossed above EMA20"},
	}
	if err := s.AppendAlert(ctx, a); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := s.SessionAlerts(ctx, "2026-06-01")
	if err != nil {
		t.Fatalf("session alerts: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(got))
	}
	if got[0].ID != "a1" || got[0].Rule != "ema_cross_up" || !got[0].FiredAt.Equal(fired) {
		t.Errorf("unexpected alert %+v", got[0])
	}
	if got[0].Evidence == nil || got[0].Evidence.Price != 530.25 {
		t.Errorf("evidence not preserved: %+v", got[0].Evidence)
	}

	reset, err = s.ResetIfNewSession(ctx, "2026-06-02")
	if err != nil || !reset {
		t.Fatalf("expected reset on new session, got %v err=%v", reset, err)
	}
	if ok, _ := s.HasAlerted(ctx, "SPY", "ema_cross_up"); ok {
		t.Error("expected entries cleared after session change")
	}
	// the alert log is per session and survives the reset
	if prev, _ := s.SessionAlerts(ctx, "2026-06-01"); len(prev) != 1 {
		t.Errorf("expected previous session alerts kept, got %d", len(prev))
	}
	if cur, _ := s.SessionAlerts(ctx, "2026-06-02"); len(cur) != 0 {
		t.Errorf("expected no alerts for new session, got %d", len(cur))
	}

	// a late write for the previous session must not roll the ledger back
	if err := s.RecordAlerted(ctx, "QQQ", "orb_breakout", "2026-06-02"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordAlerted(ctx, "SPY", "ema_cross_up", "2026-06-01"); !errors.Is(err, ledger.ErrStaleSession) {
		t.Errorf("expected ErrStaleSession, got %v", err)
	}
	if reset, _ := s.ResetIfNewSession(ctx, "2026-06-02"); reset {
		t.Error("expected stored session to stay 2026-06-02")
	}
	if ok, _ := s.HasAlerted(ctx, "QQQ", "orb_breakout"); !ok {
		t.Error("expected current session entries kept after a stale write")
	}
	if ok, _ := s.HasAlerted(ctx, "SPY", "ema_cross_up"); ok {
		t.Error("expected stale write not recorded")
	}
}
