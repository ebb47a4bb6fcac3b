// Package archive exports session alerts to Parquet files for offline
// analysis.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"equity-alerts/internal/ledger"
	"equity-alerts/internal/model"
)

// AlertRow is the on-disk alert layout. Evidence columns are zero when
// HasEvidence is false.
type AlertRow struct {
	ID          string  `parquet:"id"`
	Instrument  string  `parquet:"instrument"`
	Rule        string  `parquet:"rule"`
	Profile     string  `parquet:"profile"`
	Session     string  `parquet:"session"`
	FiredAt     int64   `parquet:"fired_at"` // Unix milliseconds
	HasEvidence bool    `parquet:"has_evidence"`
	Price       float64 `parquet:"price"`
	EvidenceAt  int64   `parquet:"evidence_at"` // Unix milliseconds
	Rationale   string  `parquet:"rationale"`
}

func toRow(a model.Alert) AlertRow {
	r := AlertRow{
		ID:         a.ID,
		Instrument: a.Instrument,
		Rule:       a.Rule,
		Profile:    a.Profile,
		Session:    a.Session.String(),
		FiredAt:    a.FiredAt.UnixMilli(),
	}
	if a.Evidence != nil {
		r.HasEvidence = true
		r.Price = a.Evidence.Price
		r.EvidenceAt = a.Evidence.At.UnixMilli()
		r.Rationale = a.Evidence.Rationale
	}
	return r
}

func (r AlertRow) alert(loc *time.Location) model.Alert {
	a := model.Alert{
		ID:         r.ID,
		Instrument: r.Instrument,
		Rule:       r.Rule,
		Profile:    r.Profile,
		Session:    model.SessionDate(r.Session),
		FiredAt:    time.UnixMilli(r.FiredAt).In(loc),
	}
	if r.HasEvidence {
		a.Evidence = &model.Evidence{
			Price:     r.Price,
			At:        time.UnixMilli(r.EvidenceAt).In(loc),
			Rationale: r.Rationale,
		}
	}
	return a
}

// WriteAlerts writes alerts to path, creating parent directories.
func WriteAlerts(path string, alerts []model.Alert) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	rows := make([]AlertRow, len(alerts))
	for i, a := range alerts {
		rows[i] = toRow(a)
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadAlerts loads an alert file. Timestamps are returned in loc.
func ReadAlerts(path string, loc *time.Location) ([]model.Alert, error) {
	if loc == nil {
		loc = time.UTC
	}
	rows, err := parquet.ReadFile[AlertRow](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	alerts := make([]model.Alert, len(rows))
	for i, r := range rows {
		alerts[i] = r.alert(loc)
	}
	return alerts, nil
}

// SessionPath returns {dir}/alerts_{session}.parquet.
func SessionPath(dir string, session model.SessionDate) string {
	return filepath.Join(dir, "alerts_"+session.String()+".parquet")
}

// ExportSession writes every alert the log holds for session to dir and
// returns the file path and the number of alerts written.
func ExportSession(ctx context.Context, log ledger.AlertLog, session model.SessionDate, dir string) (string, int, error) {
	alerts, err := log.SessionAlerts(ctx, session)
	if err != nil {
		return "", 0, fmt.Errorf("export %s: %w", session, err)
	}
	path := SessionPath(dir, session)
	if err := WriteAlerts(path, alerts); err != nil {
		return "", 0, err
	}
	return path, len(alerts), nil
}
