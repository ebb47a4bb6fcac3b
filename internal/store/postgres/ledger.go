// Package postgres is the Postgres-backed ledger store for deployments that
// already run a shared database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"equity-alerts/internal/ledger"
	"equity-alerts/internal/model"
)

// Store keeps the dedup ledger and alert log in Postgres.
type Store struct {
	db *sqlx.DB
}

// DB returns the underlying handle for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

// New connects, pings and creates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	slog.Info("postgres ledger connected")
	return &Store{db: db}, nil
}

func createSchema(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS ledger_state (
		id      SMALLINT PRIMARY KEY CHECK (id = 1),
		session TEXT     NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ledger_alerted (
		session    TEXT NOT NULL,
		instrument TEXT NOT NULL,
		rule       TEXT NOT NULL,
		PRIMARY KEY (session, instrument, rule)
	);

	CREATE TABLE IF NOT EXISTS ledger_alerts (
		id          TEXT             PRIMARY KEY,
		session     TEXT             NOT NULL,
		instrument  TEXT             NOT NULL,
		rule        TEXT             NOT NULL,
		profile     TEXT             NOT NULL DEFAULT '',
		fired_at    TIMESTAMPTZ      NOT NULL,
		price       DOUBLE PRECISION,
		evidence_at TIMESTAMPTZ,
		rationale   TEXT,
		created_at  TIMESTAMPTZ      NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_alerts_session ON ledger_alerts (session, fired_at);
	`)
	return err
}

// alertRow is the ledger_alerts row shape.
type alertRow struct {
	ID         string          `db:"id"`
	Session    string          `db:"session"`
	Instrument string          `db:"instrument"`
	Rule       string          `db:"rule"`
	Profile    string          `db:"profile"`
	FiredAt    time.Time       `db:"fired_at"`
	Price      sql.NullFloat64 `db:"price"`
	EvidenceAt sql.NullTime    `db:"evidence_at"`
	Rationale  sql.NullString  `db:"rationale"`
}

func toRow(a model.Alert) alertRow {
	r := alertRow{
		ID:         a.ID,
		Session:    string(a.Session),
		Instrument: a.Instrument,
		Rule:       a.Rule,
		Profile:    a.Profile,
		FiredAt:    a.FiredAt.UTC(),
	}
	if a.Evidence != nil {
		r.Price = sql.NullFloat64{Float64: a.Evidence.Price, Valid: true}
		r.EvidenceAt = sql.NullTime{Time: a.Evidence.At.UTC(), Valid: true}
		r.Rationale = sql.NullString{String: a.Evidence.Rationale, Valid: true}
	}
	return r
}

func (r alertRow) toAlert() model.Alert {
	a := model.Alert{
		ID:         r.ID,
		Session:    model.SessionDate(r.Session),
		Instrument: r.Instrument,
		Rule:       r.Rule,
		Profile:    r.Profile,
		FiredAt:    r.FiredAt.UTC(),
	}
	if r.Price.Valid {
		a.Evidence = &model.Evidence{Price: r.Price.Float64, At: r.EvidenceAt.Time.UTC(), Rationale: r.Rationale.String}
	}
	return a
}

func (s *Store) ResetIfNewSession(ctx context.Context, session model.SessionDate) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var cur string
	err = tx.GetContext(ctx, &cur, `SELECT session FROM ledger_state WHERE id = 1 FOR UPDATE`)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("postgres read session: %w", err)
	}
	if model.SessionDate(cur) == session {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_alerted`); err != nil {
		return false, fmt.Errorf("postgres clear ledger: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_state (id, session) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET session = EXCLUDED.session`, string(session)); err != nil {
		return false, fmt.Errorf("postgres set session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) HasAlerted(ctx context.Context, instrument, rule string) (bool, error) {
	var ok bool
	err := s.db.GetContext(ctx, &ok, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_alerted a JOIN ledger_state st ON a.session = st.session
			WHERE a.instrument = $1 AND a.rule = $2
		)`, instrument, rule)
	if err != nil {
		return false, fmt.Errorf("postgres has alerted: %w", err)
	}
	return ok, nil
}

func (s *Store) RecordAlerted(ctx context.Context, instrument, rule string, session model.SessionDate) error {
	var cur string
	err := s.db.GetContext(ctx, &cur, `SELECT session FROM ledger_state WHERE id = 1`)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("postgres read session: %w", err)
	}
	if cur != "" && session < model.SessionDate(cur) {
		return ledger.ErrStaleSession
	}
	if _, err := s.ResetIfNewSession(ctx, session); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_alerted (session, instrument, rule) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, string(session), instrument, rule)
	if err != nil {
		return fmt.Errorf("postgres record alerted: %w", err)
	}
	return nil
}

func (s *Store) AppendAlert(ctx context.Context, a model.Alert) error {
	query := `
	INSERT INTO ledger_alerts (
		id, session, instrument, rule, profile,
		fired_at, price, evidence_at, rationale
	) VALUES (
		:id, :session, :instrument, :rule, :profile,
		:fired_at, :price, :evidence_at, :rationale
	) ON CONFLICT (id) DO NOTHING
	`
	if _, err := s.db.NamedExecContext(ctx, query, toRow(a)); err != nil {
		return fmt.Errorf("postgres append alert: %w", err)
	}
	return nil
}

func (s *Store) SessionAlerts(ctx context.Context, session model.SessionDate) ([]model.Alert, error) {
	var rows []alertRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, session, instrument, rule, profile, fired_at, price, evidence_at, rationale
		FROM ledger_alerts
		WHERE session = $1
		ORDER BY fired_at ASC, created_at ASC`, string(session))
	if err != nil {
		return nil, fmt.Errorf("postgres query alerts: %w", err)
	}
	alerts := make([]model.Alert, len(rows))
	for i, r := range rows {
		alerts[i] = r.toAlert()
	}
	return alerts, nil
}

func (s *Store) Close() error { return s.db.Close() }
