// Package sqlite is the SQLite-backed ledger store for single-host deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"equity-alerts/internal/ledger"
	"equity-alerts/internal/model"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/ledger.db"
}

// Store keeps the dedup ledger and alert log in one SQLite file.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("sqlite ledger opened", "path", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ledger_state (
			id      INTEGER PRIMARY KEY CHECK (id = 1),
			session TEXT    NOT NULL
		);

		CREATE TABLE IF NOT EXISTS alerted (
			session    TEXT NOT NULL,
			instrument TEXT NOT NULL,
			rule       TEXT NOT NULL,
			PRIMARY KEY (session, instrument, rule)
		);

		CREATE TABLE IF NOT EXISTS alerts (
			id          TEXT    PRIMARY KEY,
			session     TEXT    NOT NULL,
			instrument  TEXT    NOT NULL,
			rule        TEXT    NOT NULL,
			profile     TEXT    NOT NULL DEFAULT '',
			fired_at    INTEGER NOT NULL,
			price       REAL,
			evidence_at INTEGER,
			rationale   TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_session ON alerts (session, fired_at);
	`)
	return err
}

func (s *Store) current(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}) (model.SessionDate, error) {
	var cur string
	err := q.QueryRowContext(ctx, `SELECT session FROM ledger_state WHERE id = 1`).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite read session: %w", err)
	}
	return model.SessionDate(cur), nil
}

func (s *Store) ResetIfNewSession(ctx context.Context, session model.SessionDate) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	cur, err := s.current(ctx, tx)
	if err != nil {
		return false, err
	}
	if cur == session {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM alerted`); err != nil {
		return false, fmt.Errorf("sqlite clear ledger: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_state (id, session) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET session = excluded.session`, string(session)); err != nil {
		return false, fmt.Errorf("sqlite set session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) HasAlerted(ctx context.Context, instrument, rule string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM alerted a JOIN ledger_state st ON a.session = st.session
			WHERE a.instrument = ? AND a.rule = ?
		)`, instrument, rule).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("sqlite has alerted: %w", err)
	}
	return ok, nil
}

func (s *Store) RecordAlerted(ctx context.Context, instrument, rule string, session model.SessionDate) error {
	cur, err := s.current(ctx, s.db)
	if err != nil {
		return err
	}
	if cur != "" && session < cur {
		return ledger.ErrStaleSession
	}
	if _, err := s.ResetIfNewSession(ctx, session); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO alerted (session, instrument, rule) VALUES (?, ?, ?)`,
		string(session), instrument, rule)
	if err != nil {
		return fmt.Errorf("sqlite record alerted: %w", err)
	}
	return nil
}

func (s *Store) AppendAlert(ctx context.Context, a model.Alert) error {
	var price sql.NullFloat64
	var evAt sql.NullInt64
	var why sql.NullString
	if a.Evidence != nil {
		price = sql.NullFloat64{Float64: a.Evidence.Price, Valid: true}
		evAt = sql.NullInt64{Int64: a.Evidence.At.UnixNano(), Valid: true}
		why = sql.NullString{String: a.Evidence.Rationale, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO alerts (id, session, instrument, rule, profile, fired_at, price, evidence_at, rationale)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Session), a.Instrument, a.Rule, a.Profile, a.FiredAt.UnixNano(), price, evAt, why)
	if err != nil {
		return fmt.Errorf("sqlite append alert: %w", err)
	}
	return nil
}

func (s *Store) SessionAlerts(ctx context.Context, session model.SessionDate) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session, instrument, rule, profile, fired_at, price, evidence_at, rationale
		FROM alerts
		WHERE session = ?
		ORDER BY fired_at ASC, rowid ASC`, string(session))
	if err != nil {
		return nil, fmt.Errorf("sqlite query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		var (
			a       model.Alert
			sess    string
			firedAt int64
			price   sql.NullFloat64
			evAt    sql.NullInt64
			why     sql.NullString
		)
		if err := rows.Scan(&a.ID, &sess, &a.Instrument, &a.Rule, &a.Profile, &firedAt, &price, &evAt, &why); err != nil {
			return nil, fmt.Errorf("sqlite scan alert: %w", err)
		}
		a.Session = model.SessionDate(sess)
		a.FiredAt = time.Unix(0, firedAt).UTC()
		if price.Valid {
			a.Evidence = &model.Evidence{Price: price.Float64, At: time.Unix(0, evAt.Int64).UTC(), Rationale: why.String}
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }
