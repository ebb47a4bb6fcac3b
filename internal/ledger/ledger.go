// Package ledger defines the session dedup ledger: the record of which
// (instrument, rule) pairs have already alerted in the current trading
// session, plus the log of alerts emitted per session.
//
// Backends live in internal/store/*; Memory here serves tests and single
// process runs.
package ledger

import (
	"context"
	"errors"

	"equity-alerts/internal/model"
)

// ErrStaleSession is returned by RecordAlerted for a session older than the
// stored one. Session dates only move forward.
var ErrStaleSession = errors.New("ledger: session older than current")

// Ledger answers "has this pair already alerted this session".
type Ledger interface {
	// ResetIfNewSession clears every entry and adopts session when it differs
	// from the stored session date. Reports whether a reset happened.
	ResetIfNewSession(ctx context.Context, session model.SessionDate) (bool, error)

	// HasAlerted reports whether (instrument, rule) alerted in the current session.
	HasAlerted(ctx context.Context, instrument, rule string) (bool, error)

	// RecordAlerted marks (instrument, rule) as alerted for session. Idempotent.
	// A newer session is adopted first; an older one fails with ErrStaleSession.
	RecordAlerted(ctx context.Context, instrument, rule string, session model.SessionDate) error
}

// AlertLog keeps the alerts emitted per session for summaries.
type AlertLog interface {
	AppendAlert(ctx context.Context, a model.Alert) error
	SessionAlerts(ctx context.Context, session model.SessionDate) ([]model.Alert, error)
}

// Store is a full ledger backend.
type Store interface {
	Ledger
	AlertLog
	Close() error
}
