package ledger

import (
	"context"
	"sync"

	"equity-alerts/internal/model"
)

// Memory is an in-process Store. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	session model.SessionDate
	seen    map[string]struct{}
	alerts  map[model.SessionDate][]model.Alert
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		seen:   make(map[string]struct{}),
		alerts: make(map[model.SessionDate][]model.Alert),
	}
}

func (m *Memory) ResetIfNewSession(_ context.Context, session model.SessionDate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetLocked(session), nil
}

func (m *Memory) resetLocked(session model.SessionDate) bool {
	if m.session == session {
		return false
	}
	m.session = session
	m.seen = make(map[string]struct{})
	return true
}

func (m *Memory) HasAlerted(_ context.Context, instrument, rule string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[model.LedgerKey(instrument, rule)]
	return ok, nil
}

// RecordAlerted adopts session first when it differs from the current one,
// so an entry never outlives the session it was recorded for.
func (m *Memory) RecordAlerted(_ context.Context, instrument, rule string, session model.SessionDate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != "" && session < m.session {
		return ErrStaleSession
	}
	m.resetLocked(session)
	m.seen[model.LedgerKey(instrument, rule)] = struct{}{}
	return nil
}

func (m *Memory) AppendAlert(_ context.Context, a model.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.Session] = append(m.alerts[a.Session], a)
	return nil
}

func (m *Memory) SessionAlerts(_ context.Context, session model.SessionDate) ([]model.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Alert(nil), m.alerts[session]...), nil
}

// Session returns the currently adopted session date.
func (m *Memory) Session() model.SessionDate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *Memory) Close() error { return nil }
