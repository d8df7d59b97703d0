package diagnostics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flowscope/flowscope/src/storage"
)

// Store persists the engine's full state as an opaque blob. Persistence is
// best-effort: failures are logged, never fatal.
type Store interface {
	Save(data []byte) error
	Load() ([]byte, error)
}

// stateKey is the blob key used in the sqlite-backed store.
const stateKey = "diagnostics"

// engineSnapshot is the serialized engine state.
type engineSnapshot struct {
	Active      map[string]*WorkflowSession `json:"active"`
	Terminated  []*WorkflowSession          `json:"terminated"`
	Issues      []*DiagnosticIssue          `json:"issues"`
	Comparisons []*ParameterComparison      `json:"comparisons"`
	NodeTimers  map[string]time.Time        `json:"node_timers"`
}

// snapshotLocked serializes the current state. Callers hold the mutex.
// Returns nil when no store is attached.
func (e *Engine) snapshotLocked() []byte {
	if e.store == nil {
		return nil
	}
	snap := engineSnapshot{
		Active:      e.active,
		Terminated:  e.terminated,
		Issues:      e.issueHistory,
		Comparisons: e.auditor.history,
		NodeTimers:  e.nodeTimers,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		e.logger.Warn("failed to serialize diagnostics state", "error", err)
		return nil
	}
	return data
}

// flush writes a snapshot taken under the lock. Runs without the lock so a
// slow store never stalls event application.
func (e *Engine) flush(data []byte) {
	if e.store == nil || data == nil {
		return
	}
	if err := e.store.Save(data); err != nil {
		e.logger.Warn("failed to persist diagnostics state", "error", err)
	}
}

// restore loads previously persisted state at startup.
func (e *Engine) restore() error {
	data, err := e.store.Load()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	var snap engineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if snap.Active != nil {
		e.active = snap.Active
	}
	e.terminated = snap.Terminated
	e.issueHistory = snap.Issues
	e.auditor.history = snap.Comparisons
	if snap.NodeTimers != nil {
		e.nodeTimers = snap.NodeTimers
	}
	return nil
}

// sqlStore adapts the sqlite storage layer to the Store interface.
type sqlStore struct {
	db *storage.DB
}

// NewSQLStore creates a Store backed by the sqlite database.
func NewSQLStore(db *storage.DB) Store {
	return &sqlStore{db: db}
}

func (s *sqlStore) Save(data []byte) error {
	return storage.SaveDiagnosticsState(context.Background(), s.db.DB(), stateKey, data)
}

func (s *sqlStore) Load() ([]byte, error) {
	return storage.LoadDiagnosticsState(context.Background(), s.db.DB(), stateKey)
}
