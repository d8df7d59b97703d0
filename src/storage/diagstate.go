package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
)

// SaveDiagnosticsState stores a serialized diagnostics snapshot under key,
// replacing any previous snapshot.
func SaveDiagnosticsState(ctx context.Context, db Execer, key string, data []byte) error {
	query := `INSERT INTO diagnostics_state (key, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`
	_, err := db.ExecContext(ctx, query, key, data, time.Now())
	return err
}

// LoadDiagnosticsState retrieves a serialized diagnostics snapshot, or nil
// when none has been stored yet.
func LoadDiagnosticsState(ctx context.Context, db sqlscan.Querier, key string) ([]byte, error) {
	query := `SELECT key, data, updated_at FROM diagnostics_state WHERE key = ?`
	var state DiagnosticsState
	err := sqlscan.Get(ctx, db, &state, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return state.Data, nil
}
