package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
)

// GetConversationByID retrieves conversation metadata by id, or nil when the
// id is unknown.
func GetConversationByID(ctx context.Context, db sqlscan.Querier, id string) (*ConversationMetadata, error) {
	query := `SELECT id, created_at, last_used FROM conversations WHERE id = ?`
	var meta ConversationMetadata
	err := sqlscan.Get(ctx, db, &meta, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return &meta, nil
}

// PutConversation inserts or replaces conversation metadata.
func PutConversation(ctx context.Context, db Execer, meta *ConversationMetadata) error {
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	if meta.LastUsed.IsZero() {
		meta.LastUsed = meta.CreatedAt
	}

	query := `INSERT INTO conversations (id, created_at, last_used) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_used = excluded.last_used`
	_, err := db.ExecContext(ctx, query, meta.ID, meta.CreatedAt, meta.LastUsed)
	return err
}

// TouchConversation refreshes last_used for an existing conversation.
func TouchConversation(ctx context.Context, db Execer, id string, lastUsed time.Time) error {
	query := `UPDATE conversations SET last_used = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, lastUsed, id)
	return err
}

// DeleteConversation removes conversation metadata.
func DeleteConversation(ctx context.Context, db Execer, id string) error {
	query := `DELETE FROM conversations WHERE id = ?`
	_, err := db.ExecContext(ctx, query, id)
	return err
}

// ListConversations returns all conversation metadata ordered by last use,
// most recent first.
func ListConversations(ctx context.Context, db sqlscan.Querier) ([]ConversationMetadata, error) {
	query := `SELECT id, created_at, last_used FROM conversations ORDER BY last_used DESC`
	var metas []ConversationMetadata
	if err := sqlscan.Select(ctx, db, &metas, query); err != nil {
		return nil, err
	}
	return metas, nil
}

// DeleteConversationsBefore evicts metadata whose last_used is older than
// cutoff and returns the removed ids.
func DeleteConversationsBefore(ctx context.Context, db ExecQuerier, cutoff time.Time) ([]string, error) {
	var expired []string
	query := `SELECT id FROM conversations WHERE last_used < ?`
	if err := sqlscan.Select(ctx, db, &expired, query, cutoff); err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM conversations WHERE last_used < ?`, cutoff); err != nil {
		return nil, err
	}
	return expired, nil
}
