package session

import (
	"context"
	"time"

	"github.com/flowscope/flowscope/src/storage"
)

// sqlStore adapts the sqlite storage layer to the Store interface.
type sqlStore struct {
	db *storage.DB
}

// NewSQLStore creates a Store backed by the sqlite database.
func NewSQLStore(db *storage.DB) Store {
	return &sqlStore{db: db}
}

func (s *sqlStore) Get(ctx context.Context, id string) (*storage.ConversationMetadata, error) {
	return storage.GetConversationByID(ctx, s.db.DB(), id)
}

func (s *sqlStore) Put(ctx context.Context, meta *storage.ConversationMetadata) error {
	return storage.PutConversation(ctx, s.db.DB(), meta)
}

func (s *sqlStore) Touch(ctx context.Context, id string, lastUsed time.Time) error {
	return storage.TouchConversation(ctx, s.db.DB(), id, lastUsed)
}

func (s *sqlStore) Delete(ctx context.Context, id string) error {
	return storage.DeleteConversation(ctx, s.db.DB(), id)
}

func (s *sqlStore) Sweep(ctx context.Context, cutoff time.Time) ([]string, error) {
	return storage.DeleteConversationsBefore(ctx, s.db.DB(), cutoff)
}
