package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening must not re-run applied migrations.
	db, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestConversationRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	meta := &ConversationMetadata{ID: "c1", CreatedAt: now, LastUsed: now}
	require.NoError(t, PutConversation(ctx, db.DB(), meta))

	got, err := GetConversationByID(ctx, db.DB(), "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "c1", got.ID)
	assert.True(t, got.LastUsed.Equal(now))
}

func TestGetConversationNotFound(t *testing.T) {
	db := testDB(t)

	got, err := GetConversationByID(context.Background(), db.DB(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPutConversationUpsert(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, PutConversation(ctx, db.DB(), &ConversationMetadata{ID: "c1", CreatedAt: created, LastUsed: created}))

	later := created.Add(time.Hour)
	require.NoError(t, PutConversation(ctx, db.DB(), &ConversationMetadata{ID: "c1", CreatedAt: created, LastUsed: later}))

	got, err := GetConversationByID(ctx, db.DB(), "c1")
	require.NoError(t, err)
	assert.True(t, got.LastUsed.Equal(later))
	assert.True(t, got.CreatedAt.Equal(created))
}

func TestTouchConversation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, PutConversation(ctx, db.DB(), &ConversationMetadata{ID: "c1", CreatedAt: created, LastUsed: created}))

	touched := created.Add(2 * time.Hour)
	require.NoError(t, TouchConversation(ctx, db.DB(), "c1", touched))

	got, err := GetConversationByID(ctx, db.DB(), "c1")
	require.NoError(t, err)
	assert.True(t, got.LastUsed.Equal(touched))
}

func TestDeleteConversation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, PutConversation(ctx, db.DB(), &ConversationMetadata{ID: "c1"}))
	require.NoError(t, DeleteConversation(ctx, db.DB(), "c1"))

	got, err := GetConversationByID(ctx, db.DB(), "c1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListConversationsOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, PutConversation(ctx, db.DB(), &ConversationMetadata{ID: "old", CreatedAt: now, LastUsed: now}))
	require.NoError(t, PutConversation(ctx, db.DB(), &ConversationMetadata{ID: "new", CreatedAt: now, LastUsed: now.Add(time.Hour)}))

	metas, err := ListConversations(ctx, db.DB())
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "new", metas[0].ID)
	assert.Equal(t, "old", metas[1].ID)
}

func TestDeleteConversationsBefore(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, PutConversation(ctx, db.DB(), &ConversationMetadata{ID: "stale", CreatedAt: now, LastUsed: now.Add(-48 * time.Hour)}))
	require.NoError(t, PutConversation(ctx, db.DB(), &ConversationMetadata{ID: "fresh", CreatedAt: now, LastUsed: now}))

	evicted, err := DeleteConversationsBefore(ctx, db.DB(), now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, evicted)

	metas, err := ListConversations(ctx, db.DB())
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "fresh", metas[0].ID)
}

func TestDeleteConversationsBeforeNothingExpired(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, PutConversation(ctx, db.DB(), &ConversationMetadata{ID: "fresh", CreatedAt: now, LastUsed: now}))

	evicted, err := DeleteConversationsBefore(ctx, db.DB(), now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, evicted)
}

func TestDiagnosticsStateRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	got, err := LoadDiagnosticsState(ctx, db.DB(), "diagnostics")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, SaveDiagnosticsState(ctx, db.DB(), "diagnostics", []byte(`{"a":1}`)))
	require.NoError(t, SaveDiagnosticsState(ctx, db.DB(), "diagnostics", []byte(`{"a":2}`)))

	got, err = LoadDiagnosticsState(ctx, db.DB(), "diagnostics")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":2}`), got)
}
