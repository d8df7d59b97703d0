package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowscope/flowscope/src/storage"
)

type memStore struct {
	metas map[string]*storage.ConversationMetadata
	fail  error
}

func newMemStore() *memStore {
	return &memStore{metas: make(map[string]*storage.ConversationMetadata)}
}

func (s *memStore) Get(ctx context.Context, id string) (*storage.ConversationMetadata, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	meta, ok := s.metas[id]
	if !ok {
		return nil, nil
	}
	cp := *meta
	return &cp, nil
}

func (s *memStore) Put(ctx context.Context, meta *storage.ConversationMetadata) error {
	if s.fail != nil {
		return s.fail
	}
	cp := *meta
	s.metas[meta.ID] = &cp
	return nil
}

func (s *memStore) Touch(ctx context.Context, id string, lastUsed time.Time) error {
	if meta, ok := s.metas[id]; ok {
		meta.LastUsed = lastUsed
	}
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	delete(s.metas, id)
	return nil
}

func (s *memStore) Sweep(ctx context.Context, cutoff time.Time) ([]string, error) {
	var evicted []string
	for id, meta := range s.metas {
		if meta.LastUsed.Before(cutoff) {
			evicted = append(evicted, id)
			delete(s.metas, id)
		}
	}
	return evicted, nil
}

type fakeProber struct {
	err   error
	calls int
}

func (p *fakeProber) Validate(ctx context.Context, conversationID string) error {
	p.calls++
	return p.err
}

func TestResolveMintsWhenEmpty(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, nil, nil)

	id, err := m.Resolve(context.Background(), "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// The minted id is persisted immediately.
	meta, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, id, meta.ID)
}

func TestResolveReusesFreshConversation(t *testing.T) {
	store := newMemStore()
	prober := &fakeProber{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(store, prober, nil, WithClock(func() time.Time { return now }))

	created := now.Add(-time.Hour)
	require.NoError(t, store.Put(context.Background(), &storage.ConversationMetadata{
		ID: "conv-1", CreatedAt: created, LastUsed: created,
	}))

	id, err := m.Resolve(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", id)
	assert.Equal(t, 1, prober.calls)

	// Resolving is idempotent and refreshes last_used.
	id2, err := m.Resolve(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", id2)
	assert.Equal(t, now, store.metas["conv-1"].LastUsed)
}

func TestResolveExpiredConversation(t *testing.T) {
	store := newMemStore()
	prober := &fakeProber{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(store, prober, nil, WithClock(func() time.Time { return now }))

	stale := now.Add(-25 * time.Hour)
	require.NoError(t, store.Put(context.Background(), &storage.ConversationMetadata{
		ID: "conv-old", CreatedAt: stale, LastUsed: stale,
	}))

	id, err := m.Resolve(context.Background(), "conv-old")
	require.NoError(t, err)
	assert.NotEqual(t, "conv-old", id)
	// The remote probe is never consulted for locally expired ids.
	assert.Equal(t, 0, prober.calls)
	assert.Nil(t, store.metas["conv-old"])
}

func TestResolveExpiryBoundary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		lastUsed time.Time
		reused   bool
	}{
		{"just inside window", now.Add(-24*time.Hour + time.Second), true},
		{"exactly at window", now.Add(-24 * time.Hour), false},
		{"past window", now.Add(-24*time.Hour - time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			m := NewManager(store, nil, nil, WithClock(func() time.Time { return now }))
			require.NoError(t, store.Put(context.Background(), &storage.ConversationMetadata{
				ID: "conv-b", CreatedAt: tt.lastUsed, LastUsed: tt.lastUsed,
			}))

			id, err := m.Resolve(context.Background(), "conv-b")
			require.NoError(t, err)
			if tt.reused {
				assert.Equal(t, "conv-b", id)
			} else {
				assert.NotEqual(t, "conv-b", id)
			}
		})
	}
}

func TestResolveUnknownIDMintsNew(t *testing.T) {
	m := NewManager(newMemStore(), nil, nil)

	id, err := m.Resolve(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.NotEqual(t, "never-seen", id)
}

func TestResolveProbeFailureMintsNew(t *testing.T) {
	store := newMemStore()
	prober := &fakeProber{err: errors.New("conversation does not exist")}
	now := time.Now()
	m := NewManager(store, prober, nil)

	require.NoError(t, store.Put(context.Background(), &storage.ConversationMetadata{
		ID: "conv-gone", CreatedAt: now, LastUsed: now,
	}))

	id, err := m.Resolve(context.Background(), "conv-gone")
	require.NoError(t, err)
	assert.NotEqual(t, "conv-gone", id)
	// Remote rejection also discards the stale local metadata.
	assert.Nil(t, store.metas["conv-gone"])
}

func TestResolveSweepsExpiredEntries(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(store, nil, nil, WithClock(func() time.Time { return now }))

	fresh := now.Add(-time.Hour)
	stale := now.Add(-48 * time.Hour)
	require.NoError(t, store.Put(context.Background(), &storage.ConversationMetadata{ID: "fresh", CreatedAt: fresh, LastUsed: fresh}))
	require.NoError(t, store.Put(context.Background(), &storage.ConversationMetadata{ID: "stale", CreatedAt: stale, LastUsed: stale}))

	_, err := m.Resolve(context.Background(), "")
	require.NoError(t, err)

	assert.NotNil(t, store.metas["fresh"])
	assert.Nil(t, store.metas["stale"])
}

func TestCustomExpiryWindow(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(store, nil, nil,
		WithExpiryWindow(time.Hour),
		WithClock(func() time.Time { return now }))

	used := now.Add(-2 * time.Hour)
	require.NoError(t, store.Put(context.Background(), &storage.ConversationMetadata{
		ID: "conv-short", CreatedAt: used, LastUsed: used,
	}))

	id, err := m.Resolve(context.Background(), "conv-short")
	require.NoError(t, err)
	assert.NotEqual(t, "conv-short", id)
}

func TestAdoptAndForget(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, nil, nil)

	require.NoError(t, m.Adopt(context.Background(), "server-id"))
	require.NotNil(t, store.metas["server-id"])

	m.Forget(context.Background(), "server-id")
	assert.Nil(t, store.metas["server-id"])
}

func TestMarkUsedRefreshesLastUsed(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := now
	m := NewManager(store, nil, nil, WithClock(func() time.Time { return current }))

	id, err := m.Resolve(context.Background(), "")
	require.NoError(t, err)

	current = now.Add(time.Hour)
	m.MarkUsed(context.Background(), id)
	assert.Equal(t, current, store.metas[id].LastUsed)
}
