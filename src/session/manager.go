// Package session owns conversation identity: creation, persisted-metadata
// lookup, expiry by age, and remote validation.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flowscope/flowscope/src/storage"
)

// DefaultExpiryWindow is how long a conversation id stays reusable after its
// last successful use.
const DefaultExpiryWindow = 24 * time.Hour

// Store is the durable key->metadata map the manager persists identity in.
type Store interface {
	Get(ctx context.Context, id string) (*storage.ConversationMetadata, error)
	Put(ctx context.Context, meta *storage.ConversationMetadata) error
	Touch(ctx context.Context, id string, lastUsed time.Time) error
	Delete(ctx context.Context, id string) error
	// Sweep evicts entries whose last use is older than cutoff and returns
	// the evicted ids.
	Sweep(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Prober performs the remote existence check for a conversation id. The
// implementation fetches the first page of the conversation's history.
type Prober interface {
	Validate(ctx context.Context, conversationID string) error
}

// Manager decides whether to reuse a requested conversation id or mint a new
// one.
type Manager struct {
	store  Store
	prober Prober
	expiry time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithExpiryWindow overrides the default 24h expiry window.
func WithExpiryWindow(window time.Duration) Option {
	return func(m *Manager) { m.expiry = window }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. The prober may be nil, in which case local
// metadata age is the only validity check.
func NewManager(store Store, prober Prober, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:  store,
		prober: prober,
		expiry: DefaultExpiryWindow,
		logger: logger.With("component", "session_manager"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Resolve returns a valid conversation id. A requested id is reused only if
// its local metadata is inside the expiry window and the remote existence
// check succeeds; anything else mints a fresh id. Every call also sweeps
// expired metadata so local storage growth stays bounded.
func (m *Manager) Resolve(ctx context.Context, requested string) (string, error) {
	m.sweep(ctx)

	if requested == "" {
		return m.mint(ctx)
	}

	meta, err := m.store.Get(ctx, requested)
	if err != nil {
		m.logger.Warn("metadata lookup failed, minting new conversation", "conversation_id", requested, "error", err)
		return m.mint(ctx)
	}
	if meta == nil {
		m.logger.Debug("no metadata for requested conversation", "conversation_id", requested)
		return m.mint(ctx)
	}

	now := m.now()
	if now.Sub(meta.LastUsed) >= m.expiry {
		m.logger.Info("conversation expired", "conversation_id", requested, "last_used", meta.LastUsed)
		m.discard(ctx, requested)
		return m.mint(ctx)
	}

	if m.prober != nil {
		if err := m.prober.Validate(ctx, requested); err != nil {
			m.logger.Info("remote validation failed, minting new conversation",
				"conversation_id", requested, "error", err)
			m.discard(ctx, requested)
			return m.mint(ctx)
		}
	}

	if err := m.store.Touch(ctx, requested, now); err != nil {
		m.logger.Warn("failed to refresh last_used", "conversation_id", requested, "error", err)
	}
	return requested, nil
}

// Adopt records a server-minted conversation id so later resolves can reuse
// it.
func (m *Manager) Adopt(ctx context.Context, id string) error {
	now := m.now()
	return m.store.Put(ctx, &storage.ConversationMetadata{ID: id, CreatedAt: now, LastUsed: now})
}

// MarkUsed refreshes last_used after a successful send.
func (m *Manager) MarkUsed(ctx context.Context, id string) {
	if err := m.store.Touch(ctx, id, m.now()); err != nil {
		m.logger.Warn("failed to refresh last_used", "conversation_id", id, "error", err)
	}
}

// Forget discards all local identity for a conversation. Used by the
// client's expired-conversation recovery.
func (m *Manager) Forget(ctx context.Context, id string) {
	m.discard(ctx, id)
}

func (m *Manager) mint(ctx context.Context) (string, error) {
	id := uuid.New().String()
	now := m.now()
	meta := &storage.ConversationMetadata{ID: id, CreatedAt: now, LastUsed: now}
	if err := m.store.Put(ctx, meta); err != nil {
		return "", err
	}
	m.logger.Debug("minted new conversation", "conversation_id", id)
	return id, nil
}

func (m *Manager) discard(ctx context.Context, id string) {
	if err := m.store.Delete(ctx, id); err != nil {
		m.logger.Warn("failed to delete conversation metadata", "conversation_id", id, "error", err)
	}
}

func (m *Manager) sweep(ctx context.Context) {
	cutoff := m.now().Add(-m.expiry)
	evicted, err := m.store.Sweep(ctx, cutoff)
	if err != nil {
		m.logger.Warn("expiry sweep failed", "error", err)
		return
	}
	if len(evicted) > 0 {
		m.logger.Info("evicted expired conversations", "count", len(evicted))
	}
}
