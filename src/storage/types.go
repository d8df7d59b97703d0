package storage

import "time"

// ConversationMetadata is the persisted identity record for one logical
// conversation. An id is valid only while now-LastUsed is inside the expiry
// window and the remote existence check succeeds.
type ConversationMetadata struct {
	ID        string    `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	LastUsed  time.Time `json:"last_used" db:"last_used"`
}

// DiagnosticsState is a serialized diagnostics engine snapshot, stored as an
// opaque blob keyed by a state name.
type DiagnosticsState struct {
	Key       string    `json:"key" db:"key"`
	Data      []byte    `json:"data" db:"data"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
