package chatclient

import (
	"time"

	"github.com/flowscope/flowscope/src/chatapi"
)

// ChatMessage is one message in the client's local accumulator. User
// messages are immutable once created; assistant messages are mutated in
// place while the stream is open and frozen on message end, error, or
// abort.
type ChatMessage struct {
	ID          string         `json:"id"`
	Role        string         `json:"role"`
	Content     string         `json:"content"`
	Timestamp   time.Time      `json:"timestamp"`
	IsStreaming bool           `json:"is_streaming"`
	Error       string         `json:"error,omitempty"`
	Usage       *chatapi.Usage `json:"usage,omitempty"`
}

// freeze marks the message as no longer streaming.
func (m *ChatMessage) freeze() {
	m.IsStreaming = false
}

// fail freezes the message and attaches the failure text.
func (m *ChatMessage) fail(msg string) {
	m.freeze()
	m.Error = msg
}
