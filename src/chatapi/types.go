// Package chatapi defines the wire types shared between the conversation
// client and the workflow diagnostics engine.
package chatapi

import (
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Response modes accepted by the chat endpoint.
const (
	ResponseModeBlocking  = "blocking"
	ResponseModeStreaming = "streaming"
)

// ChatRequest is the JSON body sent to the chat endpoint.
type ChatRequest struct {
	Message        string         `json:"message"`
	User           string         `json:"user"`
	ConversationID string         `json:"conversationId,omitempty"`
	Inputs         map[string]any `json:"inputs,omitempty"`
	ResponseMode   string         `json:"response_mode,omitempty"`
}

// ChatResponse is the blocking-mode response body.
type ChatResponse struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Answer         string `json:"answer"`
	CreatedAt      int64  `json:"created_at,omitempty"`
	Usage          *Usage `json:"usage,omitempty"`
}

// Usage carries token accounting reported by the server on message end.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens"`
	TotalPrice       string  `json:"total_price,omitempty"`
	Latency          float64 `json:"latency,omitempty"`
}

// HistoryPage is the first page of a conversation's message history,
// used by the session manager as a lightweight existence probe.
type HistoryPage struct {
	ConversationID string           `json:"conversation_id"`
	HasMore        bool             `json:"has_more"`
	Data           []HistoryMessage `json:"data"`
}

// HistoryMessage is a single persisted message in a history page.
type HistoryMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
