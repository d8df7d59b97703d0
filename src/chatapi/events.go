package chatapi

import (
	"encoding/json"
	"time"
)

// EventKind discriminates stream frames and workflow events.
type EventKind string

const (
	EventMessage          EventKind = "message"
	EventMessageEnd       EventKind = "message_end"
	EventWorkflowStarted  EventKind = "workflow_started"
	EventWorkflowFinished EventKind = "workflow_finished"
	EventNodeStarted      EventKind = "node_started"
	EventNodeFinished     EventKind = "node_finished"
	EventError            EventKind = "error"
)

// Valid reports whether the kind is one the server is allowed to send.
func (k EventKind) Valid() bool {
	switch k {
	case EventMessage, EventMessageEnd, EventWorkflowStarted,
		EventWorkflowFinished, EventNodeStarted, EventNodeFinished, EventError:
		return true
	}
	return false
}

// StreamFrame is a single decoded frame from the event stream, as sent by
// the server. Frames are tagged with an "event" discriminator; the rest of
// the fields are populated depending on the kind.
type StreamFrame struct {
	Event          EventKind       `json:"event"`
	ID             string          `json:"id,omitempty"`
	MessageID      string          `json:"message_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Answer         string          `json:"answer,omitempty"`
	CreatedAt      int64           `json:"created_at,omitempty"`
	Metadata       *FrameMetadata  `json:"metadata,omitempty"`
	Data           *FrameNodeData  `json:"data,omitempty"`
	Status         int             `json:"status,omitempty"`
	Code           string          `json:"code,omitempty"`
	Message        string          `json:"message,omitempty"`
	Raw            json.RawMessage `json:"-"`
}

// FrameMetadata is attached to message_end frames.
type FrameMetadata struct {
	Usage *Usage `json:"usage,omitempty"`
}

// FrameNodeData is attached to node_started/node_finished frames.
type FrameNodeData struct {
	NodeID string `json:"node_id,omitempty"`
	// Title is the human-readable node name.
	Title string `json:"title,omitempty"`
	// ExecutionTime is the node's execution time in milliseconds,
	// reported on node_finished.
	ExecutionTime *float64 `json:"execution_time,omitempty"`
	Status        string   `json:"status,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// WorkflowEvent is the normalized, append-only event record consumed by the
// diagnostics engine. Never mutated after creation.
type WorkflowEvent struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id"`
	Kind           EventKind `json:"kind"`
	NodeID         string    `json:"node_id,omitempty"`
	NodeName       string    `json:"node_name,omitempty"`
	// ExecutionTime is in milliseconds when the server reported one.
	ExecutionTime *float64        `json:"execution_time,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// ToEvent normalizes a frame into a WorkflowEvent. The conversation id
// falls back to the one the caller resolved when the frame omits it.
func (f *StreamFrame) ToEvent(conversationID string, id string, now time.Time) *WorkflowEvent {
	ev := &WorkflowEvent{
		ID:             id,
		Timestamp:      now,
		ConversationID: f.ConversationID,
		Kind:           f.Event,
		Payload:        f.Raw,
	}
	if ev.ConversationID == "" {
		ev.ConversationID = conversationID
	}
	if f.Data != nil {
		ev.NodeID = f.Data.NodeID
		ev.NodeName = f.Data.Title
		ev.ExecutionTime = f.Data.ExecutionTime
	}
	return ev
}
