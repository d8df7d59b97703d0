// Package chatclient exposes "send message" over the streaming chat API,
// accumulating partial answer text and usage metadata, and forwarding every
// decoded event to the diagnostics engine so diagnostics sees exactly what
// the client saw.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowscope/flowscope/src/chatapi"
	"github.com/flowscope/flowscope/src/diagnostics"
	"github.com/flowscope/flowscope/src/session"
	"github.com/flowscope/flowscope/src/streamparse"
	"github.com/flowscope/flowscope/src/transport"
)

// SessionResetNotice is the single explanatory message surfaced when the
// server rejects the conversation id and a fresh conversation is started.
const SessionResetNotice = "Your session expired, so a new conversation was started. Please resend your last message."

// ErrConversationReset signals the identity recovery path ran: local
// identity was discarded and a new conversation minted. The caller decides
// whether to resend; the client never resends on its own.
var ErrConversationReset = errors.New("conversation was reset")

// Diagnostics is the side channel every decoded event and parameter
// snapshot is forwarded to.
type Diagnostics interface {
	RecordEvent(ev *chatapi.WorkflowEvent)
	CompareParameters(conversationID string, params map[string]any, messageIndex int) *diagnostics.ParameterComparison
}

// Config holds the client settings.
type Config struct {
	BaseURL string
	APIKey  string
	User    string
	// MessagePolicy and WorkflowPolicy override the transport defaults.
	MessagePolicy  *transport.Policy
	WorkflowPolicy *transport.Policy
}

// SendOptions controls one send.
type SendOptions struct {
	// Inputs are the request parameters audited for drift per conversation.
	Inputs map[string]any
	// Streaming selects streaming mode; blocking otherwise.
	Streaming bool
	// Workflow marks the send as workflow-class: extended timeout, fewer
	// retries.
	Workflow bool
	// OnUpdate receives the accumulated answer text after each delta.
	OnUpdate func(contentSoFar string)
}

// Client sends messages over one logical conversation. Only one send may be
// in flight per client; starting a new send aborts the previous one.
type Client struct {
	cfg       Config
	transport *transport.Transport
	parser    *streamparse.Parser
	sessions  *session.Manager
	diag      Diagnostics
	logger    *slog.Logger
	now       func() time.Time

	msgPolicy transport.Policy
	wfPolicy  transport.Policy

	mu             sync.Mutex
	conversationID string
	messageIndex   int
	cancelInFlight context.CancelFunc
	messages       []*ChatMessage
}

// New creates a Client. diag may be nil to run without diagnostics.
func New(cfg Config, t *transport.Transport, sessions *session.Manager, diag Diagnostics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:       cfg,
		transport: t,
		parser:    streamparse.New(logger),
		sessions:  sessions,
		diag:      diag,
		logger:    logger.With("component", "chat_client"),
		now:       time.Now,
		msgPolicy: transport.MessagePolicy(),
		wfPolicy:  transport.WorkflowPolicy(),
	}
	if cfg.MessagePolicy != nil {
		c.msgPolicy = *cfg.MessagePolicy
	}
	if cfg.WorkflowPolicy != nil {
		c.wfPolicy = *cfg.WorkflowPolicy
	}
	return c
}

// ConversationID returns the id the client is currently bound to, empty
// before the first send.
func (c *Client) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Messages returns a copy of the local message accumulator.
func (c *Client) Messages() []*ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// SendMessage sends text and returns the finalized assistant message. In
// streaming mode partial content is republished through opts.OnUpdate as
// deltas arrive.
func (c *Client) SendMessage(ctx context.Context, text string, opts SendOptions) (*ChatMessage, error) {
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.cancelInFlight != nil {
		// One in-flight send per client: the previous one is aborted, not
		// error-reported.
		c.cancelInFlight()
	}
	c.cancelInFlight = cancel
	c.messageIndex++
	messageIndex := c.messageIndex
	requested := c.conversationID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		// Only clear our own handle; a newer send may have replaced it.
		if c.messageIndex == messageIndex {
			c.cancelInFlight = nil
		}
		c.mu.Unlock()
	}()

	conversationID, err := c.sessions.Resolve(sendCtx, requested)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conversation: %w", err)
	}
	c.setConversationID(conversationID)

	if c.diag != nil {
		c.diag.CompareParameters(conversationID, opts.Inputs, messageIndex)
	}

	userMsg := &ChatMessage{
		ID:        uuid.New().String(),
		Role:      chatapi.RoleUser,
		Content:   text,
		Timestamp: c.now(),
	}
	assistant := &ChatMessage{
		ID:          uuid.New().String(),
		Role:        chatapi.RoleAssistant,
		Timestamp:   c.now(),
		IsStreaming: true,
	}
	c.appendMessages(userMsg, assistant)

	policy := c.msgPolicy
	if opts.Workflow {
		policy = c.wfPolicy
	}

	mode := chatapi.ResponseModeBlocking
	if opts.Streaming {
		mode = chatapi.ResponseModeStreaming
	}
	body, err := json.Marshal(&chatapi.ChatRequest{
		Message:        text,
		User:           c.cfg.User,
		ConversationID: conversationID,
		Inputs:         opts.Inputs,
		ResponseMode:   mode,
	})
	if err != nil {
		assistant.fail(err.Error())
		return assistant, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.transport.Do(sendCtx, transport.Request{
		Method: http.MethodPost,
		URL:    c.cfg.BaseURL + "/chat-messages",
		Header: c.headers(),
		Body:   body,
	}, policy)
	if err != nil {
		if sendCtx.Err() != nil && ctx.Err() == nil {
			// Superseded by a newer send: freeze silently.
			assistant.freeze()
			return assistant, chatapi.ErrSendInFlight
		}
		assistant.fail(err.Error())
		return assistant, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := decodeAPIError(resp)
		return c.handleSendError(sendCtx, assistant, conversationID, apiErr)
	}

	if opts.Streaming {
		return c.consumeStream(sendCtx, ctx, resp.Body, assistant, conversationID, opts.OnUpdate)
	}
	return c.consumeBlocking(sendCtx, resp.Body, assistant, conversationID)
}

// consumeBlocking applies a single JSON response: content and usage are set
// atomically and the conversation id is updated from the response.
func (c *Client) consumeBlocking(ctx context.Context, body io.Reader, assistant *ChatMessage, conversationID string) (*ChatMessage, error) {
	var result chatapi.ChatResponse
	if err := json.NewDecoder(body).Decode(&result); err != nil {
		assistant.fail(err.Error())
		return assistant, fmt.Errorf("failed to decode response: %w", err)
	}

	assistant.Content = result.Answer
	assistant.Usage = result.Usage
	assistant.freeze()

	c.adoptConversationID(ctx, conversationID, result.ConversationID)
	c.sessions.MarkUsed(ctx, c.ConversationID())

	c.logger.Info("message sent", "conversation_id", c.ConversationID(),
		"answer_len", len(result.Answer))
	return assistant, nil
}

// consumeStream feeds frames through the parser, appending each message
// delta and forwarding every decoded event to diagnostics.
func (c *Client) consumeStream(sendCtx, callerCtx context.Context, body io.Reader, assistant *ChatMessage, conversationID string, onUpdate func(string)) (*ChatMessage, error) {
	var streamErr *chatapi.APIError
	done := false

	err := c.parser.Parse(body, func(frame *chatapi.StreamFrame) error {
		if err := sendCtx.Err(); err != nil {
			return err
		}

		if c.diag != nil {
			c.diag.RecordEvent(frame.ToEvent(conversationID, uuid.New().String(), c.now()))
		}

		switch frame.Event {
		case chatapi.EventMessage:
			assistant.Content += frame.Answer
			if onUpdate != nil {
				onUpdate(assistant.Content)
			}

		case chatapi.EventMessageEnd:
			assistant.freeze()
			if frame.Metadata != nil {
				assistant.Usage = frame.Metadata.Usage
			}
			c.adoptConversationID(sendCtx, conversationID, frame.ConversationID)
			done = true

		case chatapi.EventError:
			streamErr = &chatapi.APIError{
				StatusCode: frame.Status,
				Code:       frame.Code,
				Message:    frame.Message,
			}
			return chatapi.ErrStreamClosed
		}
		return nil
	})

	if streamErr != nil {
		return c.handleSendError(sendCtx, assistant, conversationID, streamErr)
	}
	if err != nil {
		if sendCtx.Err() != nil {
			// Aborted: partial content stays visible, frozen, no error set.
			assistant.freeze()
			if callerCtx.Err() != nil {
				return assistant, callerCtx.Err()
			}
			return assistant, chatapi.ErrSendInFlight
		}
		assistant.fail(err.Error())
		return assistant, err
	}

	if !done {
		// Stream ended without message_end; freeze what we have.
		assistant.freeze()
	}
	c.sessions.MarkUsed(sendCtx, c.ConversationID())

	c.logger.Info("stream completed", "conversation_id", c.ConversationID(),
		"answer_len", len(assistant.Content))
	return assistant, nil
}

// handleSendError applies the error taxonomy. Conversation-identity errors
// trigger recovery: local identity is discarded, a fresh conversation is
// minted, and the surfaced message is the fixed reset notice rather than the
// raw server error. The user's message is not resent; that is the caller's
// choice.
func (c *Client) handleSendError(ctx context.Context, assistant *ChatMessage, conversationID string, apiErr *chatapi.APIError) (*ChatMessage, error) {
	if !apiErr.IsConversationInvalid() {
		assistant.fail(apiErr.Message)
		return assistant, apiErr
	}

	c.logger.Warn("conversation rejected by server, resetting identity",
		"conversation_id", conversationID, "error", apiErr)

	c.sessions.Forget(ctx, conversationID)
	c.setConversationID("")

	freshID, err := c.sessions.Resolve(ctx, "")
	if err != nil {
		assistant.fail(apiErr.Message)
		return assistant, fmt.Errorf("failed to start replacement conversation: %w", err)
	}
	c.setConversationID(freshID)

	assistant.Content = SessionResetNotice
	assistant.freeze()
	return assistant, ErrConversationReset
}

// adoptConversationID switches the client to a server-minted id for the
// rest of its lifetime.
func (c *Client) adoptConversationID(ctx context.Context, requested, received string) {
	if received == "" || received == requested {
		return
	}
	c.logger.Info("adopting server conversation id",
		"requested", requested, "received", received)
	if err := c.sessions.Adopt(ctx, received); err != nil {
		c.logger.Warn("failed to persist adopted conversation", "conversation_id", received, "error", err)
	}
	c.setConversationID(received)
}

func (c *Client) setConversationID(id string) {
	c.mu.Lock()
	c.conversationID = id
	c.mu.Unlock()
}

func (c *Client) appendMessages(msgs ...*ChatMessage) {
	c.mu.Lock()
	c.messages = append(c.messages, msgs...)
	c.mu.Unlock()
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		h.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	return h
}

// decodeAPIError processes an error response body into an APIError.
func decodeAPIError(resp *http.Response) *chatapi.APIError {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &chatapi.APIError{StatusCode: resp.StatusCode, Message: "failed to read error response"}
	}

	apiErr := &chatapi.APIError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-ID"),
	}
	var envelope chatapi.ErrorResponse
	if jsonErr := json.Unmarshal(body, &envelope); jsonErr == nil && (envelope.Message != "" || envelope.Code != "") {
		apiErr.Code = envelope.Code
		apiErr.Message = envelope.Message
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}
