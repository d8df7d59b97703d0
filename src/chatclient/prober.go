package chatclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/flowscope/flowscope/src/chatapi"
	"github.com/flowscope/flowscope/src/transport"
)

// HistoryProber validates a conversation id remotely by fetching the first
// page of its message history. It backs the session manager's existence
// check.
type HistoryProber struct {
	transport *transport.Transport
	baseURL   string
	apiKey    string
	user      string
	policy    transport.Policy
	logger    *slog.Logger
}

// NewHistoryProber creates a prober. The probe is lightweight, so it gets a
// short timeout and a single retry.
func NewHistoryProber(t *transport.Transport, baseURL, apiKey, user string, logger *slog.Logger) *HistoryProber {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryProber{
		transport: t,
		baseURL:   baseURL,
		apiKey:    apiKey,
		user:      user,
		policy: transport.Policy{
			Timeout:    30 * time.Second,
			MaxRetries: 1,
			RetryDelay: 500 * time.Millisecond,
		},
		logger: logger.With("component", "history_prober"),
	}
}

// Validate returns nil when the server still knows the conversation.
func (p *HistoryProber) Validate(ctx context.Context, conversationID string) error {
	query := url.Values{}
	query.Set("conversation_id", conversationID)
	query.Set("user", p.user)
	query.Set("limit", "1")

	header := http.Header{}
	if p.apiKey != "" {
		header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.transport.Do(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    p.baseURL + "/messages?" + query.Encode(),
		Header: header,
	}, p.policy)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}

	var page chatapi.HistoryPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		p.logger.Debug("history probe returned undecodable body", "error", err)
	}
	return nil
}
