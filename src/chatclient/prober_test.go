package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowscope/flowscope/src/chatapi"
	"github.com/flowscope/flowscope/src/transport"
)

func TestProbeKnownConversation(t *testing.T) {
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"conversation_id": r.URL.Query().Get("conversation_id"),
			"user":            r.URL.Query().Get("user"),
			"limit":           r.URL.Query().Get("limit"),
		}
		json.NewEncoder(w).Encode(chatapi.HistoryPage{ConversationID: "c1"})
	}))
	defer server.Close()

	p := NewHistoryProber(transport.New(nil), server.URL, "key", "tester", nil)
	require.NoError(t, p.Validate(context.Background(), "c1"))

	assert.Equal(t, "c1", gotQuery["conversation_id"])
	assert.Equal(t, "tester", gotQuery["user"])
	assert.Equal(t, "1", gotQuery["limit"])
}

func TestProbeUnknownConversation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(chatapi.ErrorResponse{
			Code:    "conversation_not_exists",
			Message: "Conversation Not Exists.",
		})
	}))
	defer server.Close()

	p := NewHistoryProber(transport.New(nil), server.URL, "key", "tester", nil)
	err := p.Validate(context.Background(), "gone")
	require.Error(t, err)
	assert.True(t, chatapi.IsConversationInvalid(err))
}

func TestProbeSendsAuthHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	p := NewHistoryProber(transport.New(nil), server.URL, "secret", "tester", nil)
	require.NoError(t, p.Validate(context.Background(), "c1"))
	assert.Equal(t, "Bearer secret", gotAuth)
}
