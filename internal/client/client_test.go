package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-widget/internal/model"
	"github.com/capitalize-ai/support-widget/internal/widget"
)

var (
	_ widget.Store     = (*Client)(nil)
	_ widget.Deliverer = (*Client)(nil)
	_ widget.Store     = (*GraphQLStore)(nil)
)

func TestClient_CreateChatSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat-sessions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req model.CreateChatSessionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Ann", req.Name)
		assert.Equal(t, int64(7), req.ChatbotID.Int64())

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":12,"chatbot_id":7,"visitor":{"name":"Ann","email":"ann@x.io"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	session, err := c.CreateChatSession(context.Background(), model.CreateChatSessionRequest{
		Name: "Ann", Email: "ann@x.io", ChatbotID: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), session.ID)
	assert.Equal(t, "ann@x.io", session.Visitor.Email)
}

func TestClient_GetMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat-sessions/12/messages", r.URL.Path)
		_, _ = w.Write([]byte(`{"messages":[
			{"id":1,"chat_session_id":12,"sender":"agent","content":"Welcome Ann!","created_at":"2026-01-02T10:00:00Z"},
			{"id":2,"chat_session_id":12,"sender":"visitor","content":"hours?","created_at":"2026-01-02T10:01:00Z","client_ref":"r1"}
		]}`))
	}))
	defer srv.Close()

	msgs, err := New(srv.URL).GetMessagesByChatSessionID(context.Background(), 12)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.SenderVisitor, msgs[1].Sender)
	assert.Equal(t, "r1", msgs[1].ClientRef)
	assert.Equal(t, time.Date(2026, 1, 2, 10, 1, 0, 0, time.UTC), msgs[1].CreatedAt.UTC())
}

func TestClient_GetMessagesEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messages":null}`))
	}))
	defer srv.Close()

	msgs, err := New(srv.URL).GetMessagesByChatSessionID(context.Background(), 3)
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestClient_Deliver(t *testing.T) {
	var got model.DeliveryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hooks/send", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":42,"content":"9-5 Mon-Fri"}`))
	}))
	defer srv.Close()

	c := New("http://unused.invalid", WithDeliveryURL(srv.URL+"/hooks/send"))
	reply, err := c.Deliver(context.Background(), model.DeliveryRequest{
		Name: "Ann", Content: "hours?", ChatbotID: 7, ChatSessionID: 12, ClientRef: "r1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), reply.ID)
	assert.Equal(t, "9-5 Mon-Fri", reply.Content)
	assert.Equal(t, "r1", got.ClientRef)
	assert.Equal(t, int64(12), got.ChatSessionID.Int64())
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"reply generation failed"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Deliver(context.Background(), model.DeliveryRequest{Name: "Ann", Content: "hi there"})
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusBadGateway))

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "reply generation failed", se.Message)
}

func TestClient_PlainTextErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetChatbotByID(context.Background(), 9)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.Contains(t, err.Error(), "not here")
}

func TestClient_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(srv.URL).Deliver(ctx, model.DeliveryRequest{Name: "Ann", Content: "hi there"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_GetChatbot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chatbots/7", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":7,"name":"Helper","chatbot_characteristics":[{"id":1,"content":"Open 9-5"}]}`))
	}))
	defer srv.Close()

	bot, err := New(srv.URL).GetChatbotByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Helper", bot.Name)
	require.Len(t, bot.Characteristics, 1)
	assert.Equal(t, "Open 9-5", bot.Characteristics[0].Content)
}
