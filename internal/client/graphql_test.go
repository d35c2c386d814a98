package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-widget/internal/model"
	"github.com/capitalize-ai/support-widget/pkg/logger"
)

type gqlRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

// fakeGraphQL answers each operation with a canned data object and records requests.
type fakeGraphQL struct {
	mu        sync.Mutex
	responses map[string]string
	requests  []gqlRequest
	auth      []string
}

func (f *fakeGraphQL) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req gqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	body, ok := f.responses[req.OperationName]
	f.mu.Unlock()
	if !ok {
		body = `{"errors":[{"message":"unknown operation"}]}`
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func (f *fakeGraphQL) calls() ([]gqlRequest, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gqlRequest(nil), f.requests...), append([]string(nil), f.auth...)
}

func newFakeGraphQL(t *testing.T, responses map[string]string) (*fakeGraphQL, *GraphQLStore) {
	t.Helper()
	fake := &fakeGraphQL{responses: responses}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	store := NewGraphQLStore(srv.URL, "secret", WithGraphQLLogger(logger.Nop()))
	store.now = func() time.Time { return time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC) }
	return fake, store
}

func TestGraphQLStore_GetMessagesMapsSenders(t *testing.T) {
	fake, store := newFakeGraphQL(t, map[string]string{
		"GetMessagesByChatSessionId": `{"data":{"chat_sessions":{"id":12,"messages":[
			{"id":"1","content":"Welcome Ann!","created_at":"2026-01-02T10:00:00Z","sender":"ai"},
			{"id":2,"content":"hours?","created_at":"2026-01-02T10:01:00Z","sender":"user"}
		]}}}`,
	})

	msgs, err := store.GetMessagesByChatSessionID(context.Background(), 12)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), msgs[0].ID)
	assert.Equal(t, model.SenderAgent, msgs[0].Sender)
	assert.Equal(t, model.SenderVisitor, msgs[1].Sender)
	assert.Equal(t, int64(12), msgs[1].ChatSessionID)

	reqs, auth := fake.calls()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Apikey secret", auth[0])
	assert.Equal(t, float64(12), reqs[0].Variables["chat_session_id"])
}

func TestGraphQLStore_MissingSession(t *testing.T) {
	_, store := newFakeGraphQL(t, map[string]string{
		"GetMessagesByChatSessionId": `{"data":{"chat_sessions":null}}`,
	})

	_, err := store.GetMessagesByChatSessionID(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestGraphQLStore_Errors(t *testing.T) {
	_, store := newFakeGraphQL(t, map[string]string{
		"GetChatbotById": `{"errors":[{"message":"bad key"},{"message":"denied"}]}`,
	})

	_, err := store.GetChatbotByID(context.Background(), 7)
	require.Error(t, err)

	var gqlErr GraphQLErrors
	require.ErrorAs(t, err, &gqlErr)
	assert.Equal(t, "graphql: bad key; denied", err.Error())
}

func TestGraphQLStore_GetChatbot(t *testing.T) {
	_, store := newFakeGraphQL(t, map[string]string{
		"GetChatbotById": `{"data":{"chatbots":{"id":7,"name":"Helper","chatbot_characteristics":[
			{"id":3,"content":"Open 9-5"}
		]}}}`,
	})

	bot, err := store.GetChatbotByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Helper", bot.Name)
	require.Len(t, bot.Characteristics, 1)
	assert.Equal(t, int64(7), bot.Characteristics[0].ChatbotID)
}

func TestGraphQLStore_CreateChatSession(t *testing.T) {
	fake, store := newFakeGraphQL(t, map[string]string{
		"InsertGuest":       `{"data":{"insertGuests":{"id":5}}}`,
		"InsertChatSession": `{"data":{"insertChat_sessions":{"id":"12"}}}`,
		"InsertMessage":     `{"data":{"insertMessages":{"id":1}}}`,
	})

	session, err := store.CreateChatSession(context.Background(), model.CreateChatSessionRequest{
		Name: "Ann", Email: "ann@x.io", ChatbotID: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), session.ID)
	assert.Equal(t, int64(7), session.ChatbotID)
	assert.Equal(t, time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC), session.CreatedAt)

	reqs, _ := fake.calls()
	require.Len(t, reqs, 3)
	assert.Equal(t, "ann@x.io", reqs[0].Variables["email"])
	assert.Equal(t, float64(5), reqs[1].Variables["guest_id"])
	assert.Equal(t, "ai", reqs[2].Variables["sender"])
	assert.Equal(t, "Welcome Ann!\n How can I assist you today?", reqs[2].Variables["content"])
}

func TestGraphQLStore_CreateChatSessionWithoutGreeting(t *testing.T) {
	fake, store := newFakeGraphQL(t, map[string]string{
		"InsertGuest":       `{"data":{"insertGuests":{"id":5}}}`,
		"InsertChatSession": `{"data":{"insertChat_sessions":{"id":12}}}`,
	})
	WithoutGreeting()(store)

	_, err := store.CreateChatSession(context.Background(), model.CreateChatSessionRequest{
		Name: "Ann", Email: "ann@x.io", ChatbotID: 7,
	})
	require.NoError(t, err)
	reqs, _ := fake.calls()
	assert.Len(t, reqs, 2)
}

func TestGraphQLStore_CreateChatSessionFailure(t *testing.T) {
	_, store := newFakeGraphQL(t, map[string]string{
		"InsertGuest": `{"data":{"insertGuests":{"id":5}}}`,
	})

	_, err := store.CreateChatSession(context.Background(), model.CreateChatSessionRequest{
		Name: "Ann", Email: "ann@x.io", ChatbotID: 7,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert chat session")
}

func TestGraphQLStore_GreetingFailureKeepsSession(t *testing.T) {
	fake, store := newFakeGraphQL(t, map[string]string{
		"InsertGuest":       `{"data":{"insertGuests":{"id":5}}}`,
		"InsertChatSession": `{"data":{"insertChat_sessions":{"id":12}}}`,
		"InsertMessage":     `{"errors":[{"message":"messages table locked"}]}`,
	})

	session, err := store.CreateChatSession(context.Background(), model.CreateChatSessionRequest{
		Name: "Ann", Email: "ann@x.io", ChatbotID: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), session.ID)

	reqs, _ := fake.calls()
	require.Len(t, reqs, 3)
	assert.Equal(t, "InsertMessage", reqs[2].OperationName)
}
