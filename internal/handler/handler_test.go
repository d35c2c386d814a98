package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/support-widget/internal/llm"
	"github.com/capitalize-ai/support-widget/internal/model"
	"github.com/capitalize-ai/support-widget/internal/service"
	"github.com/capitalize-ai/support-widget/internal/store"
	"github.com/capitalize-ai/support-widget/pkg/logger"
)

type fakeReplier struct {
	err error
}

func (f *fakeReplier) Reply(_ context.Context, _ *model.Chatbot, _ string, _ []model.Message, content string) (*llm.CompletionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	if content == "What are your hours?" {
		return &llm.CompletionResponse{Content: "9-5 Mon-Fri"}, nil
	}
	return &llm.CompletionResponse{Content: "re: " + content}, nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func newTestServer(t *testing.T, replier service.Replier) *httptest.Server {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	require.NoError(t, repo.PutChatbot(context.Background(), &model.Chatbot{
		ID:              7,
		Name:            "Helper",
		Characteristics: []model.Characteristic{{Content: "Open 9-5 Mon-Fri"}},
	}))
	require.NoError(t, repo.PutChatbot(context.Background(), &model.Chatbot{ID: 8, Name: "Billing"}))

	log := logger.Nop()
	router := NewRouter(RouterConfig{
		Logger:          log,
		Health:          NewHealthHandler(repo),
		Sessions:        NewSessionHandler(service.NewSessionService(repo, true, log), log),
		Messages:        NewMessageHandler(service.NewMessageService(repo, replier, log), log),
		RateLimitWindow: time.Minute,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func createSession(t *testing.T, srv *httptest.Server) int64 {
	t.Helper()
	resp, body := do(t, srv, http.MethodPost, "/api/chat-sessions", `{"name":"Ann","email":"ann@x.com","chatbot_id":7}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return int64(body["id"].(float64))
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeReplier{})

	resp, body := do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, body = do(t, srv, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
}

func TestReady_StoreDown(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(failingPinger{}).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetChatbot(t *testing.T) {
	srv := newTestServer(t, &fakeReplier{})

	resp, body := do(t, srv, http.MethodGet, "/api/chatbots/7", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Helper", body["name"])
	chars := body["chatbot_characteristics"].([]interface{})
	require.Len(t, chars, 1)

	resp, _ = do(t, srv, http.MethodGet, "/api/chatbots/99", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodGet, "/api/chatbots/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateChatSession(t *testing.T) {
	srv := newTestServer(t, &fakeReplier{})

	id := createSession(t, srv)
	assert.NotZero(t, id)

	resp, body := do(t, srv, http.MethodGet, "/api/chat-sessions/"+itoa(id)+"/messages", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := body["messages"].([]interface{})
	require.Len(t, msgs, 1)
	greeting := msgs[0].(map[string]interface{})
	assert.Equal(t, "agent", greeting["sender"])
	assert.Equal(t, "Welcome Ann!\n How can I assist you today?", greeting["content"])
}

func TestCreateChatSession_Invalid(t *testing.T) {
	srv := newTestServer(t, &fakeReplier{})

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "malformed", body: `{`, status: http.StatusBadRequest},
		{name: "missing name", body: `{"email":"ann@x.com","chatbot_id":7}`, status: http.StatusBadRequest},
		{name: "bad email", body: `{"name":"Ann","email":"ann","chatbot_id":7}`, status: http.StatusBadRequest},
		{name: "unknown chatbot", body: `{"name":"Ann","email":"ann@x.com","chatbot_id":99}`, status: http.StatusNotFound},
		{name: "string id", body: `{"name":"Ann","email":"ann@x.com","chatbot_id":"7"}`, status: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := do(t, srv, http.MethodPost, "/api/chat-sessions", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestSendMessage(t *testing.T) {
	srv := newTestServer(t, &fakeReplier{})
	id := createSession(t, srv)

	body := `{"name":"Ann","content":"What are your hours?","chatbot_id":"7","chat_session_id":"` + itoa(id) + `","client_ref":"ref-1"}`
	resp, reply := do(t, srv, http.MethodPost, "/api/send-message", body)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "9-5 Mon-Fri", reply["content"])
	assert.NotZero(t, reply["id"])

	_, list := do(t, srv, http.MethodGet, "/api/chat-sessions/"+itoa(id)+"/messages", "")
	msgs := list["messages"].([]interface{})
	require.Len(t, msgs, 3)
	last := msgs[2].(map[string]interface{})
	assert.Equal(t, reply["id"], last["id"])
	assert.Equal(t, "ref-1", last["client_ref"])

	// Redelivering the same exchange returns the stored reply.
	resp, again := do(t, srv, http.MethodPost, "/api/send-message", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, reply["id"], again["id"])
}

func TestSendMessage_Errors(t *testing.T) {
	srv := newTestServer(t, &fakeReplier{})
	id := itoa(createSession(t, srv))

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "malformed", body: `nope`, status: http.StatusBadRequest},
		{name: "empty content", body: `{"name":"Ann","content":"  ","chatbot_id":7,"chat_session_id":` + id + `}`, status: http.StatusBadRequest},
		{name: "missing session", body: `{"name":"Ann","content":"hi","chatbot_id":7}`, status: http.StatusBadRequest},
		{name: "unknown session", body: `{"name":"Ann","content":"hi","chatbot_id":7,"chat_session_id":9999}`, status: http.StatusNotFound},
		{name: "wrong chatbot", body: `{"name":"Ann","content":"hi","chatbot_id":8,"chat_session_id":` + id + `}`, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, srv, http.MethodPost, "/api/send-message", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestSendMessage_ReplyFailure(t *testing.T) {
	srv := newTestServer(t, &fakeReplier{err: errors.New("overloaded")})
	id := itoa(createSession(t, srv))

	resp, body := do(t, srv, http.MethodPost, "/api/send-message",
		`{"name":"Ann","content":"hi there","chatbot_id":7,"chat_session_id":`+id+`}`)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "agent reply unavailable", body["error"])
}

func TestListMessages_UnknownSession(t *testing.T) {
	srv := newTestServer(t, &fakeReplier{})

	resp, _ := do(t, srv, http.MethodGet, "/api/chat-sessions/9999/messages", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodGet, "/api/chat-sessions/0/messages", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
