package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-widget/internal/model"
	"github.com/capitalize-ai/support-widget/pkg/logger"
	"github.com/capitalize-ai/support-widget/pkg/tracing"
)

// GreetingFormat is the first agent message written into a new session.
const GreetingFormat = "Welcome %s!\n How can I assist you today?"

const (
	getChatbotByIDQuery = `query GetChatbotById($id: Int!) {
  chatbots(id: $id) {
    id
    name
    created_at
    chatbot_characteristics {
      id
      content
      created_at
    }
  }
}`

	getMessagesByChatSessionIDQuery = `query GetMessagesByChatSessionId($chat_session_id: Int!) {
  chat_sessions(id: $chat_session_id) {
    id
    created_at
    messages {
      id
      content
      created_at
      sender
    }
  }
}`

	insertGuestMutation = `mutation InsertGuest($name: String!, $email: String!, $created_at: DateTime!) {
  insertGuests(name: $name, email: $email, created_at: $created_at) {
    id
  }
}`

	insertChatSessionMutation = `mutation InsertChatSession($chatbot_id: Int!, $guest_id: Int!, $created_at: DateTime!) {
  insertChat_sessions(chatbot_id: $chatbot_id, guest_id: $guest_id, created_at: $created_at) {
    id
    created_at
  }
}`

	insertMessageMutation = `mutation InsertMessage($chat_session_id: Int!, $content: String!, $sender: String!, $created_at: DateTime!) {
  insertMessages(chat_session_id: $chat_session_id, content: $content, sender: $sender, created_at: $created_at) {
    id
  }
}`
)

// GraphQLError is one entry of a GraphQL response's errors array.
type GraphQLError struct {
	Message string `json:"message"`
}

// GraphQLErrors is returned when the server answers with errors and no data.
type GraphQLErrors []GraphQLError

func (e GraphQLErrors) Error() string {
	return "graphql: " + strings.Join(lo.Map(e, func(g GraphQLError, _ int) string { return g.Message }), "; ")
}

// GraphQLStore reads and creates sessions through the hosted GraphQL endpoint.
// Senders are stored there as "user" and "ai".
type GraphQLStore struct {
	endpoint string
	apiKey   string
	http     *http.Client
	greeting bool
	logger   *logger.Logger
	now      func() time.Time
}

// GraphQLOption configures a GraphQLStore.
type GraphQLOption func(*GraphQLStore)

// WithGraphQLHTTPClient replaces the underlying HTTP client.
func WithGraphQLHTTPClient(hc *http.Client) GraphQLOption {
	return func(s *GraphQLStore) { s.http = hc }
}

// WithoutGreeting skips writing the welcome message into new sessions.
func WithoutGreeting() GraphQLOption {
	return func(s *GraphQLStore) { s.greeting = false }
}

// WithGraphQLLogger sets the logger for failures that do not fail the call.
func WithGraphQLLogger(l *logger.Logger) GraphQLOption {
	return func(s *GraphQLStore) { s.logger = l }
}

// NewGraphQLStore creates a store for the endpoint, authenticating with apiKey.
func NewGraphQLStore(endpoint, apiKey string, opts ...GraphQLOption) *GraphQLStore {
	s := &GraphQLStore{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
		greeting: true,
		logger:   logger.Global(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type gqlMessage struct {
	ID        model.FlexInt `json:"id"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"created_at"`
	Sender    string        `json:"sender"`
}

type gqlCharacteristic struct {
	ID        model.FlexInt `json:"id"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"created_at"`
}

type gqlChatbot struct {
	ID              model.FlexInt       `json:"id"`
	Name            string              `json:"name"`
	CreatedAt       time.Time           `json:"created_at"`
	Characteristics []gqlCharacteristic `json:"chatbot_characteristics"`
}

// GetChatbotByID loads a chatbot and its characteristics.
func (s *GraphQLStore) GetChatbotByID(ctx context.Context, id int64) (*model.Chatbot, error) {
	var data struct {
		Chatbots *gqlChatbot `json:"chatbots"`
	}
	if err := s.query(ctx, "GetChatbotById", getChatbotByIDQuery, map[string]interface{}{"id": id}, &data); err != nil {
		return nil, err
	}
	if data.Chatbots == nil {
		return nil, &StatusError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("chatbot %d not found", id)}
	}
	bot := data.Chatbots
	return &model.Chatbot{
		ID:        bot.ID.Int64(),
		Name:      bot.Name,
		CreatedAt: bot.CreatedAt,
		Characteristics: lo.Map(bot.Characteristics, func(c gqlCharacteristic, _ int) model.Characteristic {
			return model.Characteristic{
				ID:        c.ID.Int64(),
				ChatbotID: bot.ID.Int64(),
				Content:   c.Content,
				CreatedAt: c.CreatedAt,
			}
		}),
	}, nil
}

// GetMessagesByChatSessionID lists a session's messages in the order the server returns them.
func (s *GraphQLStore) GetMessagesByChatSessionID(ctx context.Context, sessionID int64) ([]model.Message, error) {
	var data struct {
		ChatSessions *struct {
			Messages []gqlMessage `json:"messages"`
		} `json:"chat_sessions"`
	}
	vars := map[string]interface{}{"chat_session_id": sessionID}
	if err := s.query(ctx, "GetMessagesByChatSessionId", getMessagesByChatSessionIDQuery, vars, &data); err != nil {
		return nil, err
	}
	if data.ChatSessions == nil {
		return nil, &StatusError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("chat session %d not found", sessionID)}
	}
	return lo.Map(data.ChatSessions.Messages, func(m gqlMessage, _ int) model.Message {
		return model.Message{
			ID:            m.ID.Int64(),
			ChatSessionID: sessionID,
			Sender:        senderFromGraphQL(m.Sender),
			Content:       m.Content,
			CreatedAt:     m.CreatedAt,
		}
	}), nil
}

// CreateChatSession registers the visitor as a guest, opens a session and
// writes the greeting. A failed greeting is logged; the session is still returned.
func (s *GraphQLStore) CreateChatSession(ctx context.Context, req model.CreateChatSessionRequest) (*model.ChatSession, error) {
	now := s.now().UTC()

	var guest struct {
		InsertGuests struct {
			ID model.FlexInt `json:"id"`
		} `json:"insertGuests"`
	}
	err := s.query(ctx, "InsertGuest", insertGuestMutation, map[string]interface{}{
		"name":       req.Name,
		"email":      req.Email,
		"created_at": now,
	}, &guest)
	if err != nil {
		return nil, fmt.Errorf("insert guest: %w", err)
	}

	var session struct {
		InsertChatSessions struct {
			ID        model.FlexInt `json:"id"`
			CreatedAt time.Time     `json:"created_at"`
		} `json:"insertChat_sessions"`
	}
	err = s.query(ctx, "InsertChatSession", insertChatSessionMutation, map[string]interface{}{
		"chatbot_id": req.ChatbotID.Int64(),
		"guest_id":   guest.InsertGuests.ID.Int64(),
		"created_at": now,
	}, &session)
	if err != nil {
		return nil, fmt.Errorf("insert chat session: %w", err)
	}
	id := session.InsertChatSessions.ID.Int64()
	if id <= 0 {
		return nil, errors.New("insert chat session: no id returned")
	}

	if s.greeting {
		err = s.query(ctx, "InsertMessage", insertMessageMutation, map[string]interface{}{
			"chat_session_id": id,
			"content":         fmt.Sprintf(GreetingFormat, req.Name),
			"sender":          senderToGraphQL(model.SenderAgent),
			"created_at":      now,
		}, nil)
		if err != nil {
			s.logger.Warn("failed to store greeting",
				zap.Int64("chat_session_id", id),
				zap.Error(err),
			)
		}
	}

	created := session.InsertChatSessions.CreatedAt
	if created.IsZero() {
		created = now
	}
	return &model.ChatSession{
		ID:        id,
		ChatbotID: req.ChatbotID.Int64(),
		Visitor:   model.Visitor{Name: req.Name, Email: req.Email},
		CreatedAt: created,
	}, nil
}

func (s *GraphQLStore) query(ctx context.Context, op, query string, vars map[string]interface{}, out interface{}) error {
	ctx, span := tracing.Tracer("client").Start(ctx, "graphql."+op)
	defer span.End()
	span.SetAttributes(attribute.String("graphql.operation", op))

	body := map[string]interface{}{
		"query":         query,
		"variables":     vars,
		"operationName": op,
	}
	header := http.Header{}
	if s.apiKey != "" {
		header.Set("Authorization", "Apikey "+s.apiKey)
	}

	var resp struct {
		Data   json.RawMessage `json:"data"`
		Errors GraphQLErrors   `json:"errors"`
	}
	err := sendJSON(ctx, s.http, http.MethodPost, s.endpoint, header, body, &resp, span.SetAttributes)
	if err == nil && len(resp.Errors) > 0 {
		err = resp.Errors
	}
	if err == nil && out != nil && len(resp.Data) > 0 {
		if derr := json.Unmarshal(resp.Data, out); derr != nil {
			err = fmt.Errorf("decode graphql data: %w", derr)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func senderFromGraphQL(s string) model.Sender {
	switch s {
	case "user", string(model.SenderVisitor):
		return model.SenderVisitor
	default:
		return model.SenderAgent
	}
}

func senderToGraphQL(s model.Sender) string {
	if s == model.SenderVisitor {
		return "user"
	}
	return "ai"
}
