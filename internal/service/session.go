package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-widget/internal/model"
	"github.com/capitalize-ai/support-widget/internal/store"
	"github.com/capitalize-ai/support-widget/pkg/logger"
	"github.com/capitalize-ai/support-widget/pkg/metrics"
	"github.com/capitalize-ai/support-widget/pkg/tracing"
)

// GreetingFormat is the first agent message of every session.
const GreetingFormat = "Welcome %s!\n How can I assist you today?"

// SessionService handles chatbot lookups and chat session creation.
type SessionService struct {
	repo     store.Repository
	logger   *logger.Logger
	greeting bool
}

// NewSessionService creates a new session service. With greeting set, each
// new session starts with a welcome message from the agent.
func NewSessionService(repo store.Repository, greeting bool, log *logger.Logger) *SessionService {
	return &SessionService{
		repo:     repo,
		logger:   log,
		greeting: greeting,
	}
}

// Chatbot retrieves a chatbot with its characteristics.
func (s *SessionService) Chatbot(ctx context.Context, id int64) (*model.Chatbot, error) {
	bot, err := s.repo.GetChatbotByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return bot, nil
}

// Start creates a chat session for a visitor of an existing chatbot.
func (s *SessionService) Start(ctx context.Context, req *model.CreateChatSessionRequest) (*model.ChatSession, error) {
	ctx, span := tracing.Tracer("service").Start(ctx, "SessionService.Start")
	defer span.End()

	chatbotID := req.ChatbotID.Int64()
	span.SetAttributes(attribute.Int64("chatbot.id", chatbotID))

	if _, err := s.repo.GetChatbotByID(ctx, chatbotID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chatbot lookup failed")
		return nil, notFound(err)
	}

	session := &model.ChatSession{
		ChatbotID: chatbotID,
		Visitor:   model.Visitor{Name: req.Name, Email: req.Email},
	}
	if err := s.repo.CreateChatSession(ctx, session); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create session failed")
		return nil, fmt.Errorf("failed to create chat session: %w", err)
	}
	span.SetAttributes(attribute.Int64("chat_session.id", session.ID))
	metrics.ChatSessionsTotal.WithLabelValues(strconv.FormatInt(chatbotID, 10)).Inc()

	if s.greeting {
		greeting := &model.Message{
			ChatSessionID: session.ID,
			Sender:        model.SenderAgent,
			Content:       fmt.Sprintf(GreetingFormat, req.Name),
			CreatedAt:     session.CreatedAt,
		}
		if err := s.repo.InsertMessage(ctx, greeting); err != nil {
			s.logger.Warn("failed to store greeting",
				zap.Int64("chat_session_id", session.ID),
				zap.Error(err),
			)
		} else {
			metrics.MessagesTotal.WithLabelValues(string(model.SenderAgent)).Inc()
		}
	}

	s.logger.Info("chat session created",
		zap.Int64("chat_session_id", session.ID),
		zap.Int64("chatbot_id", chatbotID),
	)
	return session, nil
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
