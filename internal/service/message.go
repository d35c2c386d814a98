package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/capitalize-ai/support-widget/internal/llm"
	"github.com/capitalize-ai/support-widget/internal/model"
	"github.com/capitalize-ai/support-widget/internal/store"
	"github.com/capitalize-ai/support-widget/pkg/logger"
	"github.com/capitalize-ai/support-widget/pkg/metrics"
	"github.com/capitalize-ai/support-widget/pkg/tracing"
)

// Replier generates the agent answer to a visitor message.
type Replier interface {
	Reply(ctx context.Context, chatbot *model.Chatbot, visitorName string, history []model.Message, content string) (*llm.CompletionResponse, error)
}

// MessageService handles message delivery and listing.
type MessageService struct {
	repo    store.Repository
	replier Replier
	logger  *logger.Logger

	// inflight collapses concurrent deliveries of one exchange ref.
	inflight    singleflight.Group
	sendTimeout time.Duration
}

// DefaultSendTimeout bounds a shared delivery once it no longer follows the
// request that started it.
const DefaultSendTimeout = 2 * time.Minute

// NewMessageService creates a new message service.
func NewMessageService(repo store.Repository, replier Replier, log *logger.Logger) *MessageService {
	return &MessageService{
		repo:        repo,
		replier:     replier,
		logger:      log,
		sendTimeout: DefaultSendTimeout,
	}
}

// SetSendTimeout changes the bound on shared deliveries.
func (s *MessageService) SetSendTimeout(d time.Duration) {
	if d > 0 {
		s.sendTimeout = d
	}
}

// Send stores the visitor message, generates the agent reply and stores it.
// A request repeating a ClientRef that already has a reply gets that reply
// back without a second generation.
func (s *MessageService) Send(ctx context.Context, req *model.DeliveryRequest) (*model.Message, error) {
	if req.ClientRef == "" {
		return s.send(ctx, req)
	}

	// Shared work outlives any single caller's context.
	key := strconv.FormatInt(req.ChatSessionID.Int64(), 10) + "/" + req.ClientRef
	ch := s.inflight.DoChan(key, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sendTimeout)
		defer cancel()
		return s.send(shared, req)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Message), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *MessageService) send(ctx context.Context, req *model.DeliveryRequest) (*model.Message, error) {
	sessionID := req.ChatSessionID.Int64()
	chatbotID := req.ChatbotID.Int64()

	ctx, span := tracing.Tracer("service").Start(ctx, "MessageService.Send")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chat_session.id", sessionID),
		attribute.Int64("chatbot.id", chatbotID),
		attribute.String("client_ref", req.ClientRef),
	)

	log := s.logger.WithSession(chatbotID, sessionID)

	session, err := s.repo.GetChatSession(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, notFound(err)
	}
	if session.ChatbotID != chatbotID {
		return nil, ErrChatbotMismatch
	}
	chatbot, err := s.repo.GetChatbotByID(ctx, chatbotID)
	if err != nil {
		span.RecordError(err)
		return nil, notFound(err)
	}

	var visitorMsg *model.Message
	if req.ClientRef != "" {
		reply, err := s.repo.FindMessageByClientRef(ctx, sessionID, req.ClientRef, model.SenderAgent)
		if err == nil {
			log.Info("replaying stored reply", zap.String("client_ref", req.ClientRef))
			span.SetAttributes(attribute.Bool("replayed", true))
			return reply, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to look up reply: %w", err)
		}

		visitorMsg, err = s.repo.FindMessageByClientRef(ctx, sessionID, req.ClientRef, model.SenderVisitor)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to look up message: %w", err)
		}
	}

	history, err := s.repo.GetMessagesByChatSessionID(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get message history: %w", err)
	}

	if visitorMsg == nil {
		visitorMsg = &model.Message{
			ChatSessionID: sessionID,
			Sender:        model.SenderVisitor,
			Content:       req.Content,
			ClientRef:     req.ClientRef,
		}
		if err := s.repo.InsertMessage(ctx, visitorMsg); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to store visitor message: %w", err)
		}
		metrics.MessagesTotal.WithLabelValues(string(model.SenderVisitor)).Inc()
	} else {
		// A previous attempt stored the visitor message but produced no reply.
		history = lo.Reject(history, func(m model.Message, _ int) bool { return m.ID == visitorMsg.ID })
	}

	resp, err := s.replier.Reply(ctx, chatbot, session.Visitor.Name, history, visitorMsg.Content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reply generation failed")
		log.Error("agent reply failed", zap.String("client_ref", req.ClientRef), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrReplyFailed, err)
	}

	reply := &model.Message{
		ChatSessionID: sessionID,
		Sender:        model.SenderAgent,
		Content:       resp.Content,
		ClientRef:     req.ClientRef,
	}
	if err := s.repo.InsertMessage(ctx, reply); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to store agent reply: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(model.SenderAgent)).Inc()

	span.SetAttributes(
		attribute.Int64("message.id", reply.ID),
		attribute.Int("tokens.in", resp.TokensIn),
		attribute.Int("tokens.out", resp.TokensOut),
	)
	log.Info("agent replied",
		zap.Int64("visitor_message_id", visitorMsg.ID),
		zap.Int64("reply_id", reply.ID),
		zap.Int64("latency_ms", resp.LatencyMs),
	)
	return reply, nil
}

// GetMessages lists the messages of an existing session.
func (s *MessageService) GetMessages(ctx context.Context, sessionID int64) (*model.ListMessagesResponse, error) {
	if _, err := s.repo.GetChatSession(ctx, sessionID); err != nil {
		return nil, notFound(err)
	}

	messages, err := s.repo.GetMessagesByChatSessionID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return &model.ListMessagesResponse{Messages: messages}, nil
}
