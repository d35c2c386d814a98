package widget

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/support-widget/internal/model"
)

// SessionCreator issues the session-creation mutation.
type SessionCreator interface {
	CreateChatSession(ctx context.Context, req model.CreateChatSessionRequest) (*model.ChatSession, error)
}

// Initiator obtains a durable chat session for a visitor.
type Initiator struct {
	creator SessionCreator
	opts    options
}

// NewInitiator creates a session initiator.
func NewInitiator(creator SessionCreator, opts ...Option) *Initiator {
	return &Initiator{creator: creator, opts: buildOptions(opts)}
}

// Begin issues exactly one session-creation request. It is not idempotent:
// two calls create two sessions.
func (i *Initiator) Begin(ctx context.Context, visitor model.Visitor, chatbotID int64) (int64, error) {
	session, err := i.creator.CreateChatSession(ctx, model.CreateChatSessionRequest{
		Name:      visitor.Name,
		Email:     visitor.Email,
		ChatbotID: model.FlexInt(chatbotID),
	})
	if err == nil && (session == nil || session.ID == 0) {
		err = errors.New("store returned no session id")
	}
	if err != nil {
		i.opts.log.Error("chat session creation failed",
			zap.Int64("chatbot_id", chatbotID),
			zap.Error(err),
		)
		return 0, fmt.Errorf("%w: %w", ErrSessionCreationFailed, err)
	}

	i.opts.log.Info("chat session started",
		zap.Int64("chatbot_id", chatbotID),
		zap.Int64("chat_session_id", session.ID),
	)
	return session.ID, nil
}
