// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/capitalize-ai/support-widget/internal/model"
)

// ErrNotFound is returned when a chatbot, session or message does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting chatbots, chat sessions and messages.
type Repository interface {
	// GetChatbotByID retrieves a chatbot with its characteristics.
	GetChatbotByID(ctx context.Context, id int64) (*model.Chatbot, error)

	// PutChatbot creates or replaces a chatbot and its characteristics.
	PutChatbot(ctx context.Context, chatbot *model.Chatbot) error

	// CreateChatSession stores a new session and assigns its ID and CreatedAt.
	CreateChatSession(ctx context.Context, session *model.ChatSession) error

	// GetChatSession retrieves a chat session by ID.
	GetChatSession(ctx context.Context, id int64) (*model.ChatSession, error)

	// InsertMessage stores a message and assigns its ID. A zero CreatedAt is set to now.
	InsertMessage(ctx context.Context, msg *model.Message) error

	// GetMessagesByChatSessionID lists a session's messages by creation time, then ID.
	GetMessagesByChatSessionID(ctx context.Context, sessionID int64) ([]model.Message, error)

	// FindMessageByClientRef returns the message a sender stored for an exchange ref.
	FindMessageByClientRef(ctx context.Context, sessionID int64, ref string, sender model.Sender) (*model.Message, error)

	// Ping verifies connectivity and returns an error if the store is unreachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
