package model

import (
	"time"
)

// Visitor identifies the person chatting through the widget.
type Visitor struct {
	Name  string `json:"name" validate:"required,max=256"`
	Email string `json:"email" validate:"required,email,max=320"`
}

// ChatSession is one visitor interaction with a chatbot. It is immutable once created.
type ChatSession struct {
	ID        int64     `json:"id"`
	ChatbotID int64     `json:"chatbot_id"`
	Visitor   Visitor   `json:"visitor"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateChatSessionRequest is the session-creation mutation payload.
type CreateChatSessionRequest struct {
	Name      string  `json:"name" validate:"required,max=256"`
	Email     string  `json:"email" validate:"required,email,max=320"`
	ChatbotID FlexInt `json:"chatbot_id" validate:"gt=0"`
}
