package model

import (
	"time"
)

// Sender represents the role of a message author.
type Sender string

const (
	SenderVisitor Sender = "visitor"
	SenderAgent   Sender = "agent"
)

// Message represents a persisted conversation message.
type Message struct {
	ID            int64     `json:"id"`
	ChatSessionID int64     `json:"chat_session_id"`
	Sender        Sender    `json:"sender"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`

	// ClientRef links a stored message to the exchange that produced it.
	ClientRef string `json:"client_ref,omitempty"`
}

// ListMessagesResponse is the response for listing a session's messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}

// DeliveryRequest is the body posted to the message delivery endpoint.
type DeliveryRequest struct {
	Name          string  `json:"name" validate:"required,max=256"`
	Content       string  `json:"content" validate:"required"`
	ChatbotID     FlexInt `json:"chatbot_id" validate:"gt=0"`
	ChatSessionID FlexInt `json:"chat_session_id" validate:"gt=0"`
	ClientRef     string  `json:"client_ref,omitempty" validate:"omitempty,max=64"`
}

// DeliveryReply is the durable agent reply returned by the delivery endpoint.
type DeliveryReply struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
}
