// Package service provides the business logic behind the support chat API.
package service

import "errors"

var (
	// ErrNotFound is returned for unknown chatbots and chat sessions.
	ErrNotFound = errors.New("not found")

	// ErrChatbotMismatch is returned when a message names a chatbot other
	// than the one its session belongs to.
	ErrChatbotMismatch = errors.New("chat session belongs to another chatbot")

	// ErrReplyFailed is returned when no agent reply could be generated.
	ErrReplyFailed = errors.New("agent reply failed")
)
