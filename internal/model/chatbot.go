// Package model defines data structures for the support chat widget.
package model

import (
	"time"
)

// Characteristic is one piece of knowledge the chatbot answers from.
type Characteristic struct {
	ID        int64     `json:"id" yaml:"id"`
	ChatbotID int64     `json:"chatbot_id" yaml:"-"`
	Content   string    `json:"content" yaml:"content"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// Chatbot is the support agent a visitor talks to.
type Chatbot struct {
	ID              int64            `json:"id" yaml:"id"`
	Name            string           `json:"name" yaml:"name"`
	Characteristics []Characteristic `json:"chatbot_characteristics" yaml:"characteristics"`
	CreatedAt       time.Time        `json:"created_at" yaml:"-"`
}
