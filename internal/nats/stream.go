package nats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/support-widget/internal/model"
)

const (
	// StreamName is the name of the support chat stream.
	StreamName = "SUPPORT_CHAT"

	// SubjectPrefix is the prefix for all chat subjects.
	SubjectPrefix = "chat"

	// ChatbotBucket is the key-value bucket holding chatbots.
	ChatbotBucket = "CHATBOTS"
)

// StreamManager handles JetStream stream and bucket provisioning.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the chat stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	js := m.client.JetStream()

	stream, err := js.Stream(ctx, StreamName)
	if err == nil {
		return stream, nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return nil, fmt.Errorf("failed to look up stream: %w", err)
	}

	stream, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Support chat sessions and messages",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return stream, nil
}

// EnsureChatbotBucket ensures the chatbot key-value bucket exists.
func (m *StreamManager) EnsureChatbotBucket(ctx context.Context) (jetstream.KeyValue, error) {
	js := m.client.JetStream()

	kv, err := js.KeyValue(ctx, ChatbotBucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to look up chatbot bucket: %w", err)
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      ChatbotBucket,
		Description: "Support chatbots and their characteristics",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chatbot bucket: %w", err)
	}

	return kv, nil
}

// SessionSubject returns the subject a chat session is published on.
func SessionSubject(chatbotID int64) string {
	return fmt.Sprintf("%s.session.%d", SubjectPrefix, chatbotID)
}

// MessageSubject returns the subject for a message.
func MessageSubject(sessionID int64, sender model.Sender) string {
	return fmt.Sprintf("%s.msg.%d.%s", SubjectPrefix, sessionID, sender)
}

// SessionFilter returns the filter subject for all messages in a session.
func SessionFilter(sessionID int64) string {
	return fmt.Sprintf("%s.msg.%d.>", SubjectPrefix, sessionID)
}

// ChatbotKey returns the bucket key of a chatbot.
func ChatbotKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func isSessionSubject(subject string) bool {
	return strings.HasPrefix(subject, SubjectPrefix+".session.")
}
