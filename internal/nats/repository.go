package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-widget/internal/model"
	"github.com/capitalize-ai/support-widget/internal/store"
	"github.com/capitalize-ai/support-widget/pkg/logger"
)

const fetchBatch = 256

var _ store.Repository = (*Repository)(nil)

// Repository implements store.Repository on JetStream. Sessions and messages
// are stream entries whose stream sequence is their ID; chatbots live in a
// key-value bucket.
type Repository struct {
	client   *Client
	stream   jetstream.Stream
	chatbots jetstream.KeyValue
	logger   *logger.Logger
	now      func() time.Time
}

// NewRepository provisions the stream and bucket and returns the repository.
func NewRepository(ctx context.Context, client *Client, log *logger.Logger) (*Repository, error) {
	mgr := NewStreamManager(client)

	stream, err := mgr.EnsureStream(ctx)
	if err != nil {
		return nil, err
	}
	kv, err := mgr.EnsureChatbotBucket(ctx)
	if err != nil {
		return nil, err
	}

	return &Repository{
		client:   client,
		stream:   stream,
		chatbots: kv,
		logger:   log,
		now:      time.Now,
	}, nil
}

type sessionRecord struct {
	ChatbotID int64         `json:"chatbot_id"`
	Visitor   model.Visitor `json:"visitor"`
	CreatedAt time.Time     `json:"created_at"`
}

type messageRecord struct {
	ChatSessionID int64        `json:"chat_session_id"`
	Sender        model.Sender `json:"sender"`
	Content       string       `json:"content"`
	CreatedAt     time.Time    `json:"created_at"`
	ClientRef     string       `json:"client_ref,omitempty"`
}

// GetChatbotByID retrieves a chatbot from the bucket.
func (r *Repository) GetChatbotByID(ctx context.Context, id int64) (*model.Chatbot, error) {
	entry, err := r.chatbots.Get(ctx, ChatbotKey(id))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, fmt.Errorf("chatbot %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chatbot: %w", err)
	}

	var bot model.Chatbot
	if err := json.Unmarshal(entry.Value(), &bot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chatbot: %w", err)
	}
	if bot.Characteristics == nil {
		bot.Characteristics = []model.Characteristic{}
	}
	return &bot, nil
}

// PutChatbot creates or replaces a chatbot in the bucket.
func (r *Repository) PutChatbot(ctx context.Context, chatbot *model.Chatbot) error {
	if chatbot.CreatedAt.IsZero() {
		chatbot.CreatedAt = r.now().UTC()
	}
	for i := range chatbot.Characteristics {
		c := &chatbot.Characteristics[i]
		c.ID = int64(i + 1)
		c.ChatbotID = chatbot.ID
		if c.CreatedAt.IsZero() {
			c.CreatedAt = chatbot.CreatedAt
		}
	}

	data, err := json.Marshal(chatbot)
	if err != nil {
		return fmt.Errorf("failed to marshal chatbot: %w", err)
	}
	if _, err := r.chatbots.Put(ctx, ChatbotKey(chatbot.ID), data); err != nil {
		return fmt.Errorf("failed to put chatbot: %w", err)
	}
	return nil
}

// CreateChatSession publishes the session; its stream sequence becomes its ID.
func (r *Repository) CreateChatSession(ctx context.Context, session *model.ChatSession) error {
	session.CreatedAt = r.now().UTC()

	data, err := json.Marshal(sessionRecord{
		ChatbotID: session.ChatbotID,
		Visitor:   session.Visitor,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal chat session: %w", err)
	}

	ack, err := r.client.JetStream().Publish(ctx, SessionSubject(session.ChatbotID), data)
	if err != nil {
		return fmt.Errorf("failed to publish chat session: %w", err)
	}

	session.ID = int64(ack.Sequence)
	return nil
}

// GetChatSession loads a session by its stream sequence.
func (r *Repository) GetChatSession(ctx context.Context, id int64) (*model.ChatSession, error) {
	if id <= 0 {
		return nil, fmt.Errorf("chat session %d: %w", id, store.ErrNotFound)
	}

	raw, err := r.stream.GetMsg(ctx, uint64(id))
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return nil, fmt.Errorf("chat session %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat session: %w", err)
	}
	if !isSessionSubject(raw.Subject) {
		return nil, fmt.Errorf("chat session %d: %w", id, store.ErrNotFound)
	}

	var rec sessionRecord
	if err := json.Unmarshal(raw.Data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chat session: %w", err)
	}

	return &model.ChatSession{
		ID:        id,
		ChatbotID: rec.ChatbotID,
		Visitor:   rec.Visitor,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// InsertMessage publishes a message; its stream sequence becomes its ID.
func (r *Repository) InsertMessage(ctx context.Context, msg *model.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.now().UTC()
	}

	data, err := json.Marshal(messageRecord{
		ChatSessionID: msg.ChatSessionID,
		Sender:        msg.Sender,
		Content:       msg.Content,
		CreatedAt:     msg.CreatedAt,
		ClientRef:     msg.ClientRef,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ack, err := r.client.JetStream().Publish(ctx, MessageSubject(msg.ChatSessionID, msg.Sender), data)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	msg.ID = int64(ack.Sequence)
	return nil
}

// GetMessagesByChatSessionID reads every message of a session with an
// ephemeral consumer.
func (r *Repository) GetMessagesByChatSessionID(ctx context.Context, sessionID int64) ([]model.Message, error) {
	js := r.client.JetStream()

	consumer, err := js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject:     SessionFilter(sessionID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}
	name := consumer.CachedInfo().Name
	defer func() {
		if err := js.DeleteConsumer(context.WithoutCancel(ctx), StreamName, name); err != nil {
			r.logger.Debug("failed to delete ephemeral consumer", zap.String("consumer", name), zap.Error(err))
		}
	}()

	pending := consumer.CachedInfo().NumPending
	messages := make([]model.Message, 0, pending)

	for uint64(len(messages)) < pending {
		batch, err := consumer.Fetch(fetchBatch, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch messages: %w", err)
		}

		received := 0
		for msg := range batch.Messages() {
			received++

			var rec messageRecord
			if err := json.Unmarshal(msg.Data(), &rec); err != nil {
				r.logger.Warn("skipping malformed message",
					zap.String("subject", msg.Subject()),
					zap.Error(err),
				)
				pending--
				continue
			}

			message := model.Message{
				ChatSessionID: rec.ChatSessionID,
				Sender:        rec.Sender,
				Content:       rec.Content,
				CreatedAt:     rec.CreatedAt,
				ClientRef:     rec.ClientRef,
			}
			if meta, err := msg.Metadata(); err == nil {
				message.ID = int64(meta.Sequence.Stream)
			}
			messages = append(messages, message)
		}

		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("batch error: %w", err)
		}
		if received == 0 {
			break
		}
	}

	return messages, nil
}

// FindMessageByClientRef scans the session for the message a sender stored for ref.
func (r *Repository) FindMessageByClientRef(ctx context.Context, sessionID int64, ref string, sender model.Sender) (*model.Message, error) {
	messages, err := r.GetMessagesByChatSessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		if messages[i].ClientRef == ref && messages[i].Sender == sender {
			return &messages[i], nil
		}
	}
	return nil, fmt.Errorf("message %s/%s: %w", ref, sender, store.ErrNotFound)
}

// Ping verifies the NATS connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}

// Close closes the NATS connection.
func (r *Repository) Close() error {
	r.client.Close()
	return nil
}
