package widget

import (
	"context"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/capitalize-ai/support-widget/internal/model"
)

var validate = validator.New()

// ChatbotReader loads the chatbot shown in the widget header.
type ChatbotReader interface {
	GetChatbotByID(ctx context.Context, id int64) (*model.Chatbot, error)
}

// Store is the durable store as seen from the widget.
type Store interface {
	SessionCreator
	MessageReader
	ChatbotReader
}

// Conversation ties the widget together for one visitor and one chatbot.
// The send pipeline and the message sync own disjoint state; View merges
// read-only copies of both.
type Conversation struct {
	chatbotID int64
	chatbots  ChatbotReader
	initiator *Initiator
	sync      *MessageSync
	pipeline  *Pipeline
	opts      options

	begin singleflight.Group

	// ctx bounds deliveries; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	visitor   model.Visitor
	sessionID int64
	suspended []string
	closed    bool
}

// New creates a conversation with chatbotID. Nothing is sent until Identify.
func New(chatbotID int64, store Store, deliverer Deliverer, opts ...Option) *Conversation {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())

	return &Conversation{
		chatbotID: chatbotID,
		chatbots:  store,
		initiator: &Initiator{creator: store, opts: o},
		sync:      newMessageSync(store, o),
		pipeline:  newPipeline(deliverer, o),
		opts:      o,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Identify validates the visitor and starts the chat session. Once a session
// exists later calls return it; concurrent calls share one creation request.
// Messages submitted before identification are sent once the session exists.
func (c *Conversation) Identify(ctx context.Context, name, email string) (int64, error) {
	visitor := model.Visitor{Name: strings.TrimSpace(name), Email: strings.TrimSpace(email)}
	if err := validate.Struct(visitor); err != nil {
		return 0, &ValidationError{Field: "visitor", Reason: err.Error()}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	if c.sessionID != 0 {
		id := c.sessionID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	v, err, _ := c.begin.Do("begin", func() (interface{}, error) {
		c.mu.Lock()
		if c.sessionID != 0 {
			id := c.sessionID
			c.mu.Unlock()
			return id, nil
		}
		c.mu.Unlock()

		id, err := c.initiator.Begin(ctx, visitor, c.chatbotID)
		if err != nil {
			return int64(0), err
		}
		return id, c.attach(visitor, id)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// attach records the session and replays suspended messages in order.
func (c *Conversation) attach(visitor model.Visitor, sessionID int64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.visitor = visitor
	c.sessionID = sessionID
	c.sync.Reset(sessionID)

	target := c.targetLocked()
	drafts := c.suspended
	c.suspended = nil

	replayed := make([]*exchange, 0, len(drafts))
	for _, draft := range drafts {
		text, err := ValidateContent(draft)
		if err != nil {
			c.opts.log.Warn("dropping suspended message", zap.Error(err))
			continue
		}
		replayed = append(replayed, c.pipeline.insert(target, text))
	}
	c.mu.Unlock()

	c.opts.emit(Event{Kind: EventSessionStarted, SessionID: sessionID})
	for _, ex := range replayed {
		c.pipeline.start(c.ctx, ex)
	}
	if len(replayed) > 0 {
		c.opts.emit(Event{Kind: EventChanged, SessionID: sessionID})
	}
	return nil
}

// Submit sends content. Without a session the content is suspended, an
// EventIdentificationRequired is raised and ErrSessionRequired returned.
func (c *Conversation) Submit(content string) (Exchange, error) {
	text, err := ValidateContent(content)
	if err != nil {
		return Exchange{}, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Exchange{}, ErrClosed
	}
	if c.sessionID == 0 {
		c.suspended = append(c.suspended, text)
		c.mu.Unlock()
		c.opts.emit(Event{Kind: EventIdentificationRequired})
		return Exchange{}, ErrSessionRequired
	}
	target := c.targetLocked()
	ex := c.pipeline.insert(target, text)
	c.mu.Unlock()

	view := c.pipeline.start(c.ctx, ex)
	c.opts.emit(Event{Kind: EventChanged, SessionID: target.SessionID, Exchange: view})
	return view, nil
}

func (c *Conversation) targetLocked() Target {
	return Target{SessionID: c.sessionID, ChatbotID: c.chatbotID, Visitor: c.visitor}
}

// Refresh re-reads the session's messages. On error the previous snapshot
// stays in the view and the returned error matches ErrStoreRead.
func (c *Conversation) Refresh(ctx context.Context) error {
	_, err := c.sync.Refresh(ctx)
	return err
}

// View returns the merged, ordered conversation.
func (c *Conversation) View() []Entry {
	return Render(c.sync.Snapshot().Messages, c.pipeline.Pending())
}

// Pending returns the exchanges owned by the send pipeline.
func (c *Conversation) Pending() []Exchange {
	return c.pipeline.Pending()
}

// StoreErr returns the last refresh error, nil once a refresh succeeds.
func (c *Conversation) StoreErr() error {
	return c.sync.Err()
}

// SessionID returns the session id, zero before identification.
func (c *Conversation) SessionID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Chatbot loads the chatbot for the widget header.
func (c *Conversation) Chatbot(ctx context.Context) (*model.Chatbot, error) {
	return c.chatbots.GetChatbotByID(ctx, c.chatbotID)
}

// Wait blocks until in-flight deliveries have completed.
func (c *Conversation) Wait() {
	c.pipeline.Wait()
}

// Close tears the conversation down: in-flight requests are cancelled and all
// local state is discarded without waiting.
func (c *Conversation) Close() {
	c.mu.Lock()
	c.closed = true
	c.suspended = nil
	c.mu.Unlock()

	c.cancel()
	c.pipeline.Discard()
	c.sync.Reset(0)
}
