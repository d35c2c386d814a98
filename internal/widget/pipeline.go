package widget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/capitalize-ai/support-widget/internal/model"
	"github.com/capitalize-ai/support-widget/pkg/metrics"
)

// MinContentLength is the minimum number of characters in a trimmed message.
const MinContentLength = 2

// Deliverer posts a visitor message and returns the durable agent reply.
type Deliverer interface {
	Deliver(ctx context.Context, req model.DeliveryRequest) (*model.DeliveryReply, error)
}

// Target addresses a send: who is writing, in which session, to which chatbot.
type Target struct {
	SessionID int64
	ChatbotID int64
	Visitor   model.Visitor
}

// ValidateContent trims content and checks its length.
func ValidateContent(content string) (string, error) {
	text := strings.TrimSpace(content)
	if !utf8.ValidString(text) {
		return "", &ValidationError{Field: "message", Reason: "must be valid UTF-8"}
	}
	if utf8.RuneCountInString(text) < MinContentLength {
		return "", &ValidationError{Field: "message", Reason: "must be at least 2 characters long"}
	}
	return text, nil
}

type exchange struct {
	Exchange
	request   model.DeliveryRequest
	startedAt time.Time
}

// Pipeline owns the pending exchanges: it inserts placeholders, issues one
// delivery per exchange and reconciles replies in place. Deliveries are not
// serialized; several may be in flight and complete in any order.
type Pipeline struct {
	deliverer Deliverer
	opts      options

	mu        sync.Mutex
	lastLocal LocalID
	exchanges []*exchange
	byReply   map[LocalID]*exchange

	inflight sync.WaitGroup
}

// NewPipeline creates a send pipeline.
func NewPipeline(deliverer Deliverer, opts ...Option) *Pipeline {
	return newPipeline(deliverer, buildOptions(opts))
}

func newPipeline(deliverer Deliverer, o options) *Pipeline {
	return &Pipeline{
		deliverer: deliverer,
		opts:      o,
		byReply:   make(map[LocalID]*exchange),
	}
}

// Submit validates content, inserts the visitor message and the agent
// placeholder, and starts the delivery. The placeholders are visible through
// Pending before Submit returns.
func (p *Pipeline) Submit(ctx context.Context, target Target, content string) (Exchange, error) {
	text, err := ValidateContent(content)
	if err != nil {
		return Exchange{}, err
	}
	if target.SessionID == 0 {
		return Exchange{}, ErrSessionRequired
	}

	ex := p.insert(target, text)
	view := p.start(ctx, ex)
	p.opts.emit(Event{Kind: EventChanged, SessionID: target.SessionID, Exchange: view})
	return view, nil
}

// insert adds both placeholders under the lock. text must already be valid.
func (p *Pipeline) insert(target Target, text string) *exchange {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.opts.now()
	p.lastLocal++
	visitorID := p.lastLocal
	p.lastLocal++
	replyID := p.lastLocal

	ex := &exchange{
		Exchange: Exchange{
			Ref:   p.opts.newRef(),
			State: StateOptimisticDisplay,
			Visitor: Entry{
				LocalID:   visitorID,
				Sender:    model.SenderVisitor,
				Content:   text,
				CreatedAt: now,
				Status:    StatusPending,
			},
			Reply: Entry{
				LocalID:   replyID,
				Sender:    model.SenderAgent,
				Content:   PendingMarker,
				CreatedAt: now,
				Status:    StatusPending,
			},
		},
	}
	ex.request = model.DeliveryRequest{
		Name:          target.Visitor.Name,
		Content:       text,
		ChatbotID:     model.FlexInt(target.ChatbotID),
		ChatSessionID: model.FlexInt(target.SessionID),
		ClientRef:     ex.Ref,
	}

	p.exchanges = append(p.exchanges, ex)
	p.byReply[replyID] = ex
	return ex
}

// start moves the exchange to awaiting-agent-reply and issues its single
// delivery request.
func (p *Pipeline) start(ctx context.Context, ex *exchange) Exchange {
	p.mu.Lock()
	ex.State = StateAwaitingReply
	ex.startedAt = time.Now()
	view := ex.Exchange
	req := ex.request
	p.inflight.Add(1)
	p.mu.Unlock()

	go p.deliver(ctx, view.Reply.LocalID, req)
	return view
}

func (p *Pipeline) deliver(ctx context.Context, replyID LocalID, req model.DeliveryRequest) {
	defer p.inflight.Done()

	if p.opts.deliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.deliveryTimeout)
		defer cancel()
	}

	reply, err := p.deliverer.Deliver(ctx, req)
	if err == nil && (reply == nil || reply.ID == 0) {
		err = errors.New("reply carries no durable id")
	}
	p.complete(replyID, reply, err)
}

// complete reconciles or fails the placeholder identified by replyID.
// Completions for discarded exchanges are ignored.
func (p *Pipeline) complete(replyID LocalID, reply *model.DeliveryReply, err error) {
	p.mu.Lock()
	ex, ok := p.byReply[replyID]
	if !ok {
		p.mu.Unlock()
		return
	}
	if err != nil {
		ex.State = StateFailed
		ex.Reply.Status = StatusFailed
	} else {
		ex.State = StateReconciled
		ex.Reply.ID = reply.ID
		ex.Reply.Content = reply.Content
		ex.Reply.Status = StatusReconciled
	}
	view := ex.Exchange
	sessionID := ex.request.ChatSessionID.Int64()
	elapsed := time.Since(ex.startedAt)
	p.mu.Unlock()

	if err != nil {
		metrics.RecordExchange("failed", elapsed.Seconds())
		p.opts.log.Warn("message delivery failed",
			zap.Int64("chat_session_id", sessionID),
			zap.String("client_ref", view.Ref),
			zap.String("placeholder", view.Reply.LocalID.String()),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		p.opts.emit(Event{
			Kind:      EventDeliveryFailed,
			SessionID: sessionID,
			Exchange:  view,
			Err:       fmt.Errorf("%w: %w", ErrDeliveryFailed, err),
		})
		p.opts.emit(Event{Kind: EventChanged, SessionID: sessionID, Exchange: view})
		return
	}

	metrics.RecordExchange("reconciled", elapsed.Seconds())
	p.opts.emit(Event{Kind: EventReconciled, SessionID: sessionID, Exchange: view})
	p.opts.emit(Event{Kind: EventChanged, SessionID: sessionID, Exchange: view})
}

// Pending returns copies of the exchanges in submit order.
func (p *Pipeline) Pending() []Exchange {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Exchange, len(p.exchanges))
	for i, ex := range p.exchanges {
		out[i] = ex.Exchange
	}
	return out
}

// Discard drops every exchange without waiting for in-flight deliveries.
// Local ids keep counting so late completions can never hit a new entry.
func (p *Pipeline) Discard() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.exchanges = nil
	p.byReply = make(map[LocalID]*exchange)
}

// Wait blocks until every started delivery has completed.
func (p *Pipeline) Wait() {
	p.inflight.Wait()
}
