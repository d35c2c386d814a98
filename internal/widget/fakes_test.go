package widget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/capitalize-ai/support-widget/internal/model"
)

var errNetwork = errors.New("connection refused")

type gatedReply struct {
	reply *model.DeliveryReply
	err   error
}

// gatedDeliverer blocks each delivery until the test releases it.
type gatedDeliverer struct {
	mu       sync.Mutex
	requests []model.DeliveryRequest
	gates    map[string]chan gatedReply
	arrived  chan model.DeliveryRequest
}

func newGatedDeliverer() *gatedDeliverer {
	return &gatedDeliverer{
		gates:   make(map[string]chan gatedReply),
		arrived: make(chan model.DeliveryRequest, 16),
	}
}

func (d *gatedDeliverer) gate(ref string) chan gatedReply {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.gates[ref]
	if !ok {
		ch = make(chan gatedReply, 1)
		d.gates[ref] = ch
	}
	return ch
}

func (d *gatedDeliverer) Deliver(ctx context.Context, req model.DeliveryRequest) (*model.DeliveryReply, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()
	d.arrived <- req

	select {
	case r := <-d.gate(req.ClientRef):
		return r.reply, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *gatedDeliverer) release(ref string, reply *model.DeliveryReply, err error) {
	d.gate(ref) <- gatedReply{reply: reply, err: err}
}

func (d *gatedDeliverer) Requests() []model.DeliveryRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.DeliveryRequest(nil), d.requests...)
}

// funcDeliverer answers immediately.
type funcDeliverer func(ctx context.Context, req model.DeliveryRequest) (*model.DeliveryReply, error)

func (f funcDeliverer) Deliver(ctx context.Context, req model.DeliveryRequest) (*model.DeliveryReply, error) {
	return f(ctx, req)
}

// fakeStore is an in-memory durable store.
type fakeStore struct {
	mu          sync.Mutex
	nextSession int64
	sessions    []model.CreateChatSessionRequest
	messages    map[int64][]model.Message
	createErr   error
	readErr     error
	chatbots    map[int64]*model.Chatbot
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextSession: 100,
		messages:    make(map[int64][]model.Message),
		chatbots: map[int64]*model.Chatbot{
			7: {ID: 7, Name: "Helper"},
		},
	}
}

func (s *fakeStore) CreateChatSession(_ context.Context, req model.CreateChatSessionRequest) (*model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.sessions = append(s.sessions, req)
	s.nextSession++
	return &model.ChatSession{
		ID:        s.nextSession,
		ChatbotID: req.ChatbotID.Int64(),
		Visitor:   model.Visitor{Name: req.Name, Email: req.Email},
	}, nil
}

func (s *fakeStore) GetMessagesByChatSessionID(_ context.Context, sessionID int64) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	return append([]model.Message(nil), s.messages[sessionID]...), nil
}

func (s *fakeStore) GetChatbotByID(_ context.Context, id int64) (*model.Chatbot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bot, ok := s.chatbots[id]
	if !ok {
		return nil, fmt.Errorf("chatbot %d not found", id)
	}
	return bot, nil
}

func (s *fakeStore) setMessages(sessionID int64, msgs ...model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = msgs
}

func (s *fakeStore) setReadErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// eventLog records events in arrival order.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) handle(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) first(kind EventKind) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return Event{}, false
}

func sequentialRefs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("ref-%d", n)
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func msg(id int64, sender model.Sender, content string, at time.Time, ref string) model.Message {
	return model.Message{ID: id, ChatSessionID: 101, Sender: sender, Content: content, CreatedAt: at, ClientRef: ref}
}

func contents(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.Sender) + ":" + e.Content
	}
	return out
}

func keys(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Key()
	}
	return out
}
