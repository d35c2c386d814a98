package widget

import (
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/support-widget/pkg/logger"
)

// EventKind tells listeners what changed.
type EventKind int

const (
	// EventChanged means the rendered view may differ from the last one.
	EventChanged EventKind = iota
	// EventIdentificationRequired asks the UI to reopen the visitor form.
	EventIdentificationRequired
	// EventSessionStarted carries the new session id.
	EventSessionStarted
	// EventReconciled means an agent placeholder received its durable reply.
	EventReconciled
	// EventDeliveryFailed is raised once per exchange whose delivery failed.
	EventDeliveryFailed
	// EventStoreReadFailed is a non-blocking warning; stale data stays visible.
	EventStoreReadFailed
)

func (k EventKind) String() string {
	switch k {
	case EventChanged:
		return "changed"
	case EventIdentificationRequired:
		return "identification_required"
	case EventSessionStarted:
		return "session_started"
	case EventReconciled:
		return "reconciled"
	case EventDeliveryFailed:
		return "delivery_failed"
	case EventStoreReadFailed:
		return "store_read_failed"
	default:
		return "unknown"
	}
}

// Event is delivered to the EventHandler. Exchange is set for reconcile and
// delivery events, SessionID for session events, Err for failures.
type Event struct {
	Kind      EventKind
	SessionID int64
	Exchange  Exchange
	Err       error
}

// EventHandler receives events outside of any widget lock, possibly from
// delivery goroutines. It must be safe for concurrent use.
type EventHandler func(Event)

type options struct {
	log             *logger.Logger
	now             func() time.Time
	newRef          func() string
	onEvent         EventHandler
	deliveryTimeout time.Duration
}

// Option configures a Conversation, Pipeline or MessageSync.
type Option func(*options)

// WithLogger sets the logger used for failures.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithClock overrides the wall clock used to timestamp placeholders.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRefGenerator overrides how exchange refs are generated.
func WithRefGenerator(newRef func() string) Option {
	return func(o *options) { o.newRef = newRef }
}

// WithEventHandler registers the listener for widget events.
func WithEventHandler(h EventHandler) Option {
	return func(o *options) { o.onEvent = h }
}

// WithDeliveryTimeout bounds each delivery request. Zero means no bound
// beyond the conversation lifetime.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(o *options) { o.deliveryTimeout = d }
}

func buildOptions(opts []Option) options {
	o := options{
		log:    logger.Global(),
		now:    time.Now,
		newRef: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) emit(ev Event) {
	if o.onEvent != nil {
		o.onEvent(ev)
	}
}
