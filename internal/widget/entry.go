// Package widget implements the visitor side of the support chat: session
// start, optimistic sends, store refreshes and the merged conversation view.
package widget

import (
	"strconv"
	"time"

	"github.com/capitalize-ai/support-widget/internal/model"
)

// PendingMarker is the content of an agent placeholder awaiting its reply.
const PendingMarker = "Thinking..."

// LocalID identifies a not-yet-confirmed entry. Local ids are never reused
// within a conversation and never compared with durable ids.
type LocalID uint64

func (id LocalID) String() string {
	return "L" + strconv.FormatUint(uint64(id), 10)
}

// Status describes where an entry stands relative to the store.
type Status int

const (
	// StatusDurable entries come from a store snapshot.
	StatusDurable Status = iota
	// StatusPending entries are optimistic placeholders.
	StatusPending
	// StatusReconciled agent entries carry the durable reply but have not been
	// seen in a snapshot yet.
	StatusReconciled
	// StatusFailed agent entries never received a reply. They keep the
	// pending marker and are not retried.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDurable:
		return "durable"
	case StatusPending:
		return "pending"
	case StatusReconciled:
		return "reconciled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is one rendered line of the conversation.
type Entry struct {
	LocalID   LocalID
	ID        int64
	Sender    model.Sender
	Content   string
	CreatedAt time.Time
	Status    Status
}

// Key returns a display identity: the durable id when known, else the local id.
func (e Entry) Key() string {
	if e.ID != 0 {
		return "D" + strconv.FormatInt(e.ID, 10)
	}
	return e.LocalID.String()
}

func entryFromMessage(m model.Message) Entry {
	return Entry{
		ID:        m.ID,
		Sender:    m.Sender,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		Status:    StatusDurable,
	}
}

// State is the lifecycle position of one exchange.
type State int

const (
	StateComposing State = iota
	StateValidating
	StateOptimisticDisplay
	StateAwaitingReply
	StateReconciled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateComposing:
		return "composing"
	case StateValidating:
		return "validating"
	case StateOptimisticDisplay:
		return "optimistic-display"
	case StateAwaitingReply:
		return "awaiting-agent-reply"
	case StateReconciled:
		return "reconciled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Exchange is a read-only copy of a pending {visitor message, agent placeholder} pair.
type Exchange struct {
	// Ref correlates the exchange with the rows the store writes for it.
	Ref     string
	State   State
	Visitor Entry
	Reply   Entry
}
