package widget

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/support-widget/internal/model"
	"github.com/capitalize-ai/support-widget/pkg/metrics"
)

// MessageReader reads a session's durable messages.
type MessageReader interface {
	GetMessagesByChatSessionID(ctx context.Context, sessionID int64) ([]model.Message, error)
}

// Snapshot is a point-in-time copy of a session's durable messages.
type Snapshot struct {
	SessionID int64
	Messages  []model.Message
	FetchedAt time.Time
	// Skipped is set when there is no session to read yet.
	Skipped bool
}

func (s Snapshot) clone() Snapshot {
	s.Messages = slices.Clone(s.Messages)
	return s
}

// SyncResult is one step of a subscription.
type SyncResult struct {
	Snapshot Snapshot
	Err      error
}

// MessageSync keeps the latest durable snapshot for one session. Reads are
// pulled on demand; a failed read keeps the previous snapshot visible.
type MessageSync struct {
	reader MessageReader
	opts   options

	mu        sync.Mutex
	sessionID int64
	epoch     uint64
	issued    uint64
	applied   uint64
	current   Snapshot
	lastErr   error
}

// NewMessageSync creates a sync with no session; it skips reads until Reset.
func NewMessageSync(reader MessageReader, opts ...Option) *MessageSync {
	return newMessageSync(reader, buildOptions(opts))
}

func newMessageSync(reader MessageReader, o options) *MessageSync {
	return &MessageSync{
		reader:  reader,
		opts:    o,
		current: Snapshot{Skipped: true},
	}
}

// Reset restarts the sync for sessionID, dropping the previous snapshot.
// Reads still in flight for the old session are discarded when they land.
func (s *MessageSync) Reset(sessionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionID = sessionID
	s.epoch++
	s.issued = 0
	s.applied = 0
	s.lastErr = nil
	s.current = Snapshot{SessionID: sessionID, Skipped: sessionID == 0}
}

// Refresh performs one read. On failure it returns the previous snapshot
// together with an error matching ErrStoreRead.
func (s *MessageSync) Refresh(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	if s.sessionID == 0 {
		s.mu.Unlock()
		return Snapshot{Skipped: true}, nil
	}
	sessionID := s.sessionID
	epoch := s.epoch
	s.issued++
	ticket := s.issued
	s.mu.Unlock()

	messages, err := s.reader.GetMessagesByChatSessionID(ctx, sessionID)

	s.mu.Lock()
	if epoch != s.epoch {
		current := s.current.clone()
		s.mu.Unlock()
		return current, nil
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStoreRead, err)
		s.lastErr = err
		current := s.current.clone()
		s.mu.Unlock()

		metrics.RecordStoreRead("error")
		s.opts.log.Warn("message refresh failed, keeping last snapshot",
			zap.Int64("chat_session_id", sessionID),
			zap.Int("visible_messages", len(current.Messages)),
			zap.Error(err),
		)
		s.opts.emit(Event{Kind: EventStoreReadFailed, SessionID: sessionID, Err: err})
		return current, err
	}

	// An older read finishing after a newer one must not roll the view back.
	if ticket > s.applied {
		s.applied = ticket
		s.lastErr = nil
		if messages == nil {
			messages = []model.Message{}
		}
		s.current = Snapshot{
			SessionID: sessionID,
			Messages:  slices.Clone(messages),
			FetchedAt: s.opts.now(),
		}
	}
	current := s.current.clone()
	s.mu.Unlock()

	metrics.RecordStoreRead("ok")
	s.opts.emit(Event{Kind: EventChanged, SessionID: sessionID})
	return current, nil
}

// Snapshot returns a copy of the latest snapshot.
func (s *MessageSync) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.clone()
}

// Err returns the error of the last read if it failed, nil otherwise.
func (s *MessageSync) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Subscribe turns refresh requests into snapshots: each value received on
// refresh triggers one read whose result is sent on the returned channel.
// Nothing is read until asked. The channel closes when refresh closes or ctx
// ends; subscribing again restarts the sequence.
func (s *MessageSync) Subscribe(ctx context.Context, refresh <-chan struct{}) <-chan SyncResult {
	out := make(chan SyncResult)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-refresh:
				if !ok {
					return
				}
				snap, err := s.Refresh(ctx)
				select {
				case out <- SyncResult{Snapshot: snap, Err: err}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
