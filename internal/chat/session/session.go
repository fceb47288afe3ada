// Package session owns the state of the one conversation a user has open.
// All changes go through Dispatch, which applies the reducer under a lock.
package session

import (
	"log/slog"
	"sync"

	"github.com/kgellert/hodatay-classroom/internal/chat/dategroup"
	"github.com/kgellert/hodatay-classroom/internal/chat/merge"
	"github.com/kgellert/hodatay-classroom/internal/lib/logger/handlers/slogdiscard"
	"github.com/kgellert/hodatay-classroom/internal/messages"
)

type Options struct {
	Merger  merge.Merger
	Grouper dategroup.Grouper
	Log     *slog.Logger
}

type Session struct {
	mu      sync.Mutex
	reducer Reducer
	grouper dategroup.Grouper
	log     *slog.Logger
	ref     messages.ConversationRef

	state  State
	subs   []chan struct{}
	closed bool
}

func New(ref messages.ConversationRef, opts Options) *Session {
	log := opts.Log
	if log == nil {
		log = slogdiscard.NewDiscardLogger()
	}

	ref = ref.Normalize()
	return &Session{
		reducer: Reducer{Merger: opts.Merger},
		ref:     ref,
		grouper: opts.Grouper,
		log:     log.With(slog.String("conversation", ref.Key())),
		state: State{
			Ref:        ref,
			Messages:   []messages.Message{},
			Tombstones: merge.NewTombstones(),
		},
	}
}

func (s *Session) Ref() messages.ConversationRef {
	return s.ref
}

// Dispatch applies a to the state and wakes subscribers. It reports false
// once the session is closed.
func (s *Session) Dispatch(a Action) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.log.Debug("dropping action on closed session", slog.String("action", actionName(a)))
		return false
	}

	s.state = s.reducer.Reduce(s.state, a)

	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return true
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *Session) Messages() []messages.Message {
	return s.Snapshot().Messages
}

func (s *Session) Find(id string) (messages.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.state.Find(id)
	return m.Clone(), ok
}

func (s *Session) Groups() []dategroup.Group {
	return s.grouper.Group(s.Messages())
}

// Changes returns a channel that receives after every applied action.
// Bursts are coalesced. It is closed with the session.
func (s *Session) Changes() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan struct{}, 1)
	if s.closed {
		close(ch)
		return ch
	}
	s.subs = append(s.subs, ch)
	return ch
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close tears the session down. Later dispatches are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}

func actionName(a Action) string {
	switch a.(type) {
	case HistoryLoaded:
		return "history_loaded"
	case EventReceived:
		return "event_received"
	case LocalSent:
		return "local_sent"
	case SendConfirmed:
		return "send_confirmed"
	case SendFailed:
		return "send_failed"
	case EchoDelivered:
		return "echo_delivered"
	case Patch:
		return "patch"
	case Removed:
		return "removed"
	case Restored:
		return "restored"
	}
	return "unknown"
}
