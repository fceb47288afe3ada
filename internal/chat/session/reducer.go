package session

import (
	"github.com/kgellert/hodatay-classroom/internal/chat/merge"
	"github.com/kgellert/hodatay-classroom/internal/messages"
	"github.com/kgellert/hodatay-classroom/internal/ws"
)

// State is everything one open conversation view holds. Values handed out
// by a Session are copies.
type State struct {
	Ref        messages.ConversationRef
	Messages   []messages.Message
	Tombstones merge.Tombstones
	Loaded     bool
}

func (s State) Find(id string) (messages.Message, bool) {
	for _, m := range s.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return messages.Message{}, false
}

func (s State) clone() State {
	out := s
	out.Messages = make([]messages.Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m.Clone()
	}
	out.Tombstones = s.Tombstones.Clone()
	return out
}

type Action interface {
	action()
}

// HistoryLoaded carries a fetched page. Pages for another conversation are
// dropped.
type HistoryLoaded struct {
	Ref      messages.ConversationRef
	Messages []messages.Message
}

type EventReceived struct {
	Event ws.Event
}

// LocalSent inserts an optimistic entry under its temporary id.
type LocalSent struct {
	Message messages.Message
}

// SendConfirmed swaps the temporary entry for the stored message. It stays
// pending until the realtime echo went out.
type SendConfirmed struct {
	ClientID  string
	Message   messages.Message
	Delivered bool
}

type SendFailed struct {
	ClientID string
}

type EchoDelivered struct {
	ClientID string
}

// Patch rewrites one message in place. Missing ids are ignored.
type Patch struct {
	ID string
	Fn func(messages.Message) messages.Message
}

type Removed struct {
	ID        string
	Tombstone bool
}

// Restored puts back a message removed optimistically.
type Restored struct {
	Message messages.Message
}

func (HistoryLoaded) action() {}
func (EventReceived) action() {}
func (LocalSent) action()     {}
func (SendConfirmed) action() {}
func (SendFailed) action()    {}
func (EchoDelivered) action() {}
func (Patch) action()         {}
func (Removed) action()       {}
func (Restored) action()      {}

type Reducer struct {
	Merger merge.Merger
}

// Reduce returns the next state. It never modifies s.
func (r Reducer) Reduce(s State, a Action) State {
	switch a := a.(type) {
	case HistoryLoaded:
		if a.Ref.Key() != s.Ref.Key() {
			return s
		}
		next := s
		next.Messages = r.Merger.Union(a.Messages, s.Messages, s.Tombstones)
		next.Loaded = true
		return next

	case EventReceived:
		if a.Event == nil || a.Event.Conversation().Key() != s.Ref.Key() {
			return s
		}
		next := s
		next.Messages, next.Tombstones = r.Merger.Merge(s.Messages, []ws.Event{a.Event}, s.Tombstones)
		return next

	case LocalSent:
		next := s
		next.Messages = r.Merger.Union(s.Messages, []messages.Message{a.Message}, s.Tombstones)
		return next

	case SendConfirmed:
		msg := a.Message
		msg.ClientID = a.ClientID
		msg.Status = messages.StatusConfirmed
		if !a.Delivered {
			msg.Status = messages.StatusPending
		}
		next := s
		next.Messages = r.Merger.Union(s.Messages, []messages.Message{msg}, s.Tombstones)
		return next

	case SendFailed:
		return update(s, func(m messages.Message) bool { return m.ID == a.ClientID }, func(m messages.Message) messages.Message {
			m.Status = messages.StatusFailed
			return m
		})

	case EchoDelivered:
		return update(s, func(m messages.Message) bool {
			return m.ClientID == a.ClientID && m.ID != m.ClientID && m.Status == messages.StatusPending
		}, func(m messages.Message) messages.Message {
			m.Status = messages.StatusConfirmed
			return m
		})

	case Patch:
		if a.Fn == nil {
			return s
		}
		return update(s, func(m messages.Message) bool { return m.ID == a.ID }, a.Fn)

	case Removed:
		next := s
		next.Messages = make([]messages.Message, 0, len(s.Messages))
		for _, m := range s.Messages {
			if m.ID != a.ID {
				next.Messages = append(next.Messages, m)
			}
		}
		if a.Tombstone {
			next.Tombstones = s.Tombstones.Clone()
			next.Tombstones.Add(a.ID)
		}
		return next

	case Restored:
		if s.Tombstones.Has(a.Message.ID) {
			return s
		}
		if _, ok := s.Find(a.Message.ID); ok {
			return s
		}
		next := s
		next.Messages = r.Merger.Union(s.Messages, []messages.Message{a.Message}, s.Tombstones)
		return next
	}
	return s
}

func update(s State, match func(messages.Message) bool, fn func(messages.Message) messages.Message) State {
	next := s
	next.Messages = make([]messages.Message, len(s.Messages))
	for i, m := range s.Messages {
		if match(m) {
			m = fn(m.Clone())
		}
		next.Messages[i] = m
	}
	return next
}
