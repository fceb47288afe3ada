// Package merge folds fetched history and streamed events into one ordered
// message list. Everything here is pure: same inputs, same output.
package merge

import (
	"sort"
	"time"

	"github.com/kgellert/hodatay-classroom/internal/messages"
	"github.com/kgellert/hodatay-classroom/internal/ws"
)

// DefaultReconcileWindow bounds the content match used for echoes that
// carry no client id.
const DefaultReconcileWindow = 2 * time.Minute

// clockSkew is how much older than the local entry a server copy may be
// and still stand for it.
const clockSkew = 5 * time.Second

// Tombstones holds ids of deleted messages for the lifetime of a view.
type Tombstones map[string]struct{}

func NewTombstones(ids ...string) Tombstones {
	t := make(Tombstones, len(ids))
	for _, id := range ids {
		t[id] = struct{}{}
	}
	return t
}

func (t Tombstones) Has(id string) bool {
	_, ok := t[id]
	return ok
}

func (t Tombstones) Add(id string) {
	t[id] = struct{}{}
}

// Clone never returns nil.
func (t Tombstones) Clone() Tombstones {
	out := make(Tombstones, len(t))
	for id := range t {
		out[id] = struct{}{}
	}
	return out
}

type Merger struct {
	Window time.Duration
}

func New(window time.Duration) Merger {
	return Merger{Window: window}
}

func (m Merger) window() time.Duration {
	if m.Window <= 0 {
		return DefaultReconcileWindow
	}
	return m.Window
}

// Merge is the package level form with the default window and no prior
// tombstones.
func Merge(history []messages.Message, events []ws.Event) []messages.Message {
	out, _ := Merger{}.Merge(history, events, nil)
	return out
}

// Merge unions history with the events. A created event never replaces a
// known message; an edit replaces it only when strictly newer. Deletions are recorded in the returned
// tombstones and win over any replay of the same id. The inputs are not
// modified.
func (m Merger) Merge(history []messages.Message, events []ws.Event, tomb Tombstones) ([]messages.Message, Tombstones) {
	tomb = tomb.Clone()
	for _, evt := range events {
		if d, ok := evt.(ws.Deleted); ok {
			tomb.Add(d.MessageID)
		}
	}

	s := newSet(m.window(), tomb, len(history)+len(events))
	for _, msg := range history {
		s.upsert(msg)
	}
	for _, evt := range events {
		s.apply(evt)
	}
	return s.list(), tomb
}

// Union lays overlay over base with the same rules as Merge. It is used when
// a history page lands on a view that already holds streamed or local
// messages.
func (m Merger) Union(base, overlay []messages.Message, tomb Tombstones) []messages.Message {
	s := newSet(m.window(), tomb, len(base)+len(overlay))
	for _, msg := range base {
		s.upsert(msg)
	}
	for _, msg := range overlay {
		s.upsert(msg)
	}
	return s.list()
}

// Sort orders by timestamp, ties by id.
func Sort(list []messages.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

type set struct {
	window   time.Duration
	tomb     Tombstones
	byID     map[string]messages.Message
	byClient map[string]string
	// echoes are streamed server copies without a client id
	echoes map[string]struct{}
}

func newSet(window time.Duration, tomb Tombstones, size int) *set {
	return &set{
		window:   window,
		tomb:     tomb,
		byID:     make(map[string]messages.Message, size),
		byClient: make(map[string]string, size),
		echoes:   make(map[string]struct{}),
	}
}

func (s *set) apply(evt ws.Event) {
	switch e := evt.(type) {
	case ws.Created:
		s.create(e.Message)
	case ws.Edited:
		s.upsert(e.Message)
	case ws.Deleted:
		s.remove(e.MessageID)
	case ws.ReactionChanged:
		s.react(e)
	}
}

// create adds a streamed message. A replay of a known id is dropped, first
// writer wins for creation.
func (s *set) create(msg messages.Message) {
	if _, ok := s.byID[msg.ID]; ok {
		return
	}
	s.upsert(msg)
	if _, ok := s.byID[msg.ID]; ok && msg.ClientID == "" && msg.Status == messages.StatusConfirmed {
		s.echoes[msg.ID] = struct{}{}
	}
}

func (s *set) upsert(msg messages.Message) {
	if msg.ID == "" || s.tomb.Has(msg.ID) {
		return
	}

	if isLocal(msg) {
		// the server copy already landed
		if _, ok := s.byClient[msg.ClientID]; ok {
			return
		}
		s.keep(msg)
		return
	}

	if msg.ClientID != "" && msg.ClientID != msg.ID {
		if local, ok := s.byID[msg.ClientID]; ok && isLocal(local) {
			delete(s.byID, local.ID)
		}
	}
	s.keep(msg)
}

// isLocal reports whether msg still lives under its temporary id.
func isLocal(msg messages.Message) bool {
	return msg.ClientID != "" && msg.ID == msg.ClientID && msg.Status != messages.StatusConfirmed
}

// reconcile pairs streamed server copies that carry no client id with local
// entries by content. Fetched history never claims a local entry. Each
// server copy claims at most one.
func (s *set) reconcile() {
	var anonymous []messages.Message
	for id := range s.echoes {
		if msg, ok := s.byID[id]; ok && msg.ClientID == "" {
			anonymous = append(anonymous, msg)
		}
	}
	Sort(anonymous)

	for _, msg := range anonymous {
		id, ok := s.pendingMatch(msg)
		if !ok {
			continue
		}
		delete(s.byID, id)
		msg.ClientID = id
		s.byID[msg.ID] = msg
		s.byClient[id] = msg.ID
	}
}

// keep stores msg unless an entry with the same id is at least as new.
func (s *set) keep(msg messages.Message) {
	if cur, ok := s.byID[msg.ID]; ok {
		if !msg.UpdatedAt.After(cur.UpdatedAt) {
			return
		}
		msg = carryCreation(cur, msg)
	}

	s.byID[msg.ID] = msg.Clone()
	if msg.ClientID != "" && msg.ClientID != msg.ID {
		s.byClient[msg.ClientID] = msg.ID
	}
}

// carryCreation keeps the first writer's creation fields on a newer version.
func carryCreation(cur, next messages.Message) messages.Message {
	next.CreatedAt = cur.CreatedAt
	next.AuthorID = cur.AuthorID
	if cur.Conversation.Valid() {
		next.Conversation = cur.Conversation
	}
	if next.ClientID == "" {
		next.ClientID = cur.ClientID
	}
	if next.Status == messages.StatusConfirmed {
		next.Status = cur.Status
	}
	return next
}

// pendingMatch finds the local entry an echo without client id stands for:
// same author and text, not older than the entry, closest in time within
// the window.
func (s *set) pendingMatch(msg messages.Message) (string, bool) {
	var (
		best     string
		bestDiff time.Duration
	)
	for id, cur := range s.byID {
		if !isLocal(cur) {
			continue
		}
		if cur.AuthorID != msg.AuthorID || cur.Text != msg.Text {
			continue
		}
		diff := msg.CreatedAt.Sub(cur.CreatedAt)
		if diff < -clockSkew {
			continue
		}
		if diff < 0 {
			diff = -diff
		}
		if diff > s.window {
			continue
		}
		if best == "" || diff < bestDiff || diff == bestDiff && id < best {
			best, bestDiff = id, diff
		}
	}
	return best, best != ""
}

func (s *set) react(e ws.ReactionChanged) {
	cur, ok := s.byID[e.MessageID]

	if e.Snapshot != nil {
		if !ok || e.Snapshot.UpdatedAt.After(cur.UpdatedAt) {
			s.upsert(*e.Snapshot)
		}
		return
	}

	if !ok {
		return
	}
	if e.Removed {
		s.byID[e.MessageID] = cur.WithoutReaction(e.Emoji, e.UserID)
		return
	}
	s.byID[e.MessageID] = cur.WithReaction(e.Emoji, e.UserID)
}

func (s *set) remove(id string) {
	delete(s.byID, id)
}

func (s *set) list() []messages.Message {
	s.reconcile()

	out := make([]messages.Message, 0, len(s.byID))
	for _, msg := range s.byID {
		if s.tomb.Has(msg.ID) {
			continue
		}
		out = append(out, msg)
	}
	Sort(out)
	return out
}
