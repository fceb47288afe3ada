// Package memory keeps channels and messages in process. It backs the local
// environment and the handler tests; postgres is used everywhere else.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kgellert/hodatay-classroom/internal/channels"
	"github.com/kgellert/hodatay-classroom/internal/messages"
)

type Storage struct {
	mu sync.RWMutex

	channels map[string]channels.Channel
	order    []string
	lastRead map[string]map[int64]time.Time

	messages map[string]messages.Message
	deleted  map[string]messages.ConversationRef
}

func New() *Storage {
	return &Storage{
		channels: make(map[string]channels.Channel),
		lastRead: make(map[string]map[int64]time.Time),
		messages: make(map[string]messages.Message),
		deleted:  make(map[string]messages.ConversationRef),
	}
}

func newID() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (s *Storage) CreateChannel(ctx context.Context, ch channels.Channel) (channels.Channel, error) {
	const op = "storage.memory.CreateChannel"

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.channels {
		if existing.NormalizedName() == ch.NormalizedName() {
			return channels.Channel{}, fmt.Errorf("%s: %w", op, channels.ErrChannelExists)
		}
	}

	if ch.ID == "" {
		id, err := newID()
		if err != nil {
			return channels.Channel{}, fmt.Errorf("%s: id: %w", op, err)
		}
		ch.ID = id
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	ch.MemberIDs = channels.UniquePositive(ch.MemberIDs)

	s.channels[ch.ID] = ch
	s.order = append(s.order, ch.ID)

	return cloneChannel(ch), nil
}

func (s *Storage) GetChannel(ctx context.Context, id string) (channels.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channels[id]
	if !ok {
		return channels.Channel{}, fmt.Errorf("storage.memory.GetChannel %s: %w", id, channels.ErrChannelNotFound)
	}
	return cloneChannel(ch), nil
}

func (s *Storage) ListChannels(ctx context.Context, viewerID int64) ([]channels.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]channels.Channel, 0, len(s.order))
	for _, id := range s.order {
		ch := cloneChannel(s.channels[id])
		ch.UnreadCount = s.unreadLocked(id, viewerID)
		out = append(out, ch)
	}
	return out, nil
}

func (s *Storage) unreadLocked(channelID string, viewerID int64) int64 {
	since := s.lastRead[channelID][viewerID]

	var n int64
	for _, m := range s.messages {
		if m.Conversation.ChannelID != channelID || m.AuthorID == viewerID {
			continue
		}
		if m.CreatedAt.After(since) {
			n++
		}
	}
	return n
}

func (s *Storage) AddMembers(ctx context.Context, id string, userIDs []int64) (channels.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[id]
	if !ok {
		return channels.Channel{}, fmt.Errorf("storage.memory.AddMembers %s: %w", id, channels.ErrChannelNotFound)
	}

	ch.MemberIDs = channels.UniquePositive(append(slices.Clone(ch.MemberIDs), userIDs...))
	s.channels[id] = ch

	return cloneChannel(ch), nil
}

func (s *Storage) MarkRead(ctx context.Context, id string, userID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channels[id]; !ok {
		return fmt.Errorf("storage.memory.MarkRead %s: %w", id, channels.ErrChannelNotFound)
	}

	byUser := s.lastRead[id]
	if byUser == nil {
		byUser = make(map[int64]time.Time)
		s.lastRead[id] = byUser
	}
	if at.After(byUser[userID]) {
		byUser[userID] = at
	}
	return nil
}

func (s *Storage) CreateMessage(ctx context.Context, msg messages.Message) (messages.Message, error) {
	const op = "storage.memory.CreateMessage"

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := newID()
	if err != nil {
		return messages.Message{}, fmt.Errorf("%s: id: %w", op, err)
	}

	now := time.Now().UTC()
	msg.ID = id
	msg.Conversation = msg.Conversation.Normalize()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = msg.CreatedAt
	msg.Status = messages.StatusConfirmed
	msg.Reactions = nil

	s.messages[id] = msg.Clone()
	return msg, nil
}

func (s *Storage) GetMessage(ctx context.Context, id string) (messages.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return messages.Message{}, fmt.Errorf("storage.memory.GetMessage %s: %w", id, messages.ErrMessageNotFound)
	}
	return m.Clone(), nil
}

func (s *Storage) ListMessages(ctx context.Context, ref messages.ConversationRef, cursor messages.Cursor) ([]messages.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := ref.Key()

	var before *messages.Message
	if cursor.Before != "" {
		b, ok := s.messages[cursor.Before]
		if !ok {
			return nil, fmt.Errorf("storage.memory.ListMessages cursor %s: %w", cursor.Before, messages.ErrMessageNotFound)
		}
		before = &b
	}

	out := []messages.Message{}
	for _, m := range s.messages {
		if m.Conversation.Key() != key {
			continue
		}
		if before != nil && !olderThan(m, *before) {
			continue
		}
		out = append(out, m.Clone())
	}

	sort.Slice(out, func(i, j int) bool { return olderThan(out[i], out[j]) })

	if limit := cursor.PageSize(); len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func olderThan(a, b messages.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *Storage) UpdateText(ctx context.Context, id, text string, at time.Time) (messages.Message, error) {
	return s.mutate(id, func(m messages.Message) messages.Message {
		m.Text = text
		m.Edited = true
		m.UpdatedAt = at
		return m
	})
}

func (s *Storage) AddReaction(ctx context.Context, id, emoji string, userID int64, at time.Time) (messages.Message, error) {
	return s.mutate(id, func(m messages.Message) messages.Message {
		if m.HasReaction(emoji, userID) {
			return m
		}
		m = m.WithReaction(emoji, userID)
		m.UpdatedAt = at
		return m
	})
}

func (s *Storage) RemoveReaction(ctx context.Context, id, emoji string, userID int64, at time.Time) (messages.Message, error) {
	return s.mutate(id, func(m messages.Message) messages.Message {
		if !m.HasReaction(emoji, userID) {
			return m
		}
		m = m.WithoutReaction(emoji, userID)
		m.UpdatedAt = at
		return m
	})
}

func (s *Storage) mutate(id string, fn func(messages.Message) messages.Message) (messages.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return messages.Message{}, fmt.Errorf("storage.memory.mutate %s: %w", id, messages.ErrMessageNotFound)
	}

	m = fn(m.Clone())
	s.messages[id] = m
	return m.Clone(), nil
}

func (s *Storage) DeleteMessage(ctx context.Context, id string) (messages.ConversationRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ref, ok := s.deleted[id]; ok {
		return ref, nil
	}

	m, ok := s.messages[id]
	if !ok {
		return messages.ConversationRef{}, fmt.Errorf("storage.memory.DeleteMessage %s: %w", id, messages.ErrMessageNotFound)
	}

	delete(s.messages, id)
	s.deleted[id] = m.Conversation
	return m.Conversation, nil
}

func (s *Storage) IsDeleted(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.deleted[id]
	return ok, nil
}

func (s *Storage) ListDirectConversations(ctx context.Context, userID int64) ([]messages.DirectConversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[int64]messages.Message)
	for _, m := range s.messages {
		ref := m.Conversation
		if !ref.IsDirect() || !ref.Includes(userID) {
			continue
		}
		peer := ref.Peer(userID)
		if cur, ok := latest[peer]; !ok || olderThan(cur, m) {
			latest[peer] = m
		}
	}

	out := make([]messages.DirectConversation, 0, len(latest))
	for peer, m := range latest {
		last := m.Clone()
		out = append(out, messages.DirectConversation{
			PeerID:        peer,
			LastMessageAt: m.CreatedAt,
			LastMessage:   &last,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].PeerID < out[j].PeerID
	})
	return out, nil
}

func cloneChannel(ch channels.Channel) channels.Channel {
	ch.MemberIDs = slices.Clone(ch.MemberIDs)
	return ch
}
