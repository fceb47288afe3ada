package messages

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Status string

const (
	StatusConfirmed Status = ""
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
)

// ConversationRef points at a channel or at a direct conversation between two
// users. DM pairs are kept normalized so that UserA < UserB.
type ConversationRef struct {
	ChannelID string `json:"channelId,omitempty"`
	UserA     int64  `json:"userA,omitempty"`
	UserB     int64  `json:"userB,omitempty"`
}

func ChannelRef(id string) ConversationRef {
	return ConversationRef{ChannelID: id}
}

func DirectRef(a, b int64) ConversationRef {
	if a > b {
		a, b = b, a
	}
	return ConversationRef{UserA: a, UserB: b}
}

func (c ConversationRef) IsChannel() bool { return c.ChannelID != "" }

func (c ConversationRef) IsDirect() bool {
	return c.ChannelID == "" && c.UserA > 0 && c.UserB > 0 && c.UserA != c.UserB
}

func (c ConversationRef) Valid() bool {
	return c.IsChannel() != c.IsDirect()
}

func (c ConversationRef) Normalize() ConversationRef {
	if c.IsChannel() {
		return ConversationRef{ChannelID: c.ChannelID}
	}
	return DirectRef(c.UserA, c.UserB)
}

func (c ConversationRef) Includes(userID int64) bool {
	return c.UserA == userID || c.UserB == userID
}

// Peer returns the other participant of a DM, 0 for channels.
func (c ConversationRef) Peer(self int64) int64 {
	switch self {
	case c.UserA:
		return c.UserB
	case c.UserB:
		return c.UserA
	}
	return 0
}

// Key is the stable string form used for hub rooms and map keys.
func (c ConversationRef) Key() string {
	if c.IsChannel() {
		return "channel:" + c.ChannelID
	}
	n := c.Normalize()
	return "dm:" + strconv.FormatInt(n.UserA, 10) + ":" + strconv.FormatInt(n.UserB, 10)
}

func (c ConversationRef) String() string { return c.Key() }

func ParseKey(key string) (ConversationRef, error) {
	switch {
	case strings.HasPrefix(key, "channel:"):
		id := strings.TrimPrefix(key, "channel:")
		if id == "" {
			return ConversationRef{}, ErrInvalidConversation
		}
		return ChannelRef(id), nil
	case strings.HasPrefix(key, "dm:"):
		parts := strings.Split(strings.TrimPrefix(key, "dm:"), ":")
		if len(parts) != 2 {
			return ConversationRef{}, ErrInvalidConversation
		}
		a, errA := strconv.ParseInt(parts[0], 10, 64)
		b, errB := strconv.ParseInt(parts[1], 10, 64)
		ref := DirectRef(a, b)
		if errA != nil || errB != nil || !ref.IsDirect() {
			return ConversationRef{}, ErrInvalidConversation
		}
		return ref, nil
	}
	return ConversationRef{}, fmt.Errorf("parse %q: %w", key, ErrInvalidConversation)
}

type Attachment struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
	IsImage  bool   `json:"isImage"`
}

type Reaction struct {
	Emoji  string `json:"emoji"`
	UserID int64  `json:"userId"`
}

type Message struct {
	ID           string          `json:"id"`
	ClientID     string          `json:"clientId,omitempty"`
	Conversation ConversationRef `json:"conversationRef"`
	AuthorID     int64           `json:"authorId"`
	Text         string          `json:"text,omitempty"`
	Attachments  []Attachment    `json:"attachments,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	Edited       bool            `json:"edited"`
	Reactions    []Reaction      `json:"reactions,omitempty"`
	Status       Status          `json:"status,omitempty"`
}

// IsProvisional reports whether the message still carries its client-side id.
func (m Message) IsProvisional() bool {
	return m.Status == StatusPending && m.ClientID != "" && m.ID == m.ClientID
}

func (m Message) HasReaction(emoji string, userID int64) bool {
	for _, r := range m.Reactions {
		if r.Emoji == emoji && r.UserID == userID {
			return true
		}
	}
	return false
}

// WithReaction returns a copy holding the reaction exactly once.
func (m Message) WithReaction(emoji string, userID int64) Message {
	if m.HasReaction(emoji, userID) {
		return m
	}
	out := m.Clone()
	out.Reactions = append(out.Reactions, Reaction{Emoji: emoji, UserID: userID})
	return out
}

func (m Message) WithoutReaction(emoji string, userID int64) Message {
	out := m.Clone()
	out.Reactions = out.Reactions[:0]
	for _, r := range m.Reactions {
		if r.Emoji == emoji && r.UserID == userID {
			continue
		}
		out.Reactions = append(out.Reactions, r)
	}
	if len(out.Reactions) == 0 {
		out.Reactions = nil
	}
	return out
}

// Clone copies the slices so reducers never share backing arrays.
func (m Message) Clone() Message {
	out := m
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Reactions != nil {
		out.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	return out
}

type Draft struct {
	ClientID    string       `json:"clientId,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

func (d Draft) Validate() error {
	if strings.TrimSpace(d.Text) == "" && len(d.Attachments) == 0 {
		return ErrTextOrAttachmentsIsRequired
	}
	return nil
}

// Cursor pages history backwards: messages strictly older than Before.
type Cursor struct {
	Before string
	Limit  int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

func (c Cursor) PageSize() int {
	switch {
	case c.Limit <= 0:
		return DefaultPageSize
	case c.Limit > MaxPageSize:
		return MaxPageSize
	}
	return c.Limit
}

type Repo interface {
	CreateMessage(ctx context.Context, msg Message) (Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	ListMessages(ctx context.Context, ref ConversationRef, cursor Cursor) ([]Message, error)
	UpdateText(ctx context.Context, id, text string, at time.Time) (Message, error)
	DeleteMessage(ctx context.Context, id string) (ConversationRef, error)
	IsDeleted(ctx context.Context, id string) (bool, error)
	AddReaction(ctx context.Context, id, emoji string, userID int64, at time.Time) (Message, error)
	RemoveReaction(ctx context.Context, id, emoji string, userID int64, at time.Time) (Message, error)
	ListDirectConversations(ctx context.Context, userID int64) ([]DirectConversation, error)
}

// DirectConversation is a derived view over DMs, newest activity first.
type DirectConversation struct {
	PeerID        int64     `json:"peerId"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	LastMessage   *Message  `json:"lastMessage,omitempty"`
}

type CreateMessageRequest struct {
	ClientID    string       `json:"clientId,omitempty"`
	RecipientID int64        `json:"recipientId,omitempty"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
}

type EditMessageRequest struct {
	Text    string `json:"text"`
	ActorID int64  `json:"actorId"`
}

type DeleteMessageRequest struct {
	ActorID int64 `json:"actorId"`
}

type ReactionRequest struct {
	Emoji   string `json:"emoji"`
	ActorID int64  `json:"actorId"`
}

type CreateMessageResponse struct {
	Message Message `json:"message"`
}

type GetMessagesResponse struct {
	Messages []Message `json:"messages"`
}

type GetDirectConversationsResponse struct {
	Conversations []DirectConversation `json:"conversations"`
}
