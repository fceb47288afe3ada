package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kgellert/hodatay-classroom/internal/messages"
)

const (
	MessageCreated  = "message.created"
	MessageEdited   = "message.edited"
	MessageDeleted  = "message.deleted"
	ReactionAdded   = "reaction.added"
	ReactionRemoved = "reaction.removed"

	// control frames, server -> client
	Hello = "hello"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Frame is the wire envelope shared by both streaming connections.
type Frame struct {
	Type            string                   `json:"type"`
	ConversationRef messages.ConversationRef `json:"conversationRef"`
	Payload         json.RawMessage          `json:"payload,omitempty"`
}

type MessagePayload struct {
	Message messages.Message `json:"message"`
}

type MessageDeletedPayload struct {
	MessageID string    `json:"messageId"`
	DeletedAt time.Time `json:"deletedAt"`
}

// ReactionPayload optionally carries the message snapshot after the change.
type ReactionPayload struct {
	MessageID string            `json:"messageId"`
	Emoji     string            `json:"emoji"`
	UserID    int64             `json:"userId"`
	Message   *messages.Message `json:"message,omitempty"`
}

type HelloPayload struct {
	UserID int64  `json:"userId"`
	Room   string `json:"room"`
}

func NewFrame(ref messages.ConversationRef, typ string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("ws.NewFrame %s: %w", typ, err)
	}
	return Frame{Type: typ, ConversationRef: ref, Payload: raw}, nil
}

// Encode builds and marshals a frame in one step.
func Encode(ref messages.ConversationRef, typ string, payload any) ([]byte, error) {
	f, err := NewFrame(ref, typ, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

// Event is the decoded, validated form of a Frame. Exactly one of the
// concrete types below implements it per frame type; anything else decodes
// to Unknown.
type Event interface {
	Type() string
	Conversation() messages.ConversationRef
}

type Created struct {
	Ref     messages.ConversationRef
	Message messages.Message
}

type Edited struct {
	Ref     messages.ConversationRef
	Message messages.Message
}

type Deleted struct {
	Ref       messages.ConversationRef
	MessageID string
	DeletedAt time.Time
}

type ReactionChanged struct {
	Ref       messages.ConversationRef
	Removed   bool
	MessageID string
	Emoji     string
	UserID    int64
	Snapshot  *messages.Message
}

type Unknown struct {
	Ref  messages.ConversationRef
	Kind string
	Raw  json.RawMessage
}

type Control struct {
	Kind    string
	Payload json.RawMessage
}

func (e Created) Type() string                           { return MessageCreated }
func (e Created) Conversation() messages.ConversationRef { return e.Ref }
func (e Edited) Type() string                            { return MessageEdited }
func (e Edited) Conversation() messages.ConversationRef  { return e.Ref }
func (e Deleted) Type() string                           { return MessageDeleted }
func (e Deleted) Conversation() messages.ConversationRef { return e.Ref }
func (e Unknown) Type() string                           { return e.Kind }
func (e Unknown) Conversation() messages.ConversationRef { return e.Ref }
func (e Control) Type() string                           { return e.Kind }
func (e Control) Conversation() messages.ConversationRef { return messages.ConversationRef{} }

func (e ReactionChanged) Type() string {
	if e.Removed {
		return ReactionRemoved
	}
	return ReactionAdded
}

func (e ReactionChanged) Conversation() messages.ConversationRef { return e.Ref }

// Decode parses raw bytes into a typed event.
func Decode(data []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return DecodeFrame(f)
}

// DecodeFrame validates the payload shape for known types.
func DecodeFrame(f Frame) (Event, error) {
	ref := f.ConversationRef.Normalize()

	switch f.Type {
	case MessageCreated, MessageEdited:
		var p MessagePayload
		if err := unmarshalPayload(f, &p); err != nil {
			return nil, err
		}
		if p.Message.ID == "" {
			return nil, fmt.Errorf("%w: %s without message id", ErrMalformedFrame, f.Type)
		}
		if !ref.Valid() {
			ref = p.Message.Conversation.Normalize()
		}
		if !ref.Valid() {
			return nil, fmt.Errorf("%w: %s without conversation", ErrMalformedFrame, f.Type)
		}
		p.Message.Conversation = ref
		if f.Type == MessageCreated {
			return Created{Ref: ref, Message: p.Message}, nil
		}
		return Edited{Ref: ref, Message: p.Message}, nil

	case MessageDeleted:
		var p MessageDeletedPayload
		if err := unmarshalPayload(f, &p); err != nil {
			return nil, err
		}
		if p.MessageID == "" || !ref.Valid() {
			return nil, fmt.Errorf("%w: %s without message id or conversation", ErrMalformedFrame, f.Type)
		}
		return Deleted{Ref: ref, MessageID: p.MessageID, DeletedAt: p.DeletedAt}, nil

	case ReactionAdded, ReactionRemoved:
		var p ReactionPayload
		if err := unmarshalPayload(f, &p); err != nil {
			return nil, err
		}
		if p.MessageID == "" || p.Emoji == "" || p.UserID <= 0 || !ref.Valid() {
			return nil, fmt.Errorf("%w: incomplete %s", ErrMalformedFrame, f.Type)
		}
		if p.Message != nil {
			p.Message.Conversation = ref
		}
		return ReactionChanged{
			Ref:       ref,
			Removed:   f.Type == ReactionRemoved,
			MessageID: p.MessageID,
			Emoji:     p.Emoji,
			UserID:    p.UserID,
			Snapshot:  p.Message,
		}, nil

	case Hello:
		return Control{Kind: f.Type, Payload: f.Payload}, nil
	}

	return Unknown{Ref: ref, Kind: f.Type, Raw: f.Payload}, nil
}

func unmarshalPayload(f Frame, v any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", ErrMalformedFrame, f.Type)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, f.Type, err)
	}
	return nil
}
