package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kgellert/hodatay-classroom/internal/channels"
	"github.com/kgellert/hodatay-classroom/internal/chat/access"
	"github.com/kgellert/hodatay-classroom/internal/errs"
	"github.com/kgellert/hodatay-classroom/internal/lib/logger/sl"
	"github.com/kgellert/hodatay-classroom/internal/messages"
	userdomain "github.com/kgellert/hodatay-classroom/internal/users/domain"
	"github.com/kgellert/hodatay-classroom/internal/ws"
	"github.com/kgellert/hodatay-classroom/internal/ws/hub"
)

type ChannelLookup interface {
	GetChannel(ctx context.Context, id string) (channels.Channel, error)
}

// Publisher delivers an encoded frame to a hub room.
type Publisher interface {
	Broadcast(room string, payload []byte)
}

type Limits struct {
	MaxAttachments int
	MaxTextLength  int
}

type Service struct {
	repo     messages.Repo
	channels ChannelLookup
	users    userdomain.Repo
	pub      Publisher
	limits   Limits
	log      *slog.Logger
	now      func() time.Time
}

func New(
	repo messages.Repo,
	channels ChannelLookup,
	users userdomain.Repo,
	pub Publisher,
	limits Limits,
	log *slog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		channels: channels,
		users:    users,
		pub:      pub,
		limits:   limits,
		log:      log,
		now:      time.Now,
	}
}

// Authorize checks that user may read and write ref.
func (s *Service) Authorize(ctx context.Context, user userdomain.User, ref messages.ConversationRef) error {
	if !ref.Valid() {
		return messages.ErrInvalidConversation
	}

	if ref.IsDirect() {
		if !ref.Includes(user.ID) {
			return messages.ErrNotParticipant
		}
		return nil
	}

	ch, err := s.channels.GetChannel(ctx, ref.ChannelID)
	if err != nil {
		return err
	}
	if !access.CanAccess(user, ch) {
		return channels.ErrAccessDenied
	}
	return nil
}

func (s *Service) History(ctx context.Context, user userdomain.User, ref messages.ConversationRef, cursor messages.Cursor) ([]messages.Message, error) {
	const op = "services.messages.History"

	ref = ref.Normalize()
	if err := s.Authorize(ctx, user, ref); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	list, err := s.repo.ListMessages(ctx, ref, cursor)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}

func (s *Service) validateDraft(d messages.Draft) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if s.limits.MaxAttachments > 0 && len(d.Attachments) > s.limits.MaxAttachments {
		return messages.ErrTooManyAttachments
	}
	if s.limits.MaxTextLength > 0 && utf8.RuneCountInString(d.Text) > s.limits.MaxTextLength {
		return messages.ErrTextTooLong
	}
	return nil
}

// Send stores a new message and fans it out to the conversation rooms.
func (s *Service) Send(ctx context.Context, author userdomain.User, ref messages.ConversationRef, draft messages.Draft) (messages.Message, error) {
	const op = "services.messages.Send"

	if err := s.validateDraft(draft); err != nil {
		return messages.Message{}, err
	}

	ref = ref.Normalize()
	if err := s.Authorize(ctx, author, ref); err != nil {
		return messages.Message{}, fmt.Errorf("%s: %w", op, err)
	}

	if ref.IsDirect() {
		if _, err := s.users.GetUser(ctx, ref.Peer(author.ID)); err != nil {
			return messages.Message{}, fmt.Errorf("%s: recipient: %w", op, err)
		}
	}

	msg, err := s.repo.CreateMessage(ctx, messages.Message{
		ClientID:     draft.ClientID,
		Conversation: ref,
		AuthorID:     author.ID,
		Text:         draft.Text,
		Attachments:  draft.Attachments,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return messages.Message{}, fmt.Errorf("%s: %w", op, err)
	}

	s.publish(ref, ws.MessageCreated, ws.MessagePayload{Message: msg})
	return msg, nil
}

// ownMessage loads id and checks that actor wrote it.
func (s *Service) ownMessage(ctx context.Context, actor userdomain.User, id string) (messages.Message, error) {
	msg, err := s.repo.GetMessage(ctx, id)
	if err != nil {
		return messages.Message{}, err
	}
	if msg.AuthorID != actor.ID {
		return messages.Message{}, messages.ErrNotAuthor
	}
	return msg, nil
}

func (s *Service) Edit(ctx context.Context, actor userdomain.User, id, text string) (messages.Message, error) {
	const op = "services.messages.Edit"

	msg, err := s.ownMessage(ctx, actor, id)
	if err != nil {
		return messages.Message{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.validateDraft(messages.Draft{Text: text, Attachments: msg.Attachments}); err != nil {
		return messages.Message{}, err
	}

	if msg.Text == text {
		return msg, nil
	}

	msg, err = s.repo.UpdateText(ctx, id, text, s.now().UTC())
	if err != nil {
		return messages.Message{}, fmt.Errorf("%s: %w", op, err)
	}

	s.publish(msg.Conversation, ws.MessageEdited, ws.MessagePayload{Message: msg})
	return msg, nil
}

// Delete soft-deletes a message. Deleting an already deleted message succeeds.
func (s *Service) Delete(ctx context.Context, actor userdomain.User, id string) error {
	const op = "services.messages.Delete"

	if _, err := s.ownMessage(ctx, actor, id); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			deleted, derr := s.repo.IsDeleted(ctx, id)
			if derr == nil && deleted {
				return nil
			}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	ref, err := s.repo.DeleteMessage(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.publish(ref, ws.MessageDeleted, ws.MessageDeletedPayload{MessageID: id, DeletedAt: s.now().UTC()})
	return nil
}

func (s *Service) AddReaction(ctx context.Context, actor userdomain.User, id, emoji string) (messages.Message, error) {
	return s.react(ctx, "services.messages.AddReaction", actor, id, emoji, false)
}

func (s *Service) RemoveReaction(ctx context.Context, actor userdomain.User, id, emoji string) (messages.Message, error) {
	return s.react(ctx, "services.messages.RemoveReaction", actor, id, emoji, true)
}

func (s *Service) react(ctx context.Context, op string, actor userdomain.User, id, emoji string, remove bool) (messages.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return messages.Message{}, messages.ErrEmojiIsRequired
	}

	msg, err := s.repo.GetMessage(ctx, id)
	if err != nil {
		return messages.Message{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.Authorize(ctx, actor, msg.Conversation); err != nil {
		return messages.Message{}, fmt.Errorf("%s: %w", op, err)
	}

	typ := ws.ReactionAdded
	change := s.repo.AddReaction
	if remove {
		typ = ws.ReactionRemoved
		change = s.repo.RemoveReaction
	}

	had := msg.HasReaction(emoji, actor.ID)
	msg, err = change(ctx, id, emoji, actor.ID, s.now().UTC())
	if err != nil {
		return messages.Message{}, fmt.Errorf("%s: %w", op, err)
	}

	if had != remove {
		return msg, nil
	}

	snapshot := msg
	s.publish(msg.Conversation, typ, ws.ReactionPayload{
		MessageID: id,
		Emoji:     emoji,
		UserID:    actor.ID,
		Message:   &snapshot,
	})
	return msg, nil
}

func (s *Service) DirectConversations(ctx context.Context, user userdomain.User) ([]messages.DirectConversation, error) {
	const op = "services.messages.DirectConversations"

	list, err := s.repo.ListDirectConversations(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}

func (s *Service) publish(ref messages.ConversationRef, typ string, payload any) {
	if s.pub == nil {
		return
	}

	data, err := ws.Encode(ref, typ, payload)
	if err != nil {
		s.log.Error("failed to build ws frame", slog.String("type", typ), sl.Err(err))
		return
	}

	for _, room := range hub.RoomsFor(ref) {
		s.pub.Broadcast(room, data)
	}
}
