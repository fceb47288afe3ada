// Package mutator applies user actions to the open conversation
// optimistically and reconciles them with the backend's answer.
package mutator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kgellert/hodatay-classroom/internal/chat/realtime"
	"github.com/kgellert/hodatay-classroom/internal/chat/session"
	"github.com/kgellert/hodatay-classroom/internal/errs"
	"github.com/kgellert/hodatay-classroom/internal/lib/logger/handlers/slogdiscard"
	"github.com/kgellert/hodatay-classroom/internal/lib/logger/sl"
	"github.com/kgellert/hodatay-classroom/internal/messages"
	"github.com/kgellert/hodatay-classroom/internal/ws"
)

var (
	ErrNotConfirmed    = errs.Validation("message_not_confirmed", "message is still being sent")
	ErrNothingToRetry  = errs.NotFound("nothing_to_retry", "no failed message with this id")
	ErrUnknownMessage  = errs.NotFound("message_not_in_view", "message is not in this conversation")
	errEchoUnavailable = errors.New("echo unavailable")
)

type Repository interface {
	Send(ctx context.Context, ref messages.ConversationRef, draft messages.Draft) (messages.Message, error)
	Edit(ctx context.Context, messageID, text string, actorID int64) (messages.Message, error)
	Delete(ctx context.Context, messageID string, actorID int64) error
	AddReaction(ctx context.Context, messageID, emoji string, actorID int64) error
	RemoveReaction(ctx context.Context, messageID, emoji string, actorID int64) error
}

// Echoer queues the realtime copy of a local send. *realtime.Manager
// satisfies it.
type Echoer interface {
	Send(ref messages.ConversationRef, out realtime.Outbound) error
}

type Options struct {
	Now   func() time.Time
	NewID func() string
	Log   *slog.Logger
}

type Mutator struct {
	session *session.Session
	repo    Repository
	echo    Echoer
	userID  int64
	now     func() time.Time
	newID   func() string
	log     *slog.Logger

	mu        sync.Mutex
	inflight  map[string]bool
	delivered map[string]bool
	failed    map[string]messages.Draft
}

func New(sess *session.Session, repo Repository, echo Echoer, userID int64, opts Options) *Mutator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Log == nil {
		opts.Log = slogdiscard.NewDiscardLogger()
	}

	return &Mutator{
		session:   sess,
		repo:      repo,
		echo:      echo,
		userID:    userID,
		now:       opts.Now,
		newID:     opts.NewID,
		log:       opts.Log.With(slog.String("conversation", sess.Ref().Key())),
		inflight:  make(map[string]bool),
		delivered: make(map[string]bool),
		failed:    make(map[string]messages.Draft),
	}
}

func (m *Mutator) Session() *session.Session {
	return m.session
}

// Send shows the draft right away under a temporary id, then stores it and
// queues the realtime echo concurrently. On success the entry is replaced in
// place by the stored message. On failure it is marked failed and left for
// Retry.
func (m *Mutator) Send(ctx context.Context, draft messages.Draft) (messages.Message, error) {
	if err := draft.Validate(); err != nil {
		return messages.Message{}, err
	}

	if draft.ClientID == "" {
		draft.ClientID = m.newID()
	}

	now := m.now().UTC()
	local := messages.Message{
		ID:           draft.ClientID,
		ClientID:     draft.ClientID,
		Conversation: m.session.Ref(),
		AuthorID:     m.userID,
		Text:         draft.Text,
		Attachments:  draft.Attachments,
		CreatedAt:    now,
		UpdatedAt:    now,
		Status:       messages.StatusPending,
	}
	m.session.Dispatch(session.LocalSent{Message: local})

	return m.deliver(ctx, draft, local)
}

// Retry sends a failed draft again under the same temporary id.
func (m *Mutator) Retry(ctx context.Context, clientID string) (messages.Message, error) {
	m.mu.Lock()
	draft, ok := m.failed[clientID]
	delete(m.failed, clientID)
	m.mu.Unlock()

	local, found := m.session.Find(clientID)
	if !ok || !found || local.Status != messages.StatusFailed {
		return messages.Message{}, ErrNothingToRetry
	}

	m.session.Dispatch(session.Patch{ID: clientID, Fn: func(msg messages.Message) messages.Message {
		msg.Status = messages.StatusPending
		return msg
	}})
	local.Status = messages.StatusPending

	return m.deliver(ctx, draft, local)
}

func (m *Mutator) deliver(ctx context.Context, draft messages.Draft, local messages.Message) (messages.Message, error) {
	const op = "mutator.Send"

	id := draft.ClientID
	ref := m.session.Ref()

	m.mu.Lock()
	m.inflight[id] = true
	m.mu.Unlock()

	var (
		stored  messages.Message
		echoErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		msg, err := m.repo.Send(gctx, ref, draft)
		if err != nil {
			return err
		}
		stored = msg
		return nil
	})
	g.Go(func() error {
		echoErr = m.queueEcho(ref, local)
		return nil
	})
	err := g.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	delivered := m.delivered[id] || echoErr != nil
	delete(m.inflight, id)
	delete(m.delivered, id)

	if err != nil {
		m.failed[id] = draft
		m.session.Dispatch(session.SendFailed{ClientID: id})
		m.log.Warn("send failed", slog.String("op", op), slog.String("client_id", id), sl.Err(err))
		return messages.Message{}, fmt.Errorf("%s: %w", op, err)
	}

	m.session.Dispatch(session.SendConfirmed{ClientID: id, Message: stored, Delivered: delivered})
	return stored, nil
}

func (m *Mutator) queueEcho(ref messages.ConversationRef, local messages.Message) error {
	if m.echo == nil {
		return errEchoUnavailable
	}

	data, err := ws.Encode(ref, ws.MessageCreated, ws.MessagePayload{Message: local})
	if err != nil {
		return err
	}
	if err := m.echo.Send(ref, realtime.Outbound{ClientID: local.ClientID, Data: data}); err != nil {
		m.log.Warn("echo not queued", slog.String("client_id", local.ClientID), sl.Err(err))
		return err
	}
	return nil
}

// Delivered is called once the realtime echo for clientID was written.
func (m *Mutator) Delivered(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inflight[clientID] {
		m.delivered[clientID] = true
		return
	}
	m.session.Dispatch(session.EchoDelivered{ClientID: clientID})
}

// own returns the confirmed message id written by the current user.
func (m *Mutator) own(id string) (messages.Message, error) {
	msg, ok := m.session.Find(id)
	if !ok {
		return messages.Message{}, ErrUnknownMessage
	}
	if msg.AuthorID != m.userID {
		return messages.Message{}, messages.ErrNotAuthor
	}
	if msg.ID == msg.ClientID {
		return messages.Message{}, ErrNotConfirmed
	}
	return msg, nil
}

// Edit rewrites the text locally first. A rejected edit is rolled back; a
// message the backend no longer has is dropped from the view.
func (m *Mutator) Edit(ctx context.Context, id, text string) (messages.Message, error) {
	const op = "mutator.Edit"

	cur, err := m.own(id)
	if err != nil {
		return messages.Message{}, err
	}
	if err := (messages.Draft{Text: text, Attachments: cur.Attachments}).Validate(); err != nil {
		return messages.Message{}, err
	}
	if cur.Text == text {
		return cur, nil
	}

	m.session.Dispatch(session.Patch{ID: id, Fn: func(msg messages.Message) messages.Message {
		msg.Text = text
		msg.Edited = true
		return msg
	}})

	stored, err := m.repo.Edit(ctx, id, text, m.userID)
	if err != nil {
		m.reconcile(id, err, func(msg messages.Message) messages.Message {
			if msg.Text == text {
				msg.Text = cur.Text
				msg.Edited = cur.Edited
			}
			return msg
		})
		return messages.Message{}, fmt.Errorf("%s: %w", op, err)
	}

	m.session.Dispatch(session.EventReceived{Event: ws.Edited{Ref: m.session.Ref(), Message: stored}})
	return stored, nil
}

// Delete hides the message at once. It is tombstoned when the backend
// confirms or already forgot it, and restored otherwise.
func (m *Mutator) Delete(ctx context.Context, id string) error {
	const op = "mutator.Delete"

	cur, err := m.own(id)
	if err != nil {
		return err
	}

	m.session.Dispatch(session.Removed{ID: id})

	err = m.repo.Delete(ctx, id, m.userID)
	if err == nil || errors.Is(err, errs.ErrNotFound) {
		m.session.Dispatch(session.Removed{ID: id, Tombstone: true})
		return nil
	}

	m.session.Dispatch(session.Restored{Message: cur})
	m.log.Warn("delete rolled back", slog.String("message_id", id), sl.Err(err))
	return fmt.Errorf("%s: %w", op, err)
}

// ToggleReaction adds the emoji when the user has not reacted with it yet
// and removes it otherwise. It reports whether the reaction is now set.
func (m *Mutator) ToggleReaction(ctx context.Context, id, emoji string) (bool, error) {
	const op = "mutator.ToggleReaction"

	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return false, messages.ErrEmojiIsRequired
	}

	cur, ok := m.session.Find(id)
	if !ok {
		return false, ErrUnknownMessage
	}
	if cur.ID == cur.ClientID {
		return false, ErrNotConfirmed
	}

	remove := cur.HasReaction(emoji, m.userID)

	apply := func(msg messages.Message) messages.Message { return msg.WithReaction(emoji, m.userID) }
	undo := func(msg messages.Message) messages.Message { return msg.WithoutReaction(emoji, m.userID) }
	call := m.repo.AddReaction
	if remove {
		apply, undo = undo, apply
		call = m.repo.RemoveReaction
	}

	m.session.Dispatch(session.Patch{ID: id, Fn: apply})

	if err := call(ctx, id, emoji, m.userID); err != nil {
		m.reconcile(id, err, undo)
		return remove, fmt.Errorf("%s: %w", op, err)
	}
	return !remove, nil
}

// reconcile undoes an optimistic change after the backend said no. A
// message the backend no longer knows is removed for good.
func (m *Mutator) reconcile(id string, err error, undo func(messages.Message) messages.Message) {
	if errors.Is(err, errs.ErrNotFound) {
		m.session.Dispatch(session.Removed{ID: id, Tombstone: true})
		return
	}
	m.session.Dispatch(session.Patch{ID: id, Fn: undo})
	m.log.Warn("change rolled back", slog.String("message_id", id), sl.Err(err))
}
