// Package selector keeps track of the one conversation a user has open and
// switches between them: access check, history, realtime subscription and a
// fresh session per selection.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kgellert/hodatay-classroom/internal/channels"
	"github.com/kgellert/hodatay-classroom/internal/chat/access"
	"github.com/kgellert/hodatay-classroom/internal/chat/conversations"
	"github.com/kgellert/hodatay-classroom/internal/chat/dategroup"
	"github.com/kgellert/hodatay-classroom/internal/chat/merge"
	"github.com/kgellert/hodatay-classroom/internal/chat/mutator"
	"github.com/kgellert/hodatay-classroom/internal/chat/realtime"
	"github.com/kgellert/hodatay-classroom/internal/chat/session"
	"github.com/kgellert/hodatay-classroom/internal/errs"
	"github.com/kgellert/hodatay-classroom/internal/lib/logger/handlers/slogdiscard"
	"github.com/kgellert/hodatay-classroom/internal/lib/logger/sl"
	"github.com/kgellert/hodatay-classroom/internal/messages"
	userdomain "github.com/kgellert/hodatay-classroom/internal/users/domain"
	"github.com/kgellert/hodatay-classroom/internal/ws"
)

var ErrSuperseded = errs.New(errs.ErrConflict, "selection_superseded", "another conversation was selected meanwhile")

// Subscriber is the realtime side the selector drives. *realtime.Manager
// satisfies it.
type Subscriber interface {
	SubscribeChannel(ctx context.Context, ref messages.ConversationRef) error
	UnsubscribeChannel()
	Send(ref messages.ConversationRef, out realtime.Outbound) error
}

type Options struct {
	Merger  merge.Merger
	Grouper dategroup.Grouper
	Now     func() time.Time
	NewID   func() string
	Log     *slog.Logger
}

type Selector struct {
	user userdomain.User
	repo conversations.Repository
	rt   Subscriber
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	active   *mutator.Mutator
	channels map[string]channels.Channel
	unread   map[string]int
}

// New builds a selector acting as user. rt may be nil, the selector then
// works from history alone.
func New(user userdomain.User, repo conversations.Repository, rt Subscriber, opts Options) *Selector {
	log := opts.Log
	if log == nil {
		log = slogdiscard.NewDiscardLogger()
	}

	return &Selector{
		user:     user,
		repo:     repo,
		rt:       rt,
		opts:     opts,
		log:      log.With(slog.Int64("user_id", user.ID)),
		channels: make(map[string]channels.Channel),
		unread:   make(map[string]int),
	}
}

// Channels lists the channels the user may open, in backend order.
func (s *Selector) Channels(ctx context.Context) ([]channels.Channel, error) {
	const op = "selector.Channels"

	list, err := s.repo.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	visible := access.Filter(s.user, list)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range list {
		s.channels[ch.ID] = ch
	}
	return visible, nil
}

func (s *Selector) lookup(ctx context.Context, channelID string) (channels.Channel, error) {
	s.mu.Lock()
	ch, ok := s.channels[channelID]
	s.mu.Unlock()
	if ok {
		return ch, nil
	}

	if _, err := s.Channels(ctx); err != nil {
		return channels.Channel{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok = s.channels[channelID]
	if !ok {
		return channels.Channel{}, channels.ErrChannelNotFound
	}
	return ch, nil
}

// SelectChannel opens a channel. Access is checked before anything is
// fetched or subscribed.
func (s *Selector) SelectChannel(ctx context.Context, channelID string) (*mutator.Mutator, error) {
	const op = "selector.SelectChannel"

	ch, err := s.lookup(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !access.CanAccess(s.user, ch) {
		s.log.Info("channel access denied", slog.String("channel_id", ch.ID), slog.String("name", ch.Name))
		return nil, fmt.Errorf("%s: %w", op, channels.ErrAccessDenied)
	}

	return s.open(ctx, messages.ChannelRef(ch.ID))
}

// SelectDirect opens the direct conversation with peerID. DMs arrive over
// the inbox connection, so the channel connection is dropped.
func (s *Selector) SelectDirect(ctx context.Context, peerID int64) (*mutator.Mutator, error) {
	if peerID <= 0 || peerID == s.user.ID {
		return nil, messages.ErrInvalidConversation
	}
	return s.open(ctx, messages.DirectRef(s.user.ID, peerID))
}

func (s *Selector) open(ctx context.Context, ref messages.ConversationRef) (*mutator.Mutator, error) {
	const op = "selector.open"

	log := s.log.With(slog.String("op", op), slog.String("conversation", ref.Key()))

	sess := session.New(ref, session.Options{Merger: s.opts.Merger, Grouper: s.opts.Grouper, Log: s.log})
	var echo mutator.Echoer
	if s.rt != nil {
		echo = s.rt
	}
	mut := mutator.New(sess, s.repo, echo, s.user.ID, mutator.Options{Now: s.opts.Now, NewID: s.opts.NewID, Log: s.log})

	fetchCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.gen++
	gen := s.gen
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	prev := s.active
	s.active = mut
	delete(s.unread, ref.Key())
	s.mu.Unlock()

	if prev != nil {
		prev.Session().Close()
	}

	if s.rt != nil {
		if ref.IsChannel() {
			if err := s.rt.SubscribeChannel(ctx, ref); err != nil {
				log.Warn("realtime subscribe failed", sl.Err(err))
			}
		} else {
			s.rt.UnsubscribeChannel()
		}
	}

	history, err := s.repo.FetchHistory(fetchCtx, ref, messages.Cursor{})

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		log.Debug("discarding superseded history")
		return nil, ErrSuperseded
	}
	if err != nil {
		return mut, fmt.Errorf("%s: %w", op, err)
	}

	sess.Dispatch(session.HistoryLoaded{Ref: ref, Messages: history})
	log.Debug("conversation opened", slog.Int("messages", len(history)))
	return mut, nil
}

// Active returns the mutator of the open conversation, nil if none.
func (s *Selector) Active() *mutator.Mutator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Dispatch routes a realtime event to the open conversation. Messages for
// other conversations only count as unread.
func (s *Selector) Dispatch(evt ws.Event) {
	s.mu.Lock()
	active := s.active
	key := evt.Conversation().Key()
	if active == nil || active.Session().Ref().Key() != key {
		if _, ok := evt.(ws.Created); ok && evt.Conversation().Valid() {
			s.unread[key]++
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	active.Session().Dispatch(session.EventReceived{Event: evt})
}

// Delivered forwards an echo delivery notice to the open conversation.
func (s *Selector) Delivered(clientID string) {
	if m := s.Active(); m != nil {
		m.Delivered(clientID)
	}
}

// Unread counts messages that arrived for ref while it was not open.
func (s *Selector) Unread(ref messages.ConversationRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[ref.Normalize().Key()]
}

// Run dispatches events until ctx is done or events is closed.
func (s *Selector) Run(ctx context.Context, events <-chan ws.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			s.Dispatch(evt)
		}
	}
}

// Close tears down the open conversation.
func (s *Selector) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.active != nil {
		s.active.Session().Close()
		s.active = nil
	}
}
