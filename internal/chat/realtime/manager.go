package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/kgellert/hodatay-classroom/internal/errs"
	"github.com/kgellert/hodatay-classroom/internal/lib/logger/handlers/slogdiscard"
	"github.com/kgellert/hodatay-classroom/internal/messages"
	"github.com/kgellert/hodatay-classroom/internal/ws"
)

type Kind string

const (
	KindChannel Kind = "channel"
	KindInbox   Kind = "inbox"
)

var ErrNotSubscribed = errs.Transport("not_subscribed", "no realtime connection for this conversation")

type ManagerOptions struct {
	// URL is the streaming endpoint, e.g. ws://localhost:8082/ws.
	URL         string
	UserID      int64
	Backoff     Backoff
	QueueSize   int
	Dialer      Dialer
	Log         *slog.Logger
	OnState     func(Kind, State)
	OnDelivered func(clientID string)
}

// Manager owns the two connections of a session: one for the selected
// channel, replaced on every switch, and the long lived DM inbox. Events of
// both are fanned into one stream.
type Manager struct {
	opts   ManagerOptions
	log    *slog.Logger
	events chan ws.Event
	quit   chan struct{}
	wg     sync.WaitGroup

	mu         sync.Mutex
	channel    *Channel
	channelRef messages.ConversationRef
	inbox      *Channel
	closed     bool
}

func NewManager(opts ManagerOptions) *Manager {
	log := opts.Log
	if log == nil {
		log = slogdiscard.NewDiscardLogger()
	}
	return &Manager{
		opts:   opts,
		log:    log,
		events: make(chan ws.Event, eventBuffer),
		quit:   make(chan struct{}),
	}
}

func (m *Manager) Events() <-chan ws.Event {
	return m.events
}

func (m *Manager) endpoint(query url.Values) (string, error) {
	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return "", fmt.Errorf("realtime.endpoint: %w", err)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func (m *Manager) newChannel(kind Kind, rawURL string) *Channel {
	var onState func(State)
	if m.opts.OnState != nil {
		onState = func(s State) { m.opts.OnState(kind, s) }
	}

	return NewChannel(Options{
		URL:         rawURL,
		Header:      AuthHeader(m.opts.UserID),
		Backoff:     m.opts.Backoff,
		QueueSize:   m.opts.QueueSize,
		Dialer:      m.opts.Dialer,
		Log:         m.log.With(slog.String("kind", string(kind))),
		OnState:     onState,
		OnDelivered: m.opts.OnDelivered,
	})
}

func (m *Manager) forward(c *Channel) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for evt := range c.Events() {
			select {
			case m.events <- evt:
			case <-m.quit:
				return
			}
		}
	}()
}

// StartInbox opens the DM inbox connection once; later calls are no-ops.
func (m *Manager) StartInbox(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.inbox != nil {
		return nil
	}

	rawURL, err := m.endpoint(url.Values{"inbox": {"1"}})
	if err != nil {
		return err
	}

	m.inbox = m.newChannel(KindInbox, rawURL)
	m.forward(m.inbox)
	m.inbox.Start(ctx)
	return nil
}

// SubscribeChannel tears down the current channel connection and follows
// ref instead. Subscribing to the current channel again is a no-op.
func (m *Manager) SubscribeChannel(ctx context.Context, ref messages.ConversationRef) error {
	if !ref.IsChannel() {
		return messages.ErrInvalidConversation
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.channel != nil && m.channelRef.Key() == ref.Key() && m.channel.State() != Disconnected {
		return nil
	}

	rawURL, err := m.endpoint(url.Values{"conversation": {ref.Key()}})
	if err != nil {
		return err
	}

	m.dropChannelLocked()

	m.channel = m.newChannel(KindChannel, rawURL)
	m.channelRef = ref
	m.forward(m.channel)
	m.channel.Start(ctx)
	return nil
}

func (m *Manager) UnsubscribeChannel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropChannelLocked()
}

func (m *Manager) dropChannelLocked() {
	if m.channel == nil {
		return
	}
	m.channel.Close()
	m.log.Debug("realtime channel connection closed", slog.String("conversation", m.channelRef.Key()))
	m.channel = nil
	m.channelRef = messages.ConversationRef{}
}

// Channel returns the current channel connection, nil if none.
func (m *Manager) Channel() *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel
}

func (m *Manager) Inbox() *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inbox
}

// Send routes an outbound frame for ref to the connection that follows it.
func (m *Manager) Send(ref messages.ConversationRef, out Outbound) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case ref.IsChannel() && m.channel != nil && m.channelRef.Key() == ref.Key():
		return m.channel.Send(out)
	case ref.IsDirect() && m.inbox != nil:
		return m.inbox.Send(out)
	}
	return ErrNotSubscribed
}

// Pending sums the frames waiting on both connections.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	if m.channel != nil {
		n += m.channel.Pending()
	}
	if m.inbox != nil {
		n += m.inbox.Pending()
	}
	return n
}

// Close ends both connections and closes Events.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.dropChannelLocked()
	if m.inbox != nil {
		m.inbox.Close()
	}
	close(m.quit)
	m.mu.Unlock()

	m.wg.Wait()
	close(m.events)
}
