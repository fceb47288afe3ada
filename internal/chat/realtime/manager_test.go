package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgellert/hodatay-classroom/internal/channels"
	channelshandler "github.com/kgellert/hodatay-classroom/internal/channels/handler"
	channelsservice "github.com/kgellert/hodatay-classroom/internal/channels/service"
	"github.com/kgellert/hodatay-classroom/internal/errs"
	"github.com/kgellert/hodatay-classroom/internal/http-server/router"
	"github.com/kgellert/hodatay-classroom/internal/lib/logger/handlers/slogdiscard"
	"github.com/kgellert/hodatay-classroom/internal/messages"
	messageshandler "github.com/kgellert/hodatay-classroom/internal/messages/handler"
	messagesservice "github.com/kgellert/hodatay-classroom/internal/messages/service"
	"github.com/kgellert/hodatay-classroom/internal/storage/memory"
	userdomain "github.com/kgellert/hodatay-classroom/internal/users/domain"
	userhandlers "github.com/kgellert/hodatay-classroom/internal/users/handlers"
	usersrepo "github.com/kgellert/hodatay-classroom/internal/users/repo"
	"github.com/kgellert/hodatay-classroom/internal/ws"
	"github.com/kgellert/hodatay-classroom/internal/ws/hub"
)

type backend struct {
	url      string
	messages *messagesservice.Service
	roster   *usersrepo.Roster
	general  channels.Channel
	math     channels.Channel
	teachers channels.Channel
}

func newBackend(t *testing.T) backend {
	t.Helper()

	log := slogdiscard.NewDiscardLogger()
	st := memory.New()
	roster := usersrepo.Seed()
	h := hub.NewHub()
	go h.Run()
	t.Cleanup(h.Stop)

	msgSvc := messagesservice.New(st, st, roster, h, messagesservice.Limits{}, log)
	srv := httptest.NewServer(router.New(router.Deps{
		Log:      log,
		Users:    userhandlers.New(roster, log),
		Channels: channelshandler.New(channelsservice.New(st, log), log),
		Messages: messageshandler.New(msgSvc, log),
		Authz:    msgSvc,
		Hub:      h,
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	general, err := st.CreateChannel(ctx, channels.Channel{Name: "general", CreatedBy: 1})
	require.NoError(t, err)
	math, err := st.CreateChannel(ctx, channels.Channel{Name: "math-7b", MemberIDs: []int64{2, 3}, CreatedBy: 2})
	require.NoError(t, err)
	teachers, err := st.CreateChannel(ctx, channels.Channel{Name: "Teachers", CreatedBy: 1})
	require.NoError(t, err)

	return backend{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		messages: msgSvc,
		roster:   roster,
		general:  general,
		math:     math,
		teachers: teachers,
	}
}

func (b backend) user(t *testing.T, id int64) userdomain.User {
	u, err := b.roster.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

type stateLog struct {
	mu     sync.Mutex
	states map[Kind]State
}

func (l *stateLog) record(k Kind, s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[k] = s
}

func (l *stateLog) get(k Kind) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.states[k]
}

func nextEvent(t *testing.T, m *Manager) ws.Event {
	t.Helper()
	select {
	case evt := <-m.Events():
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("no event")
		return nil
	}
}

func TestManagerFollowsChannelAndInbox(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	states := &stateLog{states: map[Kind]State{}}
	m := NewManager(ManagerOptions{URL: b.url, UserID: 3, OnState: states.record})
	defer m.Close()

	mathRef := messages.ChannelRef(b.math.ID)
	require.NoError(t, m.StartInbox(ctx))
	require.NoError(t, m.SubscribeChannel(ctx, mathRef))

	require.Eventually(t, func() bool {
		return states.get(KindChannel) == Connected && states.get(KindInbox) == Connected
	}, 3*time.Second, 10*time.Millisecond)

	_, err := b.messages.Send(ctx, b.user(t, 2), mathRef, messages.Draft{Text: "homework is up"})
	require.NoError(t, err)

	evt := nextEvent(t, m)
	require.IsType(t, ws.Created{}, evt)
	assert.Equal(t, "homework is up", evt.(ws.Created).Message.Text)
	assert.Equal(t, mathRef, evt.Conversation())

	_, err = b.messages.Send(ctx, b.user(t, 2), messages.DirectRef(2, 3), messages.Draft{Text: "see me after class"})
	require.NoError(t, err)

	evt = nextEvent(t, m)
	assert.Equal(t, messages.DirectRef(2, 3), evt.Conversation())

	// switching tears the math connection down, the inbox stays
	old := m.Channel()
	inbox := m.Inbox()
	require.NoError(t, m.SubscribeChannel(ctx, messages.ChannelRef(b.general.ID)))
	assert.Equal(t, Disconnected, old.State())
	assert.Same(t, inbox, m.Inbox())

	require.Eventually(t, func() bool {
		return m.Channel().State() == Connected
	}, 3*time.Second, 10*time.Millisecond)

	err = m.Send(mathRef, Outbound{Data: []byte("{}")})
	assert.ErrorIs(t, err, ErrNotSubscribed)
	assert.NoError(t, m.Send(messages.DirectRef(3, 5), Outbound{Data: []byte("{}")}))
}

func TestManagerEchoReachesOtherFollowers(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	mathRef := messages.ChannelRef(b.math.ID)

	delivered := make(chan string, 1)
	sender := NewManager(ManagerOptions{URL: b.url, UserID: 3, OnDelivered: func(id string) { delivered <- id }})
	defer sender.Close()
	watcher := NewManager(ManagerOptions{URL: b.url, UserID: 2})
	defer watcher.Close()

	require.NoError(t, sender.SubscribeChannel(ctx, mathRef))
	require.NoError(t, watcher.SubscribeChannel(ctx, mathRef))
	require.Eventually(t, func() bool {
		return sender.Channel().State() == Connected && watcher.Channel().State() == Connected
	}, 3*time.Second, 10*time.Millisecond)

	frame, err := ws.Encode(mathRef, ws.MessageCreated, ws.MessagePayload{Message: messages.Message{
		ID: "tmp-1", ClientID: "tmp-1", AuthorID: 3, Text: "on my way", Status: messages.StatusPending,
	}})
	require.NoError(t, err)
	require.NoError(t, sender.Send(mathRef, Outbound{ClientID: "tmp-1", Data: frame}))

	select {
	case id := <-delivered:
		assert.Equal(t, "tmp-1", id)
	case <-time.After(3 * time.Second):
		t.Fatal("echo not delivered")
	}

	evt := nextEvent(t, watcher)
	require.IsType(t, ws.Created{}, evt)
	assert.Equal(t, "tmp-1", evt.(ws.Created).Message.ClientID)

	select {
	case evt := <-sender.Events():
		t.Fatalf("sender got its own echo: %v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManagerRefusedChannel(t *testing.T) {
	b := newBackend(t)

	m := NewManager(ManagerOptions{URL: b.url, UserID: 4})
	defer m.Close()

	require.NoError(t, m.SubscribeChannel(context.Background(), messages.ChannelRef(b.teachers.ID)))

	require.Eventually(t, func() bool {
		return m.Channel().Err() != nil
	}, 3*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, m.Channel().Err(), errs.ErrUnauthorized)
	assert.Equal(t, Disconnected, m.Channel().State())

	assert.ErrorIs(t, m.SubscribeChannel(context.Background(), messages.DirectRef(4, 2)), messages.ErrInvalidConversation)
}

func TestManagerCloseEndsEvents(t *testing.T) {
	b := newBackend(t)

	m := NewManager(ManagerOptions{URL: b.url, UserID: 3})
	require.NoError(t, m.StartInbox(context.Background()))
	m.Close()

	_, open := <-m.Events()
	assert.False(t, open)
	assert.ErrorIs(t, m.StartInbox(context.Background()), ErrClosed)
}
