package selector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgellert/hodatay-classroom/internal/channels"
	"github.com/kgellert/hodatay-classroom/internal/chat/conversations"
	"github.com/kgellert/hodatay-classroom/internal/chat/realtime"
	"github.com/kgellert/hodatay-classroom/internal/errs"
	"github.com/kgellert/hodatay-classroom/internal/messages"
	userdomain "github.com/kgellert/hodatay-classroom/internal/users/domain"
	"github.com/kgellert/hodatay-classroom/internal/ws"
)

var (
	ivan = userdomain.User{ID: 3, Name: "Ivan", Role: userdomain.RoleStudent}
	olga = userdomain.User{ID: 4, Name: "Olga", Role: userdomain.RoleParent}

	t0 = time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)

	roster = []channels.Channel{
		{ID: "c-general", Name: "general"},
		{ID: "c-math", Name: "math-7b", MemberIDs: []int64{2, 3}},
		{ID: "c-teachers", Name: "Teachers"},
	}
)

type fakeRepo struct {
	conversations.Repository

	mu      sync.Mutex
	fetched []string
	gates   map[string]chan struct{}
	// ignoreCancel answers even after the caller gave up
	ignoreCancel bool
}

func newRepo() *fakeRepo {
	return &fakeRepo{gates: make(map[string]chan struct{})}
}

func (r *fakeRepo) ListChannels(ctx context.Context) ([]channels.Channel, error) {
	return roster, nil
}

func (r *fakeRepo) gate(key string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := make(chan struct{})
	r.gates[key] = g
	return g
}

func (r *fakeRepo) Fetched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.fetched...)
}

func (r *fakeRepo) FetchHistory(ctx context.Context, ref messages.ConversationRef, cursor messages.Cursor) ([]messages.Message, error) {
	r.mu.Lock()
	r.fetched = append(r.fetched, ref.Key())
	g := r.gates[ref.Key()]
	r.mu.Unlock()

	if g != nil {
		if r.ignoreCancel {
			<-g
		} else {
			select {
			case <-g:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return []messages.Message{{
		ID:           "h-" + ref.Key(),
		Conversation: ref,
		AuthorID:     2,
		Text:         "history of " + ref.Key(),
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}}, nil
}

func (r *fakeRepo) Send(ctx context.Context, ref messages.ConversationRef, draft messages.Draft) (messages.Message, error) {
	at := t0.Add(time.Minute)
	return messages.Message{
		ID: "abc123", ClientID: draft.ClientID, Conversation: ref, AuthorID: ivan.ID,
		Text: draft.Text, CreatedAt: at, UpdatedAt: at,
	}, nil
}

type fakeRT struct {
	mu    sync.Mutex
	calls []string
	sent  []realtime.Outbound
}

func (f *fakeRT) SubscribeChannel(ctx context.Context, ref messages.ConversationRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "subscribe "+ref.Key())
	return nil
}

func (f *fakeRT) UnsubscribeChannel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "unsubscribe")
}

func (f *fakeRT) Send(ref messages.ConversationRef, out realtime.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, out)
	return nil
}

func (f *fakeRT) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestChannelsAreFilteredByAccess(t *testing.T) {
	sel := New(olga, newRepo(), nil, Options{})

	list, err := sel.Channels(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "general", list[0].Name)
}

func TestSelectChannelDeniedBeforeFetch(t *testing.T) {
	repo := newRepo()
	rt := &fakeRT{}
	sel := New(olga, repo, rt, Options{})

	_, err := sel.SelectChannel(context.Background(), "c-teachers")
	require.ErrorIs(t, err, channels.ErrAccessDenied)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	assert.Empty(t, repo.Fetched())
	assert.Empty(t, rt.Calls())
	assert.Nil(t, sel.Active())

	_, err = sel.SelectChannel(context.Background(), "c-missing")
	assert.ErrorIs(t, err, channels.ErrChannelNotFound)
}

func TestSelectChannelLoadsHistoryAndSubscribes(t *testing.T) {
	rt := &fakeRT{}
	sel := New(ivan, newRepo(), rt, Options{})

	mut, err := sel.SelectChannel(context.Background(), "c-math")
	require.NoError(t, err)
	require.Same(t, mut, sel.Active())

	snap := mut.Session().Snapshot()
	assert.True(t, snap.Loaded)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "history of channel:c-math", snap.Messages[0].Text)
	assert.Equal(t, []string{"subscribe channel:c-math"}, rt.Calls())
}

func TestSwitchDiscardsLateHistory(t *testing.T) {
	for _, ignore := range []bool{false, true} {
		repo := newRepo()
		repo.ignoreCancel = ignore
		gate := repo.gate("channel:c-math")
		sel := New(ivan, repo, &fakeRT{}, Options{})

		errc := make(chan error, 1)
		go func() {
			_, err := sel.SelectChannel(context.Background(), "c-math")
			errc <- err
		}()
		require.Eventually(t, func() bool { return len(repo.Fetched()) == 1 }, time.Second, 5*time.Millisecond)

		general, err := sel.SelectChannel(context.Background(), "c-general")
		require.NoError(t, err)

		close(gate)
		assert.ErrorIs(t, <-errc, ErrSuperseded)

		assert.Same(t, general, sel.Active())
		list := general.Session().Messages()
		require.Len(t, list, 1)
		assert.Equal(t, "history of channel:c-general", list[0].Text)
		assert.Equal(t, "h-channel:c-general", list[0].ID)
	}
}

func TestSelectDirectKeepsInbox(t *testing.T) {
	rt := &fakeRT{}
	sel := New(ivan, newRepo(), rt, Options{})
	ctx := context.Background()

	math, err := sel.SelectChannel(ctx, "c-math")
	require.NoError(t, err)

	dm, err := sel.SelectDirect(ctx, 2)
	require.NoError(t, err)
	assert.True(t, math.Session().Closed())
	assert.Equal(t, messages.DirectRef(2, 3), dm.Session().Ref())
	assert.Equal(t, []string{"subscribe channel:c-math", "unsubscribe"}, rt.Calls())

	_, err = sel.SelectDirect(ctx, ivan.ID)
	assert.ErrorIs(t, err, messages.ErrInvalidConversation)
}

func TestDispatchRoutesToActiveConversation(t *testing.T) {
	sel := New(ivan, newRepo(), &fakeRT{}, Options{})
	ctx := context.Background()

	dm, err := sel.SelectDirect(ctx, 2)
	require.NoError(t, err)

	ref := messages.DirectRef(2, 3)
	other := messages.DirectRef(3, 5)
	events := make(chan ws.Event, 4)
	events <- ws.Created{Ref: ref, Message: messages.Message{
		ID: "m1", Conversation: ref, AuthorID: 2, Text: "hi", CreatedAt: t0.Add(time.Minute), UpdatedAt: t0.Add(time.Minute),
	}}
	events <- ws.Created{Ref: other, Message: messages.Message{ID: "m2", Conversation: other, AuthorID: 5, Text: "psst"}}
	events <- ws.Control{Kind: ws.Hello}
	close(events)

	require.NoError(t, sel.Run(ctx, events))

	_, ok := dm.Session().Find("m1")
	assert.True(t, ok)
	_, ok = dm.Session().Find("m2")
	assert.False(t, ok)
	assert.Equal(t, 1, sel.Unread(other))

	_, err = sel.SelectDirect(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, sel.Unread(other))
}

func TestDeliveredReachesActiveMutator(t *testing.T) {
	rt := &fakeRT{}
	sel := New(ivan, newRepo(), rt, Options{NewID: func() string { return "tmp-1" }})
	ctx := context.Background()

	mut, err := sel.SelectChannel(ctx, "c-math")
	require.NoError(t, err)

	_, err = mut.Send(ctx, messages.Draft{Text: "done"})
	require.NoError(t, err)
	require.Len(t, rt.sent, 1)

	msg, ok := mut.Session().Find("abc123")
	require.True(t, ok)
	assert.Equal(t, messages.StatusPending, msg.Status)

	sel.Delivered("tmp-1")
	msg, _ = mut.Session().Find("abc123")
	assert.Equal(t, messages.StatusConfirmed, msg.Status)

	sel.Close()
	assert.Nil(t, sel.Active())
	assert.True(t, mut.Session().Closed())
}
