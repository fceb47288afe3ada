package conversations

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
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
	userhandlers "github.com/kgellert/hodatay-classroom/internal/users/handlers"
	usersrepo "github.com/kgellert/hodatay-classroom/internal/users/repo"
	"github.com/kgellert/hodatay-classroom/internal/ws/hub"
)

func backend(t *testing.T) (*httptest.Server, channels.Channel) {
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

	general, err := st.CreateChannel(context.Background(), channels.Channel{Name: "general", CreatedBy: 1})
	require.NoError(t, err)
	return srv, general
}

func TestClientRoundTrip(t *testing.T) {
	srv, general := backend(t)
	ctx := context.Background()
	log := slogdiscard.NewDiscardLogger()

	student := New(srv.URL, 3, time.Second, log)
	teacher := New(srv.URL, 2, time.Second, log)
	ref := messages.ChannelRef(general.ID)

	me, err := student.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ivan Student", me.Name)

	list, err := student.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	history, err := student.FetchHistory(ctx, ref, messages.Cursor{})
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)

	msg, err := student.Send(ctx, ref, messages.Draft{ClientID: "tmp-1", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "tmp-1", msg.ClientID)

	_, err = teacher.Edit(ctx, msg.ID, "edited by someone else", 2)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
	assert.Equal(t, "not_author", errs.Code(err))

	edited, err := student.Edit(ctx, msg.ID, "hello, class", 3)
	require.NoError(t, err)
	assert.True(t, edited.Edited)

	require.NoError(t, teacher.AddReaction(ctx, msg.ID, "🎉", 2))
	history, err = student.FetchHistory(ctx, ref, messages.Cursor{Limit: 10})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].HasReaction("🎉", 2))

	require.NoError(t, teacher.RemoveReaction(ctx, msg.ID, "🎉", 2))

	require.NoError(t, student.Delete(ctx, msg.ID, 3))
	require.NoError(t, student.Delete(ctx, msg.ID, 3))

	_, err = student.Edit(ctx, msg.ID, "gone", 3)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	dm, err := student.Send(ctx, messages.DirectRef(3, 2), messages.Draft{Text: "private question"})
	require.NoError(t, err)
	assert.Equal(t, messages.DirectRef(2, 3), dm.Conversation)

	convs, err := teacher.ListDirectConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, int64(3), convs[0].PeerID)

	ch, err := teacher.CreateChannel(ctx, "Physics", []int64{3})
	require.NoError(t, err)

	err = student.InviteMembers(ctx, ch.ID, []int64{5})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
	require.NoError(t, teacher.InviteMembers(ctx, ch.ID, []int64{5}))
	require.NoError(t, student.MarkRead(ctx, ch.ID))
}

func TestValidationHappensBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := New(srv.URL, 3, time.Second, slogdiscard.NewDiscardLogger())
	ctx := context.Background()

	_, err := c.Send(ctx, messages.ChannelRef("c1"), messages.Draft{Text: "   "})
	assert.ErrorIs(t, err, messages.ErrTextOrAttachmentsIsRequired)
	assert.ErrorIs(t, err, errs.ErrValidation)

	assert.ErrorIs(t, c.AddReaction(ctx, "m1", "", 3), errs.ErrValidation)
	assert.ErrorIs(t, c.InviteMembers(ctx, "c1", []int64{0, -1}), channels.ErrEmptyParticipants)

	_, err = c.Send(ctx, messages.DirectRef(4, 5), messages.Draft{Text: "not mine"})
	assert.ErrorIs(t, err, messages.ErrInvalidConversation)

	assert.Zero(t, hits.Load())
}

func TestTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, 3, 50*time.Millisecond, slogdiscard.NewDiscardLogger())

	_, err := c.FetchHistory(context.Background(), messages.ChannelRef("c1"), messages.Cursor{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrTransport)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnknownErrorBodyFallsBackToStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, 3, time.Second, slogdiscard.NewDiscardLogger())

	_, err := c.ListChannels(context.Background())
	assert.ErrorIs(t, err, errs.ErrTransport)
	assert.Contains(t, err.Error(), http.StatusText(http.StatusServiceUnavailable))
}
