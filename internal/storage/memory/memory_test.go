package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgellert/hodatay-classroom/internal/channels"
	"github.com/kgellert/hodatay-classroom/internal/errs"
	"github.com/kgellert/hodatay-classroom/internal/messages"
)

var t0 = time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)

func seedMessages(t *testing.T, s *Storage, ref messages.ConversationRef, n int) []messages.Message {
	t.Helper()

	out := make([]messages.Message, 0, n)
	for i := 0; i < n; i++ {
		m, err := s.CreateMessage(context.Background(), messages.Message{
			Conversation: ref,
			AuthorID:     1,
			Text:         "hi",
			CreatedAt:    t0.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

func TestCreateChannelRejectsDuplicateName(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.CreateChannel(ctx, channels.Channel{Name: "Math 7B", CreatedBy: 2})
	require.NoError(t, err)

	_, err = s.CreateChannel(ctx, channels.Channel{Name: "  #math 7b", CreatedBy: 2})
	require.ErrorIs(t, err, channels.ErrChannelExists)
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestListMessagesPagesBackwards(t *testing.T) {
	s := New()
	ctx := context.Background()
	ref := messages.ChannelRef("c1")

	all := seedMessages(t, s, ref, 5)
	seedMessages(t, s, messages.ChannelRef("other"), 2)

	page, err := s.ListMessages(ctx, ref, messages.Cursor{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, all[3].ID, page[0].ID)
	assert.Equal(t, all[4].ID, page[1].ID)

	older, err := s.ListMessages(ctx, ref, messages.Cursor{Before: page[0].ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, older, 3)
	assert.Equal(t, all[0].ID, older[0].ID)

	empty, err := s.ListMessages(ctx, messages.ChannelRef("nobody"), messages.Cursor{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReactionsHaveSetSemantics(t *testing.T) {
	s := New()
	ctx := context.Background()
	m := seedMessages(t, s, messages.ChannelRef("c1"), 1)[0]

	at := t0.Add(time.Hour)
	got, err := s.AddReaction(ctx, m.ID, "👍", 3, at)
	require.NoError(t, err)
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, at, got.UpdatedAt)

	again, err := s.AddReaction(ctx, m.ID, "👍", 3, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, again.Reactions, 1)
	assert.Equal(t, at, again.UpdatedAt, "no-op must not bump the version")

	removed, err := s.RemoveReaction(ctx, m.ID, "👍", 3, at.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, removed.Reactions)
}

func TestDeleteMessageIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	ref := messages.ChannelRef("c1")
	m := seedMessages(t, s, ref, 1)[0]

	got, err := s.DeleteMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, ref, got)

	got, err = s.DeleteMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, ref, got)

	deleted, err := s.IsDeleted(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.GetMessage(ctx, m.ID)
	assert.ErrorIs(t, err, messages.ErrMessageNotFound)

	_, err = s.DeleteMessage(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUnreadCountAndMarkRead(t *testing.T) {
	s := New()
	ctx := context.Background()

	ch, err := s.CreateChannel(ctx, channels.Channel{Name: "general", CreatedBy: 1})
	require.NoError(t, err)
	seedMessages(t, s, messages.ChannelRef(ch.ID), 3)

	list, err := s.ListChannels(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.EqualValues(t, 3, list[0].UnreadCount)

	own, err := s.ListChannels(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, own[0].UnreadCount)

	require.NoError(t, s.MarkRead(ctx, ch.ID, 2, t0.Add(90*time.Second)))
	list, err = s.ListChannels(ctx, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, list[0].UnreadCount)
}

func TestListDirectConversationsNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()

	seedMessages(t, s, messages.DirectRef(1, 3), 1)
	seedMessages(t, s, messages.DirectRef(4, 1), 2)
	seedMessages(t, s, messages.DirectRef(3, 4), 1)

	got, err := s.ListDirectConversations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(4), got[0].PeerID)
	assert.Equal(t, int64(3), got[1].PeerID)
	require.NotNil(t, got[0].LastMessage)
	assert.Equal(t, t0.Add(time.Minute), got[0].LastMessageAt)
}
