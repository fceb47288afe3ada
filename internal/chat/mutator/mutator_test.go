package mutator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgellert/hodatay-classroom/internal/chat/realtime"
	"github.com/kgellert/hodatay-classroom/internal/chat/session"
	"github.com/kgellert/hodatay-classroom/internal/errs"
	"github.com/kgellert/hodatay-classroom/internal/messages"
	"github.com/kgellert/hodatay-classroom/internal/ws"
)

const me = int64(3)

var (
	t0   = time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	math = messages.ChannelRef("math-7b")
)

type fakeRepo struct {
	mu    sync.Mutex
	calls []string

	sendErr   error
	editErr   error
	deleteErr error
	reactErr  error
	sendGate  chan struct{}
}

func (r *fakeRepo) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *fakeRepo) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *fakeRepo) Send(ctx context.Context, ref messages.ConversationRef, draft messages.Draft) (messages.Message, error) {
	r.record("send")
	if r.sendGate != nil {
		<-r.sendGate
	}
	if r.sendErr != nil {
		return messages.Message{}, r.sendErr
	}
	at := t0.Add(time.Second)
	return messages.Message{
		ID:           "abc123",
		ClientID:     draft.ClientID,
		Conversation: ref,
		AuthorID:     me,
		Text:         draft.Text,
		CreatedAt:    at,
		UpdatedAt:    at,
	}, nil
}

func (r *fakeRepo) Edit(ctx context.Context, id, text string, actorID int64) (messages.Message, error) {
	r.record("edit")
	if r.editErr != nil {
		return messages.Message{}, r.editErr
	}
	at := t0.Add(time.Hour)
	return messages.Message{ID: id, Conversation: math, AuthorID: actorID, Text: text, Edited: true, CreatedAt: t0, UpdatedAt: at}, nil
}

func (r *fakeRepo) Delete(ctx context.Context, id string, actorID int64) error {
	r.record("delete")
	return r.deleteErr
}

func (r *fakeRepo) AddReaction(ctx context.Context, id, emoji string, actorID int64) error {
	r.record("add_reaction")
	return r.reactErr
}

func (r *fakeRepo) RemoveReaction(ctx context.Context, id, emoji string, actorID int64) error {
	r.record("remove_reaction")
	return r.reactErr
}

type fakeEcho struct {
	mu     sync.Mutex
	frames []realtime.Outbound
	err    error
}

func (e *fakeEcho) Send(ref messages.ConversationRef, out realtime.Outbound) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.frames = append(e.frames, out)
	return nil
}

func (e *fakeEcho) Frames() []realtime.Outbound {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]realtime.Outbound(nil), e.frames...)
}

func setup(repo *fakeRepo, echo Echoer, history ...messages.Message) *Mutator {
	sess := session.New(math, session.Options{})
	sess.Dispatch(session.HistoryLoaded{Ref: math, Messages: history})
	return New(sess, repo, echo, me, Options{
		Now:   func() time.Time { return t0 },
		NewID: func() string { return "tmp-1" },
	})
}

func mine(id, text string) messages.Message {
	return messages.Message{ID: id, Conversation: math, AuthorID: me, Text: text, CreatedAt: t0, UpdatedAt: t0}
}

func ids(list []messages.Message) []string {
	out := make([]string, 0, len(list))
	for _, m := range list {
		out = append(out, m.ID)
	}
	return out
}

func TestSendReplacesTemporaryEntry(t *testing.T) {
	repo := &fakeRepo{sendGate: make(chan struct{})}
	echo := &fakeEcho{}
	m := setup(repo, echo, mine("m0", "earlier"))

	done := make(chan messages.Message, 1)
	go func() {
		msg, err := m.Send(context.Background(), messages.Draft{Text: "hello"})
		assert.NoError(t, err)
		done <- msg
	}()

	require.Eventually(t, func() bool {
		_, ok := m.Session().Find("tmp-1")
		return ok && len(echo.Frames()) == 1
	}, time.Second, 5*time.Millisecond)

	local, _ := m.Session().Find("tmp-1")
	assert.Equal(t, messages.StatusPending, local.Status)

	evt, err := ws.Decode(echo.Frames()[0].Data)
	require.NoError(t, err)
	require.IsType(t, ws.Created{}, evt)
	assert.Equal(t, "tmp-1", evt.(ws.Created).Message.ClientID)
	assert.Equal(t, "tmp-1", echo.Frames()[0].ClientID)

	// echo written before the store answered
	m.Delivered("tmp-1")
	close(repo.sendGate)

	stored := <-done
	assert.Equal(t, "abc123", stored.ID)

	list := m.Session().Messages()
	require.Equal(t, []string{"m0", "abc123"}, ids(list))
	assert.Equal(t, "tmp-1", list[1].ClientID)
	assert.Equal(t, messages.StatusConfirmed, list[1].Status)
}

func TestSendStaysPendingUntilEchoWritten(t *testing.T) {
	repo := &fakeRepo{}
	m := setup(repo, &fakeEcho{})

	_, err := m.Send(context.Background(), messages.Draft{Text: "hello"})
	require.NoError(t, err)

	msg, ok := m.Session().Find("abc123")
	require.True(t, ok)
	assert.Equal(t, messages.StatusPending, msg.Status)

	m.Delivered("tmp-1")
	msg, _ = m.Session().Find("abc123")
	assert.Equal(t, messages.StatusConfirmed, msg.Status)
}

func TestSendWithoutEchoIsConfirmed(t *testing.T) {
	m := setup(&fakeRepo{}, &fakeEcho{err: realtime.ErrNotSubscribed})

	_, err := m.Send(context.Background(), messages.Draft{Text: "hello"})
	require.NoError(t, err)

	msg, ok := m.Session().Find("abc123")
	require.True(t, ok)
	assert.Equal(t, messages.StatusConfirmed, msg.Status)
}

func TestSendValidationHappensFirst(t *testing.T) {
	repo := &fakeRepo{}
	echo := &fakeEcho{}
	m := setup(repo, echo)

	_, err := m.Send(context.Background(), messages.Draft{Text: "  "})
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Empty(t, repo.Calls())
	assert.Empty(t, echo.Frames())
	assert.Empty(t, m.Session().Messages())
}

func TestSendFailureThenRetry(t *testing.T) {
	repo := &fakeRepo{sendErr: errs.Transport("", "connection reset")}
	m := setup(repo, &fakeEcho{})

	_, err := m.Send(context.Background(), messages.Draft{Text: "hello"})
	require.ErrorIs(t, err, errs.ErrTransport)
	assert.Equal(t, []string{"send"}, repo.Calls())

	msg, ok := m.Session().Find("tmp-1")
	require.True(t, ok)
	assert.Equal(t, messages.StatusFailed, msg.Status)

	repo.sendErr = nil
	stored, err := m.Retry(context.Background(), "tmp-1")
	require.NoError(t, err)
	assert.Equal(t, "abc123", stored.ID)
	assert.Equal(t, []string{"abc123"}, ids(m.Session().Messages()))

	_, err = m.Retry(context.Background(), "tmp-1")
	assert.ErrorIs(t, err, ErrNothingToRetry)
}

func TestEditRolledBackWhenUnauthorized(t *testing.T) {
	repo := &fakeRepo{editErr: messages.ErrNotAuthor}
	m := setup(repo, nil, mine("m1", "original"))

	_, err := m.Edit(context.Background(), "m1", "changed")
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	msg, ok := m.Session().Find("m1")
	require.True(t, ok)
	assert.Equal(t, "original", msg.Text)
	assert.False(t, msg.Edited)
}

func TestEditSucceeds(t *testing.T) {
	m := setup(&fakeRepo{}, nil, mine("m1", "original"))

	stored, err := m.Edit(context.Background(), "m1", "changed")
	require.NoError(t, err)
	assert.True(t, stored.Edited)

	msg, _ := m.Session().Find("m1")
	assert.Equal(t, "changed", msg.Text)
	assert.Equal(t, t0.Add(time.Hour), msg.UpdatedAt)
}

func TestEditOfVanishedMessageRemovesIt(t *testing.T) {
	repo := &fakeRepo{editErr: messages.ErrMessageNotFound}
	m := setup(repo, nil, mine("m1", "original"))

	_, err := m.Edit(context.Background(), "m1", "changed")
	require.ErrorIs(t, err, errs.ErrNotFound)

	st := m.Session().Snapshot()
	assert.Empty(t, st.Messages)
	assert.True(t, st.Tombstones.Has("m1"))
}

func TestEditChecksAuthorLocally(t *testing.T) {
	repo := &fakeRepo{}
	theirs := mine("m1", "not mine")
	theirs.AuthorID = 2
	m := setup(repo, nil, theirs)

	_, err := m.Edit(context.Background(), "m1", "changed")
	assert.ErrorIs(t, err, messages.ErrNotAuthor)
	assert.Empty(t, repo.Calls())

	_, err = m.Edit(context.Background(), "missing", "changed")
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestDelete(t *testing.T) {
	t.Run("confirmed", func(t *testing.T) {
		m := setup(&fakeRepo{}, nil, mine("m1", "bye"))
		require.NoError(t, m.Delete(context.Background(), "m1"))

		st := m.Session().Snapshot()
		assert.Empty(t, st.Messages)
		assert.True(t, st.Tombstones.Has("m1"))
	})

	t.Run("already gone", func(t *testing.T) {
		m := setup(&fakeRepo{deleteErr: messages.ErrMessageNotFound}, nil, mine("m1", "bye"))
		require.NoError(t, m.Delete(context.Background(), "m1"))
		assert.True(t, m.Session().Snapshot().Tombstones.Has("m1"))
	})

	t.Run("rejected", func(t *testing.T) {
		m := setup(&fakeRepo{deleteErr: messages.ErrNotAuthor}, nil, mine("m1", "bye"))
		err := m.Delete(context.Background(), "m1")
		require.ErrorIs(t, err, errs.ErrUnauthorized)

		st := m.Session().Snapshot()
		assert.Equal(t, []string{"m1"}, ids(st.Messages))
		assert.False(t, st.Tombstones.Has("m1"))
	})
}

func TestToggleReaction(t *testing.T) {
	theirs := mine("m1", "react")
	theirs.AuthorID = 2

	repo := &fakeRepo{}
	m := setup(repo, nil, theirs)
	ctx := context.Background()

	on, err := m.ToggleReaction(ctx, "m1", "👍")
	require.NoError(t, err)
	assert.True(t, on)
	msg, _ := m.Session().Find("m1")
	assert.True(t, msg.HasReaction("👍", me))

	on, err = m.ToggleReaction(ctx, "m1", "👍")
	require.NoError(t, err)
	assert.False(t, on)
	msg, _ = m.Session().Find("m1")
	assert.False(t, msg.HasReaction("👍", me))

	assert.Equal(t, []string{"add_reaction", "remove_reaction"}, repo.Calls())

	repo.reactErr = errs.Transport("", "timeout")
	on, err = m.ToggleReaction(ctx, "m1", "🎉")
	require.Error(t, err)
	assert.False(t, on)
	msg, _ = m.Session().Find("m1")
	assert.False(t, msg.HasReaction("🎉", me))

	_, err = m.ToggleReaction(ctx, "m1", " ")
	assert.ErrorIs(t, err, messages.ErrEmojiIsRequired)
}

func TestActionsOnPendingMessageRejected(t *testing.T) {
	repo := &fakeRepo{sendErr: errors.New("boom")}
	m := setup(repo, nil)

	_, err := m.Send(context.Background(), messages.Draft{Text: "hello"})
	require.Error(t, err)

	_, err = m.Edit(context.Background(), "tmp-1", "changed")
	assert.ErrorIs(t, err, ErrNotConfirmed)
	assert.ErrorIs(t, m.Delete(context.Background(), "tmp-1"), ErrNotConfirmed)
	_, err = m.ToggleReaction(context.Background(), "tmp-1", "👍")
	assert.ErrorIs(t, err, ErrNotConfirmed)
}
