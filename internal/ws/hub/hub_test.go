package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgellert/hodatay-classroom/internal/messages"
)

func receive(t *testing.T, c *Connection) []byte {
	t.Helper()
	select {
	case b := <-c.send:
		return b
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}
	return nil
}

func assertSilent(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case b := <-c.send:
		t.Fatalf("unexpected frame %s", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubBroadcastExcept(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Stop()

	a := NewConnection(nil, 1)
	b := NewConnection(nil, 2)
	outsider := NewConnection(nil, 3)

	h.Subscribe(a, "channel:c-1")
	h.Subscribe(b, "channel:c-1")
	h.Subscribe(outsider, "channel:c-2")

	h.BroadcastExcept("channel:c-1", []byte("x"), a)

	assert.Equal(t, []byte("x"), receive(t, b))
	assertSilent(t, a)
	assertSilent(t, outsider)
}

func TestHubUnregisterClosesSend(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Stop()

	a := NewConnection(nil, 1)
	h.Subscribe(a, "channel:c-1")
	h.Unregister(a)

	select {
	case _, ok := <-a.send:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}

	// broadcasting into an emptied room is a no-op
	h.Broadcast("channel:c-1", []byte("y"))
}

func TestRoomsFor(t *testing.T) {
	assert.Equal(t, []string{"channel:c-9"}, RoomsFor(messages.ChannelRef("c-9")))
	assert.Equal(t, []string{"inbox:2", "inbox:7"}, RoomsFor(messages.DirectRef(7, 2)))
}

func TestHubCountsRegisteredConnections(t *testing.T) {
	h := NewHub()
	go h.Run()

	a := NewConnection(nil, 1)
	b := NewConnection(nil, 2)

	assert.Zero(t, h.Connections())

	h.Register(a)
	h.Register(b)
	h.Register(a)
	assert.Equal(t, 2, h.Connections())

	h.Unregister(a)
	assert.Equal(t, 1, h.Connections())

	h.Stop()
	assert.Zero(t, h.Connections())
}
