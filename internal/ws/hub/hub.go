package hub

import (
	"sync"

	"github.com/gorilla/websocket"
)

const sendBufferSize = 128

type Connection struct {
	conn      *websocket.Conn
	send      chan []byte
	rooms     map[string]struct{}
	userID    int64
	closeOnce sync.Once
}

func (c *Connection) UserID() int64 { return c.userID }

type registerCmd struct{ c *Connection }

type unregisterCmd struct{ c *Connection }

type countCmd struct{ reply chan int }

type subscribeCmd struct {
	c     *Connection
	rooms []string
}

type BroadcastCmd struct {
	Room        string
	Payload     []byte
	ExcludeConn *Connection
}

// Hub fans frames out to rooms. All room bookkeeping happens on the Run
// goroutine; the exported methods only enqueue commands, in order.
type Hub struct {
	cmds  chan any
	stop  chan struct{}
	rooms map[string]map[*Connection]struct{}
	conns map[*Connection]struct{}
}

func NewConnection(conn *websocket.Conn, userID int64) *Connection {
	return &Connection{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		rooms:  make(map[string]struct{}),
		userID: userID,
	}
}

func NewHub() *Hub {
	return &Hub{
		cmds:  make(chan any, 256),
		stop:  make(chan struct{}),
		rooms: make(map[string]map[*Connection]struct{}),
		conns: make(map[*Connection]struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			return

		case cmd := <-h.cmds:
			switch cmd := cmd.(type) {
			case registerCmd:
				h.conns[cmd.c] = struct{}{}

			case countCmd:
				cmd.reply <- len(h.conns)

			case unregisterCmd:
				delete(h.conns, cmd.c)
				for room := range cmd.c.rooms {
					members := h.rooms[room]
					if members == nil {
						continue
					}
					delete(members, cmd.c)
					if len(members) == 0 {
						delete(h.rooms, room)
					}
				}
				cmd.c.CloseSend()

			case subscribeCmd:
				for _, room := range cmd.rooms {
					members := h.rooms[room]
					if members == nil {
						members = make(map[*Connection]struct{})
						h.rooms[room] = members
					}
					members[cmd.c] = struct{}{}
					cmd.c.rooms[room] = struct{}{}
				}

			case BroadcastCmd:
				for c := range h.rooms[cmd.Room] {
					if cmd.ExcludeConn != nil && c == cmd.ExcludeConn {
						continue
					}
					c.Send(cmd.Payload)
				}
			}
		}
	}
}

func (h *Hub) Stop() {
	close(h.stop)
}

func (h *Hub) Register(c *Connection) {
	h.cmds <- registerCmd{c: c}
}

// Connections reports how many connections are registered, 0 once stopped.
func (h *Hub) Connections() int {
	select {
	case <-h.stop:
		return 0
	default:
	}

	reply := make(chan int, 1)
	select {
	case h.cmds <- countCmd{reply: reply}:
	case <-h.stop:
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-h.stop:
		return 0
	}
}

func (h *Hub) Unregister(c *Connection) {
	h.cmds <- unregisterCmd{c: c}
}

func (h *Hub) Subscribe(c *Connection, rooms ...string) {
	h.cmds <- subscribeCmd{c: c, rooms: rooms}
}

func (h *Hub) Broadcast(room string, payload []byte) {
	h.cmds <- BroadcastCmd{Room: room, Payload: payload}
}

func (h *Hub) BroadcastExcept(room string, payload []byte, exclude *Connection) {
	h.cmds <- BroadcastCmd{Room: room, Payload: payload, ExcludeConn: exclude}
}

func (c *Connection) Send(b []byte) {
	select {
	case c.send <- b:
	default:
	}
}

func (c *Connection) CloseSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}
