package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/kgellert/hodatay-classroom/internal/lib/logger/sl"
	"github.com/kgellert/hodatay-classroom/internal/messages"
	"github.com/kgellert/hodatay-classroom/internal/transport/httpapi"
	userdomain "github.com/kgellert/hodatay-classroom/internal/users/domain"
	userhandlers "github.com/kgellert/hodatay-classroom/internal/users/handlers"
	"github.com/kgellert/hodatay-classroom/internal/ws"
	"github.com/kgellert/hodatay-classroom/internal/ws/hub"
)

const (
	readWait     = 60 * time.Second
	maxFrameSize = 64 << 10
)

// Authorizer decides whether the user may follow a conversation.
type Authorizer interface {
	Authorize(ctx context.Context, user userdomain.User, ref messages.ConversationRef) error
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler serves one streaming connection. ?conversation=channel:<id>
// follows a channel; ?inbox=1 follows every DM of the signed in user.
func WSHandler(h *hub.Hub, auth Authorizer, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ws.WSHandler"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		user := userhandlers.User(r)

		var (
			room string
			ref  messages.ConversationRef
		)

		switch q := r.URL.Query(); {
		case q.Get("inbox") != "":
			room = hub.InboxRoom(user.ID)
		case q.Get("conversation") != "":
			parsed, err := messages.ParseKey(q.Get("conversation"))
			if err != nil || !parsed.IsChannel() {
				httpapi.WriteError(w, r, messages.ErrInvalidConversation)
				return
			}
			if err := auth.Authorize(r.Context(), user, parsed); err != nil {
				log.Warn("ws subscribe denied", slog.String("conversation", parsed.Key()), sl.Err(err))
				httpapi.WriteError(w, r, err)
				return
			}
			ref = parsed
			room = parsed.Key()
		default:
			httpapi.WriteError(w, r, httpapi.BadRequest("conversation or inbox is required"))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("ws upgrade error", sl.Err(err))
			return
		}
		defer conn.Close()

		hc := hub.NewConnection(conn, user.ID)
		go hc.WritePump()

		h.Register(hc)
		defer h.Unregister(hc)
		h.Subscribe(hc, room)

		conn.SetReadLimit(maxFrameSize)
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(readWait))
			return nil
		})

		if hello, err := ws.Encode(ref, ws.Hello, ws.HelloPayload{UserID: user.ID, Room: room}); err == nil {
			hc.Send(hello)
		}

		log.Debug("ws connected",
			slog.Int64("user_id", user.ID),
			slog.String("room", room),
			slog.Int("connections", h.Connections()),
		)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn("ws read error", sl.Err(err))
				}
				return
			}

			relay(h, hc, user, ref, data, log)
		}
	}
}

// relay forwards a client echo of its own message.created to the other
// followers of the conversation. Everything else from clients is ignored.
func relay(h *hub.Hub, hc *hub.Connection, user userdomain.User, ref messages.ConversationRef, data []byte, log *slog.Logger) {
	evt, err := ws.Decode(data)
	if err != nil {
		log.Warn("ws bad frame", sl.Err(err))
		return
	}

	created, ok := evt.(ws.Created)
	if !ok {
		log.Debug("ws ignoring client frame", slog.String("type", evt.Type()))
		return
	}

	if created.Message.AuthorID != user.ID {
		log.Warn("ws echo from non-author", slog.String("message_id", created.Message.ID))
		return
	}
	// only temporary entries travel this way, stored ones come from the server
	if !created.Message.IsProvisional() {
		log.Warn("ws echo of a stored message", slog.String("message_id", created.Message.ID))
		return
	}

	target := created.Conversation()
	switch {
	case ref.IsChannel() && target.Key() == ref.Key():
	case !ref.IsChannel() && target.IsDirect() && target.Includes(user.ID):
	default:
		log.Warn("ws echo outside subscription", slog.String("conversation", target.Key()))
		return
	}

	for _, room := range hub.RoomsFor(target) {
		h.BroadcastExcept(room, data, hc)
	}
}
