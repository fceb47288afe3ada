package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	channelshandler "github.com/kgellert/hodatay-classroom/internal/channels/handler"
	confighandler "github.com/kgellert/hodatay-classroom/internal/config/handler"
	mwLogger "github.com/kgellert/hodatay-classroom/internal/http-server/middleware/logger"
	messageshandler "github.com/kgellert/hodatay-classroom/internal/messages/handler"
	messagesservice "github.com/kgellert/hodatay-classroom/internal/messages/service"
	uploadshandler "github.com/kgellert/hodatay-classroom/internal/uploads/handler"
	userhandlers "github.com/kgellert/hodatay-classroom/internal/users/handlers"
	ws "github.com/kgellert/hodatay-classroom/internal/ws/handler"
	"github.com/kgellert/hodatay-classroom/internal/ws/hub"
)

type Deps struct {
	Log      *slog.Logger
	Users    *userhandlers.Handler
	Channels *channelshandler.Handler
	Messages *messageshandler.Handler
	Authz    *messagesservice.Service
	Uploads  *uploadshandler.UploadsHandler
	Config   *confighandler.Handler
	Hub      *hub.Hub
}

// New wires every HTTP and streaming route of the chat backend. Uploads and
// Config are optional.
func New(d Deps) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(mwLogger.New(d.Log))
	router.Use(middleware.Recoverer)

	router.Post("/signin", d.Users.SignIn())

	if d.Config != nil {
		router.Get("/config", d.Config.GetConfig())
	}

	router.Group(func(r chi.Router) {
		r.Use(d.Users.WithUser)

		r.Get("/me", d.Users.Me())

		r.Get("/ws", ws.WSHandler(d.Hub, d.Authz, d.Log))

		r.Get("/channels", d.Channels.GetChannels())
		r.Post("/channels", d.Channels.CreateChannel())
		r.Get("/channels/{channelId}", d.Channels.GetChannel())
		r.Post("/channels/{channelId}/members", d.Channels.InviteMembers())
		r.Post("/channels/{channelId}/read", d.Channels.MarkRead())
		r.Get("/channels/{channelId}/messages", d.Messages.GetChannelMessages())
		r.Post("/channels/{channelId}/messages", d.Messages.SendChannelMessage())

		r.Get("/dm", d.Messages.GetDirectConversations())
		r.Post("/dm", d.Messages.SendDirectMessage())
		r.Get("/dm/{userA}/{userB}", d.Messages.GetDirectMessages())

		r.Patch("/messages/{messageId}", d.Messages.EditMessage())
		r.Delete("/messages/{messageId}", d.Messages.DeleteMessage())
		r.Post("/messages/{messageId}/reactions", d.Messages.AddReaction())
		r.Delete("/messages/{messageId}/reactions/{emoji}", d.Messages.RemoveReaction())

		if d.Uploads != nil {
			r.Post("/uploads/presign-upload", d.Uploads.PresignUpload())
			r.Post("/uploads/presign-download", d.Uploads.PresignDownload())
			r.Post("/uploads/describe", d.Uploads.Describe())
		}
	})

	return router
}
