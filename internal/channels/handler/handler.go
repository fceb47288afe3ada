package channelshandler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/kgellert/hodatay-classroom/internal/channels"
	"github.com/kgellert/hodatay-classroom/internal/lib/logger/sl"
	"github.com/kgellert/hodatay-classroom/internal/transport/httpapi"
	userdomain "github.com/kgellert/hodatay-classroom/internal/users/domain"
	userhandlers "github.com/kgellert/hodatay-classroom/internal/users/handlers"
)

type Service interface {
	List(ctx context.Context, viewer userdomain.User) ([]channels.Channel, error)
	Get(ctx context.Context, viewer userdomain.User, id string) (channels.Channel, error)
	Create(ctx context.Context, actor userdomain.User, req channels.CreateChannelRequest) (channels.Channel, error)
	Invite(ctx context.Context, actor userdomain.User, id string, userIDs []int64) (channels.Channel, error)
	MarkRead(ctx context.Context, viewer userdomain.User, id string) error
}

type Handler struct {
	service Service
	log     *slog.Logger
}

func New(service Service, log *slog.Logger) *Handler {
	return &Handler{service: service, log: log}
}

func (h *Handler) logger(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func (h *Handler) GetChannels() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.channels.GetChannels"
		log := h.logger(r, op)

		list, err := h.service.List(r.Context(), userhandlers.User(r))
		if err != nil {
			log.Error("failed to get channels", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		render.JSON(w, r, channels.GetChannelsResponse{Channels: list})
	}
}

func (h *Handler) GetChannel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.channels.GetChannel"
		log := h.logger(r, op)

		ch, err := h.service.Get(r.Context(), userhandlers.User(r), chi.URLParam(r, "channelId"))
		if err != nil {
			log.Warn("failed to get channel", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		render.JSON(w, r, channels.GetChannelResponse{Channel: ch})
	}
}

func (h *Handler) CreateChannel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.channels.CreateChannel"
		log := h.logger(r, op)

		var req channels.CreateChannelRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("decode request error", sl.Err(err))
			httpapi.WriteError(w, r, httpapi.BadRequest("invalid body"))
			return
		}

		ch, err := h.service.Create(r.Context(), userhandlers.User(r), req)
		if err != nil {
			log.Warn("failed to create channel", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, channels.GetChannelResponse{Channel: ch})
	}
}

func (h *Handler) InviteMembers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.channels.InviteMembers"
		log := h.logger(r, op)

		var req channels.InviteMembersRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("decode request error", sl.Err(err))
			httpapi.WriteError(w, r, httpapi.BadRequest("invalid body"))
			return
		}

		ch, err := h.service.Invite(r.Context(), userhandlers.User(r), chi.URLParam(r, "channelId"), req.UserIDs)
		if err != nil {
			log.Warn("failed to invite members", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		log.Info("members invited", slog.String("channel_id", ch.ID), slog.Int("members", len(ch.MemberIDs)))
		render.NoContent(w, r)
	}
}

func (h *Handler) MarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.channels.MarkRead"
		log := h.logger(r, op)

		if err := h.service.MarkRead(r.Context(), userhandlers.User(r), chi.URLParam(r, "channelId")); err != nil {
			log.Warn("failed to mark channel read", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		render.NoContent(w, r)
	}
}
