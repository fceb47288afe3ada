package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/kgellert/hodatay-classroom/internal/errs"
	"github.com/kgellert/hodatay-classroom/internal/lib/logger/sl"
	"github.com/kgellert/hodatay-classroom/internal/messages"
	"github.com/kgellert/hodatay-classroom/internal/transport/httpapi"
	userdomain "github.com/kgellert/hodatay-classroom/internal/users/domain"
	userhandlers "github.com/kgellert/hodatay-classroom/internal/users/handlers"
)

var ErrActorMismatch = errs.Unauthorized("actor_mismatch", "actorId does not match the signed in user")

type Service interface {
	History(ctx context.Context, user userdomain.User, ref messages.ConversationRef, cursor messages.Cursor) ([]messages.Message, error)
	Send(ctx context.Context, author userdomain.User, ref messages.ConversationRef, draft messages.Draft) (messages.Message, error)
	Edit(ctx context.Context, actor userdomain.User, id, text string) (messages.Message, error)
	Delete(ctx context.Context, actor userdomain.User, id string) error
	AddReaction(ctx context.Context, actor userdomain.User, id, emoji string) (messages.Message, error)
	RemoveReaction(ctx context.Context, actor userdomain.User, id, emoji string) (messages.Message, error)
	DirectConversations(ctx context.Context, user userdomain.User) ([]messages.DirectConversation, error)
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

// actor resolves the acting user. A non-zero actorId in the body must match
// the signed in user.
func actor(r *http.Request, actorID int64) (userdomain.User, error) {
	u := userhandlers.User(r)
	if actorID != 0 && actorID != u.ID {
		return userdomain.User{}, ErrActorMismatch
	}
	return u, nil
}

func cursorFrom(r *http.Request) (messages.Cursor, error) {
	q := r.URL.Query()
	c := messages.Cursor{Before: q.Get("before")}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return messages.Cursor{}, httpapi.BadRequest("invalid limit")
		}
		c.Limit = n
	}
	return c, nil
}

func pathInt64(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, httpapi.BadRequest("invalid " + name)
	}
	return v, nil
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, v any) error {
	if err := render.DecodeJSON(r.Body, v); err != nil && !errors.Is(err, io.EOF) {
		return httpapi.BadRequest("invalid body")
	}
	return nil
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request, log *slog.Logger, ref messages.ConversationRef) {
	cursor, err := cursorFrom(r)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}

	list, err := h.service.History(r.Context(), userhandlers.User(r), ref, cursor)
	if err != nil {
		log.Warn("failed to get messages", sl.Err(err))
		httpapi.WriteError(w, r, err)
		return
	}

	render.JSON(w, r, messages.GetMessagesResponse{Messages: list})
}

func (h *Handler) GetChannelMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.messages.GetChannelMessages"
		log := h.logger(r, op)

		h.history(w, r, log, messages.ChannelRef(chi.URLParam(r, "channelId")))
	}
}

func (h *Handler) GetDirectMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.messages.GetDirectMessages"
		log := h.logger(r, op)

		a, err := pathInt64(r, "userA")
		if err != nil {
			httpapi.WriteError(w, r, err)
			return
		}
		b, err := pathInt64(r, "userB")
		if err != nil {
			httpapi.WriteError(w, r, err)
			return
		}

		h.history(w, r, log, messages.DirectRef(a, b))
	}
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request, log *slog.Logger, ref messages.ConversationRef, req messages.CreateMessageRequest) {
	msg, err := h.service.Send(r.Context(), userhandlers.User(r), ref, messages.Draft{
		ClientID:    req.ClientID,
		Text:        req.Text,
		Attachments: req.Attachments,
	})
	if err != nil {
		log.Warn("failed to send message", sl.Err(err))
		httpapi.WriteError(w, r, err)
		return
	}

	log.Info("message sent", slog.String("message_id", msg.ID), slog.String("conversation", ref.Key()))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, messages.CreateMessageResponse{Message: msg})
}

func (h *Handler) SendChannelMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.messages.SendChannelMessage"
		log := h.logger(r, op)

		var req messages.CreateMessageRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("decode request error", sl.Err(err))
			httpapi.WriteError(w, r, httpapi.BadRequest("invalid body"))
			return
		}

		h.send(w, r, log, messages.ChannelRef(chi.URLParam(r, "channelId")), req)
	}
}

func (h *Handler) SendDirectMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.messages.SendDirectMessage"
		log := h.logger(r, op)

		var req messages.CreateMessageRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("decode request error", sl.Err(err))
			httpapi.WriteError(w, r, httpapi.BadRequest("invalid body"))
			return
		}

		ref := messages.DirectRef(userhandlers.UserID(r), req.RecipientID)
		if !ref.IsDirect() {
			httpapi.WriteError(w, r, messages.ErrInvalidConversation)
			return
		}

		h.send(w, r, log, ref, req)
	}
}

func (h *Handler) GetDirectConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.messages.GetDirectConversations"
		log := h.logger(r, op)

		list, err := h.service.DirectConversations(r.Context(), userhandlers.User(r))
		if err != nil {
			log.Error("failed to get direct conversations", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		render.JSON(w, r, messages.GetDirectConversationsResponse{Conversations: list})
	}
}

func (h *Handler) EditMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.messages.EditMessage"
		log := h.logger(r, op)

		var req messages.EditMessageRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("decode request error", sl.Err(err))
			httpapi.WriteError(w, r, httpapi.BadRequest("invalid body"))
			return
		}

		u, err := actor(r, req.ActorID)
		if err != nil {
			httpapi.WriteError(w, r, err)
			return
		}

		msg, err := h.service.Edit(r.Context(), u, chi.URLParam(r, "messageId"), req.Text)
		if err != nil {
			log.Warn("failed to edit message", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		render.JSON(w, r, messages.CreateMessageResponse{Message: msg})
	}
}

func (h *Handler) DeleteMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.messages.DeleteMessage"
		log := h.logger(r, op)

		var req messages.DeleteMessageRequest
		if err := decodeOptional(r, &req); err != nil {
			httpapi.WriteError(w, r, err)
			return
		}

		u, err := actor(r, req.ActorID)
		if err != nil {
			httpapi.WriteError(w, r, err)
			return
		}

		if err := h.service.Delete(r.Context(), u, chi.URLParam(r, "messageId")); err != nil {
			log.Warn("failed to delete message", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		render.NoContent(w, r)
	}
}

func (h *Handler) AddReaction() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.messages.AddReaction"
		log := h.logger(r, op)

		var req messages.ReactionRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("decode request error", sl.Err(err))
			httpapi.WriteError(w, r, httpapi.BadRequest("invalid body"))
			return
		}

		u, err := actor(r, req.ActorID)
		if err != nil {
			httpapi.WriteError(w, r, err)
			return
		}

		if _, err := h.service.AddReaction(r.Context(), u, chi.URLParam(r, "messageId"), req.Emoji); err != nil {
			log.Warn("failed to add reaction", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		render.NoContent(w, r)
	}
}

func (h *Handler) RemoveReaction() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.messages.RemoveReaction"
		log := h.logger(r, op)

		emoji, err := url.PathUnescape(chi.URLParam(r, "emoji"))
		if err != nil {
			httpapi.WriteError(w, r, httpapi.BadRequest("invalid emoji"))
			return
		}

		var req messages.ReactionRequest
		if err := decodeOptional(r, &req); err != nil {
			httpapi.WriteError(w, r, err)
			return
		}

		u, err := actor(r, req.ActorID)
		if err != nil {
			httpapi.WriteError(w, r, err)
			return
		}

		if _, err := h.service.RemoveReaction(r.Context(), u, chi.URLParam(r, "messageId"), emoji); err != nil {
			log.Warn("failed to remove reaction", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		render.NoContent(w, r)
	}
}
