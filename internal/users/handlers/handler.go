package users

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/kgellert/hodatay-classroom/internal/lib/logger/sl"
	"github.com/kgellert/hodatay-classroom/internal/transport/httpapi"
	userdomain "github.com/kgellert/hodatay-classroom/internal/users/domain"
)

const CookieName = "user_id"

func New(repo userdomain.Repo, log *slog.Logger) *Handler {
	return &Handler{repo, log}
}

type Handler struct {
	repo userdomain.Repo
	log  *slog.Logger
}

type userKeyType struct{}

var userKey = userKeyType{}

// WithUser resolves the caller from the user_id cookie against the roster.
func (h *Handler) WithUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(CookieName)
		if err != nil || c.Value == "" {
			http.Error(w, "missing user_id", http.StatusUnauthorized)
			return
		}

		uid, err := strconv.ParseInt(c.Value, 10, 64)
		if err != nil || uid <= 0 {
			http.Error(w, "invalid user_id", http.StatusBadRequest)
			return
		}

		user, err := h.repo.GetUser(r.Context(), uid)
		if err != nil {
			http.Error(w, "unknown user", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), user)))
	})
}

func WithContext(ctx context.Context, u userdomain.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func User(r *http.Request) userdomain.User {
	u, _ := r.Context().Value(userKey).(userdomain.User)
	return u
}

func UserID(r *http.Request) int64 {
	return User(r).ID
}

func (h *Handler) SignIn() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.users.SignIn"

		log := h.log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		raw := r.URL.Query().Get("user_id")
		uid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || uid <= 0 {
			httpapi.WriteError(w, r, httpapi.BadRequest("invalid user_id"))
			return
		}

		user, err := h.repo.GetUser(r.Context(), uid)
		if err != nil {
			log.Warn("sign in for unknown user", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     CookieName,
			Value:    raw,
			Path:     "/",
			HttpOnly: true,
		})

		render.JSON(w, r, userdomain.SignInResponse{User: user})
	}
}

func (h *Handler) Me() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, userdomain.SignInResponse{User: User(r)})
	}
}
