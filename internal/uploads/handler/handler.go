package uploadshandler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/kgellert/hodatay-classroom/internal/lib/logger/sl"
	"github.com/kgellert/hodatay-classroom/internal/messages"
	"github.com/kgellert/hodatay-classroom/internal/transport/httpapi"
	"github.com/kgellert/hodatay-classroom/internal/uploads"
)

type Service interface {
	PresignUpload(ctx context.Context, filename, contentType string) (key, url string, err error)
	PresignDownload(ctx context.Context, key string) (string, error)
	Describe(ctx context.Context, key string) (messages.Attachment, error)
}

type UploadsHandler struct {
	service Service
	log     *slog.Logger
}

func New(service Service, log *slog.Logger) *UploadsHandler {
	return &UploadsHandler{
		service: service,
		log:     log,
	}
}

func (h *UploadsHandler) logger(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func (h *UploadsHandler) PresignUpload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := h.logger(r, "handlers.uploads.PresignUpload")

		var req uploads.PresignUploadRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Warn("failed to decode request", sl.Err(err))
			httpapi.WriteError(w, r, httpapi.BadRequest("invalid body"))
			return
		}

		key, url, err := h.service.PresignUpload(r.Context(), req.Filename, req.ContentType)
		if err != nil {
			log.Warn("failed to presign upload", slog.String("content_type", req.ContentType), sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		render.JSON(w, r, uploads.PresignUploadResponse{FileID: key, UploadURL: url})
	}
}

func (h *UploadsHandler) PresignDownload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := h.logger(r, "handlers.uploads.PresignDownload")

		var req uploads.FileRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Warn("failed to decode request", sl.Err(err))
			httpapi.WriteError(w, r, httpapi.BadRequest("invalid body"))
			return
		}

		url, err := h.service.PresignDownload(r.Context(), req.FileID)
		if err != nil {
			log.Warn("failed to presign download", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		render.JSON(w, r, uploads.PresignDownloadResponse{URL: url})
	}
}

// Describe answers with the attachment to put into a message draft.
func (h *UploadsHandler) Describe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := h.logger(r, "handlers.uploads.Describe")

		var req uploads.FileRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Warn("failed to decode request", sl.Err(err))
			httpapi.WriteError(w, r, httpapi.BadRequest("invalid body"))
			return
		}

		att, err := h.service.Describe(r.Context(), req.FileID)
		if err != nil {
			log.Warn("failed to describe upload", slog.String("file_id", req.FileID), sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		render.JSON(w, r, att)
	}
}
