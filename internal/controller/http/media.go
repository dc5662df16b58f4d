package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/converso/internal/httpx/response"
	"github.com/vadim/converso/internal/storage"
)

// maxUploadSize caps a single attachment upload at 25 MiB.
const maxUploadSize = 25 << 20

// Uploader defines the interface for attachment storage
type Uploader interface {
	Upload(ctx context.Context, in storage.UploadInput) (*storage.UploadOutput, error)
}

// MediaHandler handles HTTP requests for attachment uploads
type MediaHandler struct {
	store Uploader
}

// NewMediaHandler creates a new media handler
func NewMediaHandler(store Uploader) *MediaHandler {
	return &MediaHandler{store: store}
}

// RegisterRoutes registers media routes
func (h *MediaHandler) RegisterRoutes(r chi.Router) {
	r.Post("/media", h.Upload())
}

// Upload handles POST /media. The stored reference is returned for the
// client to embed in a subsequent message.
func (h *MediaHandler) Upload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			response.BadRequest(w, "file too large or malformed form")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			response.BadRequest(w, "file is required")
			return
		}
		defer file.Close()

		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		out, err := h.store.Upload(r.Context(), storage.UploadInput{
			Reader:      file,
			ContentType: contentType,
			Size:        header.Size,
			Filename:    header.Filename,
		})
		if err != nil {
			response.InternalError(w, "failed to store attachment")
			return
		}
		response.Created(w, out)
	}
}
