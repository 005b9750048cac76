package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/medcard/internal/config"
	"github.com/geocoder89/medcard/internal/http/middlewares"
	"github.com/geocoder89/medcard/internal/storage"
)

type Uploader interface {
	Upload(ctx context.Context, userID string, data []byte) (storage.Object, error)
}

type FilesHandler struct {
	uploader Uploader
	maxBytes int64
}

func NewFilesHandler(uploader Uploader, maxBytes int64) *FilesHandler {
	return &FilesHandler{uploader: uploader, maxBytes: maxBytes}
}

// Upload takes a multipart "file" field and returns the stored object's
// key and URL for use in profile updates.
func (h *FilesHandler) Upload(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnauthorized(ctx, "Authentication required")
		return
	}

	fh, err := ctx.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.tooLarge(ctx)
			return
		}
		RespondBadRequest(ctx, "Multipart field \"file\" is required", nil)
		return
	}

	if fh.Size > h.maxBytes {
		h.tooLarge(ctx)
		return
	}

	f, err := fh.Open()
	if err != nil {
		RespondInternal(ctx, "Could not read upload")
		return
	}
	defer f.Close()

	// the header size can lie; cap the read as well
	data, err := io.ReadAll(io.LimitReader(f, h.maxBytes+1))
	if err != nil {
		RespondInternal(ctx, "Could not read upload")
		return
	}
	if int64(len(data)) > h.maxBytes {
		h.tooLarge(ctx)
		return
	}

	cctx, cancel := config.WithTimeout(ctx.Request.Context(), 30*time.Second)
	defer cancel()

	obj, err := h.uploader.Upload(cctx, userID, data)
	switch {
	case errors.Is(err, storage.ErrUnsupportedType), errors.Is(err, storage.ErrEmptyFile):
		RespondError(ctx, http.StatusUnsupportedMediaType, "unsupported_file_type",
			"Only JPEG, PNG and PDF files are accepted", nil)
		return
	case err != nil:
		RespondServiceError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, obj)
}

func (h *FilesHandler) tooLarge(ctx *gin.Context) {
	RespondError(ctx, http.StatusRequestEntityTooLarge, "file_too_large",
		"File too large", gin.H{"limit": h.maxBytes})
}
