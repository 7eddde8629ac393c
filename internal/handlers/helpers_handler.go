package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/tshirt-orderflow/internal/apperr"
	"github.com/imrishuroy/tshirt-orderflow/internal/thumbnail"
)

// removeBackground streams the "image" part of the upload to the remover
// without buffering the rest of the form.
func (h *ordersHandler) removeBackground(c *gin.Context) {
	if h.remover == nil {
		fail(c, h.logger, apperr.Upstream("remove background", errors.New("no background remover configured")))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxHelper)
	mr, err := c.Request.MultipartReader()
	if err != nil {
		fail(c, h.logger, apperr.Validation("image is required"))
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				reject(c, http.StatusRequestEntityTooLarge, "image too large")
				return
			}
			fail(c, h.logger, apperr.Validation("malformed multipart body"))
			return
		}
		if part.FormName() != "image" || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		contentType := part.Header.Get("Content-Type")
		if contentType != "" && !thumbnail.IsImage(contentType) {
			fail(c, h.logger, apperr.Validation("image must be an image file"))
			return
		}
		res, err := h.remover.Remove(c.Request.Context(), part.FileName(), contentType, part)
		_ = part.Close()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				reject(c, http.StatusRequestEntityTooLarge, "image too large")
				return
			}
			fail(c, h.logger, err)
			return
		}
		respond(c, http.StatusOK, "background removed", gin.H{"processedImageUrl": res.OutputURL})
		return
	}
	fail(c, h.logger, apperr.Validation("image is required"))
}
