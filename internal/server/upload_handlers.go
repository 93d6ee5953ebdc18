package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/supportspark/internal/uploads"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const uploadFormField = "image"

func (h *httpHandler) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.uploads.MaxBytes()+multipartOverhead)
	fileHeader, err := c.FormFile(uploadFormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeServiceError(c, uploads.ErrTooLarge)
			return
		}
		badRequest(c, "uploads.save.missing_file")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		badRequest(c, "uploads.save.unreadable_file")
		return
	}
	defer file.Close()

	image, err := h.uploads.Save(c.Request.Context(), file)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	h.logger.Info("image uploaded",
		zap.String("user_id", currentUserID(c)),
		zap.String("name", image.Name),
		zap.Int64("size_bytes", image.SizeBytes))
	c.JSON(http.StatusCreated, gin.H{"image": image})
}

func (h *httpHandler) handleServeUpload(c *gin.Context) {
	path, err := h.uploads.Path(c.Param("name"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.Header("X-Content-Type-Options", "nosniff")
	c.File(path)
}
