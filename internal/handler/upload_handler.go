package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/quocanhngo/botdesk/internal/middleware"
	"github.com/quocanhngo/botdesk/internal/model"
	"github.com/quocanhngo/botdesk/pkg/storage"
)

// Max avatar size: 5MB
const maxAvatarSize = 5 << 20

// UploadAvatar godoc
// @Summary Upload a profile picture
// @Description Stores the image and points the profile at its public URL. Supports jpg, png, gif, webp.
// @Tags Auth
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param avatar formData file true "Avatar image file"
// @Success 200 {object} model.UserResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 413 {object} model.ErrorResponse
// @Failure 503 {object} model.ErrorResponse
// @Router /auth/profile/avatar [post]
func (h *AuthHandler) UploadAvatar(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	// Limit request body size
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxAvatarSize)

	file, header, err := c.Request.FormFile("avatar")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, model.ErrorResponse{Error: "File too large (max 5MB)"})
			return
		}
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "File is required", Message: err.Error()})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType != "" && !storage.IsAvatarType(contentType) {
		respondError(c, h.logger, storage.ErrUnsupportedImage)
		return
	}

	user, err := h.auth.UpdateAvatar(c.Request.Context(), userID, file, header.Size, header.Filename, contentType)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, user)
}
