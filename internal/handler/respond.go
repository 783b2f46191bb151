package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/quocanhngo/botdesk/internal/model"
	"github.com/quocanhngo/botdesk/internal/repository"
	"github.com/quocanhngo/botdesk/internal/service"
	"github.com/quocanhngo/botdesk/pkg/auth"
	"github.com/quocanhngo/botdesk/pkg/storage"
	"go.uber.org/zap"
)

const requestNewCode = "Code is no longer valid, please request a new one"

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request", Message: err.Error()})
}

// respondError maps gateway errors to a status and a stable message.
// Anything unrecognised is logged and reported as 500 without details.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var rejected *service.OTPRejectedError
	if errors.As(err, &rejected) {
		respondOTPRejection(c, rejected)
		return
	}

	switch {
	case errors.Is(err, repository.ErrStoreUnavailable):
		logger.Error("❌ otp store unavailable", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{Error: "Verification service temporarily unavailable"})
	case errors.Is(err, service.ErrEmailDelivery):
		c.JSON(http.StatusBadGateway, model.ErrorResponse{Error: "Could not send the email, please try again shortly"})
	case errors.Is(err, service.ErrInvalidPurpose):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrPasswordNotSet):
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrEmailNotVerified):
		c.JSON(http.StatusForbidden, model.ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrEmailTaken):
		c.JSON(http.StatusConflict, model.ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrGoogleToken),
		errors.Is(err, service.ErrGoogleEmailUnverified):
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: err.Error()})
	case errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenMalformed),
		errors.Is(err, auth.ErrTokenRevoked):
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "Invalid or expired token"})
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, model.ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrAvatarStorageDisabled):
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{Error: "File upload service unavailable"})
	case errors.Is(err, storage.ErrUnsupportedImage):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "Unsupported file type",
			Message: "Allowed: jpg, png, gif, webp",
		})
	default:
		logger.Error("❌ request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "Internal server error"})
	}
}

func respondOTPRejection(c *gin.Context, rejected *service.OTPRejectedError) {
	resp := model.OTPFailureResponse{Code: rejected.Outcome}

	switch rejected.Outcome {
	case model.OTPOutcomeInvalid:
		remaining := rejected.AttemptsRemaining
		resp.Error = "Invalid verification code"
		resp.AttemptsRemaining = &remaining
		c.JSON(http.StatusBadRequest, resp)
	case model.OTPOutcomeTooFrequent:
		secs := int(math.Ceil(rejected.RetryAfter.Seconds()))
		resp.Error = "Please wait before requesting another code"
		resp.RetryAfter = secs
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusTooManyRequests, resp)
	default:
		// not found, expired and exhausted look the same to the client
		resp.Error = requestNewCode
		c.JSON(http.StatusBadRequest, resp)
	}
}
