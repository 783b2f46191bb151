package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/quocanhngo/botdesk/internal/middleware"
	"github.com/quocanhngo/botdesk/internal/model"
	"go.uber.org/zap"
)

// AuthAPI is the gateway surface the HTTP layer talks to
type AuthAPI interface {
	RequestOTP(ctx context.Context, req model.RequestOTPRequest) (*model.OTPSentResponse, error)
	VerifyOTP(ctx context.Context, req model.VerifyOTPRequest) (*model.LoginResponse, error)
	ResendOTP(ctx context.Context, req model.ResendOTPRequest) (*model.OTPSentResponse, error)
	OTPStatus(ctx context.Context, email string) (model.OTPStatus, error)
	Register(ctx context.Context, req model.RegisterRequest) (*model.OTPSentResponse, error)
	Login(ctx context.Context, req model.LoginRequest) (*model.LoginResponse, error)
	LoginWithGoogle(ctx context.Context, req model.GoogleLoginRequest) (*model.LoginResponse, error)
	ForgotPassword(ctx context.Context, req model.ForgotPasswordRequest) (*model.OTPSentResponse, error)
	ResetPassword(ctx context.Context, req model.ResetPasswordRequest) error
	Logout(ctx context.Context, token string) error
	Refresh(ctx context.Context, token string) (*model.LoginResponse, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*model.UserResponse, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, req model.UpdateProfileRequest) (*model.UserResponse, error)
	UpdateAvatar(ctx context.Context, userID uuid.UUID, r io.Reader, size int64, filename, contentType string) (*model.UserResponse, error)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	auth   AuthAPI
	logger *zap.Logger
}

func NewAuthHandler(auth AuthAPI, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{auth: auth, logger: logger}
}

// RequestOTP godoc
// @Summary Send a one-time sign-in code
// @Description Replaces any active code for the address. Alias spellings of one mailbox share a code.
// @Tags OTP
// @Accept json
// @Produce json
// @Param body body model.RequestOTPRequest true "OTP request"
// @Success 200 {object} model.OTPSentResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 502 {object} model.ErrorResponse
// @Failure 503 {object} model.ErrorResponse
// @Router /auth/otp/request [post]
func (h *AuthHandler) RequestOTP(c *gin.Context) {
	var req model.RequestOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.auth.RequestOTP(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// VerifyOTP godoc
// @Summary Sign in with a one-time code
// @Description Creates the account on first successful verification.
// @Tags OTP
// @Accept json
// @Produce json
// @Param body body model.VerifyOTPRequest true "Verify OTP request"
// @Success 200 {object} model.LoginResponse
// @Failure 400 {object} model.OTPFailureResponse
// @Failure 503 {object} model.ErrorResponse
// @Router /auth/otp/verify [post]
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req model.VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.auth.VerifyOTP(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ResendOTP godoc
// @Summary Resend the one-time code
// @Tags OTP
// @Accept json
// @Produce json
// @Param body body model.ResendOTPRequest true "Resend OTP request"
// @Success 200 {object} model.OTPSentResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 429 {object} model.OTPFailureResponse
// @Router /auth/otp/resend [post]
func (h *AuthHandler) ResendOTP(c *gin.Context) {
	var req model.ResendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.auth.ResendOTP(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// OTPStatus godoc
// @Summary Poll the state of the active code
// @Tags OTP
// @Produce json
// @Param email query string true "Email address"
// @Success 200 {object} model.OTPStatus
// @Failure 400 {object} model.ErrorResponse
// @Router /auth/otp/status [get]
func (h *AuthHandler) OTPStatus(c *gin.Context) {
	var q model.OTPStatusQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	status, err := h.auth.OTPStatus(c.Request.Context(), q.Email)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// Register godoc
// @Summary Register a new user (sends OTP for verification)
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body model.RegisterRequest true "Register request"
// @Success 201 {object} model.OTPSentResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 409 {object} model.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.auth.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// Login godoc
// @Summary Login with email and password
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body model.LoginRequest true "Login request"
// @Success 200 {object} model.LoginResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 403 {object} model.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GoogleLogin godoc
// @Summary Login with Google OAuth2
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body model.GoogleLoginRequest true "Google login request"
// @Success 200 {object} model.LoginResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /auth/google [post]
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	var req model.GoogleLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.auth.LoginWithGoogle(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ForgotPassword godoc
// @Summary Request password reset OTP
// @Description Always answers the same way whether or not the account exists.
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body model.ForgotPasswordRequest true "Forgot password request"
// @Success 200 {object} model.OTPSentResponse
// @Router /auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req model.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.auth.ForgotPassword(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ResetPassword godoc
// @Summary Reset password with OTP code
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body model.ResetPasswordRequest true "Reset password request"
// @Success 200 {object} model.SuccessResponse
// @Failure 400 {object} model.OTPFailureResponse
// @Router /auth/reset-password [post]
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req model.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.auth.ResetPassword(c.Request.Context(), req); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Password reset successfully"})
}

// Refresh godoc
// @Summary Exchange a valid token for a new one
// @Description The presented token is revoked.
// @Tags Auth
// @Accept json
// @Produce json
// @Param body body model.RefreshRequest true "Refresh request"
// @Success 200 {object} model.LoginResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req model.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.auth.Refresh(c.Request.Context(), req.Token)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Logout godoc
// @Summary Logout
// @Description Revoke the current token
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.SuccessResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	token := c.GetString(middleware.ContextToken)
	if token == "" {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "Token required"})
		return
	}

	if err := h.auth.Logout(c.Request.Context(), token); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, model.SuccessResponse{Message: "Logged out successfully"})
}

// GetProfile godoc
// @Summary Get current user profile
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.UserResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /auth/profile [get]
func (h *AuthHandler) GetProfile(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	profile, err := h.auth.GetProfile(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}

// UpdateProfile godoc
// @Summary Update user profile
// @Tags Auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body model.UpdateProfileRequest true "Update profile request"
// @Success 200 {object} model.UserResponse
// @Failure 400 {object} model.ErrorResponse
// @Router /auth/profile [put]
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req model.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.auth.UpdateProfile(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, user)
}
