package model

// ========== Auth DTOs ==========

type RegisterRequest struct {
	Name     string `json:"name" binding:"required,min=2,max=100"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type GoogleLoginRequest struct {
	IDToken string `json:"id_token" binding:"required"` // Google ID token from frontend
}

type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresIn int          `json:"expires_in"` // seconds until token expires
	User      UserResponse `json:"user"`
	IsNewUser bool         `json:"is_new_user"`
}

type RefreshRequest struct {
	Token string `json:"token" binding:"required"`
}

// ========== OTP DTOs ==========

type RequestOTPRequest struct {
	Email   string     `json:"email" binding:"required,email"`
	Purpose OTPPurpose `json:"purpose" binding:"omitempty,otppurpose"`
}

type VerifyOTPRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required,otpcode"`
}

type ResendOTPRequest struct {
	Email   string     `json:"email" binding:"required,email"`
	Purpose OTPPurpose `json:"purpose" binding:"omitempty,otppurpose"`
}

type OTPStatusQuery struct {
	Email string `form:"email" binding:"required,email"`
}

type OTPSentResponse struct {
	Message   string `json:"message"`
	Email     string `json:"email"`
	ExpiresIn int    `json:"expires_in"` // seconds until code expires
}

type OTPFailureResponse struct {
	Error             string     `json:"error"`
	Code              OTPOutcome `json:"code"`
	AttemptsRemaining *int       `json:"attempts_remaining,omitempty"`
	RetryAfter        int        `json:"retry_after,omitempty"` // seconds
}

type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Code        string `json:"code" binding:"required,otpcode"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// ========== Google OAuth DTOs ==========

type GoogleUserInfo struct {
	GoogleID string `json:"sub"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Picture  string `json:"picture"`
	Verified bool   `json:"email_verified"`
}

type UpdateProfileRequest struct {
	Name   string `json:"name" binding:"max=100"`
	Avatar string `json:"avatar" binding:"max=500"`
}

// ========== Common ==========

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
