package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/quocanhngo/botdesk/internal/model"
)

var (
	ErrInvalidPurpose        = errors.New("unknown otp purpose")
	ErrEmailDelivery         = errors.New("failed to deliver verification email")
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrEmailTaken            = errors.New("email already registered")
	ErrEmailNotVerified      = errors.New("email not verified")
	ErrPasswordNotSet        = errors.New("account has no password, sign in with a code or Google")
	ErrUserNotFound          = errors.New("user not found")
	ErrGoogleToken           = errors.New("invalid google token")
	ErrGoogleEmailUnverified = errors.New("google account email is not verified")
	ErrAvatarStorageDisabled = errors.New("avatar storage is not configured")
)

// OTPRejectedError carries a typed OTP outcome that stopped a gateway call
type OTPRejectedError struct {
	Outcome           model.OTPOutcome
	AttemptsRemaining int
	RetryAfter        time.Duration
}

func (e *OTPRejectedError) Error() string {
	switch e.Outcome {
	case model.OTPOutcomeInvalid:
		return fmt.Sprintf("otp rejected: %s (%d attempts remaining)", e.Outcome, e.AttemptsRemaining)
	case model.OTPOutcomeTooFrequent:
		return fmt.Sprintf("otp rejected: %s (retry in %s)", e.Outcome, e.RetryAfter)
	}
	return "otp rejected: " + string(e.Outcome)
}

func rejectVerify(res model.OTPVerifyResult) error {
	return &OTPRejectedError{Outcome: res.Outcome, AttemptsRemaining: res.AttemptsRemaining}
}
