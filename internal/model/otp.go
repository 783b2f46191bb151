package model

import (
	"time"
)

// OTPPurpose defines which flow requested the OTP code.
// It is informational only and never changes verification rules.
type OTPPurpose string

const (
	OTPPurposeLogin         OTPPurpose = "login"
	OTPPurposeSignup        OTPPurpose = "signup"
	OTPPurposeEmailVerify   OTPPurpose = "email_verify"
	OTPPurposePasswordReset OTPPurpose = "password_reset"
)

// Valid reports whether p is a known purpose
func (p OTPPurpose) Valid() bool {
	switch p {
	case OTPPurposeLogin, OTPPurposeSignup, OTPPurposeEmailVerify, OTPPurposePasswordReset:
		return true
	}
	return false
}

// OTPRecord is the single active code for one canonical identity.
// Deleting the row is the only terminal state; there is no "used" flag.
type OTPRecord struct {
	Identity    string     `json:"email" gorm:"column:email;primaryKey;size:255"`
	Code        string     `json:"-" gorm:"size:12;not null"`
	Purpose     OTPPurpose `json:"purpose" gorm:"size:32;not null;default:'login'"`
	Attempts    int        `json:"attempts" gorm:"not null;default:0"`
	MaxAttempts int        `json:"max_attempts" gorm:"not null;default:3"`
	LastSentAt  time.Time  `json:"last_sent" gorm:"column:last_sent;not null"`
	ExpiresAt   time.Time  `json:"expires_at" gorm:"not null;index"` // swept by the janitor
	CreatedAt   time.Time  `json:"created_at"`
}

// TableName keeps the table name stable across struct renames
func (OTPRecord) TableName() string {
	return "otp_codes"
}

// IsExpired checks the record against the given instant
func (o *OTPRecord) IsExpired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// AttemptsRemaining never goes below zero
func (o *OTPRecord) AttemptsRemaining() int {
	if r := o.MaxAttempts - o.Attempts; r > 0 {
		return r
	}
	return 0
}

// OTPOutcome is the typed result of an OTP operation
type OTPOutcome string

const (
	OTPOutcomeSuccess             OTPOutcome = "SUCCESS"
	OTPOutcomeNotFound            OTPOutcome = "OTP_NOT_FOUND"
	OTPOutcomeExpired             OTPOutcome = "OTP_EXPIRED"
	OTPOutcomeMaxAttemptsExceeded OTPOutcome = "MAX_ATTEMPTS_EXCEEDED"
	OTPOutcomeInvalid             OTPOutcome = "INVALID_OTP"
	OTPOutcomeTooFrequent         OTPOutcome = "TOO_FREQUENT"
)

// OTPVerifyResult is returned by a verify call.
// AttemptsRemaining is only meaningful for OTPOutcomeInvalid, where 0 is a real value.
// Purpose is the purpose the consumed code was issued for and is set only on success.
type OTPVerifyResult struct {
	Outcome           OTPOutcome `json:"outcome"`
	AttemptsRemaining int        `json:"attempts_remaining"`
	Purpose           OTPPurpose `json:"purpose,omitempty"`
}

// OK reports a successful verification
func (r OTPVerifyResult) OK() bool {
	return r.Outcome == OTPOutcomeSuccess
}

// OTPResendResult carries the fresh code on success.
// RetryAfter is set when the resend was throttled.
type OTPResendResult struct {
	Outcome    OTPOutcome    `json:"outcome"`
	Code       string        `json:"-"`
	Purpose    OTPPurpose    `json:"purpose,omitempty"`
	RetryAfter time.Duration `json:"-"`
}

// OTPStatus is a read-only snapshot used for UI polling
type OTPStatus struct {
	Exists            bool `json:"exists"`
	ExpiresInSeconds  int  `json:"expires_in_seconds"`
	Attempts          int  `json:"attempts"`
	MaxAttempts       int  `json:"max_attempts"`
	AttemptsRemaining int  `json:"attempts_remaining"`
}
