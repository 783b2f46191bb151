package repository

import (
	"context"
	"errors"
	"time"

	"github.com/quocanhngo/botdesk/internal/model"
)

var (
	// ErrOTPNotFound means no record exists under the identity
	ErrOTPNotFound = errors.New("otp record not found")
	// ErrStoreUnavailable wraps infrastructure failures of an OTP backend
	ErrStoreUnavailable = errors.New("otp store unavailable")
)

// OTPStore holds at most one OTP record per canonical identity.
// Every implementation must give IncrementAttempts read-modify-write atomicity per identity.
type OTPStore interface {
	// Upsert replaces or inserts the record keyed by rec.Identity
	Upsert(ctx context.Context, rec *model.OTPRecord) error
	// Get returns ErrOTPNotFound when no record exists
	Get(ctx context.Context, identity string) (*model.OTPRecord, error)
	// IncrementAttempts returns the new attempt count, or ErrOTPNotFound if the record vanished
	IncrementAttempts(ctx context.Context, identity string) (int, error)
	Delete(ctx context.Context, identity string) error
	// TouchLastSent restamps the cooldown without rotating the code; reserved for callers that re-deliver the same code.
	// OTPService.Resend rotates the code and goes through Upsert instead.
	TouchLastSent(ctx context.Context, identity string, at time.Time) error
	Ping(ctx context.Context) error
	Name() string
}
