package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuthProvider defines how the user authenticates
type AuthProvider string

const (
	AuthProviderEmail  AuthProvider = "email"
	AuthProviderOTP    AuthProvider = "otp"
	AuthProviderGoogle AuthProvider = "google"
)

// Plan is the subscription tier; feature gating itself lives outside the auth core
type Plan string

const (
	PlanFree Plan = "free"
)

// User represents a tenant owner account of the chatbot widget
type User struct {
	ID    uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name  string    `json:"name" gorm:"size:100;not null;default:''"`
	Email string    `json:"email" gorm:"not null;size:255"`
	// NormalizedEmail is the identity canonical form; alias spellings of one mailbox collide here.
	// Uniqueness only covers live rows so a soft-deleted account does not block the address.
	NormalizedEmail string         `json:"-" gorm:"uniqueIndex:idx_users_normalized_email,where:deleted_at IS NULL;not null;size:255"`
	Password        string         `json:"-" gorm:"size:255"` // empty for OTP-only and Google users
	Avatar          string         `json:"avatar" gorm:"size:500;default:''"`
	AuthProvider    AuthProvider   `json:"auth_provider" gorm:"size:20;default:'email'"`
	GoogleID        *string        `json:"-" gorm:"uniqueIndex:idx_users_google_id,where:deleted_at IS NULL;size:255"`
	Plan            Plan           `json:"plan" gorm:"size:32;default:'free'"`
	EmailVerifiedAt *time.Time     `json:"email_verified_at" gorm:"type:timestamptz"` // NULL = not verified
	LastLoginAt     *time.Time     `json:"last_login_at" gorm:"type:timestamptz"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-" gorm:"index"`
}

// IsEmailVerified checks if the user's email has been verified
func (u *User) IsEmailVerified() bool {
	return u.EmailVerifiedAt != nil
}

// HasPassword reports whether credential login is possible
func (u *User) HasPassword() bool {
	return u.Password != ""
}

// UserResponse is the safe version of User for API responses
type UserResponse struct {
	ID            uuid.UUID    `json:"id"`
	Name          string       `json:"name"`
	Email         string       `json:"email"`
	Avatar        string       `json:"avatar"`
	AuthProvider  AuthProvider `json:"auth_provider"`
	Plan          Plan         `json:"plan"`
	EmailVerified bool         `json:"email_verified"`
	LastLoginAt   *time.Time   `json:"last_login_at"`
}

// ToResponse converts User to safe UserResponse
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		Avatar:        u.Avatar,
		AuthProvider:  u.AuthProvider,
		Plan:          u.Plan,
		EmailVerified: u.IsEmailVerified(),
		LastLoginAt:   u.LastLoginAt,
	}
}
