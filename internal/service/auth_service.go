package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quocanhngo/botdesk/internal/model"
	"github.com/quocanhngo/botdesk/internal/repository"
	"github.com/quocanhngo/botdesk/pkg/auth"
	"github.com/quocanhngo/botdesk/pkg/identity"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// UserStore is the user persistence the gateway needs
type UserStore interface {
	FindOrCreate(ctx context.Context, user *model.User) (*model.User, bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	FindByNormalizedEmail(ctx context.Context, normalized string) (*model.User, error)
	FindByGoogleID(ctx context.Context, googleID string) (*model.User, error)
	MarkLogin(ctx context.Context, userID uuid.UUID, at time.Time) error
	// ClaimUnverified verifies a still-unverified account and clears its password in one update
	ClaimUnverified(ctx context.Context, userID uuid.UUID, at time.Time) error
	VerifyEmail(ctx context.Context, userID uuid.UUID) error
	UpdatePassword(ctx context.Context, userID uuid.UUID, hashedPassword string) error
	UpdateProfile(ctx context.Context, userID uuid.UUID, name, avatar string) error
	LinkGoogle(ctx context.Context, user *model.User, info model.GoogleUserInfo) error
}

// OTPSender delivers a code to the user's inbox
type OTPSender interface {
	SendOTP(ctx context.Context, to, code string, purpose model.OTPPurpose, ttl time.Duration) error
}

// TokenIssuer issues and revokes session tokens
type TokenIssuer interface {
	Issue(sub auth.Subject) (string, error)
	Verify(ctx context.Context, token string) (*auth.Claims, error)
	Revoke(ctx context.Context, token string) error
	Expiry() time.Duration
}

// GoogleVerifier validates a Google ID token
type GoogleVerifier interface {
	Verify(ctx context.Context, idToken string) (*model.GoogleUserInfo, error)
}

// AvatarStore uploads profile pictures and returns their public URL
type AvatarStore interface {
	UploadAvatar(ctx context.Context, userID uuid.UUID, r io.Reader, size int64, filename, contentType string) (string, error)
	// DeleteAvatar ignores URLs it did not issue
	DeleteAvatar(ctx context.Context, url string) error
}

// AuthService handles authentication business logic on top of the OTP lifecycle
type AuthService struct {
	otp        *OTPService
	users      UserStore
	sender     OTPSender
	tokens     TokenIssuer
	google     GoogleVerifier
	avatars    AvatarStore
	normalizer *identity.Normalizer
	logger     *zap.Logger
	now        func() time.Time
}

// AuthDeps groups the collaborators of AuthService; Google and Avatars are optional
type AuthDeps struct {
	OTP        *OTPService
	Users      UserStore
	Sender     OTPSender
	Tokens     TokenIssuer
	Google     GoogleVerifier
	Avatars    AvatarStore
	Normalizer *identity.Normalizer
	Logger     *zap.Logger
}

func NewAuthService(deps AuthDeps) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		otp:        deps.OTP,
		users:      deps.Users,
		sender:     deps.Sender,
		tokens:     deps.Tokens,
		google:     deps.Google,
		avatars:    deps.Avatars,
		normalizer: deps.Normalizer,
		logger:     logger,
		now:        time.Now,
	}
}

// ==================== Passwordless (Email OTP) ====================

// RequestOTP issues a fresh code and emails it.
// When delivery fails the code stays valid and ErrEmailDelivery is returned.
func (s *AuthService) RequestOTP(ctx context.Context, req model.RequestOTPRequest) (*model.OTPSentResponse, error) {
	code, err := s.otp.Generate(ctx, req.Email, req.Purpose)
	if err != nil {
		return nil, err
	}
	if err := s.deliver(ctx, req.Email, code, purposeOrDefault(req.Purpose)); err != nil {
		return nil, err
	}
	return s.sentResponse(req.Email, "Verification code sent to your email"), nil
}

// VerifyOTP logs in with a code, provisioning the account on first use
func (s *AuthService) VerifyOTP(ctx context.Context, req model.VerifyOTPRequest) (*model.LoginResponse, error) {
	res, err := s.otp.Verify(ctx, req.Email, req.Code)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, rejectVerify(res)
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, created, err := s.users.FindOrCreate(ctx, &model.User{
		Name:            displayName(email),
		Email:           email,
		NormalizedEmail: s.normalizer.Canonical(email),
		AuthProvider:    model.AuthProviderOTP,
		Plan:            model.PlanFree,
	})
	if err != nil {
		return nil, fmt.Errorf("provision user: %w", err)
	}
	if created {
		s.logger.Info("👤 user provisioned from otp login", zap.String("user_id", user.ID.String()))
	}
	// only the signup code confirms the password chosen at registration
	if !created && !user.IsEmailVerified() && res.Purpose != model.OTPPurposeSignup {
		if err := s.claimUnverified(ctx, user); err != nil {
			return nil, err
		}
	}

	resp, err := s.startSession(ctx, user)
	if err != nil {
		return nil, err
	}
	resp.IsNewUser = created
	return resp, nil
}

// ResendOTP re-sends a code unless the previous one went out inside the cooldown window
func (s *AuthService) ResendOTP(ctx context.Context, req model.ResendOTPRequest) (*model.OTPSentResponse, error) {
	res, err := s.otp.Resend(ctx, req.Email, req.Purpose)
	if err != nil {
		return nil, err
	}
	if res.Outcome != model.OTPOutcomeSuccess {
		return nil, &OTPRejectedError{Outcome: res.Outcome, RetryAfter: res.RetryAfter}
	}
	if err := s.deliver(ctx, req.Email, res.Code, res.Purpose); err != nil {
		return nil, err
	}
	return s.sentResponse(req.Email, "A new verification code has been sent"), nil
}

// OTPStatus is a read-only view for UI polling
func (s *AuthService) OTPStatus(ctx context.Context, email string) (model.OTPStatus, error) {
	return s.otp.Status(ctx, email)
}

// ==================== Register / Login (Email + Password) ====================

// Register creates an unverified password account and sends a signup code
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (*model.OTPSentResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	normalized := s.normalizer.Canonical(email)

	existing, err := s.users.FindByNormalizedEmail(ctx, normalized)
	switch {
	case err == nil && existing.IsEmailVerified():
		return nil, ErrEmailTaken
	case err == nil:
		// registered but never verified, re-send under the cooldown
		res, err := s.otp.Resend(ctx, email, model.OTPPurposeSignup)
		if err != nil {
			return nil, err
		}
		if res.Outcome != model.OTPOutcomeSuccess {
			return nil, &OTPRejectedError{Outcome: res.Outcome, RetryAfter: res.RetryAfter}
		}
		if err := s.deliver(ctx, email, res.Code, model.OTPPurposeSignup); err != nil {
			return nil, err
		}
		return s.sentResponse(email, "Verification code sent to your email"), nil
	case !errors.Is(err, repository.ErrUserNotFound):
		return nil, fmt.Errorf("find user: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Name:            req.Name,
		Email:           email,
		NormalizedEmail: normalized,
		Password:        string(hashed),
		AuthProvider:    model.AuthProviderEmail,
		Plan:            model.PlanFree,
	}
	if _, created, err := s.users.FindOrCreate(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	} else if !created {
		return nil, ErrEmailTaken
	}

	code, err := s.otp.Generate(ctx, email, model.OTPPurposeSignup)
	if err != nil {
		return nil, err
	}
	if err := s.deliver(ctx, email, code, model.OTPPurposeSignup); err != nil {
		return nil, err
	}
	return s.sentResponse(email, "Verification code sent to your email"), nil
}

// Login authenticates with email and password
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (*model.LoginResponse, error) {
	user, err := s.users.FindByNormalizedEmail(ctx, s.normalizer.Canonical(req.Email))
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	if !user.HasPassword() {
		return nil, ErrPasswordNotSet
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsEmailVerified() {
		return nil, ErrEmailNotVerified
	}

	return s.startSession(ctx, user)
}

// ==================== Login (Google OAuth2) ====================

// LoginWithGoogle signs in with a Google ID token, linking or creating the account
func (s *AuthService) LoginWithGoogle(ctx context.Context, req model.GoogleLoginRequest) (*model.LoginResponse, error) {
	if s.google == nil {
		return nil, ErrGoogleToken
	}
	info, err := s.google.Verify(ctx, req.IDToken)
	if err != nil {
		return nil, err
	}
	if !info.Verified {
		return nil, ErrGoogleEmailUnverified
	}

	user, err := s.users.FindByGoogleID(ctx, info.GoogleID)
	if errors.Is(err, repository.ErrUserNotFound) {
		user, err = s.users.FindByNormalizedEmail(ctx, s.normalizer.Canonical(info.Email))
	}

	created := false
	switch {
	case err == nil:
		if err := s.claimUnverified(ctx, user); err != nil {
			return nil, err
		}
		if err := s.users.LinkGoogle(ctx, user, *info); err != nil {
			return nil, fmt.Errorf("link google account: %w", err)
		}
	case errors.Is(err, repository.ErrUserNotFound):
		email := strings.ToLower(strings.TrimSpace(info.Email))
		googleID := info.GoogleID
		name := info.Name
		if name == "" {
			name = displayName(email)
		}
		user, created, err = s.users.FindOrCreate(ctx, &model.User{
			Name:            name,
			Email:           email,
			NormalizedEmail: s.normalizer.Canonical(email),
			Avatar:          info.Picture,
			AuthProvider:    model.AuthProviderGoogle,
			GoogleID:        &googleID,
			Plan:            model.PlanFree,
		})
		if err != nil {
			return nil, fmt.Errorf("create google user: %w", err)
		}
		if !created {
			if err := s.claimUnverified(ctx, user); err != nil {
				return nil, err
			}
			if err := s.users.LinkGoogle(ctx, user, *info); err != nil {
				return nil, fmt.Errorf("link google account: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("find user: %w", err)
	}

	resp, err := s.startSession(ctx, user)
	if err != nil {
		return nil, err
	}
	resp.IsNewUser = created
	return resp, nil
}

// ==================== Forgot/Reset Password ====================

// ForgotPassword sends a reset code. The response never reveals whether the account exists.
func (s *AuthService) ForgotPassword(ctx context.Context, req model.ForgotPasswordRequest) (*model.OTPSentResponse, error) {
	generic := s.sentResponse(req.Email, "If the email exists, a reset code has been sent")

	user, err := s.users.FindByNormalizedEmail(ctx, s.normalizer.Canonical(req.Email))
	if errors.Is(err, repository.ErrUserNotFound) {
		return generic, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	res, err := s.otp.Resend(ctx, req.Email, model.OTPPurposePasswordReset)
	if err != nil {
		return nil, err
	}
	if res.Outcome != model.OTPOutcomeSuccess {
		// throttled: answer the same as for unknown accounts
		return generic, nil
	}
	if err := s.deliver(ctx, user.Email, res.Code, model.OTPPurposePasswordReset); err != nil {
		return nil, err
	}
	return generic, nil
}

// ResetPassword consumes a code and sets a new password
func (s *AuthService) ResetPassword(ctx context.Context, req model.ResetPasswordRequest) error {
	res, err := s.otp.Verify(ctx, req.Email, req.Code)
	if err != nil {
		return err
	}
	if !res.OK() {
		return rejectVerify(res)
	}

	user, err := s.users.FindByNormalizedEmail(ctx, s.normalizer.Canonical(req.Email))
	if errors.Is(err, repository.ErrUserNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, string(hashed)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	// the code proved mailbox ownership
	if err := s.users.VerifyEmail(ctx, user.ID); err != nil {
		s.logger.Warn("⚠️  failed to mark email verified after reset", zap.String("user_id", user.ID.String()), zap.Error(err))
	}
	s.logger.Info("🔐 password reset", zap.String("user_id", user.ID.String()))
	return nil
}

// ==================== Session ====================

// Logout revokes the bearer token
func (s *AuthService) Logout(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}

// Refresh swaps a valid token for a new one and revokes the old
func (s *AuthService) Refresh(ctx context.Context, token string) (*model.LoginResponse, error) {
	claims, err := s.tokens.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	fresh, err := s.tokens.Issue(auth.Subject{UserID: user.ID, Email: user.Email, Name: user.Name})
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	if err := s.tokens.Revoke(ctx, token); err != nil {
		return nil, fmt.Errorf("revoke previous token: %w", err)
	}

	return &model.LoginResponse{
		Token:     fresh,
		ExpiresIn: int(s.tokens.Expiry().Seconds()),
		User:      user.ToResponse(),
	}, nil
}

// ==================== Profile ====================

// GetProfile returns the current user's profile
func (s *AuthService) GetProfile(ctx context.Context, userID uuid.UUID) (*model.UserResponse, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	resp := user.ToResponse()
	return &resp, nil
}

// UpdateProfile updates user's profile
func (s *AuthService) UpdateProfile(ctx context.Context, userID uuid.UUID, req model.UpdateProfileRequest) (*model.UserResponse, error) {
	if err := s.users.UpdateProfile(ctx, userID, req.Name, req.Avatar); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return s.GetProfile(ctx, userID)
}

// UpdateAvatar stores an uploaded picture, points the profile at it and removes the previous upload
func (s *AuthService) UpdateAvatar(ctx context.Context, userID uuid.UUID, r io.Reader, size int64, filename, contentType string) (*model.UserResponse, error) {
	if s.avatars == nil {
		return nil, ErrAvatarStorageDisabled
	}
	current, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	url, err := s.avatars.UploadAvatar(ctx, userID, r, size, filename, contentType)
	if err != nil {
		return nil, fmt.Errorf("upload avatar: %w", err)
	}
	resp, err := s.UpdateProfile(ctx, userID, model.UpdateProfileRequest{Avatar: url})
	if err != nil {
		return nil, err
	}

	if previous := current.Avatar; previous != "" && previous != url {
		if err := s.avatars.DeleteAvatar(ctx, previous); err != nil {
			s.logger.Warn("⚠️  failed to delete previous avatar", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
	return resp, nil
}

// ==================== Internal Helpers ====================

func (s *AuthService) startSession(ctx context.Context, user *model.User) (*model.LoginResponse, error) {
	now := s.now()
	if err := s.users.MarkLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("mark login: %w", err)
	}
	user.LastLoginAt = &now
	if user.EmailVerifiedAt == nil {
		user.EmailVerifiedAt = &now
	}

	token, err := s.tokens.Issue(auth.Subject{UserID: user.ID, Email: user.Email, Name: user.Name})
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	return &model.LoginResponse{
		Token:     token,
		ExpiresIn: int(s.tokens.Expiry().Seconds()),
		User:      user.ToResponse(),
	}, nil
}

// claimUnverified takes over an account whose mailbox was never proven.
// Whoever registered it did not own the inbox, so the password they set is dropped.
func (s *AuthService) claimUnverified(ctx context.Context, user *model.User) error {
	if user.IsEmailVerified() {
		return nil
	}
	now := s.now()
	if err := s.users.ClaimUnverified(ctx, user.ID, now); err != nil {
		return fmt.Errorf("claim unverified account: %w", err)
	}
	if user.HasPassword() {
		s.logger.Warn("🔐 dropped password set before email verification", zap.String("user_id", user.ID.String()))
	}
	user.Password = ""
	user.EmailVerifiedAt = &now
	return nil
}

func (s *AuthService) deliver(ctx context.Context, to, code string, purpose model.OTPPurpose) error {
	if err := s.sender.SendOTP(ctx, to, code, purpose, s.otp.Policy().TTL); err != nil {
		s.logger.Error("❌ failed to send otp email",
			zap.String("identity", s.normalizer.Canonical(to)),
			zap.String("purpose", string(purpose)),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrEmailDelivery, err)
	}
	return nil
}

func (s *AuthService) sentResponse(email, message string) *model.OTPSentResponse {
	return &model.OTPSentResponse{
		Message:   message,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		ExpiresIn: int(s.otp.Policy().TTL.Seconds()),
	}
}

func purposeOrDefault(p model.OTPPurpose) model.OTPPurpose {
	if p == "" {
		return model.OTPPurposeLogin
	}
	return p
}

func displayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
