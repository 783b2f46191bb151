package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/quocanhngo/botdesk/internal/model"
	"github.com/quocanhngo/botdesk/internal/repository"
	"github.com/quocanhngo/botdesk/pkg/identity"
	"github.com/quocanhngo/botdesk/pkg/metrics"
	"go.uber.org/zap"
)

const outcomeStoreError = "STORE_ERROR"

// OTPPolicy holds the lifecycle limits applied to every code
type OTPPolicy struct {
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
}

// DefaultOTPPolicy is 10 minutes, 3 attempts, 20 seconds between resends
func DefaultOTPPolicy() OTPPolicy {
	return OTPPolicy{
		TTL:            10 * time.Minute,
		MaxAttempts:    3,
		ResendCooldown: 20 * time.Second,
	}
}

// StoreSelector picks the backend for one operation and collects its failures
type StoreSelector interface {
	Active() repository.OTPStore
	ReportResult(store repository.OTPStore, err error)
}

// CodeGenerator produces fresh plaintext codes
type CodeGenerator interface {
	Generate() string
}

// OTPService owns the generate / verify / resend / status lifecycle.
// Expected failures come back as typed outcomes; only backend failures are errors.
type OTPService struct {
	stores     StoreSelector
	normalizer *identity.Normalizer
	codes      CodeGenerator
	policy     OTPPolicy
	now        func() time.Time
	logger     *zap.Logger
}

// OTPOption customizes an OTPService
type OTPOption func(*OTPService)

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) OTPOption {
	return func(s *OTPService) { s.now = now }
}

func NewOTPService(
	stores StoreSelector,
	normalizer *identity.Normalizer,
	codes CodeGenerator,
	policy OTPPolicy,
	logger *zap.Logger,
	opts ...OTPOption,
) *OTPService {
	def := DefaultOTPPolicy()
	if policy.TTL <= 0 {
		policy.TTL = def.TTL
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.ResendCooldown <= 0 {
		policy.ResendCooldown = def.ResendCooldown
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &OTPService{
		stores:     stores,
		normalizer: normalizer,
		codes:      codes,
		policy:     policy,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the effective limits
func (s *OTPService) Policy() OTPPolicy {
	return s.policy
}

// Generate issues a new code for the identity, replacing any previous one
func (s *OTPService) Generate(ctx context.Context, rawIdentity string, purpose model.OTPPurpose) (string, error) {
	purpose, err := normalizePurpose(purpose)
	if err != nil {
		return "", err
	}

	store := s.stores.Active()
	candidates := s.normalizer.Candidates(rawIdentity)
	canonical := candidates[len(candidates)-1]

	code, err := s.write(ctx, store, canonical, purpose)
	if err != nil {
		metrics.ObserveOTP("generate", outcomeStoreError)
		return "", fmt.Errorf("generate otp: %w", err)
	}
	s.dropAliases(ctx, store, candidates)

	metrics.ObserveOTP("generate", string(model.OTPOutcomeSuccess))
	s.logger.Info("🔑 otp generated",
		zap.String("identity", canonical),
		zap.String("purpose", string(purpose)),
		zap.String("store", store.Name()),
	)
	return code, nil
}

// Verify checks a supplied code against the record found under any identity candidate
func (s *OTPService) Verify(ctx context.Context, rawIdentity, code string) (model.OTPVerifyResult, error) {
	store := s.stores.Active()

	rec, err := s.find(ctx, store, s.normalizer.Candidates(rawIdentity))
	if err != nil {
		metrics.ObserveOTP("verify", outcomeStoreError)
		return model.OTPVerifyResult{}, fmt.Errorf("verify otp: %w", err)
	}
	if rec == nil {
		return s.verifyResult(model.OTPOutcomeNotFound, 0), nil
	}

	if rec.IsExpired(s.now()) {
		if err := s.delete(ctx, store, rec.Identity); err != nil {
			metrics.ObserveOTP("verify", outcomeStoreError)
			return model.OTPVerifyResult{}, fmt.Errorf("verify otp: %w", err)
		}
		return s.verifyResult(model.OTPOutcomeExpired, 0), nil
	}

	if rec.Attempts >= rec.MaxAttempts {
		if err := s.delete(ctx, store, rec.Identity); err != nil {
			metrics.ObserveOTP("verify", outcomeStoreError)
			return model.OTPVerifyResult{}, fmt.Errorf("verify otp: %w", err)
		}
		s.logger.Warn("🚫 otp attempts exhausted", zap.String("identity", rec.Identity))
		return s.verifyResult(model.OTPOutcomeMaxAttemptsExceeded, 0), nil
	}

	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1 {
		attempts, err := store.IncrementAttempts(ctx, rec.Identity)
		s.stores.ReportResult(store, err)
		if errors.Is(err, repository.ErrOTPNotFound) {
			// superseded or deleted between Get and increment
			return s.verifyResult(model.OTPOutcomeNotFound, 0), nil
		}
		if err != nil {
			metrics.ObserveOTP("verify", outcomeStoreError)
			return model.OTPVerifyResult{}, fmt.Errorf("verify otp: %w", err)
		}

		remaining := rec.MaxAttempts - attempts
		if remaining < 0 {
			remaining = 0
		}
		return s.verifyResult(model.OTPOutcomeInvalid, remaining), nil
	}

	if err := s.delete(ctx, store, rec.Identity); err != nil {
		metrics.ObserveOTP("verify", outcomeStoreError)
		return model.OTPVerifyResult{}, fmt.Errorf("verify otp: %w", err)
	}
	s.logger.Info("✅ otp verified", zap.String("identity", rec.Identity))
	res := s.verifyResult(model.OTPOutcomeSuccess, 0)
	res.Purpose = rec.Purpose
	return res, nil
}

// Resend replaces the active code unless the last one went out inside the cooldown window
func (s *OTPService) Resend(ctx context.Context, rawIdentity string, purpose model.OTPPurpose) (model.OTPResendResult, error) {
	if purpose != "" && !purpose.Valid() {
		return model.OTPResendResult{}, ErrInvalidPurpose
	}

	store := s.stores.Active()
	candidates := s.normalizer.Candidates(rawIdentity)
	canonical := candidates[len(candidates)-1]

	existing, err := s.find(ctx, store, candidates)
	if err != nil {
		metrics.ObserveOTP("resend", outcomeStoreError)
		return model.OTPResendResult{}, fmt.Errorf("resend otp: %w", err)
	}

	now := s.now()
	if existing != nil && !existing.IsExpired(now) {
		if elapsed := now.Sub(existing.LastSentAt); elapsed < s.policy.ResendCooldown {
			metrics.ObserveOTP("resend", string(model.OTPOutcomeTooFrequent))
			return model.OTPResendResult{
				Outcome:    model.OTPOutcomeTooFrequent,
				RetryAfter: s.policy.ResendCooldown - elapsed,
			}, nil
		}
		if purpose == "" {
			purpose = existing.Purpose
		}
	}
	if purpose == "" {
		purpose = model.OTPPurposeLogin
	}

	code, err := s.write(ctx, store, canonical, purpose)
	if err != nil {
		metrics.ObserveOTP("resend", outcomeStoreError)
		return model.OTPResendResult{}, fmt.Errorf("resend otp: %w", err)
	}
	s.dropAliases(ctx, store, candidates)

	metrics.ObserveOTP("resend", string(model.OTPOutcomeSuccess))
	s.logger.Info("🔁 otp resent", zap.String("identity", canonical), zap.String("store", store.Name()))
	return model.OTPResendResult{Outcome: model.OTPOutcomeSuccess, Code: code, Purpose: purpose}, nil
}

// Status reports the active record without touching attempts or expiry
func (s *OTPService) Status(ctx context.Context, rawIdentity string) (model.OTPStatus, error) {
	store := s.stores.Active()

	rec, err := s.find(ctx, store, s.normalizer.Candidates(rawIdentity))
	if err != nil {
		metrics.ObserveOTP("status", outcomeStoreError)
		return model.OTPStatus{}, fmt.Errorf("otp status: %w", err)
	}

	now := s.now()
	if rec == nil || rec.IsExpired(now) {
		return model.OTPStatus{Exists: false}, nil
	}

	left := rec.ExpiresAt.Sub(now)
	return model.OTPStatus{
		Exists:            true,
		ExpiresInSeconds:  int((left + time.Second - 1) / time.Second),
		Attempts:          rec.Attempts,
		MaxAttempts:       rec.MaxAttempts,
		AttemptsRemaining: rec.AttemptsRemaining(),
	}, nil
}

// find returns the first record found in candidate order, or nil
func (s *OTPService) find(ctx context.Context, store repository.OTPStore, candidates []string) (*model.OTPRecord, error) {
	for _, candidate := range candidates {
		rec, err := store.Get(ctx, candidate)
		if errors.Is(err, repository.ErrOTPNotFound) {
			s.stores.ReportResult(store, nil)
			continue
		}
		s.stores.ReportResult(store, err)
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
	return nil, nil
}

func (s *OTPService) write(ctx context.Context, store repository.OTPStore, canonical string, purpose model.OTPPurpose) (string, error) {
	now := s.now()
	code := s.codes.Generate()
	err := store.Upsert(ctx, &model.OTPRecord{
		Identity:    canonical,
		Code:        code,
		Purpose:     purpose,
		Attempts:    0,
		MaxAttempts: s.policy.MaxAttempts,
		LastSentAt:  now,
		ExpiresAt:   now.Add(s.policy.TTL),
		CreatedAt:   now,
	})
	s.stores.ReportResult(store, err)
	if err != nil {
		return "", err
	}
	return code, nil
}

func (s *OTPService) delete(ctx context.Context, store repository.OTPStore, key string) error {
	err := store.Delete(ctx, key)
	s.stores.ReportResult(store, err)
	return err
}

// dropAliases removes records left under non-canonical spellings so only one code stays live
func (s *OTPService) dropAliases(ctx context.Context, store repository.OTPStore, candidates []string) {
	for _, alias := range candidates[:len(candidates)-1] {
		if err := s.delete(ctx, store, alias); err != nil {
			s.logger.Warn("⚠️  failed to drop alias otp record", zap.String("identity", alias), zap.Error(err))
		}
	}
}

func (s *OTPService) verifyResult(outcome model.OTPOutcome, remaining int) model.OTPVerifyResult {
	metrics.ObserveOTP("verify", string(outcome))
	return model.OTPVerifyResult{Outcome: outcome, AttemptsRemaining: remaining}
}

func normalizePurpose(p model.OTPPurpose) (model.OTPPurpose, error) {
	if p == "" {
		return model.OTPPurposeLogin, nil
	}
	if !p.Valid() {
		return "", ErrInvalidPurpose
	}
	return p, nil
}
