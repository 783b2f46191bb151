package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenRevoked   = errors.New("token revoked")
)

// DefaultExpiry is used when the manager is built with a non-positive expiry
const DefaultExpiry = 7 * 24 * time.Hour

// Subject identifies who a token is issued to
type Subject struct {
	UserID uuid.UUID
	Email  string
	Name   string
}

// Claims represents JWT claims
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Name   string    `json:"name"`
	jwt.RegisteredClaims
}

// JWTManager issues, verifies and revokes HS256 session tokens
type JWTManager struct {
	secret    []byte
	expiry    time.Duration
	issuer    string
	blacklist Blacklist
	now       func() time.Time

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secret string, expiry time.Duration, issuer string, blacklist Blacklist) *JWTManager {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if blacklist == nil {
		blacklist = NewMemoryBlacklist(0)
	}
	return &JWTManager{
		secret:    []byte(secret),
		expiry:    expiry,
		issuer:    issuer,
		blacklist: blacklist,
		now:       time.Now,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
}

// SetClock swaps the time source used for issuing and validating
func (j *JWTManager) SetClock(now func() time.Time) {
	j.now = now
}

// Expiry is the lifetime given to new tokens
func (j *JWTManager) Expiry() time.Duration {
	return j.expiry
}

// Issue creates a signed token with a unique jti
func (j *JWTManager) Issue(sub Subject) (string, error) {
	now := j.now()
	claims := &Claims{
		UserID: sub.UserID,
		Email:  sub.Email,
		Name:   sub.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        j.newID(now),
			Subject:   sub.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// Verify rejects revoked tokens before looking at signature or expiry
func (j *JWTManager) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	revoked, err := j.blacklist.Contains(ctx, tokenString)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	claims, err := j.parse(tokenString, true)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	return claims, nil
}

// Revoke blacklists a token we signed for the rest of its lifetime.
// Already expired tokens need no entry.
func (j *JWTManager) Revoke(ctx context.Context, tokenString string) error {
	claims, err := j.parse(tokenString, false)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if claims.ExpiresAt == nil {
		return fmt.Errorf("%w: missing exp", ErrTokenMalformed)
	}

	ttl := claims.ExpiresAt.Time.Sub(j.now())
	if ttl <= 0 {
		return nil
	}
	return j.blacklist.Add(ctx, tokenString, ttl)
}

// IsRevoked reports blacklist membership only
func (j *JWTManager) IsRevoked(ctx context.Context, tokenString string) (bool, error) {
	return j.blacklist.Contains(ctx, tokenString)
}

func (j *JWTManager) parse(tokenString string, validateClaims bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	if !validateClaims {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return j.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func (j *JWTManager) newID(at time.Time) string {
	j.entropyMu.Lock()
	defer j.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), j.entropy).String()
}
