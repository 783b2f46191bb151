package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/quocanhngo/botdesk/internal/model"
	"github.com/redis/go-redis/v9"
)

const otpKeyPrefix = "otp:"

// Both scripts refuse to touch a missing key so a concurrent delete or TTL
// expiry is never resurrected as a partial hash without an expiry.
var (
	incrementAttemptsLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
return redis.call('HINCRBY', KEYS[1], 'attempts', 1)
`)

	touchLastSentLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'last_sent', ARGV[1])
return 1
`)
)

// RedisOTPStore is the durable backend: one hash per identity, expired by Redis itself
type RedisOTPStore struct {
	rdb redis.UniversalClient
}

// NewRedisOTPStore wraps an existing Redis client
func NewRedisOTPStore(rdb redis.UniversalClient) *RedisOTPStore {
	return &RedisOTPStore{rdb: rdb}
}

func (s *RedisOTPStore) Name() string { return "redis" }

func (s *RedisOTPStore) key(identity string) string {
	return otpKeyPrefix + identity
}

func (s *RedisOTPStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Upsert replaces the whole hash and pins its expiry to rec.ExpiresAt
func (s *RedisOTPStore) Upsert(ctx context.Context, rec *model.OTPRecord) error {
	key := s.key(rec.Identity)
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = rec.LastSentAt
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"code", rec.Code,
			"purpose", string(rec.Purpose),
			"attempts", rec.Attempts,
			"max_attempts", rec.MaxAttempts,
			"last_sent", rec.LastSentAt.UnixMilli(),
			"expires_at", rec.ExpiresAt.UnixMilli(),
			"created_at", createdAt.UnixMilli(),
		)
		pipe.PExpireAt(ctx, key, rec.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisOTPStore) Get(ctx context.Context, identity string) (*model.OTPRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(identity)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrOTPNotFound
	}

	rec, err := decodeOTPHash(identity, fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rec, nil
}

func (s *RedisOTPStore) IncrementAttempts(ctx context.Context, identity string) (int, error) {
	n, err := incrementAttemptsLua.Run(ctx, s.rdb, []string{s.key(identity)}).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n < 0 {
		return 0, ErrOTPNotFound
	}
	return n, nil
}

func (s *RedisOTPStore) Delete(ctx context.Context, identity string) error {
	if err := s.rdb.Del(ctx, s.key(identity)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisOTPStore) TouchLastSent(ctx context.Context, identity string, at time.Time) error {
	ok, err := touchLastSentLua.Run(ctx, s.rdb, []string{s.key(identity)}, at.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ok == 0 {
		return ErrOTPNotFound
	}
	return nil
}

func decodeOTPHash(identity string, f map[string]string) (*model.OTPRecord, error) {
	attempts, err := strconv.Atoi(f["attempts"])
	if err != nil {
		return nil, fmt.Errorf("decode attempts: %w", err)
	}
	maxAttempts, err := strconv.Atoi(f["max_attempts"])
	if err != nil {
		return nil, fmt.Errorf("decode max_attempts: %w", err)
	}
	lastSent, err := parseMillis(f["last_sent"])
	if err != nil {
		return nil, fmt.Errorf("decode last_sent: %w", err)
	}
	expiresAt, err := parseMillis(f["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("decode expires_at: %w", err)
	}
	createdAt, _ := parseMillis(f["created_at"])

	return &model.OTPRecord{
		Identity:    identity,
		Code:        f["code"],
		Purpose:     model.OTPPurpose(f["purpose"]),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		LastSentAt:  lastSent,
		ExpiresAt:   expiresAt,
		CreatedAt:   createdAt,
	}, nil
}

func parseMillis(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("missing field")
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
