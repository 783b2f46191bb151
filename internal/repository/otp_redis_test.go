package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestRedisOTPStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	s := NewRedisOTPStore(rdb)

	now := time.Now().Truncate(time.Millisecond)
	rec := newRecord("a@x.com", now)
	require.NoError(t, s.Upsert(ctx, rec))

	got, err := s.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", got.Identity)
	assert.Equal(t, "123456", got.Code)
	assert.Equal(t, rec.Purpose, got.Purpose)
	assert.Equal(t, 0, got.Attempts)
	assert.Equal(t, 3, got.MaxAttempts)
	assert.True(t, got.ExpiresAt.Equal(rec.ExpiresAt))
	assert.True(t, got.LastSentAt.Equal(now))
}

func TestRedisOTPStore_ExpiresByTTL(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	s := NewRedisOTPStore(rdb)

	require.NoError(t, s.Upsert(ctx, newRecord("a@x.com", time.Now())))
	assert.Greater(t, mr.TTL(otpKeyPrefix+"a@x.com"), time.Duration(0))

	mr.FastForward(11 * time.Minute)
	_, err := s.Get(ctx, "a@x.com")
	assert.ErrorIs(t, err, ErrOTPNotFound)
}

func TestRedisOTPStore_UpsertResetsAttempts(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	s := NewRedisOTPStore(rdb)

	require.NoError(t, s.Upsert(ctx, newRecord("a@x.com", time.Now())))
	n, err := s.IncrementAttempts(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Upsert(ctx, newRecord("a@x.com", time.Now())))
	got, err := s.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Attempts)
}

func TestRedisOTPStore_IncrementMissingDoesNotCreateKey(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	s := NewRedisOTPStore(rdb)

	_, err := s.IncrementAttempts(ctx, "ghost@x.com")
	assert.ErrorIs(t, err, ErrOTPNotFound)
	assert.False(t, mr.Exists(otpKeyPrefix+"ghost@x.com"))

	assert.ErrorIs(t, s.TouchLastSent(ctx, "ghost@x.com", time.Now()), ErrOTPNotFound)
	assert.False(t, mr.Exists(otpKeyPrefix+"ghost@x.com"))
}

func TestRedisOTPStore_ConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	s := NewRedisOTPStore(rdb)
	require.NoError(t, s.Upsert(ctx, newRecord("a@x.com", time.Now())))

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementAttempts(ctx, "a@x.com")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, workers, got.Attempts)
}

func TestRedisOTPStore_DeleteAndTouch(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	s := NewRedisOTPStore(rdb)

	now := time.Now().Truncate(time.Millisecond)
	require.NoError(t, s.Upsert(ctx, newRecord("a@x.com", now)))

	later := now.Add(30 * time.Second)
	require.NoError(t, s.TouchLastSent(ctx, "a@x.com", later))
	got, err := s.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, got.LastSentAt.Equal(later))

	require.NoError(t, s.Delete(ctx, "a@x.com"))
	_, err = s.Get(ctx, "a@x.com")
	assert.ErrorIs(t, err, ErrOTPNotFound)
}

func TestRedisOTPStore_UnavailableWrapsStoreError(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	s := NewRedisOTPStore(rdb)
	mr.Close()

	_, err := s.Get(ctx, "a@x.com")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), ErrStoreUnavailable)
	assert.ErrorIs(t, s.Upsert(ctx, newRecord("a@x.com", time.Now())), ErrStoreUnavailable)
}
