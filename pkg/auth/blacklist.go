package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quocanhngo/botdesk/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultBlacklistCapacity bounds the in-process revocation set
const DefaultBlacklistCapacity = 10000

// ErrBlacklistUnavailable wraps failures of a shared blacklist backend
var ErrBlacklistUnavailable = errors.New("token blacklist unavailable")

// Blacklist is the set of explicitly revoked tokens
type Blacklist interface {
	// Add keeps token revoked for at least ttl
	Add(ctx context.Context, token string, ttl time.Duration) error
	Contains(ctx context.Context, token string) (bool, error)
}

// ==================== In-process ====================

// MemoryBlacklist is a process-wide revocation set.
// Once it grows past capacity, expired entries are dropped and then the oldest ones.
type MemoryBlacklist struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]time.Time
	order    []string // insertion order, oldest first
	now      func() time.Time
}

// NewMemoryBlacklist creates a set holding at most capacity live entries
func NewMemoryBlacklist(capacity int) *MemoryBlacklist {
	if capacity <= 0 {
		capacity = DefaultBlacklistCapacity
	}
	return &MemoryBlacklist{
		capacity: capacity,
		entries:  make(map[string]time.Time),
		now:      time.Now,
	}
}

func (b *MemoryBlacklist) Add(_ context.Context, token string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	expiresAt := b.now().Add(ttl)
	if prev, ok := b.entries[token]; ok {
		if expiresAt.After(prev) {
			b.entries[token] = expiresAt
		}
		return nil
	}

	b.entries[token] = expiresAt
	b.order = append(b.order, token)
	if len(b.order) > b.capacity {
		b.compact()
	}
	metrics.SetBlacklistSize(len(b.entries))
	return nil
}

func (b *MemoryBlacklist) Contains(_ context.Context, token string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	expiresAt, ok := b.entries[token]
	if !ok {
		return false, nil
	}
	return b.now().Before(expiresAt), nil
}

// Len reports the number of held entries
func (b *MemoryBlacklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// compact runs under b.mu, so inserts racing with it simply wait
func (b *MemoryBlacklist) compact() {
	now := b.now()
	kept := b.order[:0]
	for _, token := range b.order {
		if !now.Before(b.entries[token]) {
			delete(b.entries, token)
			continue
		}
		kept = append(kept, token)
	}

	// leave headroom so compaction is not re-triggered on every insert
	keep := b.capacity - b.capacity/10
	if keep < 1 {
		keep = 1
	}
	if len(kept) > keep {
		for _, token := range kept[:len(kept)-keep] {
			delete(b.entries, token)
		}
		kept = append([]string(nil), kept[len(kept)-keep:]...)
	}
	b.order = kept
}

// ==================== Redis ====================

const blacklistKeyPrefix = "blacklist:"

// RedisBlacklist shares revocations across instances; keys expire with the token
type RedisBlacklist struct {
	rdb redis.UniversalClient
}

func NewRedisBlacklist(rdb redis.UniversalClient) *RedisBlacklist {
	return &RedisBlacklist{rdb: rdb}
}

func (b *RedisBlacklist) Add(ctx context.Context, token string, ttl time.Duration) error {
	if err := b.rdb.Set(ctx, blacklistKeyPrefix+token, "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBlacklistUnavailable, err)
	}
	return nil
}

func (b *RedisBlacklist) Contains(ctx context.Context, token string) (bool, error) {
	n, err := b.rdb.Exists(ctx, blacklistKeyPrefix+token).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBlacklistUnavailable, err)
	}
	return n > 0, nil
}

// ==================== Layered ====================

// LayeredBlacklist always records locally and treats the shared set as best effort.
// A token revoked on this instance stays rejected here even while Redis is down.
type LayeredBlacklist struct {
	local  *MemoryBlacklist
	shared Blacklist
	logger *zap.Logger
}

func NewLayeredBlacklist(local *MemoryBlacklist, shared Blacklist, logger *zap.Logger) *LayeredBlacklist {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LayeredBlacklist{local: local, shared: shared, logger: logger}
}

func (b *LayeredBlacklist) Add(ctx context.Context, token string, ttl time.Duration) error {
	if err := b.local.Add(ctx, token, ttl); err != nil {
		return err
	}
	if b.shared == nil {
		return nil
	}
	if err := b.shared.Add(ctx, token, ttl); err != nil {
		b.logger.Warn("⚠️  shared blacklist write failed, token revoked locally only", zap.Error(err))
	}
	return nil
}

func (b *LayeredBlacklist) Contains(ctx context.Context, token string) (bool, error) {
	if ok, _ := b.local.Contains(ctx, token); ok {
		return true, nil
	}
	if b.shared == nil {
		return false, nil
	}
	ok, err := b.shared.Contains(ctx, token)
	if err != nil {
		b.logger.Warn("⚠️  shared blacklist read failed, using local set", zap.Error(err))
		return false, nil
	}
	return ok, nil
}
