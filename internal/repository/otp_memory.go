package repository

import (
	"context"
	"sync"
	"time"

	"github.com/quocanhngo/botdesk/internal/model"
	"go.uber.org/zap"
)

// MemoryOTPStore is the process-local fallback backend.
// Expiry is enforced by the caller at access time; Sweep only bounds memory.
type MemoryOTPStore struct {
	mu      sync.Mutex
	records map[string]model.OTPRecord
	now     func() time.Time
}

// NewMemoryOTPStore creates an empty in-process store
func NewMemoryOTPStore(now func() time.Time) *MemoryOTPStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryOTPStore{
		records: make(map[string]model.OTPRecord),
		now:     now,
	}
}

func (s *MemoryOTPStore) Name() string { return "memory" }

func (s *MemoryOTPStore) Ping(context.Context) error { return nil }

// Upsert stores a copy of rec
func (s *MemoryOTPStore) Upsert(_ context.Context, rec *model.OTPRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.records[rec.Identity] = cp
	return nil
}

// Get returns a copy so callers cannot mutate stored state
func (s *MemoryOTPStore) Get(_ context.Context, identity string) (*model.OTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[identity]
	if !ok {
		return nil, ErrOTPNotFound
	}
	return &rec, nil
}

func (s *MemoryOTPStore) IncrementAttempts(_ context.Context, identity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[identity]
	if !ok {
		return 0, ErrOTPNotFound
	}
	rec.Attempts++
	s.records[identity] = rec
	return rec.Attempts, nil
}

func (s *MemoryOTPStore) Delete(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, identity)
	return nil
}

func (s *MemoryOTPStore) TouchLastSent(_ context.Context, identity string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[identity]
	if !ok {
		return ErrOTPNotFound
	}
	rec.LastSentAt = at
	s.records[identity] = rec
	return nil
}

// Len reports the number of held records, expired ones included
func (s *MemoryOTPStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Sweep removes records expired at now and returns how many were removed
func (s *MemoryOTPStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.records {
		if rec.IsExpired(now) {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps on every tick until ctx is cancelled
func (s *MemoryOTPStore) RunJanitor(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				logger.Debug("swept expired in-memory otp records", zap.Int("removed", n))
			}
		}
	}
}
