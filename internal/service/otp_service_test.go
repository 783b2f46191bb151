package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/quocanhngo/botdesk/internal/model"
	"github.com/quocanhngo/botdesk/internal/repository"
	"github.com/quocanhngo/botdesk/pkg/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sequenceCodes hands out queued codes, then counts upward
type sequenceCodes struct {
	mu    sync.Mutex
	queue []string
	n     int
}

func (g *sequenceCodes) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queue) > 0 {
		code := g.queue[0]
		g.queue = g.queue[1:]
		return code
	}
	g.n++
	return fmt.Sprintf("%06d", 100000+g.n)
}

type otpFixture struct {
	svc   *OTPService
	store *repository.MemoryOTPStore
	clock *fakeClock
	codes *sequenceCodes
}

func newOTPFixture(t *testing.T, rules identity.Rules, codes ...string) *otpFixture {
	t.Helper()

	clock := newFakeClock()
	store := repository.NewMemoryOTPStore(clock.Now)
	selector := repository.NewOTPStoreSelector(nil, store, repository.SelectorOptions{}, zap.NewNop())
	gen := &sequenceCodes{queue: codes}

	svc := NewOTPService(selector, identity.NewNormalizer(rules), gen, DefaultOTPPolicy(), zap.NewNop(), WithClock(clock.Now))
	return &otpFixture{svc: svc, store: store, clock: clock, codes: gen}
}

func TestOTP_GenerateAndStatus(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, identity.DefaultRules())

	code, err := f.svc.Generate(ctx, "user@example.com", model.OTPPurposeLogin)
	require.NoError(t, err)
	assert.Regexp(t, `^\d{6}$`, code)

	st, err := f.svc.Status(ctx, "user@example.com")
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.Equal(t, 3, st.AttemptsRemaining)
	assert.Equal(t, 3, st.MaxAttempts)
	assert.Equal(t, 0, st.Attempts)
	assert.Equal(t, 600, st.ExpiresInSeconds)
}

func TestOTP_GenerateRejectsUnknownPurpose(t *testing.T) {
	f := newOTPFixture(t, identity.DefaultRules())

	_, err := f.svc.Generate(context.Background(), "user@example.com", model.OTPPurpose("delete_account"))
	assert.ErrorIs(t, err, ErrInvalidPurpose)
	assert.Equal(t, 0, f.store.Len())
}

func TestOTP_GenerateDefaultsPurpose(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, identity.DefaultRules())

	_, err := f.svc.Generate(ctx, "user@example.com", "")
	require.NoError(t, err)
	rec, err := f.store.Get(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.OTPPurposeLogin, rec.Purpose)
}

func TestOTP_WrongCodeReportsRemainingAttempts(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, identity.DefaultRules(), "123456")

	_, err := f.svc.Generate(ctx, "user@example.com", model.OTPPurposeLogin)
	require.NoError(t, err)

	res, err := f.svc.Verify(ctx, "user@example.com", "000000")
	require.NoError(t, err)
	assert.Equal(t, model.OTPOutcomeInvalid, res.Outcome)
	assert.Equal(t, 2, res.AttemptsRemaining)
}

func TestOTP_OnlyLatestCodeVerifies(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, identity.DefaultRules(), "111111", "222222")

	first, err := f.svc.Generate(ctx, "user@example.com", model.OTPPurposeLogin)
	require.NoError(t, err)
	second, err := f.svc.Generate(ctx, "user@example.com", model.OTPPurposeLogin)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	res, err := f.svc.Verify(ctx, "user@example.com", first)
	require.NoError(t, err)
	assert.False(t, res.OK())

	res, err = f.svc.Verify(ctx, "user@example.com", second)
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestOTP_ExpiredRecordIsDeleted(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, identity.DefaultRules())

	code, err := f.svc.Generate(ctx, "user@example.com", model.OTPPurposeLogin)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)

	res, err := f.svc.Verify(ctx, "user@example.com", code)
	require.NoError(t, err)
	assert.Equal(t, model.OTPOutcomeExpired, res.Outcome)

	res, err = f.svc.Verify(ctx, "user@example.com", code)
	require.NoError(t, err)
	assert.Equal(t, model.OTPOutcomeNotFound, res.Outcome)
}

func TestOTP_AttemptBudget(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, identity.DefaultRules(), "123456")

	_, err := f.svc.Generate(ctx, "user@example.com", model.OTPPurposeLogin)
	require.NoError(t, err)

	for _, want := range []int{2, 1, 0} {
		res, err := f.svc.Verify(ctx, "user@example.com", "999999")
		require.NoError(t, err)
		assert.Equal(t, model.OTPOutcomeInvalid, res.Outcome)
		assert.Equal(t, want, res.AttemptsRemaining)
	}

	// correct code no longer helps
	res, err := f.svc.Verify(ctx, "user@example.com", "123456")
	require.NoError(t, err)
	assert.Equal(t, model.OTPOutcomeMaxAttemptsExceeded, res.Outcome)

	res, err = f.svc.Verify(ctx, "user@example.com", "123456")
	require.NoError(t, err)
	assert.Equal(t, model.OTPOutcomeNotFound, res.Outcome)
}

func TestOTP_SuccessDeletesRecord(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, identity.DefaultRules())

	code, err := f.svc.Generate(ctx, "user@example.com", model.OTPPurposeLogin)
	require.NoError(t, err)

	res, err := f.svc.Verify(ctx, "user@example.com", code)
	require.NoError(t, err)
	assert.True(t, res.OK())

	res, err = f.svc.Verify(ctx, "user@example.com", code)
	require.NoError(t, err)
	assert.Equal(t, model.OTPOutcomeNotFound, res.Outcome)
}

func TestOTP_ResendSupersedesOldCode(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, identity.DefaultRules(), "111111", "222222")

	a, err := f.svc.Generate(ctx, "user@example.com", model.OTPPurposeLogin)
	require.NoError(t, err)
	f.clock.Advance(21 * time.Second)

	resent, err := f.svc.Resend(ctx, "user@example.com", "")
	require.NoError(t, err)
	require.Equal(t, model.OTPOutcomeSuccess, resent.Outcome)
	b := resent.Code
	assert.NotEqual(t, a, b)

	res, err := f.svc.Verify(ctx, "user@example.com", a)
	require.NoError(t, err)
	assert.False(t, res.OK())

	res, err = f.svc.Verify(ctx, "user@example.com", b)
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestOTP_ResendResetsAttemptsAndKeepsPurpose(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, identity.DefaultRules())

	_, err := f.svc.Generate(ctx, "user@example.com", model.OTPPurposePasswordReset)
	require.NoError(t, err)
	_, err = f.svc.Verify(ctx, "user@example.com", "000000")
	require.NoError(t, err)
	f.clock.Advance(30 * time.Second)

	_, err = f.svc.Resend(ctx, "user@example.com", "")
	require.NoError(t, err)

	rec, err := f.store.Get(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Attempts)
	assert.Equal(t, model.OTPPurposePasswordReset, rec.Purpose)
	assert.True(t, rec.LastSentAt.Equal(f.clock.Now()))
}

func TestOTP_ResendThrottle(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, identity.DefaultRules())

	first, err := f.svc.Resend(ctx, "user@example.com", model.OTPPurposeLogin)
	require.NoError(t, err)
	require.Equal(t, model.OTPOutcomeSuccess, first.Outcome)

	f.clock.Advance(5 * time.Second)
	second, err := f.svc.Resend(ctx, "user@example.com", model.OTPPurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, model.OTPOutcomeTooFrequent, second.Outcome)
	assert.Equal(t, 15*time.Second, second.RetryAfter)
	assert.Empty(t, second.Code)

	rec, err := f.store.Get(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.Code, rec.Code)
}

func TestOTP_ResendAfterExpiryIsNotThrottled(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, identity.DefaultRules())
	f.svc.policy.TTL = 10 * time.Second

	_, err := f.svc.Generate(ctx, "user@example.com", model.OTPPurposeLogin)
	require.NoError(t, err)
	f.clock.Advance(15 * time.Second)

	res, err := f.svc.Resend(ctx, "user@example.com", model.OTPPurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, model.OTPOutcomeSuccess, res.Outcome)
}

func TestOTP_AliasTolerance(t *testing.T) {
	ctx := context.Background()
	rules, err := identity.ParseRules("provider.com:dots")
	require.NoError(t, err)
	f := newOTPFixture(t, rules)

	code, err := f.svc.Generate(ctx, "a.b@provider.com", model.OTPPurposeLogin)
	require.NoError(t, err)

	res, err := f.svc.Verify(ctx, "ab@provider.com", code)
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestOTP_NonAliasingDomainsAreDistinct(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, identity.DefaultRules())

	code, err := f.svc.Generate(ctx, "a.b@example.com", model.OTPPurposeLogin)
	require.NoError(t, err)

	res, err := f.svc.Verify(ctx, "ab@example.com", code)
	require.NoError(t, err)
	assert.Equal(t, model.OTPOutcomeNotFound, res.Outcome)
}

func TestOTP_GenerateDropsStaleAliasRecord(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, identity.DefaultRules(), "222222")

	// left behind under the literal spelling, e.g. before the alias rule existed
	stale := &model.OTPRecord{
		Identity:    "a.b@gmail.com",
		Code:        "111111",
		MaxAttempts: 3,
		LastSentAt:  f.clock.Now(),
		ExpiresAt:   f.clock.Now().Add(time.Minute),
	}
	require.NoError(t, f.store.Upsert(ctx, stale))

	_, err := f.svc.Generate(ctx, "A.B@gmail.com", model.OTPPurposeLogin)
	require.NoError(t, err)

	_, err = f.store.Get(ctx, "a.b@gmail.com")
	assert.ErrorIs(t, err, repository.ErrOTPNotFound)

	res, err := f.svc.Verify(ctx, "a.b@gmail.com", "222222")
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestOTP_StatusIsReadOnly(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, identity.DefaultRules())

	st, err := f.svc.Status(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, st.Exists)

	_, err = f.svc.Generate(ctx, "user@example.com", model.OTPPurposeLogin)
	require.NoError(t, err)
	_, err = f.svc.Verify(ctx, "user@example.com", "000000")
	require.NoError(t, err)
	f.clock.Advance(100 * time.Second)

	for i := 0; i < 3; i++ {
		st, err = f.svc.Status(ctx, "user@example.com")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, st.Attempts)
	assert.Equal(t, 2, st.AttemptsRemaining)
	assert.Equal(t, 500, st.ExpiresInSeconds)

	f.clock.Advance(10 * time.Minute)
	st, err = f.svc.Status(ctx, "user@example.com")
	require.NoError(t, err)
	assert.False(t, st.Exists)
	assert.Equal(t, 1, f.store.Len())
}

func TestOTP_ConcurrentWrongGuessesAreAllCounted(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, identity.DefaultRules(), "123456")
	f.svc.policy.MaxAttempts = 100

	_, err := f.svc.Generate(ctx, "user@example.com", model.OTPPurposeLogin)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Verify(ctx, "user@example.com", "000000")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := f.svc.Status(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, 10, st.Attempts)
}

// brokenStore fails every call as an unreachable backend would
type brokenStore struct{ repository.MemoryOTPStore }

func (b *brokenStore) Name() string { return "broken" }

func (b *brokenStore) fail() error {
	return fmt.Errorf("%w: dial tcp: connection refused", repository.ErrStoreUnavailable)
}

func (b *brokenStore) Upsert(context.Context, *model.OTPRecord) error { return b.fail() }

func (b *brokenStore) Get(context.Context, string) (*model.OTPRecord, error) {
	return nil, b.fail()
}

func (b *brokenStore) Ping(context.Context) error { return b.fail() }

func TestOTP_StoreErrorsPropagateAndFailOver(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	durable := &brokenStore{}
	fallback := repository.NewMemoryOTPStore(clock.Now)
	selector := repository.NewOTPStoreSelector(durable, fallback,
		repository.SelectorOptions{FailoverThreshold: 2}, zap.NewNop())

	svc := NewOTPService(selector, identity.NewNormalizer(identity.DefaultRules()), &sequenceCodes{},
		DefaultOTPPolicy(), zap.NewNop(), WithClock(clock.Now))

	_, err := svc.Generate(ctx, "user@example.com", model.OTPPurposeLogin)
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)
	_, err = svc.Verify(ctx, "user@example.com", "123456")
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)

	// threshold reached, new operations land on the fallback
	code, err := svc.Generate(ctx, "user@example.com", model.OTPPurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, 1, fallback.Len())

	res, err := svc.Verify(ctx, "user@example.com", code)
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestOTP_RecordStrandedOnDurableAfterFailover(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	durable := repository.NewMemoryOTPStore(clock.Now)
	fallback := repository.NewMemoryOTPStore(clock.Now)
	selector := repository.NewOTPStoreSelector(durable, fallback,
		repository.SelectorOptions{FailoverThreshold: 1}, zap.NewNop())

	svc := NewOTPService(selector, identity.NewNormalizer(identity.DefaultRules()), &sequenceCodes{},
		DefaultOTPPolicy(), zap.NewNop(), WithClock(clock.Now))

	code, err := svc.Generate(ctx, "user@example.com", model.OTPPurposeLogin)
	require.NoError(t, err)
	require.Equal(t, 1, durable.Len())

	// durable backend drops out between generate and verify
	selector.ReportResult(durable, fmt.Errorf("%w: i/o timeout", repository.ErrStoreUnavailable))
	require.False(t, selector.DurableAvailable())

	st, err := svc.Status(ctx, "user@example.com")
	require.NoError(t, err)
	assert.False(t, st.Exists)

	res, err := svc.Verify(ctx, "user@example.com", code)
	require.NoError(t, err)
	assert.Equal(t, model.OTPOutcomeNotFound, res.Outcome)
	assert.Equal(t, 0, fallback.Len())
	assert.Equal(t, 1, durable.Len(), "records are never migrated between backends")

	// once the durable backend answers again the original code is usable
	selector.Probe(ctx)
	require.True(t, selector.DurableAvailable())
	res, err = svc.Verify(ctx, "user@example.com", code)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, model.OTPPurposeLogin, res.Purpose)
}
