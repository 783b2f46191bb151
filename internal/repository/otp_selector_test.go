package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSelector_PrefersDurable(t *testing.T) {
	_, rdb := newTestRedis(t)
	durable := NewRedisOTPStore(rdb)
	fallback := NewMemoryOTPStore(nil)

	sel := NewOTPStoreSelector(durable, fallback, SelectorOptions{}, zap.NewNop())
	assert.Same(t, durable, sel.Active())
	assert.True(t, sel.DurableAvailable())
}

func TestSelector_NoDurableUsesFallback(t *testing.T) {
	fallback := NewMemoryOTPStore(nil)
	sel := NewOTPStoreSelector(nil, fallback, SelectorOptions{}, nil)

	assert.Same(t, fallback, sel.Active())
	sel.Probe(context.Background())
	assert.Same(t, fallback, sel.Active())
}

func TestSelector_FailsOverAfterThreshold(t *testing.T) {
	_, rdb := newTestRedis(t)
	durable := NewRedisOTPStore(rdb)
	fallback := NewMemoryOTPStore(nil)
	sel := NewOTPStoreSelector(durable, fallback, SelectorOptions{FailoverThreshold: 3}, zap.NewNop())

	storeErr := fmt.Errorf("%w: connection refused", ErrStoreUnavailable)
	sel.ReportResult(durable, storeErr)
	sel.ReportResult(durable, storeErr)
	assert.Same(t, durable, sel.Active())

	// a success in between resets the streak
	sel.ReportResult(durable, nil)
	sel.ReportResult(durable, storeErr)
	sel.ReportResult(durable, storeErr)
	assert.Same(t, durable, sel.Active())

	sel.ReportResult(durable, storeErr)
	assert.Same(t, fallback, sel.Active())
}

func TestSelector_NotFoundDoesNotCountAsFailure(t *testing.T) {
	_, rdb := newTestRedis(t)
	durable := NewRedisOTPStore(rdb)
	sel := NewOTPStoreSelector(durable, NewMemoryOTPStore(nil), SelectorOptions{FailoverThreshold: 1}, zap.NewNop())

	sel.ReportResult(durable, ErrOTPNotFound)
	assert.Same(t, durable, sel.Active())
}

func TestSelector_ProbeAdoptsRecoveredBackend(t *testing.T) {
	mr, rdb := newTestRedis(t)
	durable := NewRedisOTPStore(rdb)
	fallback := NewMemoryOTPStore(nil)
	sel := NewOTPStoreSelector(durable, fallback, SelectorOptions{ProbeTimeout: 500 * time.Millisecond}, zap.NewNop())

	mr.SetError("LOADING")
	sel.Probe(context.Background())
	assert.Same(t, fallback, sel.Active())

	mr.SetError("")
	sel.Probe(context.Background())
	assert.Same(t, durable, sel.Active())
}

func TestSelector_RunStopsOnCancel(t *testing.T) {
	_, rdb := newTestRedis(t)
	sel := NewOTPStoreSelector(NewRedisOTPStore(rdb), NewMemoryOTPStore(nil),
		SelectorOptions{ProbeInterval: 10 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sel.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, sel.DurableAvailable())
}
