package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/quocanhngo/botdesk/pkg/metrics"
	"go.uber.org/zap"
)

// SelectorOptions tunes durable-backend failover
type SelectorOptions struct {
	// ProbeInterval is how often Run pings the durable backend
	ProbeInterval time.Duration
	// ProbeTimeout bounds a single ping
	ProbeTimeout time.Duration
	// FailoverThreshold is the number of consecutive store errors that takes the durable backend out
	FailoverThreshold int
}

// OTPStoreSelector hands out the backend new operations should use.
// Records are never mirrored: a record lives in whichever backend was active when it was written.
type OTPStoreSelector struct {
	durable  OTPStore
	fallback OTPStore
	opts     SelectorOptions
	logger   *zap.Logger

	durableUp atomic.Bool
	failures  atomic.Int32
}

// NewOTPStoreSelector starts with the durable backend marked available when one is given
func NewOTPStoreSelector(durable, fallback OTPStore, opts SelectorOptions, logger *zap.Logger) *OTPStoreSelector {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 30 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 2 * time.Second
	}
	if opts.FailoverThreshold <= 0 {
		opts.FailoverThreshold = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &OTPStoreSelector{
		durable:  durable,
		fallback: fallback,
		opts:     opts,
		logger:   logger,
	}
	s.durableUp.Store(durable != nil)
	s.publish()
	return s
}

// Active returns the backend for a new operation. It never blocks.
func (s *OTPStoreSelector) Active() OTPStore {
	if s.durable != nil && s.durableUp.Load() {
		return s.durable
	}
	return s.fallback
}

// DurableAvailable reports the current durable-backend flag
func (s *OTPStoreSelector) DurableAvailable() bool {
	return s.durable != nil && s.durableUp.Load()
}

// ReportResult feeds the outcome of a store call back into failover accounting.
// Only infrastructure errors from the durable backend count.
func (s *OTPStoreSelector) ReportResult(store OTPStore, err error) {
	if s.durable == nil || store != s.durable {
		if err != nil && errors.Is(err, ErrStoreUnavailable) {
			metrics.ObserveStoreError(store.Name())
		}
		return
	}

	if err == nil || !errors.Is(err, ErrStoreUnavailable) {
		s.failures.Store(0)
		return
	}

	metrics.ObserveStoreError(store.Name())
	if int(s.failures.Add(1)) >= s.opts.FailoverThreshold {
		s.markDown(err)
	}
}

// Probe pings the durable backend once and updates its availability
func (s *OTPStoreSelector) Probe(ctx context.Context) {
	if s.durable == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
	defer cancel()

	if err := s.durable.Ping(pctx); err != nil {
		s.markDown(err)
		return
	}
	s.markUp()
}

// Run re-probes on a fixed interval, independent of request traffic, until ctx is cancelled
func (s *OTPStoreSelector) Run(ctx context.Context) {
	if s.durable == nil {
		return
	}
	ticker := time.NewTicker(s.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

func (s *OTPStoreSelector) markDown(cause error) {
	if s.durableUp.CompareAndSwap(true, false) {
		s.logger.Warn("⚠️  durable otp store unavailable, switching to fallback",
			zap.String("durable", s.durable.Name()),
			zap.String("fallback", s.fallback.Name()),
			zap.Error(cause),
		)
		s.publish()
	}
}

func (s *OTPStoreSelector) markUp() {
	s.failures.Store(0)
	if s.durableUp.CompareAndSwap(false, true) {
		s.logger.Info("✅ durable otp store reachable again",
			zap.String("durable", s.durable.Name()),
		)
		s.publish()
	}
}

func (s *OTPStoreSelector) publish() {
	names := []string{s.fallback.Name()}
	if s.durable != nil {
		names = append(names, s.durable.Name())
	}
	metrics.SetActiveStore(s.Active().Name(), names...)
}
