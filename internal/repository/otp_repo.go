package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quocanhngo/botdesk/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresOTPStore keeps OTP records in the otp_codes table.
// Postgres has no row TTL, so RunCleanup plays that role.
type PostgresOTPStore struct {
	db *gorm.DB
}

func NewPostgresOTPStore(db *gorm.DB) *PostgresOTPStore {
	return &PostgresOTPStore{db: db}
}

func (r *PostgresOTPStore) Name() string { return "postgres" }

func (r *PostgresOTPStore) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Upsert inserts the record or overwrites every column of the existing row for that email
func (r *PostgresOTPStore) Upsert(ctx context.Context, rec *model.OTPRecord) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"code", "purpose", "attempts", "max_attempts", "last_sent", "expires_at", "created_at",
		}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *PostgresOTPStore) Get(ctx context.Context, identity string) (*model.OTPRecord, error) {
	var rec model.OTPRecord
	err := r.db.WithContext(ctx).Where("email = ?", identity).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOTPNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &rec, nil
}

// IncrementAttempts is a single UPDATE ... RETURNING, atomic under concurrent verifies
func (r *PostgresOTPStore) IncrementAttempts(ctx context.Context, identity string) (int, error) {
	var rec model.OTPRecord
	res := r.db.WithContext(ctx).
		Model(&rec).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "attempts"}}}).
		Where("email = ?", identity).
		UpdateColumn("attempts", gorm.Expr("attempts + 1"))
	if res.Error != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, ErrOTPNotFound
	}
	return rec.Attempts, nil
}

func (r *PostgresOTPStore) Delete(ctx context.Context, identity string) error {
	err := r.db.WithContext(ctx).Where("email = ?", identity).Delete(&model.OTPRecord{}).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *PostgresOTPStore) TouchLastSent(ctx context.Context, identity string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&model.OTPRecord{}).
		Where("email = ?", identity).
		UpdateColumn("last_sent", at)
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrOTPNotFound
	}
	return nil
}

// CleanupExpired removes all expired OTP codes (housekeeping)
func (r *PostgresOTPStore) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&model.OTPRecord{})
	return res.RowsAffected, res.Error
}

// RunCleanup deletes expired rows on every tick until ctx is cancelled
func (r *PostgresOTPStore) RunCleanup(ctx context.Context, interval time.Duration, logger *zap.Logger) {
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
			n, err := r.CleanupExpired(ctx, time.Now())
			if err != nil {
				logger.Warn("otp cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("removed expired otp rows", zap.Int64("removed", n))
			}
		}
	}
}
