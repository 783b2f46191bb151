package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newMockDB returns a postgres-dialect gorm handle whose statements are checked by sqlmock
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = sqlDB.Close()
	})
	return db, mock
}

var otpColumns = []string{"email", "code", "purpose", "attempts", "max_attempts", "last_sent", "expires_at", "created_at"}

func TestPostgresOTPStore_UpsertResetsAttempts(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresOTPStore(db)

	now := time.Now()
	rec := newRecord("a@x.com", now)

	mock.ExpectExec(`INSERT INTO "otp_codes" .* ON CONFLICT \("email"\) DO UPDATE SET .*"attempts"="excluded"."attempts"`).
		WithArgs("a@x.com", "123456", "login", 0, 3, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Upsert(context.Background(), rec))
}

func TestPostgresOTPStore_UpsertWrapsDriverErrors(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresOTPStore(db)

	mock.ExpectExec(`INSERT INTO "otp_codes"`).WillReturnError(errors.New("connection reset by peer"))

	err := s.Upsert(context.Background(), newRecord("a@x.com", time.Now()))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestPostgresOTPStore_Get(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	s := NewPostgresOTPStore(db)

	now := time.Now().UTC().Truncate(time.Second)
	mock.ExpectQuery(`SELECT \* FROM "otp_codes" WHERE email = \$1`).
		WillReturnRows(sqlmock.NewRows(otpColumns).
			AddRow("a@x.com", "654321", "signup", 1, 3, now, now.Add(10*time.Minute), now))

	got, err := s.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "654321", got.Code)
	assert.Equal(t, "signup", string(got.Purpose))
	assert.Equal(t, 1, got.Attempts)
	assert.True(t, got.ExpiresAt.Equal(now.Add(10*time.Minute)))

	mock.ExpectQuery(`SELECT \* FROM "otp_codes" WHERE email = \$1`).
		WillReturnRows(sqlmock.NewRows(otpColumns))

	_, err = s.Get(ctx, "ghost@x.com")
	assert.ErrorIs(t, err, ErrOTPNotFound)

	mock.ExpectQuery(`SELECT \* FROM "otp_codes"`).WillReturnError(errors.New("too many connections"))

	_, err = s.Get(ctx, "a@x.com")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestPostgresOTPStore_IncrementAttemptsReturnsNewCount(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	s := NewPostgresOTPStore(db)

	mock.ExpectQuery(`UPDATE "otp_codes" SET "attempts"=attempts \+ 1 WHERE email = \$1 RETURNING "attempts"`).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(2))

	n, err := s.IncrementAttempts(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	mock.ExpectQuery(`UPDATE "otp_codes" SET "attempts"=attempts \+ 1 WHERE email = \$1 RETURNING "attempts"`).
		WithArgs("ghost@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}))

	_, err = s.IncrementAttempts(ctx, "ghost@x.com")
	assert.ErrorIs(t, err, ErrOTPNotFound)
}

func TestPostgresOTPStore_DeleteAndTouch(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	s := NewPostgresOTPStore(db)

	mock.ExpectExec(`DELETE FROM "otp_codes" WHERE email = \$1`).
		WithArgs("a@x.com").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Delete(ctx, "a@x.com"))

	at := time.Now()
	mock.ExpectExec(`UPDATE "otp_codes" SET "last_sent"=\$1 WHERE email = \$2`).
		WithArgs(at, "a@x.com").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.TouchLastSent(ctx, "a@x.com", at), ErrOTPNotFound)
}

func TestPostgresOTPStore_CleanupExpired(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresOTPStore(db)

	now := time.Now()
	mock.ExpectExec(`DELETE FROM "otp_codes" WHERE expires_at <= \$1`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.CleanupExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
