package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/quocanhngo/botdesk/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const insertUserLive = `INSERT INTO "users" .* ON CONFLICT \("normalized_email"\) WHERE deleted_at IS NULL DO NOTHING`

func TestUserRepository_FindOrCreateInserts(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewUserRepository(db)

	id := uuid.New()
	mock.ExpectQuery(insertUserLive).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))

	user, created, err := r.FindOrCreate(context.Background(), &model.User{
		Email:           "Jane.Doe@gmail.com",
		NormalizedEmail: "janedoe@gmail.com",
		AuthProvider:    model.AuthProviderOTP,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, id, user.ID)
}

func TestUserRepository_FindOrCreateReturnsLiveOwner(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewUserRepository(db)

	id := uuid.New()
	mock.ExpectQuery(insertUserLive).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE normalized_email = \$1 AND "users"."deleted_at" IS NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "normalized_email"}).
			AddRow(id.String(), "jane.doe@gmail.com", "janedoe@gmail.com"))

	user, created, err := r.FindOrCreate(context.Background(), &model.User{
		Email:           "jane.doe+news@gmail.com",
		NormalizedEmail: "janedoe@gmail.com",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, "jane.doe@gmail.com", user.Email)
}

func TestUserRepository_ClaimUnverifiedClearsPassword(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewUserRepository(db)

	id := uuid.New()
	at := time.Now()
	mock.ExpectExec(`UPDATE "users" SET "email_verified_at"=\$1,"password"=\$2,"updated_at"=\$3 WHERE \(id = \$4 AND email_verified_at IS NULL\)`).
		WithArgs(at, "", sqlmock.AnyArg(), id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, r.ClaimUnverified(context.Background(), id, at))
}

func TestUserRepository_LinkGoogleVerifiesAndClearsPassword(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewUserRepository(db)

	user := &model.User{ID: uuid.New(), Password: "$2a$10$preregistered", Avatar: "https://cdn.botdesk.io/a.png"}
	mock.ExpectExec(`UPDATE "users" SET "email_verified_at"=\$1,"google_id"=\$2,"password"=\$3,"updated_at"=\$4 WHERE`).
		WithArgs(sqlmock.AnyArg(), "g-1", "", sqlmock.AnyArg(), user.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := r.LinkGoogle(context.Background(), user, model.GoogleUserInfo{GoogleID: "g-1", Email: "jane@example.com", Verified: true})
	require.NoError(t, err)
}
