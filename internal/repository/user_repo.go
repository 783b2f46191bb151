package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/quocanhngo/botdesk/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrUserNotFound is returned when no user matches the lookup
var ErrUserNotFound = errors.New("user not found")

// liveRows matches the predicate of the partial unique indexes on users
var liveRows = clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "deleted_at IS NULL"}}}

// UserRepository handles database operations for User
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindOrCreate returns the user owning normalizedEmail, inserting user when none exists.
// Two concurrent first logins for one mailbox converge on a single row.
func (r *UserRepository) FindOrCreate(ctx context.Context, user *model.User) (*model.User, bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:     []clause.Column{{Name: "normalized_email"}},
			TargetWhere: liveRows,
			DoNothing:   true,
		}).
		Create(user)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return user, true, nil
	}

	existing, err := r.FindByNormalizedEmail(ctx, user.NormalizedEmail)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// FindByID finds a user by UUID
func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByNormalizedEmail finds a user by the identity canonical form
func (r *UserRepository) FindByNormalizedEmail(ctx context.Context, normalized string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("normalized_email = ?", normalized).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByGoogleID finds a user by Google OAuth ID
func (r *UserRepository) FindByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("google_id = ?", googleID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// MarkLogin stamps last_login_at and, when unset, email_verified_at
func (r *UserRepository) MarkLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"last_login_at":     at,
			"email_verified_at": gorm.Expr("COALESCE(email_verified_at, ?)", at),
		}).Error
}

// ClaimUnverified marks the email verified and clears the password, but only while the row is still unverified
func (r *UserRepository) ClaimUnverified(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND email_verified_at IS NULL", userID).
		Updates(map[string]interface{}{
			"email_verified_at": at,
			"password":          "",
		}).Error
}

// VerifyEmail marks user's email as verified
func (r *UserRepository) VerifyEmail(ctx context.Context, userID uuid.UUID) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND email_verified_at IS NULL", userID).
		Update("email_verified_at", now).Error
}

// UpdatePassword updates a user's password
func (r *UserRepository) UpdatePassword(ctx context.Context, userID uuid.UUID, hashedPassword string) error {
	return r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Update("password", hashedPassword).Error
}

// UpdateProfile updates user's name and/or avatar
func (r *UserRepository) UpdateProfile(ctx context.Context, userID uuid.UUID, name, avatar string) error {
	updates := map[string]interface{}{}
	if name != "" {
		updates["name"] = name
	}
	if avatar != "" {
		updates["avatar"] = avatar
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Updates(updates).Error
}

// LinkGoogle attaches a Google account to an existing user
func (r *UserRepository) LinkGoogle(ctx context.Context, user *model.User, info model.GoogleUserInfo) error {
	updates := map[string]interface{}{}

	if user.GoogleID == nil || *user.GoogleID != info.GoogleID {
		id := info.GoogleID
		updates["google_id"] = &id
	}
	if !user.IsEmailVerified() && info.Verified {
		now := time.Now()
		updates["email_verified_at"] = &now
		// a password set before the mailbox was proven is not trusted
		updates["password"] = ""
	}
	// Update avatar if missing or empty
	if user.Avatar == "" && info.Picture != "" {
		updates["avatar"] = info.Picture
	}

	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(user).Updates(updates).Error
}
