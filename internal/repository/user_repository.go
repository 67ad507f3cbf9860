package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"certguide/internal/model"
)

// ErrDuplicateEmail is returned by Create when the unique email index
// rejects the row. It needs gorm's TranslateError.
var ErrDuplicateEmail = errors.New("duplicate user email")

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(user *model.User) error {
	err := r.db.Create(user).Error
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateEmail
	case err != nil:
		return fmt.Errorf("create user failed: %w", err)
	}
	return nil
}

// GetByEmail expects an already normalised address and returns nil, nil
// for unknown users.
func (r *UserRepository) GetByEmail(email string) (*model.User, error) {
	return r.first("email = ?", email)
}

func (r *UserRepository) GetByID(id uint) (*model.User, error) {
	return r.first("id = ?", id)
}

func (r *UserRepository) RecordLogin(id uint, at time.Time) error {
	if err := r.db.Model(&model.User{}).Where("id = ?", id).UpdateColumn("last_login_at", at).Error; err != nil {
		return fmt.Errorf("record user login failed: %w", err)
	}
	return nil
}

func (r *UserRepository) first(query string, arg any) (*model.User, error) {
	var user model.User
	err := r.db.Where(query, arg).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("query user failed: %w", err)
	}
	return &user, nil
}
