package model

import "time"

// User is an account of the guidance service. Demo accounts are seeded at
// startup and share the normal login path.
type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Email        string     `gorm:"size:128;not null;uniqueIndex" json:"email"`
	Name         string     `gorm:"size:100;not null" json:"name"`
	PasswordHash string     `gorm:"size:255;not null" json:"-"`
	Demo         bool       `gorm:"not null;default:false" json:"demo"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
