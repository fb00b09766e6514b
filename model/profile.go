package model

import "time"

// Profile is a user's persistent progression record. One row per account;
// profiles are never hard-deleted, sign-out only clears session state.
type Profile struct {
	UserID       string     `gorm:"primaryKey;size:36" json:"user_id"`
	Username     string     `gorm:"uniqueIndex;size:32;not null" json:"username"`
	Email        string     `gorm:"size:128" json:"email"`
	PasswordHash string     `gorm:"size:64" json:"-"` // empty for anonymous accounts
	Anonymous    bool       `gorm:"default:false" json:"anonymous"`
	Flavor       string     `gorm:"size:16" json:"flavor"`          // "" until onboarding step 1
	CharClass    string     `gorm:"size:32" json:"character_class"` // "" until onboarding step 2
	XP           int        `gorm:"default:0" json:"xp"`            // points within the current level
	Level        int        `gorm:"default:1" json:"level"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at"`
}

// NeedsOnboarding reports whether the two-step flavor/class gate is still open.
func (p *Profile) NeedsOnboarding() bool {
	return p.Flavor == "" || p.CharClass == ""
}
