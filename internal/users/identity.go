package users

import (
	"strings"
	"time"
)

// Identity maps a provider-specific subject onto a canonical Tsudoi user id
// and carries the profile fields shown next to grid rows.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:64;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	AvatarURL   string    `gorm:"column:user_avatar_url;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// Profile is the public projection of an identity.
type Profile struct {
	UserID      string
	DisplayName string
	AvatarURL   string
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
