package users

import (
	"strings"
	"time"
)

// User is the local record of an identity asserted by session claims.
type User struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Provider    string    `gorm:"column:provider;size:32;not null;uniqueIndex:idx_users_provider_subject,priority:1" json:"-"`
	Subject     string    `gorm:"column:subject;size:190;not null;uniqueIndex:idx_users_provider_subject,priority:2" json:"-"`
	UserName    string    `gorm:"column:user_name;size:190" json:"username"`
	Email       string    `gorm:"column:user_email;size:320" json:"email,omitempty"`
	DisplayName string    `gorm:"column:user_display_name;size:320" json:"displayName"`
	AvatarURL   string    `gorm:"column:user_avatar_url;size:512" json:"avatarUrl,omitempty"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at" json:"lastSeenAt"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"-"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

// Name returns the best human-readable label for the user.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.UserName
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
