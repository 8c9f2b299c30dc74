package users

import (
	"strings"
	"time"
)

// Identity maps a provider-specific login to the canonical staff id stamped
// onto route runs.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	StaffID     string    `gorm:"column:staff_id;size:190;not null;index"`
	Email       string    `gorm:"column:email;size:320"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Roles       string    `gorm:"column:roles;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing staff identities.
func (Identity) TableName() string {
	return "staff_identities"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
