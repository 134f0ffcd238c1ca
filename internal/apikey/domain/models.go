package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
)

// KeyType distinguishes secret (server-side) from publishable keys.
type KeyType string

const (
	KeyTypeSecret      KeyType = "secret"
	KeyTypePublishable KeyType = "publishable"
)

// APIKey stores hashed API credentials scoped to one organization and one
// livemode partition. Verifying a presented token yields the owning tenant,
// the creating user, and livemode without a focused membership.
type APIKey struct {
	ID         snowflake.ID   `gorm:"primaryKey"`
	OrgID      snowflake.ID   `gorm:"column:org_id;not null;index"`
	UserID     snowflake.ID   `gorm:"column:user_id;not null;index"`
	KeyType    KeyType        `gorm:"column:key_type;type:text;not null"`
	Name       string         `gorm:"type:text;not null"`
	Scopes     pq.StringArray `gorm:"type:text[];not null"`
	TokenHash  string         `gorm:"column:token_hash;type:text;not null;uniqueIndex:ux_api_keys_token_hash"`
	Livemode   bool           `gorm:"not null"`
	IsActive   bool           `gorm:"column:is_active;not null"`
	CreatedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	LastUsedAt *time.Time     `gorm:"column:last_used_at"`
	ExpiresAt  *time.Time     `gorm:"column:expires_at"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }
