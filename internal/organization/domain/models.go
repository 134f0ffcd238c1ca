// Package domain contains persistence models for tenants and membership.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Organization represents a tenant. Every other row belongs to exactly one
// organization, directly or through its parent.
type Organization struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name      string            `gorm:"type:text;not null" json:"name"`
	Slug      string            `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	IsDefault bool              `gorm:"column:is_default" json:"is_default"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// User is an authenticated principal. Users reach tenant data only through a
// membership or an API key.
type User struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	Email        string       `gorm:"type:text;not null;uniqueIndex:ux_users_email" json:"email"`
	Name         string       `gorm:"type:text;not null" json:"name"`
	PasswordHash string       `gorm:"column:password_hash;type:text;not null" json:"-"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// MembershipRole scopes what a member may do inside the organization.
type MembershipRole string

const (
	RoleOwner  MembershipRole = "owner"
	RoleMember MembershipRole = "member"
)

// Membership links a user to an organization. At most one membership per
// user carries Focused, marking which tenant a web session is scoped to.
// API-key access bypasses the focus flag.
type Membership struct {
	ID        snowflake.ID   `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID   `gorm:"column:org_id;not null;index;uniqueIndex:ux_memberships_org_user,priority:1" json:"org_id"`
	UserID    snowflake.ID   `gorm:"column:user_id;not null;index;uniqueIndex:ux_memberships_org_user,priority:2;index:ux_memberships_focused,unique,where:focused" json:"user_id"`
	Role      MembershipRole `gorm:"type:text;not null" json:"role"`
	Focused   bool           `gorm:"not null" json:"focused"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Membership) TableName() string { return "memberships" }

var (
	ErrOrganizationNotFound = errors.New("organization_not_found")
	ErrInvalidName          = errors.New("invalid_name")
)
