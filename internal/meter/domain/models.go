// Package domain contains persistence models for usage meters.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageMeter names one billable usage dimension for an organization.
type UsageMeter struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"column:org_id;not null;index;uniqueIndex:ux_usage_meters_org_code,priority:1" json:"org_id"`
	Code      string       `gorm:"type:text;not null;uniqueIndex:ux_usage_meters_org_code,priority:2" json:"code"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Livemode  bool         `gorm:"not null;uniqueIndex:ux_usage_meters_org_code,priority:3" json:"livemode"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (UsageMeter) TableName() string { return "usage_meters" }

var ErrMeterNotFound = errors.New("meter_not_found")
