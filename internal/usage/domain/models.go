// Package domain contains persistence models for usage events.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageEvent is one recorded consumption of a metered resource, priced in
// cents. Events are immutable once accepted; the per-subscription
// idempotency key makes client retries safe.
type UsageEvent struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID      `gorm:"column:org_id;not null;index" json:"org_id"`
	SubscriptionID snowflake.ID      `gorm:"column:subscription_id;not null;index;uniqueIndex:ux_usage_events_sub_idem,priority:1" json:"subscription_id"`
	UsageMeterID   snowflake.ID      `gorm:"column:usage_meter_id;not null;index" json:"usage_meter_id"`
	Amount         int64             `gorm:"not null" json:"amount"`
	IdempotencyKey string            `gorm:"column:idempotency_key;type:text;not null;uniqueIndex:ux_usage_events_sub_idem,priority:2" json:"idempotency_key"`
	Livemode       bool              `gorm:"not null" json:"livemode"`
	Properties     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"properties"`
	RecordedAt     time.Time         `gorm:"column:recorded_at;not null" json:"recorded_at"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidSubscription = errors.New("invalid_subscription")
	ErrInvalidMeter        = errors.New("invalid_meter")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidIdempotency  = errors.New("invalid_idempotency_key")
)
