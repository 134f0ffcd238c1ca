// Package domain contains persistence models for subscriptions.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Subscription anchors usage events and ledger rows to a customer contract.
type Subscription struct {
	ID         snowflake.ID       `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID       `gorm:"column:org_id;not null;index" json:"org_id"`
	CustomerID snowflake.ID       `gorm:"column:customer_id;not null;index" json:"customer_id"`
	Status     SubscriptionStatus `gorm:"type:text;not null" json:"status"`
	Currency   string             `gorm:"type:text;not null" json:"currency"`
	Livemode   bool               `gorm:"not null" json:"livemode"`
	Metadata   datatypes.JSONMap  `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt  time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

var ErrSubscriptionNotFound = errors.New("subscription_not_found")
