// Package domain defines the credit lifecycle API: promotional grants,
// administrative adjustments, and balance reads.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/flowline/internal/identity"
)

type Service interface {
	Grant(ctx context.Context, id identity.Identity, req GrantRequest) (*GrantResult, error)
	Adjust(ctx context.Context, id identity.Identity, req AdjustRequest) (*AdjustResult, error)
	Balance(ctx context.Context, id identity.Identity, req BalanceRequest) (*BalanceResult, error)
}

// GrantRequest issues a promotional credit. A nil ExpiresAt never expires.
type GrantRequest struct {
	SubscriptionID string     `json:"subscription_id" binding:"required"`
	MeterCode      string     `json:"meter_code" binding:"required"`
	Amount         int64      `json:"amount" binding:"required"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

type GrantResult struct {
	CreditID         string     `json:"credit_id"`
	TransactionID    string     `json:"transaction_id"`
	Amount           int64      `json:"amount"`
	ExpiresAt        *time.Time `json:"expires_at"`
	AlreadyProcessed bool       `json:"already_processed"`
}

// AdjustRequest posts a signed administrative correction. Positive amounts
// add credit, negative amounts remove it. AdjustmentID is caller supplied
// and doubles as the idempotency source.
type AdjustRequest struct {
	AdjustmentID   string `json:"adjustment_id" binding:"required"`
	SubscriptionID string `json:"subscription_id" binding:"required"`
	MeterCode      string `json:"meter_code" binding:"required"`
	Amount         int64  `json:"amount" binding:"required"`
	Reason         string `json:"reason"`
}

type AdjustResult struct {
	TransactionID    string `json:"transaction_id"`
	Amount           int64  `json:"amount"`
	AlreadyProcessed bool   `json:"already_processed"`
}

type BalanceRequest struct {
	AccountID string `json:"account_id"`
	Mode      string `json:"mode"`
}

type BalanceResult struct {
	AccountID string `json:"account_id"`
	Mode      string `json:"mode"`
	Amount    int64  `json:"amount"`
}

var (
	ErrInvalidSubscription = errors.New("invalid_subscription")
	ErrInvalidMeter        = errors.New("invalid_meter")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidAdjustment   = errors.New("invalid_adjustment")
	ErrInvalidAccount      = errors.New("invalid_account")
)
