package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/flowline/internal/identity"
)

type Service interface {
	Ingest(ctx context.Context, id identity.Identity, req IngestRequest) (*IngestResult, error)
}

// IngestRequest is one metered consumption report. IdempotencyKey is caller
// supplied and scoped to the subscription: retries with the same key are
// acknowledged without re-charging.
type IngestRequest struct {
	SubscriptionID string         `json:"subscription_id" binding:"required"`
	MeterCode      string         `json:"meter_code" binding:"required"`
	Amount         int64          `json:"amount" binding:"required"`
	IdempotencyKey string         `json:"idempotency_key" binding:"required"`
	Properties     map[string]any `json:"properties"`
	RecordedAt     *time.Time     `json:"recorded_at"`
}

type IngestResult struct {
	EventID          string `json:"event_id"`
	TransactionID    string `json:"transaction_id"`
	ChargedAmount    int64  `json:"charged_amount"`
	CreditApplied    int64  `json:"credit_applied"`
	AlreadyProcessed bool   `json:"already_processed"`
}
