// Package domain contains the append-only ledger schema and the command
// union the processor dispatches on.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EntryDirection represents debit or credit postings.
type EntryDirection string

const (
	EntryDirectionDebit  EntryDirection = "debit"
	EntryDirectionCredit EntryDirection = "credit"
)

// EntryStatus gates which entries count toward balances.
type EntryStatus string

const (
	EntryStatusPosted  EntryStatus = "posted"
	EntryStatusPending EntryStatus = "pending"
)

// NormalBalance is the account orientation. Credit-normal accounts track
// liability-style prepaid usage credit.
type NormalBalance string

const (
	NormalBalanceCredit NormalBalance = "credit"
	NormalBalanceDebit  NormalBalance = "debit"
)

// TransactionType discriminates the business event behind a ledger
// transaction header.
type TransactionType string

const (
	TransactionTypeUsageEventProcessed      TransactionType = "usage_event_processed"
	TransactionTypePaymentConfirmed         TransactionType = "payment_confirmed"
	TransactionTypePromoCreditGranted       TransactionType = "promo_credit_granted"
	TransactionTypeBillingRunUsageProcessed TransactionType = "billing_run_usage_processed"
	TransactionTypeBillingRunCreditApplied  TransactionType = "billing_run_credit_applied"
	TransactionTypeAdminCreditAdjusted      TransactionType = "admin_credit_adjusted"
	TransactionTypeCreditGrantExpired       TransactionType = "credit_grant_expired"
	TransactionTypePaymentRefunded          TransactionType = "payment_refunded"
	TransactionTypeBillingRecalculated      TransactionType = "billing_recalculated"
)

// SourceType identifies the originating domain record of a transaction.
type SourceType string

const (
	SourceTypeUsageEvent  SourceType = "usage_event"
	SourceTypePayment     SourceType = "payment"
	SourceTypeUsageCredit SourceType = "usage_credit"
	SourceTypeBillingRun  SourceType = "billing_run"
	SourceTypeAdmin       SourceType = "admin_adjustment"
	SourceTypeRefund      SourceType = "refund"
)

// EntryType discriminates ledger entry lines.
type EntryType string

const (
	EntryTypeUsageCost              EntryType = "usage_cost"
	EntryTypeCreditGrantRecognized  EntryType = "credit_grant_recognized"
	EntryTypeCreditAppDebit         EntryType = "credit_application_debit_from_credit_balance"
	EntryTypeCreditAppTowardsUsage  EntryType = "credit_application_credit_towards_usage_cost"
	EntryTypeCreditBalanceAdjusted  EntryType = "credit_balance_adjusted"
	EntryTypeRefundDebit            EntryType = "refund_debit"
)

// BalanceMode selects which entries a balance read includes.
type BalanceMode string

const (
	// BalancePosted sums posted entries only.
	BalancePosted BalanceMode = "posted"
	// BalanceAvailable is conservative: posted credits minus posted and
	// pending debits.
	BalanceAvailable BalanceMode = "available"
)

// LedgerAccount is a running-balance bucket, one per (org, subscription,
// usage meter, livemode). Created lazily on first reference, never deleted.
type LedgerAccount struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	OrgID          snowflake.ID  `gorm:"column:org_id;not null;index;uniqueIndex:ux_ledger_accounts_scope,priority:1"`
	SubscriptionID snowflake.ID  `gorm:"column:subscription_id;not null;uniqueIndex:ux_ledger_accounts_scope,priority:2"`
	UsageMeterID   snowflake.ID  `gorm:"column:usage_meter_id;not null;uniqueIndex:ux_ledger_accounts_scope,priority:3"`
	Livemode       bool          `gorm:"not null;uniqueIndex:ux_ledger_accounts_scope,priority:4"`
	NormalBalance  NormalBalance `gorm:"column:normal_balance;type:text;not null"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerAccount) TableName() string { return "ledger_accounts" }

// LedgerTransaction is the immutable header for one business event. The
// unique index over (org, type, initiating source, livemode) is the
// idempotency guard: reprocessing a duplicate event is a no-op, not a
// double post.
type LedgerTransaction struct {
	ID                   snowflake.ID      `gorm:"primaryKey"`
	OrgID                snowflake.ID      `gorm:"column:org_id;not null;index;uniqueIndex:ux_ledger_transactions_source,priority:1"`
	SubscriptionID       snowflake.ID      `gorm:"column:subscription_id;not null;index"`
	Type                 TransactionType   `gorm:"type:text;not null;uniqueIndex:ux_ledger_transactions_source,priority:2"`
	InitiatingSourceType SourceType        `gorm:"column:initiating_source_type;type:text;not null;uniqueIndex:ux_ledger_transactions_source,priority:3"`
	InitiatingSourceID   snowflake.ID      `gorm:"column:initiating_source_id;not null;uniqueIndex:ux_ledger_transactions_source,priority:4"`
	IdempotencyKey       *string           `gorm:"column:idempotency_key;type:text"`
	Description          string            `gorm:"type:text"`
	Metadata             datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	Livemode             bool              `gorm:"not null;uniqueIndex:ux_ledger_transactions_source,priority:5"`
	CreatedAt            time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerTransaction) TableName() string { return "ledger_transactions" }

// LedgerEntry is an immutable debit/credit line belonging to one transaction
// and posted against one account. Corrections are new entries, never updates.
type LedgerEntry struct {
	ID                  snowflake.ID   `gorm:"primaryKey"`
	OrgID               snowflake.ID   `gorm:"column:org_id;not null;index"`
	LedgerTransactionID snowflake.ID   `gorm:"column:ledger_transaction_id;not null;index"`
	LedgerAccountID     snowflake.ID   `gorm:"column:ledger_account_id;not null;index"`
	SubscriptionID      snowflake.ID   `gorm:"column:subscription_id;not null"`
	Direction           EntryDirection `gorm:"type:text;not null"`
	EntryType           EntryType      `gorm:"column:entry_type;type:text;not null"`
	Amount              int64          `gorm:"not null;check:amount >= 0"`
	Status              EntryStatus    `gorm:"type:text;not null;default:'posted'"`
	SourceUsageEventID  *snowflake.ID  `gorm:"column:source_usage_event_id"`
	SourceUsageCreditID *snowflake.ID  `gorm:"column:source_usage_credit_id"`
	SourceApplicationID *snowflake.ID  `gorm:"column:source_credit_application_id"`
	Livemode            bool           `gorm:"not null"`
	CreatedAt           time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// CreditType records how a usage credit came to exist.
type CreditType string

const (
	CreditTypePayment    CreditType = "payment"
	CreditTypePromo      CreditType = "promo"
	CreditTypeAdjustment CreditType = "adjustment"
)

// UsageCredit is a grant of prepaid usage allowance. A nil ExpiresAt never
// expires and is consumed after every expiring credit.
type UsageCredit struct {
	ID                snowflake.ID  `gorm:"primaryKey"`
	OrgID             snowflake.ID  `gorm:"column:org_id;not null;index"`
	SubscriptionID    snowflake.ID  `gorm:"column:subscription_id;not null;index"`
	UsageMeterID      snowflake.ID  `gorm:"column:usage_meter_id;not null;index"`
	CreditType        CreditType    `gorm:"column:credit_type;type:text;not null"`
	IssuedAmount      int64         `gorm:"column:issued_amount;not null;check:issued_amount >= 0"`
	ExpiresAt         *time.Time    `gorm:"column:expires_at"`
	SourceReferenceID *snowflake.ID `gorm:"column:source_reference_id"`
	Livemode          bool          `gorm:"not null"`
	CreatedAt         time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageCredit) TableName() string { return "usage_credits" }

// UsageCreditApplication records that part of one credit covered one usage
// event.
type UsageCreditApplication struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	OrgID         snowflake.ID `gorm:"column:org_id;not null;index"`
	UsageCreditID snowflake.ID `gorm:"column:usage_credit_id;not null;index"`
	UsageEventID  snowflake.ID `gorm:"column:usage_event_id;not null;index"`
	Amount        int64        `gorm:"not null;check:amount > 0"`
	Status        EntryStatus  `gorm:"type:text;not null;default:'posted'"`
	Livemode      bool         `gorm:"not null"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageCreditApplication) TableName() string { return "usage_credit_applications" }

// CreditBalance pairs a credit with its remaining unconsumed amount, in
// expiry-then-id consumption order.
type CreditBalance struct {
	Credit  UsageCredit
	Balance int64
}
