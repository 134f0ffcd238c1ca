package domain

import (
	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/flowline/internal/usage/domain"
)

// Command is the closed union of ledger business events. The unexported
// marker keeps the implementer set finite: the processor's type switch over
// these variants is total, and anything else is ErrUnhandledCommand.
type Command interface {
	Kind() TransactionType
	InitiatingSource() (SourceType, snowflake.ID)
	isLedgerCommand()
}

// UsageEventProcessed posts a usage charge and consumes available credit
// against it.
type UsageEventProcessed struct {
	Event *usagedomain.UsageEvent
}

func (UsageEventProcessed) Kind() TransactionType { return TransactionTypeUsageEventProcessed }
func (c UsageEventProcessed) InitiatingSource() (SourceType, snowflake.ID) {
	return SourceTypeUsageEvent, c.Event.ID
}
func (UsageEventProcessed) isLedgerCommand() {}

// BillingRunUsageProcessed posts a batch of usage charges gathered by one
// billing run, sharing the run as the idempotency source.
type BillingRunUsageProcessed struct {
	BillingRunID   snowflake.ID
	SubscriptionID snowflake.ID
	Events         []*usagedomain.UsageEvent
}

func (BillingRunUsageProcessed) Kind() TransactionType {
	return TransactionTypeBillingRunUsageProcessed
}
func (c BillingRunUsageProcessed) InitiatingSource() (SourceType, snowflake.ID) {
	return SourceTypeBillingRun, c.BillingRunID
}
func (BillingRunUsageProcessed) isLedgerCommand() {}

// PaymentConfirmed recognizes a settled payment as prepaid usage credit.
type PaymentConfirmed struct {
	PaymentID      snowflake.ID
	SubscriptionID snowflake.ID
	UsageMeterID   snowflake.ID
	Amount         int64
	Currency       string
}

func (PaymentConfirmed) Kind() TransactionType { return TransactionTypePaymentConfirmed }
func (c PaymentConfirmed) InitiatingSource() (SourceType, snowflake.ID) {
	return SourceTypePayment, c.PaymentID
}
func (PaymentConfirmed) isLedgerCommand() {}

// PromoCreditGranted recognizes an already-persisted promotional credit.
type PromoCreditGranted struct {
	Credit *UsageCredit
}

func (PromoCreditGranted) Kind() TransactionType { return TransactionTypePromoCreditGranted }
func (c PromoCreditGranted) InitiatingSource() (SourceType, snowflake.ID) {
	return SourceTypeUsageCredit, c.Credit.ID
}
func (PromoCreditGranted) isLedgerCommand() {}

// BillingRunCreditApplied posts credit consumption computed by a billing run
// outside the live usage path.
type BillingRunCreditApplied struct {
	BillingRunID   snowflake.ID
	SubscriptionID snowflake.ID
	Application    *UsageCreditApplication
}

func (BillingRunCreditApplied) Kind() TransactionType {
	return TransactionTypeBillingRunCreditApplied
}
func (c BillingRunCreditApplied) InitiatingSource() (SourceType, snowflake.ID) {
	return SourceTypeBillingRun, c.BillingRunID
}
func (BillingRunCreditApplied) isLedgerCommand() {}

// AdminCreditAdjusted posts a signed administrative correction. Positive
// amounts credit the account; negative amounts debit it.
type AdminCreditAdjusted struct {
	AdjustmentID   snowflake.ID
	SubscriptionID snowflake.ID
	UsageMeterID   snowflake.ID
	Amount         int64
	Reason         string
}

func (AdminCreditAdjusted) Kind() TransactionType { return TransactionTypeAdminCreditAdjusted }
func (c AdminCreditAdjusted) InitiatingSource() (SourceType, snowflake.ID) {
	return SourceTypeAdmin, c.AdjustmentID
}
func (AdminCreditAdjusted) isLedgerCommand() {}

// CreditGrantExpired writes off the unconsumed remainder of an expired
// credit.
type CreditGrantExpired struct {
	Credit *UsageCredit
}

func (CreditGrantExpired) Kind() TransactionType { return TransactionTypeCreditGrantExpired }
func (c CreditGrantExpired) InitiatingSource() (SourceType, snowflake.ID) {
	return SourceTypeUsageCredit, c.Credit.ID
}
func (CreditGrantExpired) isLedgerCommand() {}

// PaymentRefunded claws back previously recognized payment credit.
type PaymentRefunded struct {
	RefundID       snowflake.ID
	PaymentID      snowflake.ID
	SubscriptionID snowflake.ID
	UsageMeterID   snowflake.ID
	Amount         int64
}

func (PaymentRefunded) Kind() TransactionType { return TransactionTypePaymentRefunded }
func (c PaymentRefunded) InitiatingSource() (SourceType, snowflake.ID) {
	return SourceTypeRefund, c.RefundID
}
func (PaymentRefunded) isLedgerCommand() {}

// BillingRecalculated replays a corrected billing outcome as a fresh signed
// adjustment against the account.
type BillingRecalculated struct {
	RecalculationID snowflake.ID
	SubscriptionID  snowflake.ID
	UsageMeterID    snowflake.ID
	DeltaAmount     int64
	Reason          string
}

func (BillingRecalculated) Kind() TransactionType { return TransactionTypeBillingRecalculated }
func (c BillingRecalculated) InitiatingSource() (SourceType, snowflake.ID) {
	return SourceTypeBillingRun, c.RecalculationID
}
func (BillingRecalculated) isLedgerCommand() {}
