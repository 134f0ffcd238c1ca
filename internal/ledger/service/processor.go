package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/flowline/internal/config"
	ledgerdomain "github.com/smallbiznis/flowline/internal/ledger/domain"
	subscriptiondomain "github.com/smallbiznis/flowline/internal/subscription/domain"
	"github.com/smallbiznis/flowline/internal/telemetry"
	"github.com/smallbiznis/flowline/internal/tenancy"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Policy  *config.CreditPolicyHolder
	Metrics *telemetry.Metrics `optional:"true"`
}

// Service is the ledger command processor and balance aggregator. It never
// opens its own transaction: every call runs inside the caller's established
// tenant transaction, so a failed command leaves zero rows.
type Service struct {
	log     *zap.Logger
	genID   *snowflake.Node
	policy  *config.CreditPolicyHolder
	metrics *telemetry.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		log:     p.Log.Named("ledger.service"),
		genID:   p.GenID,
		policy:  p.Policy,
		metrics: p.Metrics,
	}
}

// ProcessResult is the outcome of one command: the header, its entries, and
// any credit applications derived along the way. AlreadyProcessed marks an
// idempotent replay; no new rows were written.
type ProcessResult struct {
	Transaction      *ledgerdomain.LedgerTransaction
	Entries          []*ledgerdomain.LedgerEntry
	Applications     []*ledgerdomain.UsageCreditApplication
	AlreadyProcessed bool
}

// Process converts one business event into an append-only ledger
// transaction with its entries. Dispatch is total over the closed command
// union; an unrecognized variant is a programming error.
func (s *Service) Process(ctx context.Context, tt *tenancy.TenantTx, cmd ledgerdomain.Command) (*ProcessResult, error) {
	if cmd == nil {
		return nil, ledgerdomain.ErrUnhandledCommand
	}

	switch c := cmd.(type) {
	case ledgerdomain.UsageEventProcessed:
		return s.processUsageEvent(ctx, tt, c)
	case ledgerdomain.BillingRunUsageProcessed:
		return s.processBillingRunUsage(ctx, tt, c)
	case ledgerdomain.PaymentConfirmed:
		return s.processPaymentConfirmed(ctx, tt, c)
	case ledgerdomain.PromoCreditGranted:
		return s.processPromoCreditGranted(ctx, tt, c)
	case ledgerdomain.BillingRunCreditApplied:
		return s.processBillingRunCreditApplied(ctx, tt, c)
	case ledgerdomain.AdminCreditAdjusted:
		return s.processAdjustment(ctx, tt, cmd, c.SubscriptionID, c.UsageMeterID, c.Amount, c.Reason)
	case ledgerdomain.BillingRecalculated:
		return s.processAdjustment(ctx, tt, cmd, c.SubscriptionID, c.UsageMeterID, c.DeltaAmount, c.Reason)
	case ledgerdomain.CreditGrantExpired:
		return s.processCreditGrantExpired(ctx, tt, c)
	case ledgerdomain.PaymentRefunded:
		return s.processPaymentRefunded(ctx, tt, c)
	default:
		return nil, fmt.Errorf("%w: %T", ledgerdomain.ErrUnhandledCommand, cmd)
	}
}

// insertHeader writes the transaction header with the idempotency guard. A
// conflicting insert returns the previously committed header and
// alreadyProcessed=true; the caller must then write no further rows.
func (s *Service) insertHeader(
	ctx context.Context,
	tt *tenancy.TenantTx,
	cmd ledgerdomain.Command,
	subscriptionID snowflake.ID,
	description string,
) (*ledgerdomain.LedgerTransaction, bool, error) {
	sourceType, sourceID := cmd.InitiatingSource()
	if sourceID == 0 {
		return nil, false, ledgerdomain.ErrInvalidCredit
	}

	header := &ledgerdomain.LedgerTransaction{
		ID:                   s.genID.Generate(),
		OrgID:                tt.OrgID,
		SubscriptionID:       subscriptionID,
		Type:                 cmd.Kind(),
		InitiatingSourceType: sourceType,
		InitiatingSourceID:   sourceID,
		Description:          description,
		Metadata:             map[string]any{},
		Livemode:             tt.Livemode,
		CreatedAt:            time.Now().UTC(),
	}

	result := tt.Tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_transactions (
			id, org_id, subscription_id, type, initiating_source_type,
			initiating_source_id, description, metadata, livemode, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, type, initiating_source_type, initiating_source_id, livemode) DO NOTHING`,
		header.ID,
		header.OrgID,
		header.SubscriptionID,
		string(header.Type),
		string(header.InitiatingSourceType),
		header.InitiatingSourceID,
		header.Description,
		`{}`,
		header.Livemode,
		header.CreatedAt,
	)
	if result.Error != nil {
		return nil, false, fmt.Errorf("insert ledger transaction: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		existing, err := s.findHeader(ctx, tt, cmd)
		if err != nil {
			return nil, false, err
		}
		s.log.Info("ledger command already processed",
			zap.String("type", string(cmd.Kind())),
			zap.String("source_id", sourceID.String()),
		)
		s.metrics.RecordIdempotentReplay()
		return existing, true, nil
	}

	s.metrics.RecordLedgerTransaction(string(cmd.Kind()))
	return header, false, nil
}

func (s *Service) findHeader(ctx context.Context, tt *tenancy.TenantTx, cmd ledgerdomain.Command) (*ledgerdomain.LedgerTransaction, error) {
	sourceType, sourceID := cmd.InitiatingSource()

	var existing ledgerdomain.LedgerTransaction
	err := tt.Tx.WithContext(ctx).
		Where("org_id = ? AND type = ? AND initiating_source_type = ? AND initiating_source_id = ? AND livemode = ?",
			tt.OrgID, string(cmd.Kind()), string(sourceType), sourceID, tt.Livemode).
		First(&existing).Error
	if err != nil {
		return nil, fmt.Errorf("load existing ledger transaction: %w", err)
	}
	return &existing, nil
}

// resolveAccount finds or creates the ledger account for (org, subscription,
// meter, livemode). The insert is keyed by the scope's unique index, so a
// concurrent first-time creation resolves to the existing row instead of
// failing.
func (s *Service) resolveAccount(
	ctx context.Context,
	tt *tenancy.TenantTx,
	subscriptionID, usageMeterID snowflake.ID,
) (*ledgerdomain.LedgerAccount, error) {
	if subscriptionID == 0 {
		return nil, ledgerdomain.ErrInvalidSubscription
	}
	if usageMeterID == 0 {
		return nil, ledgerdomain.ErrInvalidMeter
	}

	if err := s.requireSubscription(ctx, tt, subscriptionID); err != nil {
		return nil, err
	}

	result := tt.Tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_accounts (
			id, org_id, subscription_id, usage_meter_id, livemode, normal_balance, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, subscription_id, usage_meter_id, livemode) DO NOTHING`,
		s.genID.Generate(),
		tt.OrgID,
		subscriptionID,
		usageMeterID,
		tt.Livemode,
		string(ledgerdomain.NormalBalanceCredit),
		time.Now().UTC(),
	)
	if result.Error != nil {
		return nil, fmt.Errorf("upsert ledger account: %w", result.Error)
	}

	var account ledgerdomain.LedgerAccount
	err := tt.Tx.WithContext(ctx).
		Where("org_id = ? AND subscription_id = ? AND usage_meter_id = ? AND livemode = ?",
			tt.OrgID, subscriptionID, usageMeterID, tt.Livemode).
		First(&account).Error
	if err != nil {
		return nil, fmt.Errorf("load ledger account: %w", err)
	}
	return &account, nil
}

func (s *Service) requireSubscription(ctx context.Context, tt *tenancy.TenantTx, subscriptionID snowflake.ID) error {
	var count int64
	err := tt.Tx.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", subscriptionID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ledgerdomain.ErrInvalidSubscription, subscriptionID)
	}
	return nil
}

func (s *Service) persistEntries(ctx context.Context, tx *gorm.DB, entries []*ledgerdomain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := tx.WithContext(ctx).Create(entries).Error; err != nil {
		return fmt.Errorf("insert ledger entries: %w", err)
	}
	return nil
}

func (s *Service) persistApplications(ctx context.Context, tx *gorm.DB, applications []*ledgerdomain.UsageCreditApplication) error {
	if len(applications) == 0 {
		return nil
	}
	if err := tx.WithContext(ctx).Create(applications).Error; err != nil {
		return fmt.Errorf("insert credit applications: %w", err)
	}
	return nil
}
