package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/flowline/internal/ledger/domain"
	"github.com/smallbiznis/flowline/internal/tenancy"
	"go.uber.org/zap"
)

// processPaymentConfirmed recognizes a settled payment as prepaid usage
// credit: the credit row is created alongside a single recognition entry.
// Exactly-once creation follows from the header's idempotency guard; a
// replayed payment never reaches the credit insert.
func (s *Service) processPaymentConfirmed(ctx context.Context, tt *tenancy.TenantTx, cmd ledgerdomain.PaymentConfirmed) (*ProcessResult, error) {
	if cmd.PaymentID == 0 {
		return nil, ledgerdomain.ErrInvalidCredit
	}
	if cmd.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	account, err := s.resolveAccount(ctx, tt, cmd.SubscriptionID, cmd.UsageMeterID)
	if err != nil {
		return nil, err
	}

	header, already, err := s.insertHeader(ctx, tt, cmd, cmd.SubscriptionID,
		fmt.Sprintf("payment %s confirmed", cmd.PaymentID))
	if err != nil {
		return nil, err
	}
	if already {
		return &ProcessResult{Transaction: header, AlreadyProcessed: true}, nil
	}

	paymentID := cmd.PaymentID
	credit := &ledgerdomain.UsageCredit{
		ID:                s.genID.Generate(),
		OrgID:             tt.OrgID,
		SubscriptionID:    cmd.SubscriptionID,
		UsageMeterID:      cmd.UsageMeterID,
		CreditType:        ledgerdomain.CreditTypePayment,
		IssuedAmount:      cmd.Amount,
		SourceReferenceID: &paymentID,
		Livemode:          tt.Livemode,
	}
	if err := tt.Tx.WithContext(ctx).Create(credit).Error; err != nil {
		return nil, fmt.Errorf("insert usage credit: %w", err)
	}

	entries, err := s.postRecognition(ctx, tt, header, account, credit)
	if err != nil {
		return nil, err
	}

	s.log.Info("payment recognized as usage credit",
		zap.String("org_id", tt.OrgID.String()),
		zap.String("payment_id", cmd.PaymentID.String()),
		zap.Int64("amount", cmd.Amount),
	)
	return &ProcessResult{Transaction: header, Entries: entries}, nil
}

// processPromoCreditGranted recognizes a credit already persisted by
// upstream billing logic.
func (s *Service) processPromoCreditGranted(ctx context.Context, tt *tenancy.TenantTx, cmd ledgerdomain.PromoCreditGranted) (*ProcessResult, error) {
	credit := cmd.Credit
	if credit == nil || credit.ID == 0 {
		return nil, ledgerdomain.ErrInvalidCredit
	}
	if credit.IssuedAmount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	account, err := s.resolveAccount(ctx, tt, credit.SubscriptionID, credit.UsageMeterID)
	if err != nil {
		return nil, err
	}

	header, already, err := s.insertHeader(ctx, tt, cmd, credit.SubscriptionID,
		fmt.Sprintf("promo credit %s granted", credit.ID))
	if err != nil {
		return nil, err
	}
	if already {
		return &ProcessResult{Transaction: header, AlreadyProcessed: true}, nil
	}

	entries, err := s.postRecognition(ctx, tt, header, account, credit)
	if err != nil {
		return nil, err
	}
	return &ProcessResult{Transaction: header, Entries: entries}, nil
}

func (s *Service) postRecognition(
	ctx context.Context,
	tt *tenancy.TenantTx,
	header *ledgerdomain.LedgerTransaction,
	account *ledgerdomain.LedgerAccount,
	credit *ledgerdomain.UsageCredit,
) ([]*ledgerdomain.LedgerEntry, error) {
	creditID := credit.ID
	entries := []*ledgerdomain.LedgerEntry{
		{
			ID:                  s.genID.Generate(),
			OrgID:               tt.OrgID,
			LedgerTransactionID: header.ID,
			LedgerAccountID:     account.ID,
			SubscriptionID:      credit.SubscriptionID,
			Direction:           ledgerdomain.EntryDirectionCredit,
			EntryType:           ledgerdomain.EntryTypeCreditGrantRecognized,
			Amount:              credit.IssuedAmount,
			Status:              ledgerdomain.EntryStatusPosted,
			SourceUsageCreditID: &creditID,
			Livemode:            tt.Livemode,
		},
	}
	if err := s.persistEntries(ctx, tt.Tx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// processBillingRunCreditApplied posts a matched pair for a credit
// application computed outside the live usage path.
func (s *Service) processBillingRunCreditApplied(ctx context.Context, tt *tenancy.TenantTx, cmd ledgerdomain.BillingRunCreditApplied) (*ProcessResult, error) {
	application := cmd.Application
	if cmd.BillingRunID == 0 || application == nil || application.UsageCreditID == 0 {
		return nil, ledgerdomain.ErrInvalidCredit
	}
	if application.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	var credit ledgerdomain.UsageCredit
	if err := tt.Tx.WithContext(ctx).
		Where("id = ?", application.UsageCreditID).
		First(&credit).Error; err != nil {
		return nil, fmt.Errorf("%w: %s", ledgerdomain.ErrInvalidCredit, application.UsageCreditID)
	}

	account, err := s.resolveAccount(ctx, tt, cmd.SubscriptionID, credit.UsageMeterID)
	if err != nil {
		return nil, err
	}

	header, already, err := s.insertHeader(ctx, tt, cmd, cmd.SubscriptionID,
		fmt.Sprintf("billing run %s credit applied", cmd.BillingRunID))
	if err != nil {
		return nil, err
	}
	if already {
		return &ProcessResult{Transaction: header, AlreadyProcessed: true}, nil
	}

	if application.ID == 0 {
		application.ID = s.genID.Generate()
	}
	application.OrgID = tt.OrgID
	application.Status = ledgerdomain.EntryStatusPosted
	application.Livemode = tt.Livemode
	if err := s.persistApplications(ctx, tt.Tx, []*ledgerdomain.UsageCreditApplication{application}); err != nil {
		return nil, err
	}

	creditID := credit.ID
	applicationID := application.ID
	entries := []*ledgerdomain.LedgerEntry{
		{
			ID:                  s.genID.Generate(),
			OrgID:               tt.OrgID,
			LedgerTransactionID: header.ID,
			LedgerAccountID:     account.ID,
			SubscriptionID:      cmd.SubscriptionID,
			Direction:           ledgerdomain.EntryDirectionDebit,
			EntryType:           ledgerdomain.EntryTypeCreditAppDebit,
			Amount:              application.Amount,
			Status:              ledgerdomain.EntryStatusPosted,
			SourceUsageCreditID: &creditID,
			SourceApplicationID: &applicationID,
			Livemode:            tt.Livemode,
		},
		{
			ID:                  s.genID.Generate(),
			OrgID:               tt.OrgID,
			LedgerTransactionID: header.ID,
			LedgerAccountID:     account.ID,
			SubscriptionID:      cmd.SubscriptionID,
			Direction:           ledgerdomain.EntryDirectionCredit,
			EntryType:           ledgerdomain.EntryTypeCreditAppTowardsUsage,
			Amount:              application.Amount,
			Status:              ledgerdomain.EntryStatusPosted,
			SourceUsageCreditID: &creditID,
			SourceApplicationID: &applicationID,
			Livemode:            tt.Livemode,
		},
	}
	if err := s.persistEntries(ctx, tt.Tx, entries); err != nil {
		return nil, err
	}

	return &ProcessResult{Transaction: header, Entries: entries,
		Applications: []*ledgerdomain.UsageCreditApplication{application}}, nil
}

// processAdjustment posts one signed correction entry. Positive amounts
// credit the account, negative amounts debit it; zero is rejected.
func (s *Service) processAdjustment(
	ctx context.Context,
	tt *tenancy.TenantTx,
	cmd ledgerdomain.Command,
	subscriptionID, usageMeterID snowflake.ID,
	amount int64,
	reason string,
) (*ProcessResult, error) {
	if amount == 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	account, err := s.resolveAccount(ctx, tt, subscriptionID, usageMeterID)
	if err != nil {
		return nil, err
	}

	header, already, err := s.insertHeader(ctx, tt, cmd, subscriptionID, reason)
	if err != nil {
		return nil, err
	}
	if already {
		return &ProcessResult{Transaction: header, AlreadyProcessed: true}, nil
	}

	direction := ledgerdomain.EntryDirectionCredit
	magnitude := amount
	if amount < 0 {
		direction = ledgerdomain.EntryDirectionDebit
		magnitude = -amount
	}

	entries := []*ledgerdomain.LedgerEntry{
		{
			ID:                  s.genID.Generate(),
			OrgID:               tt.OrgID,
			LedgerTransactionID: header.ID,
			LedgerAccountID:     account.ID,
			SubscriptionID:      subscriptionID,
			Direction:           direction,
			EntryType:           ledgerdomain.EntryTypeCreditBalanceAdjusted,
			Amount:              magnitude,
			Status:              ledgerdomain.EntryStatusPosted,
			Livemode:            tt.Livemode,
		},
	}
	if err := s.persistEntries(ctx, tt.Tx, entries); err != nil {
		return nil, err
	}

	return &ProcessResult{Transaction: header, Entries: entries}, nil
}

// processCreditGrantExpired writes off whatever remains of an expired
// credit so it can never cover future usage.
func (s *Service) processCreditGrantExpired(ctx context.Context, tt *tenancy.TenantTx, cmd ledgerdomain.CreditGrantExpired) (*ProcessResult, error) {
	credit := cmd.Credit
	if credit == nil || credit.ID == 0 {
		return nil, ledgerdomain.ErrInvalidCredit
	}
	if credit.ExpiresAt == nil || credit.ExpiresAt.After(time.Now().UTC()) {
		return nil, ledgerdomain.ErrInvalidCredit
	}

	account, err := s.resolveAccount(ctx, tt, credit.SubscriptionID, credit.UsageMeterID)
	if err != nil {
		return nil, err
	}

	remaining, err := s.creditRemainder(ctx, tt, credit)
	if err != nil {
		return nil, err
	}

	header, already, err := s.insertHeader(ctx, tt, cmd, credit.SubscriptionID,
		fmt.Sprintf("credit %s expired", credit.ID))
	if err != nil {
		return nil, err
	}
	if already {
		return &ProcessResult{Transaction: header, AlreadyProcessed: true}, nil
	}

	// Fully consumed credits still get a header so re-expiry is a no-op,
	// but there is nothing left to write off.
	var entries []*ledgerdomain.LedgerEntry
	if remaining > 0 {
		creditID := credit.ID
		entries = []*ledgerdomain.LedgerEntry{
			{
				ID:                  s.genID.Generate(),
				OrgID:               tt.OrgID,
				LedgerTransactionID: header.ID,
				LedgerAccountID:     account.ID,
				SubscriptionID:      credit.SubscriptionID,
				Direction:           ledgerdomain.EntryDirectionDebit,
				EntryType:           ledgerdomain.EntryTypeCreditBalanceAdjusted,
				Amount:              remaining,
				Status:              ledgerdomain.EntryStatusPosted,
				SourceUsageCreditID: &creditID,
				Livemode:            tt.Livemode,
			},
		}
		if err := s.persistEntries(ctx, tt.Tx, entries); err != nil {
			return nil, err
		}
	}

	s.log.Info("expired credit written off",
		zap.String("credit_id", credit.ID.String()),
		zap.Int64("remaining", remaining),
	)
	return &ProcessResult{Transaction: header, Entries: entries}, nil
}

func (s *Service) creditRemainder(ctx context.Context, tt *tenancy.TenantTx, credit *ledgerdomain.UsageCredit) (int64, error) {
	var applied int64
	err := tt.Tx.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0)
		 FROM usage_credit_applications
		 WHERE usage_credit_id = ? AND status = 'posted'`,
		credit.ID,
	).Scan(&applied).Error
	if err != nil {
		return 0, fmt.Errorf("sum credit applications: %w", err)
	}
	return credit.IssuedAmount - applied, nil
}

// processPaymentRefunded claws back previously recognized payment credit.
func (s *Service) processPaymentRefunded(ctx context.Context, tt *tenancy.TenantTx, cmd ledgerdomain.PaymentRefunded) (*ProcessResult, error) {
	if cmd.RefundID == 0 || cmd.PaymentID == 0 {
		return nil, ledgerdomain.ErrInvalidCredit
	}
	if cmd.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	account, err := s.resolveAccount(ctx, tt, cmd.SubscriptionID, cmd.UsageMeterID)
	if err != nil {
		return nil, err
	}

	header, already, err := s.insertHeader(ctx, tt, cmd, cmd.SubscriptionID,
		fmt.Sprintf("payment %s refunded", cmd.PaymentID))
	if err != nil {
		return nil, err
	}
	if already {
		return &ProcessResult{Transaction: header, AlreadyProcessed: true}, nil
	}

	entries := []*ledgerdomain.LedgerEntry{
		{
			ID:                  s.genID.Generate(),
			OrgID:               tt.OrgID,
			LedgerTransactionID: header.ID,
			LedgerAccountID:     account.ID,
			SubscriptionID:      cmd.SubscriptionID,
			Direction:           ledgerdomain.EntryDirectionDebit,
			EntryType:           ledgerdomain.EntryTypeRefundDebit,
			Amount:              cmd.Amount,
			Status:              ledgerdomain.EntryStatusPosted,
			Livemode:            tt.Livemode,
		},
	}
	if err := s.persistEntries(ctx, tt.Tx, entries); err != nil {
		return nil, err
	}

	return &ProcessResult{Transaction: header, Entries: entries}, nil
}
