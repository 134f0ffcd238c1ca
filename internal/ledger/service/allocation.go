package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/flowline/internal/config"
	ledgerdomain "github.com/smallbiznis/flowline/internal/ledger/domain"
	"github.com/smallbiznis/flowline/internal/tenancy"
	usagedomain "github.com/smallbiznis/flowline/internal/usage/domain"
	"go.uber.org/zap"
)

func (s *Service) processUsageEvent(ctx context.Context, tt *tenancy.TenantTx, cmd ledgerdomain.UsageEventProcessed) (*ProcessResult, error) {
	event := cmd.Event
	if event == nil || event.ID == 0 {
		return nil, ledgerdomain.ErrInvalidCredit
	}
	if event.Amount < 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	account, err := s.resolveAccount(ctx, tt, event.SubscriptionID, event.UsageMeterID)
	if err != nil {
		return nil, err
	}

	header, already, err := s.insertHeader(ctx, tt, cmd, event.SubscriptionID,
		fmt.Sprintf("usage event %s processed", event.ID))
	if err != nil {
		return nil, err
	}
	if already {
		return &ProcessResult{Transaction: header, AlreadyProcessed: true}, nil
	}

	entries, applications, err := s.deriveUsageEntries(ctx, tt, header, account, event)
	if err != nil {
		return nil, err
	}

	if err := s.persistApplications(ctx, tt.Tx, applications); err != nil {
		return nil, err
	}
	if err := s.persistEntries(ctx, tt.Tx, entries); err != nil {
		return nil, err
	}

	s.log.Info("usage event posted to ledger",
		zap.String("org_id", tt.OrgID.String()),
		zap.String("usage_event_id", event.ID.String()),
		zap.Int64("amount", event.Amount),
		zap.Int("credit_applications", len(applications)),
	)

	return &ProcessResult{Transaction: header, Entries: entries, Applications: applications}, nil
}

func (s *Service) processBillingRunUsage(ctx context.Context, tt *tenancy.TenantTx, cmd ledgerdomain.BillingRunUsageProcessed) (*ProcessResult, error) {
	if cmd.BillingRunID == 0 || len(cmd.Events) == 0 {
		return nil, ledgerdomain.ErrInvalidCredit
	}

	header, already, err := s.insertHeader(ctx, tt, cmd, cmd.SubscriptionID,
		fmt.Sprintf("billing run %s usage processed", cmd.BillingRunID))
	if err != nil {
		return nil, err
	}
	if already {
		return &ProcessResult{Transaction: header, AlreadyProcessed: true}, nil
	}

	var (
		entries      []*ledgerdomain.LedgerEntry
		applications []*ledgerdomain.UsageCreditApplication
	)
	for _, event := range cmd.Events {
		if event == nil || event.ID == 0 {
			return nil, ledgerdomain.ErrInvalidCredit
		}
		account, err := s.resolveAccount(ctx, tt, event.SubscriptionID, event.UsageMeterID)
		if err != nil {
			return nil, err
		}
		// Applications persist per event so the next event's balance query
		// observes earlier consumption within this run.
		eventEntries, eventApplications, err := s.deriveUsageEntries(ctx, tt, header, account, event)
		if err != nil {
			return nil, err
		}
		if err := s.persistApplications(ctx, tt.Tx, eventApplications); err != nil {
			return nil, err
		}
		entries = append(entries, eventEntries...)
		applications = append(applications, eventApplications...)
	}

	if err := s.persistEntries(ctx, tt.Tx, entries); err != nil {
		return nil, err
	}

	return &ProcessResult{Transaction: header, Entries: entries, Applications: applications}, nil
}

// deriveUsageEntries emits the full-amount usage cost debit plus a matched
// debit/credit pair per credit application. Summing a transaction's entries
// therefore nets to the amount actually billed after credits.
func (s *Service) deriveUsageEntries(
	ctx context.Context,
	tt *tenancy.TenantTx,
	header *ledgerdomain.LedgerTransaction,
	account *ledgerdomain.LedgerAccount,
	event *usagedomain.UsageEvent,
) ([]*ledgerdomain.LedgerEntry, []*ledgerdomain.UsageCreditApplication, error) {
	balances, err := s.loadCreditBalances(ctx, tt, event.SubscriptionID, event.UsageMeterID)
	if err != nil {
		return nil, nil, err
	}

	allocations := allocate(event.Amount, balances, s.policy.Get())

	eventID := event.ID
	entries := []*ledgerdomain.LedgerEntry{
		{
			ID:                  s.genID.Generate(),
			OrgID:               tt.OrgID,
			LedgerTransactionID: header.ID,
			LedgerAccountID:     account.ID,
			SubscriptionID:      event.SubscriptionID,
			Direction:           ledgerdomain.EntryDirectionDebit,
			EntryType:           ledgerdomain.EntryTypeUsageCost,
			Amount:              event.Amount,
			Status:              ledgerdomain.EntryStatusPosted,
			SourceUsageEventID:  &eventID,
			Livemode:            tt.Livemode,
		},
	}

	applications := make([]*ledgerdomain.UsageCreditApplication, 0, len(allocations))
	for _, alloc := range allocations {
		creditID := alloc.CreditID
		application := &ledgerdomain.UsageCreditApplication{
			ID:            s.genID.Generate(),
			OrgID:         tt.OrgID,
			UsageCreditID: creditID,
			UsageEventID:  event.ID,
			Amount:        alloc.Amount,
			Status:        ledgerdomain.EntryStatusPosted,
			Livemode:      tt.Livemode,
		}
		applications = append(applications, application)

		applicationID := application.ID
		entries = append(entries,
			&ledgerdomain.LedgerEntry{
				ID:                  s.genID.Generate(),
				OrgID:               tt.OrgID,
				LedgerTransactionID: header.ID,
				LedgerAccountID:     account.ID,
				SubscriptionID:      event.SubscriptionID,
				Direction:           ledgerdomain.EntryDirectionDebit,
				EntryType:           ledgerdomain.EntryTypeCreditAppDebit,
				Amount:              alloc.Amount,
				Status:              ledgerdomain.EntryStatusPosted,
				SourceUsageEventID:  &eventID,
				SourceUsageCreditID: &creditID,
				SourceApplicationID: &applicationID,
				Livemode:            tt.Livemode,
			},
			&ledgerdomain.LedgerEntry{
				ID:                  s.genID.Generate(),
				OrgID:               tt.OrgID,
				LedgerTransactionID: header.ID,
				LedgerAccountID:     account.ID,
				SubscriptionID:      event.SubscriptionID,
				Direction:           ledgerdomain.EntryDirectionCredit,
				EntryType:           ledgerdomain.EntryTypeCreditAppTowardsUsage,
				Amount:              alloc.Amount,
				Status:              ledgerdomain.EntryStatusPosted,
				SourceUsageEventID:  &eventID,
				SourceUsageCreditID: &creditID,
				SourceApplicationID: &applicationID,
				Livemode:            tt.Livemode,
			},
		)
	}

	return entries, applications, nil
}

// loadCreditBalances returns credits with remaining balance for the account
// scope, soonest-to-expire first, never-expiring last, id ascending as the
// deterministic tie-break for equal expirations.
func (s *Service) loadCreditBalances(
	ctx context.Context,
	tt *tenancy.TenantTx,
	subscriptionID, usageMeterID snowflake.ID,
) ([]ledgerdomain.CreditBalance, error) {
	now := time.Now().UTC()

	var rows []struct {
		ID             snowflake.ID              `gorm:"column:id"`
		OrgID          snowflake.ID              `gorm:"column:org_id"`
		SubscriptionID snowflake.ID              `gorm:"column:subscription_id"`
		UsageMeterID   snowflake.ID              `gorm:"column:usage_meter_id"`
		CreditType     ledgerdomain.CreditType   `gorm:"column:credit_type"`
		IssuedAmount   int64                     `gorm:"column:issued_amount"`
		ExpiresAt      *time.Time                `gorm:"column:expires_at"`
		Livemode       bool                      `gorm:"column:livemode"`
		Balance        int64                     `gorm:"column:balance"`
	}

	err := tt.Tx.WithContext(ctx).Raw(
		`SELECT
			uc.id, uc.org_id, uc.subscription_id, uc.usage_meter_id,
			uc.credit_type, uc.issued_amount, uc.expires_at, uc.livemode,
			uc.issued_amount - COALESCE(SUM(CASE WHEN a.status = 'posted' THEN a.amount ELSE 0 END), 0) AS balance
		FROM usage_credits uc
		LEFT JOIN usage_credit_applications a ON a.usage_credit_id = uc.id
		WHERE uc.org_id = ?
		  AND uc.subscription_id = ?
		  AND uc.usage_meter_id = ?
		  AND uc.livemode = ?
		  AND (uc.expires_at IS NULL OR uc.expires_at > ?)
		GROUP BY uc.id, uc.org_id, uc.subscription_id, uc.usage_meter_id,
			uc.credit_type, uc.issued_amount, uc.expires_at, uc.livemode
		ORDER BY (uc.expires_at IS NULL), uc.expires_at ASC, uc.id ASC`,
		tt.OrgID,
		subscriptionID,
		usageMeterID,
		tt.Livemode,
		now,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load credit balances: %w", err)
	}

	balances := make([]ledgerdomain.CreditBalance, 0, len(rows))
	for _, row := range rows {
		balances = append(balances, ledgerdomain.CreditBalance{
			Credit: ledgerdomain.UsageCredit{
				ID:             row.ID,
				OrgID:          row.OrgID,
				SubscriptionID: row.SubscriptionID,
				UsageMeterID:   row.UsageMeterID,
				CreditType:     row.CreditType,
				IssuedAmount:   row.IssuedAmount,
				ExpiresAt:      row.ExpiresAt,
				Livemode:       row.Livemode,
			},
			Balance: row.Balance,
		})
	}
	return balances, nil
}

type allocation struct {
	CreditID snowflake.ID
	Amount   int64
}

// allocate walks the charge down against ordered credit balances. Each
// application is capped by both the credit's remaining balance and the
// charge's uncovered remainder; zero balances are skipped, never recorded.
func allocate(charge int64, balances []ledgerdomain.CreditBalance, policy config.CreditPolicy) []allocation {
	if charge <= 0 {
		return nil
	}

	var allocations []allocation
	remaining := charge
	for _, cb := range balances {
		if remaining <= 0 {
			break
		}
		if cb.Balance <= 0 {
			continue
		}
		if policy.MaxApplicationsPerEvent > 0 && len(allocations) >= policy.MaxApplicationsPerEvent {
			break
		}

		applied := min(remaining, cb.Balance)
		if applied < policy.MinApplicationAmount {
			continue
		}

		allocations = append(allocations, allocation{CreditID: cb.Credit.ID, Amount: applied})
		remaining -= applied
	}
	return allocations
}
