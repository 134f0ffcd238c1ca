package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	ledgerdomain "github.com/smallbiznis/flowline/internal/ledger/domain"
	"github.com/smallbiznis/flowline/internal/tenancy"
)

// BalanceResult carries one aggregated account balance.
type BalanceResult struct {
	Account *ledgerdomain.LedgerAccount `json:"account"`
	Mode    ledgerdomain.BalanceMode    `json:"mode"`
	Amount  int64                       `json:"amount"`
}

// Balance aggregates the account's entries on demand. No running balance
// column exists; every read recomputes the sum so it can never drift from
// the entry rows.
//
// Posted mode sums posted entries only. Available mode is conservative:
// posted credits minus both posted and pending debits, so in-flight holds
// reduce what a caller may spend.
func (s *Service) Balance(ctx context.Context, tt *tenancy.TenantTx, accountID snowflake.ID, mode ledgerdomain.BalanceMode) (*BalanceResult, error) {
	if mode != ledgerdomain.BalancePosted && mode != ledgerdomain.BalanceAvailable {
		return nil, ledgerdomain.ErrInvalidBalanceMode
	}

	var account ledgerdomain.LedgerAccount
	if err := tt.Tx.WithContext(ctx).
		Where("id = ?", accountID).
		First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerdomain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("load ledger account: %w", err)
	}

	var query string
	switch mode {
	case ledgerdomain.BalancePosted:
		query = `SELECT COALESCE(SUM(
				CASE WHEN direction = 'credit' THEN amount ELSE -amount END
			), 0)
			FROM ledger_entries
			WHERE ledger_account_id = ? AND status = 'posted'`
	case ledgerdomain.BalanceAvailable:
		query = `SELECT COALESCE(SUM(
				CASE
					WHEN direction = 'credit' AND status = 'posted' THEN amount
					WHEN direction = 'debit' THEN -amount
					ELSE 0
				END
			), 0)
			FROM ledger_entries
			WHERE ledger_account_id = ?`
	}

	var signed int64
	if err := tt.Tx.WithContext(ctx).Raw(query, account.ID).Scan(&signed).Error; err != nil {
		return nil, fmt.Errorf("aggregate ledger entries: %w", err)
	}

	// The signed sum above is credit-normal. Debit-normal accounts read
	// with the opposite sign.
	amount := signed
	if account.NormalBalance == ledgerdomain.NormalBalanceDebit {
		amount = -signed
	}

	return &BalanceResult{Account: &account, Mode: mode, Amount: amount}, nil
}
